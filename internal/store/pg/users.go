package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/ids"
)

var _ auth.UserStore = (*UserStore)(nil)

// bootstrapLockKey serialises concurrent initial-admin inserts.
const bootstrapLockKey int64 = 0x6d656463

const userColumns = `id, nom, prenom, role, is_active, pin_hash, failed_attempts, locked_until, last_login, created_at, updated_at`

// UserStore implements auth.UserStore on the app_users table.
type UserStore struct {
	db *sql.DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var (
		u                     auth.User
		role                  string
		lockedUntil, lastSeen sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Nom, &u.Prenom, &role, &u.IsActive, &u.PINHash, &u.FailedAttempts,
		&lockedUntil, &lastSeen, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	r, err := auth.ParseRole(role)
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	u.Role = r
	u.LockedUntil = nullTime(lockedUntil)
	u.LastLogin = nullTime(lastSeen)
	return &u, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, u *auth.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := db.ExecContext(ctx, `
		insert into app_users(id, nom, prenom, role, is_active, pin_hash, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Nom, u.Prenom, string(u.Role), u.IsActive, u.PINHash, u.CreatedAt, u.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("%w: duplicate user id", auth.ErrInvalidInput)
	}
	return err
}

func (s *UserStore) Create(ctx context.Context, u *auth.User) error {
	return insertUser(ctx, s.db, u)
}

func (s *UserStore) CreateFirst(ctx context.Context, u *auth.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, bootstrapLockKey); err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx, `select exists (select 1 from app_users)`).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return auth.ErrSetupComplete
	}
	if err := insertUser(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *UserStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from app_users where id = $1`, id))
}

func (s *UserStore) List(ctx context.Context, includeInactive bool) ([]*auth.User, error) {
	query := `select ` + userColumns + ` from app_users where is_active order by prenom asc`
	if includeInactive {
		query = `select ` + userColumns + ` from app_users order by created_at asc`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (s *UserStore) Any(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `select exists (select 1 from app_users)`).Scan(&exists)
	return exists, err
}

func (s *UserStore) Update(ctx context.Context, id string, patch auth.UserPatch, at time.Time) (*auth.User, error) {
	sets := make([]string, 0, 5)
	args := []any{id}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Nom != nil {
		add("nom", *patch.Nom)
	}
	if patch.Prenom != nil {
		add("prenom", *patch.Prenom)
	}
	if patch.Role != nil {
		add("role", string(*patch.Role))
	}
	if patch.IsActive != nil {
		add("is_active", *patch.IsActive)
	}
	add("updated_at", at)

	query := `update app_users set ` + strings.Join(sets, ", ") + ` where id = $1 returning ` + userColumns
	return scanUser(s.db.QueryRowContext(ctx, query, args...))
}

func (s *UserStore) SetPINHash(ctx context.Context, id, hash string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update app_users
		set pin_hash = $2, failed_attempts = 0, locked_until = null, updated_at = $3
		where id = $1
	`, id, hash, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (s *UserStore) RecordFailedAttempt(ctx context.Context, id string, maxAttempts int, lockUntil time.Time) (auth.AttemptState, error) {
	var (
		state  auth.AttemptState
		locked sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		update app_users
		set failed_attempts = case when failed_attempts + 1 >= $2::int then 0 else failed_attempts + 1 end,
			locked_until = case when failed_attempts + 1 >= $2::int then $3::timestamptz else locked_until end,
			updated_at = now()
		where id = $1
		returning failed_attempts, locked_until
	`, id, maxAttempts, lockUntil).Scan(&state.Attempts, &locked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AttemptState{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AttemptState{}, err
	}
	state.LockedUntil = nullTime(locked)
	return state, nil
}

func (s *UserStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update app_users
		set failed_attempts = 0, locked_until = null, last_login = $2, updated_at = $2
		where id = $1
	`, id, at)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}
