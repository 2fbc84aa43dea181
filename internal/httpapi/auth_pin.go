package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medcabinet.org/internal/audit"
	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/obs"
)

const (
	msgCredentialsRequired = "userId et pin requis"
	msgFieldsRequired      = "Paramètres requis manquants"
	msgInvalidPIN          = "Le PIN doit contenir 4 à 6 chiffres"
	msgInvalidRole         = "Rôle invalide"
	msgUserNotFound        = "Utilisateur non trouvé"
	msgForbidden           = "Non autorisé"
	msgForbiddenCreate     = "Non autorisé. Seul un médecin peut créer des utilisateurs."
	msgSetupComplete       = "Un administrateur existe déjà"
	msgUnknownAction       = "Action non reconnue"
	msgTokenRequired       = "Token requis"
	msgInvalidBody         = "Corps de requête invalide"
	msgInvalidSession      = "Session invalide ou expirée"
	msgServerError         = "Erreur serveur"
	msgTooManyRequests     = "Trop de requêtes, réessayez plus tard"
)

const (
	actionLogin             = "login"
	actionVerify            = "verify"
	actionLogout            = "logout"
	actionCreateUser        = "create_user"
	actionUpdateUser        = "update_user"
	actionResetPIN          = "reset_pin"
	actionSetupInitialAdmin = "setup_initial_admin"
	actionNeedsSetup        = "needs_setup"
	actionListUsers         = "list_users"
)

// pinRequest is the union of all /auth-pin action payloads.
type pinRequest struct {
	Action              string  `json:"action"`
	UserID              string  `json:"userId"`
	PIN                 string  `json:"pin"`
	NewPIN              string  `json:"newPin"`
	SessionToken        string  `json:"sessionToken"`
	CreatorSessionToken string  `json:"creatorSessionToken"`
	Nom                 *string `json:"nom"`
	Prenom              *string `json:"prenom"`
	Role                *string `json:"role"`
	IsActive            *bool   `json:"is_active"`
	IncludeInactive     bool    `json:"includeInactive"`
}

// creatorToken prefers the body field and falls back to a bearer header.
func (p *pinRequest) creatorToken(r *http.Request) string {
	if t := strings.TrimSpace(p.CreatorSessionToken); t != "" {
		return t
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type loginResponse struct {
	Success      bool             `json:"success"`
	SessionToken string           `json:"sessionToken"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	User         auth.UserSummary `json:"user"`
}

type verifyResponse struct {
	Valid bool              `json:"valid"`
	User  *auth.UserSummary `json:"user,omitempty"`
}

type userResponse struct {
	Success bool             `json:"success"`
	User    auth.UserSummary `json:"user"`
}

func (a *API) handleAuthPIN(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, decodeStatus(err), msgInvalidBody)
		return
	}
	action := strings.TrimSpace(req.Action)

	switch action {
	case actionLogin:
		a.login(w, r, &req)
	case actionVerify:
		a.verify(w, r, &req)
	case actionLogout:
		a.logout(w, r, &req)
	case actionCreateUser:
		a.createUser(w, r, &req)
	case actionUpdateUser:
		a.updateUser(w, r, &req)
	case actionResetPIN:
		a.resetPIN(w, r, &req)
	case actionSetupInitialAdmin:
		a.setupInitialAdmin(w, r, &req)
	case actionNeedsSetup:
		a.needsSetup(w, r)
	case actionListUsers:
		a.listUsers(w, r, &req)
	default:
		obs.AuthAction("unknown", "invalid")
		writeError(w, r, http.StatusBadRequest, msgUnknownAction)
	}
}

func (a *API) login(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	res, err := a.auth.Login(r.Context(), req.UserID, req.PIN)
	if err != nil {
		_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
			"target_user_id": req.UserID,
			"reason":         outcome(err),
		})
		a.fail(w, r, actionLogin, err)
		return
	}
	ctx := auth.ContextWithUser(r.Context(), res.User)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{"role": res.User.Role.String()})
	obs.AuthAction(actionLogin, "ok")
	writeJSON(w, http.StatusOK, loginResponse{
		Success:      true,
		SessionToken: res.Token,
		ExpiresAt:    res.ExpiresAt,
		User:         res.User,
	})
}

func (a *API) verify(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	if strings.TrimSpace(req.SessionToken) == "" {
		obs.AuthAction(actionVerify, "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": msgTokenRequired})
		return
	}
	user, ok, err := a.auth.Verify(r.Context(), req.SessionToken)
	if err != nil {
		a.fail(w, r, actionVerify, err)
		return
	}
	if !ok {
		obs.AuthAction(actionVerify, "invalid_session")
		writeJSON(w, http.StatusOK, verifyResponse{Valid: false})
		return
	}
	obs.AuthAction(actionVerify, "ok")
	writeJSON(w, http.StatusOK, verifyResponse{Valid: true, User: &user})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	if err := a.auth.Logout(r.Context(), req.SessionToken); err != nil {
		a.fail(w, r, actionLogout, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	obs.AuthAction(actionLogout, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	in := auth.NewUser{Nom: deref(req.Nom), Prenom: deref(req.Prenom), PIN: req.PIN}
	if req.Role != nil && strings.TrimSpace(*req.Role) != "" {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			a.fail(w, r, actionCreateUser, err)
			return
		}
		in.Role = role
	}
	user, err := a.auth.CreateUser(r.Context(), req.creatorToken(r), in)
	if err != nil {
		a.fail(w, r, actionCreateUser, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.created", map[string]any{
		"target_user_id": user.ID,
		"role":           user.Role.String(),
	})
	obs.AuthAction(actionCreateUser, "ok")
	writeJSON(w, http.StatusCreated, userResponse{Success: true, User: user})
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	patch := auth.UserPatch{Nom: req.Nom, Prenom: req.Prenom, IsActive: req.IsActive}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			a.fail(w, r, actionUpdateUser, err)
			return
		}
		patch.Role = &role
	}
	user, err := a.auth.UpdateUser(r.Context(), req.creatorToken(r), req.UserID, patch)
	if err != nil {
		a.fail(w, r, actionUpdateUser, err)
		return
	}
	fields := map[string]any{"target_user_id": user.ID}
	if patch.IsActive != nil {
		fields["is_active"] = *patch.IsActive
	}
	if patch.Role != nil {
		fields["role"] = patch.Role.String()
	}
	_ = audit.LogEvent(r.Context(), "auth.user.updated", fields)
	obs.AuthAction(actionUpdateUser, "ok")
	writeJSON(w, http.StatusOK, userResponse{Success: true, User: user})
}

func (a *API) resetPIN(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	if err := a.auth.ResetPIN(r.Context(), req.creatorToken(r), req.UserID, req.NewPIN); err != nil {
		a.fail(w, r, actionResetPIN, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.pin.reset", map[string]any{"target_user_id": req.UserID})
	obs.AuthAction(actionResetPIN, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) setupInitialAdmin(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	user, err := a.auth.SetupInitialAdmin(r.Context(), deref(req.Nom), deref(req.Prenom), req.PIN)
	if err != nil {
		a.fail(w, r, actionSetupInitialAdmin, err)
		return
	}
	_ = audit.LogEvent(auth.ContextWithUser(r.Context(), user), "auth.setup.completed", nil)
	obs.AuthAction(actionSetupInitialAdmin, "ok")
	writeJSON(w, http.StatusCreated, userResponse{Success: true, User: user})
}

func (a *API) needsSetup(w http.ResponseWriter, r *http.Request) {
	needed, err := a.auth.NeedsSetup(r.Context())
	if err != nil {
		a.fail(w, r, actionNeedsSetup, err)
		return
	}
	obs.AuthAction(actionNeedsSetup, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"needsSetup": needed})
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request, req *pinRequest) {
	if req.IncludeInactive {
		users, err := a.auth.AllUsers(r.Context(), req.creatorToken(r))
		if err != nil {
			a.fail(w, r, actionListUsers, err)
			return
		}
		obs.AuthAction(actionListUsers, "ok")
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}
	users, err := a.auth.ActiveUsers(r.Context())
	if err != nil {
		a.fail(w, r, actionListUsers, err)
		return
	}
	obs.AuthAction(actionListUsers, "ok")
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// outcome is the metric label for err.
func outcome(err error) string {
	var locked *auth.LockedError
	var wrong *auth.WrongPINError
	switch {
	case errors.As(err, &locked):
		return "locked"
	case errors.As(err, &wrong):
		if wrong.Locked {
			return "locked_now"
		}
		return "wrong_pin"
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidPIN), errors.Is(err, auth.ErrInvalidRole):
		return "invalid"
	case errors.Is(err, auth.ErrNotFound):
		return "not_found"
	case errors.Is(err, auth.ErrForbidden):
		return "forbidden"
	case errors.Is(err, auth.ErrSetupComplete):
		return "setup_complete"
	default:
		return "error"
	}
}

// fail maps an auth error to its status and user-facing message.
func (a *API) fail(w http.ResponseWriter, r *http.Request, action string, err error) {
	obs.AuthAction(action, outcome(err))

	var locked *auth.LockedError
	var wrong *auth.WrongPINError
	switch {
	case errors.As(err, &locked):
		writeError(w, r, http.StatusLocked, fmt.Sprintf("Compte verrouillé. Réessayez dans %d minute(s)", locked.Minutes()))
	case errors.As(err, &wrong):
		if wrong.Locked {
			writeError(w, r, http.StatusUnauthorized, fmt.Sprintf("Compte verrouillé pour %d minutes", int(wrong.LockDuration.Minutes())))
			return
		}
		writeError(w, r, http.StatusUnauthorized, fmt.Sprintf("PIN incorrect. %d tentative(s) restante(s)", wrong.Remaining))
	case errors.Is(err, auth.ErrInvalidPIN):
		writeError(w, r, http.StatusBadRequest, msgInvalidPIN)
	case errors.Is(err, auth.ErrInvalidRole):
		writeError(w, r, http.StatusBadRequest, msgInvalidRole)
	case errors.Is(err, auth.ErrInvalidInput):
		if action == actionLogin {
			writeError(w, r, http.StatusBadRequest, msgCredentialsRequired)
			return
		}
		writeError(w, r, http.StatusBadRequest, msgFieldsRequired)
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, msgUserNotFound)
	case errors.Is(err, auth.ErrForbidden):
		if action == actionCreateUser {
			writeError(w, r, http.StatusForbidden, msgForbiddenCreate)
			return
		}
		writeError(w, r, http.StatusForbidden, msgForbidden)
	case errors.Is(err, auth.ErrSetupComplete):
		writeError(w, r, http.StatusBadRequest, msgSetupComplete)
	default:
		obs.Logger().Error().Err(err).
			Str("request_id", RequestIDFromContext(r)).
			Str("action", action).
			Msg("auth-pin failed")
		writeError(w, r, http.StatusInternalServerError, msgServerError)
	}
}
