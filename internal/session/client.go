package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"medcabinet.org/internal/auth"
)

// ErrConnection wraps transport failures: the server was not reached or
// answered with something other than the auth-pin JSON protocol.
var ErrConnection = errors.New("session: connection error")

// APIError is a server rejection. Message is the server text, verbatim.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth-pin: %d %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// API is the subset of the auth-pin protocol the session controller needs.
// *auth.Service and *HTTPClient both satisfy it.
type API interface {
	Login(ctx context.Context, userID, pin string) (auth.LoginResult, error)
	Verify(ctx context.Context, token string) (auth.UserSummary, bool, error)
	Logout(ctx context.Context, token string) error
	NeedsSetup(ctx context.Context) (bool, error)
}

// HTTPClient speaks the auth-pin protocol over HTTP.
type HTTPClient struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithAPIKey sends key as the apikey header on every call.
func WithAPIKey(key string) ClientOption {
	return func(h *HTTPClient) { h.apiKey = key }
}

// NewHTTPClient targets the auth-pin endpoint under baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/auth-pin",
		http:     &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) call(ctx context.Context, payload map[string]any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrConnection, err)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: status %d: invalid response body", ErrConnection, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || envelope.Error != "" {
		msg := envelope.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrConnection, err)
	}
	return nil
}

func (c *HTTPClient) Login(ctx context.Context, userID, pin string) (auth.LoginResult, error) {
	var resp struct {
		Success      bool             `json:"success"`
		SessionToken string           `json:"sessionToken"`
		ExpiresAt    time.Time        `json:"expiresAt"`
		User         auth.UserSummary `json:"user"`
	}
	if err := c.call(ctx, map[string]any{"action": "login", "userId": userID, "pin": pin}, &resp); err != nil {
		return auth.LoginResult{}, err
	}
	if !resp.Success || resp.SessionToken == "" {
		return auth.LoginResult{}, fmt.Errorf("%w: login response without session", ErrConnection)
	}
	return auth.LoginResult{Token: resp.SessionToken, ExpiresAt: resp.ExpiresAt, User: resp.User}, nil
}

func (c *HTTPClient) Verify(ctx context.Context, token string) (auth.UserSummary, bool, error) {
	var resp struct {
		Valid bool              `json:"valid"`
		User  *auth.UserSummary `json:"user"`
	}
	if err := c.call(ctx, map[string]any{"action": "verify", "sessionToken": token}, &resp); err != nil {
		return auth.UserSummary{}, false, err
	}
	if !resp.Valid || resp.User == nil {
		return auth.UserSummary{}, false, nil
	}
	return *resp.User, true, nil
}

func (c *HTTPClient) Logout(ctx context.Context, token string) error {
	return c.call(ctx, map[string]any{"action": "logout", "sessionToken": token}, nil)
}

func (c *HTTPClient) NeedsSetup(ctx context.Context) (bool, error) {
	var resp struct {
		NeedsSetup bool `json:"needsSetup"`
	}
	if err := c.call(ctx, map[string]any{"action": "needs_setup"}, &resp); err != nil {
		return false, err
	}
	return resp.NeedsSetup, nil
}

type userEnvelope struct {
	User auth.UserSummary `json:"user"`
}

// SetupInitialAdmin creates the first practitioner on an empty server.
func (c *HTTPClient) SetupInitialAdmin(ctx context.Context, nom, prenom, pin string) (auth.UserSummary, error) {
	var resp userEnvelope
	err := c.call(ctx, map[string]any{"action": "setup_initial_admin", "nom": nom, "prenom": prenom, "pin": pin}, &resp)
	return resp.User, err
}

// CreateUser adds a user; creatorToken must belong to a practitioner.
func (c *HTTPClient) CreateUser(ctx context.Context, creatorToken string, in auth.NewUser) (auth.UserSummary, error) {
	payload := map[string]any{
		"action": "create_user", "nom": in.Nom, "prenom": in.Prenom, "pin": in.PIN,
		"creatorSessionToken": creatorToken,
	}
	if in.Role != "" {
		payload["role"] = in.Role.String()
	}
	var resp userEnvelope
	err := c.call(ctx, payload, &resp)
	return resp.User, err
}

// UpdateUser sends only the non-nil patch fields.
func (c *HTTPClient) UpdateUser(ctx context.Context, creatorToken, userID string, patch auth.UserPatch) (auth.UserSummary, error) {
	payload := map[string]any{"action": "update_user", "userId": userID, "creatorSessionToken": creatorToken}
	if patch.Nom != nil {
		payload["nom"] = *patch.Nom
	}
	if patch.Prenom != nil {
		payload["prenom"] = *patch.Prenom
	}
	if patch.Role != nil {
		payload["role"] = patch.Role.String()
	}
	if patch.IsActive != nil {
		payload["is_active"] = *patch.IsActive
	}
	var resp userEnvelope
	err := c.call(ctx, payload, &resp)
	return resp.User, err
}

func (c *HTTPClient) ResetPIN(ctx context.Context, creatorToken, userID, newPIN string) error {
	return c.call(ctx, map[string]any{
		"action": "reset_pin", "userId": userID, "newPin": newPIN, "creatorSessionToken": creatorToken,
	}, nil)
}

// ActiveUsers lists the users selectable on the login screen.
func (c *HTTPClient) ActiveUsers(ctx context.Context) ([]auth.UserSummary, error) {
	var resp struct {
		Users []auth.UserSummary `json:"users"`
	}
	err := c.call(ctx, map[string]any{"action": "list_users"}, &resp)
	return resp.Users, err
}

// AllUsers lists every user, including inactive ones. Practitioner only.
func (c *HTTPClient) AllUsers(ctx context.Context, token string) ([]auth.UserDetails, error) {
	var resp struct {
		Users []auth.UserDetails `json:"users"`
	}
	err := c.call(ctx, map[string]any{"action": "list_users", "includeInactive": true, "creatorSessionToken": token}, &resp)
	return resp.Users, err
}
