package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/documents"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type apiClient struct {
	baseURL string
	client  *http.Client
	clock   *fakeClock
	t       *testing.T
}

func newTestAPI(t *testing.T, configure ...func(*Options)) *apiClient {
	t.Helper()

	clock := &fakeClock{t: time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC)}
	hasher, err := auth.NewPINHasher("test-salt", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	svc, err := auth.NewService(auth.NewMemoryUserStore(), auth.NewMemorySessionStore(), hasher, auth.WithClock(clock.now))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	opts := Options{
		Version:    "test",
		Auth:       svc,
		RateBurst:  1000,
		RatePerSec: 1000,
	}
	for _, fn := range configure {
		fn(&opts)
	}
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		clock:   clock,
		t:       t,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.client.Get(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

// action posts to /auth-pin and decodes the JSON body.
func (c *apiClient) action(name string, fields map[string]any) (int, map[string]any) {
	c.t.Helper()
	body := map[string]any{"action": name}
	for k, v := range fields {
		body[k] = v
	}
	resp := c.post("/auth-pin", body, nil)
	return resp.StatusCode, decode[map[string]any](c.t, resp)
}

func (c *apiClient) expect(name string, fields map[string]any, status int) map[string]any {
	c.t.Helper()
	code, body := c.action(name, fields)
	if code != status {
		c.t.Fatalf("%s: expected %d, got %d (%v)", name, status, code, body)
	}
	return body
}

func (c *apiClient) login(userID, pin string) string {
	c.t.Helper()
	body := c.expect("login", map[string]any{"userId": userID, "pin": pin}, http.StatusOK)
	token, _ := body["sessionToken"].(string)
	if token == "" {
		c.t.Fatalf("empty session token: %v", body)
	}
	return token
}

// bootstrap creates the practitioner and returns its id and session token.
func (c *apiClient) bootstrap() (string, string) {
	c.t.Helper()
	body := c.expect("setup_initial_admin", map[string]any{"nom": "Benali", "prenom": "Mohamed", "pin": "1234"}, http.StatusCreated)
	id := body["user"].(map[string]any)["id"].(string)
	return id, c.login(id, "1234")
}

func (c *apiClient) createUser(adminToken, role, pin string) string {
	c.t.Helper()
	body := c.expect("create_user", map[string]any{
		"nom": "Haddad", "prenom": "Amina", "pin": pin, "role": role,
		"creatorSessionToken": adminToken,
	}, http.StatusCreated)
	return body["user"].(map[string]any)["id"].(string)
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestSetupLoginVerifyLogout(t *testing.T) {
	api := newTestAPI(t)

	body := api.expect("needs_setup", nil, http.StatusOK)
	if body["needsSetup"] != true {
		t.Fatalf("expected needsSetup=true, got %v", body)
	}

	body = api.expect("setup_initial_admin", map[string]any{"nom": "Benali", "prenom": "Mohamed", "pin": "1234"}, http.StatusCreated)
	user := body["user"].(map[string]any)
	if user["role"] != "medecin" || user["nom"] != "Benali" || body["success"] != true {
		t.Fatalf("unexpected setup response: %v", body)
	}

	body = api.expect("setup_initial_admin", map[string]any{"nom": "Autre", "prenom": "Admin", "pin": "9999"}, http.StatusBadRequest)
	if body["error"] != msgSetupComplete {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	if body = api.expect("needs_setup", nil, http.StatusOK); body["needsSetup"] != false {
		t.Fatalf("expected needsSetup=false, got %v", body)
	}

	token := api.login(user["id"].(string), "1234")

	body = api.expect("verify", map[string]any{"sessionToken": token}, http.StatusOK)
	if body["valid"] != true || body["user"].(map[string]any)["prenom"] != "Mohamed" {
		t.Fatalf("unexpected verify response: %v", body)
	}

	api.expect("logout", map[string]any{"sessionToken": token}, http.StatusOK)
	api.expect("logout", map[string]any{"sessionToken": token}, http.StatusOK)
	api.expect("logout", nil, http.StatusOK)

	body = api.expect("verify", map[string]any{"sessionToken": token}, http.StatusOK)
	if body["valid"] != false {
		t.Fatalf("expected invalid session after logout: %v", body)
	}
	if _, ok := body["user"]; ok {
		t.Fatalf("invalid verify must not carry a user: %v", body)
	}
}

func TestLoginValidation(t *testing.T) {
	api := newTestAPI(t)
	adminID, _ := api.bootstrap()

	cases := []struct {
		name   string
		fields map[string]any
		status int
		msg    string
	}{
		{"missing user", map[string]any{"pin": "1234"}, http.StatusBadRequest, msgCredentialsRequired},
		{"missing pin", map[string]any{"userId": adminID}, http.StatusBadRequest, msgCredentialsRequired},
		{"letters", map[string]any{"userId": adminID, "pin": "12a4"}, http.StatusBadRequest, msgInvalidPIN},
		{"too short", map[string]any{"userId": adminID, "pin": "123"}, http.StatusBadRequest, msgInvalidPIN},
		{"too long", map[string]any{"userId": adminID, "pin": "1234567"}, http.StatusBadRequest, msgInvalidPIN},
		{"unknown user", map[string]any{"userId": "01HZZZZZZZZZZZZZZZZZZZZZZZ", "pin": "1234"}, http.StatusNotFound, msgUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := api.action("login", tc.fields)
			if code != tc.status || body["error"] != tc.msg {
				t.Fatalf("expected %d %q, got %d %v", tc.status, tc.msg, code, body)
			}
		})
	}
}

func TestLockoutScenario(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	userID := api.createUser(admin, "secretaire", "5678")

	wrong := map[string]any{"userId": userID, "pin": "0000"}
	want := []string{
		"PIN incorrect. 2 tentative(s) restante(s)",
		"PIN incorrect. 1 tentative(s) restante(s)",
		"Compte verrouillé pour 15 minutes",
	}
	for i, msg := range want {
		body := api.expect("login", wrong, http.StatusUnauthorized)
		if body["error"] != msg {
			t.Fatalf("attempt %d: expected %q, got %v", i+1, msg, body["error"])
		}
	}

	right := map[string]any{"userId": userID, "pin": "5678"}
	body := api.expect("login", right, http.StatusLocked)
	if body["error"] != "Compte verrouillé. Réessayez dans 15 minute(s)" {
		t.Fatalf("unexpected lock message: %v", body["error"])
	}

	api.clock.advance(10*time.Minute + 30*time.Second)
	body = api.expect("login", right, http.StatusLocked)
	if body["error"] != "Compte verrouillé. Réessayez dans 5 minute(s)" {
		t.Fatalf("unexpected lock message: %v", body["error"])
	}

	api.clock.advance(5 * time.Minute)
	api.login(userID, "5678")

	// A successful login clears the counter.
	body = api.expect("login", wrong, http.StatusUnauthorized)
	if body["error"] != want[0] {
		t.Fatalf("expected counter reset, got %v", body["error"])
	}
}

func TestAdminActionsRequirePractitioner(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	secID := api.createUser(admin, "secretaire", "5678")
	secToken := api.login(secID, "5678")

	newUser := map[string]any{"nom": "X", "prenom": "Y", "pin": "4321"}
	for _, token := range []string{secToken, "", "not-a-session"} {
		fields := map[string]any{"creatorSessionToken": token}
		for k, v := range newUser {
			fields[k] = v
		}
		body := api.expect("create_user", fields, http.StatusForbidden)
		if body["error"] != msgForbiddenCreate {
			t.Fatalf("unexpected create_user error: %v", body["error"])
		}
	}

	body := api.expect("update_user", map[string]any{"userId": secID, "is_active": false, "creatorSessionToken": secToken}, http.StatusForbidden)
	if body["error"] != msgForbidden {
		t.Fatalf("unexpected update_user error: %v", body["error"])
	}
	body = api.expect("reset_pin", map[string]any{"userId": secID, "newPin": "1111", "creatorSessionToken": secToken}, http.StatusForbidden)
	if body["error"] != msgForbidden {
		t.Fatalf("unexpected reset_pin error: %v", body["error"])
	}

	// The secretary is still active with the initial PIN.
	api.login(secID, "5678")

	// An expired practitioner session is rejected too.
	api.clock.advance(7*24*time.Hour + time.Second)
	api.expect("create_user", map[string]any{"nom": "X", "prenom": "Y", "pin": "4321", "creatorSessionToken": admin}, http.StatusForbidden)
}

func TestCreateUserDefaultsAndBearer(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()

	resp := api.post("/auth-pin", map[string]any{
		"action": "create_user", "nom": "Saidi", "prenom": "Karim", "pin": "2468",
	}, map[string]string{"Authorization": "Bearer " + admin})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	user := body["user"].(map[string]any)
	if user["role"] != "assistant" {
		t.Fatalf("expected default role assistant, got %v", user["role"])
	}
	api.login(user["id"].(string), "2468")

	body = api.expect("create_user", map[string]any{
		"nom": "A", "prenom": "B", "pin": "2468", "role": "chef", "creatorSessionToken": admin,
	}, http.StatusBadRequest)
	if body["error"] != msgInvalidRole {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	body = api.expect("create_user", map[string]any{
		"nom": "A", "prenom": "B", "pin": "24", "creatorSessionToken": admin,
	}, http.StatusBadRequest)
	if body["error"] != msgInvalidPIN {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestDeactivationInvalidatesSession(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	userID := api.createUser(admin, "assistant", "1357")
	token := api.login(userID, "1357")

	body := api.expect("update_user", map[string]any{"userId": userID, "is_active": false, "creatorSessionToken": admin}, http.StatusOK)
	if body["success"] != true {
		t.Fatalf("unexpected update response: %v", body)
	}

	body = api.expect("verify", map[string]any{"sessionToken": token}, http.StatusOK)
	if body["valid"] != false {
		t.Fatalf("expected deactivated session to be invalid: %v", body)
	}
	api.expect("login", map[string]any{"userId": userID, "pin": "1357"}, http.StatusNotFound)

	api.expect("update_user", map[string]any{"userId": "missing", "nom": "Z", "creatorSessionToken": admin}, http.StatusNotFound)
}

func TestUpdateUserPartialPatch(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	userID := api.createUser(admin, "assistant", "1357")

	body := api.expect("update_user", map[string]any{"userId": userID, "role": "secretaire", "creatorSessionToken": admin}, http.StatusOK)
	user := body["user"].(map[string]any)
	if user["role"] != "secretaire" || user["nom"] != "Haddad" || user["prenom"] != "Amina" {
		t.Fatalf("unexpected patched user: %v", user)
	}
	// PIN is untouched.
	api.login(userID, "1357")
}

func TestResetPINRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	userID := api.createUser(admin, "assistant", "1357")

	// Two failures, then a reset clears them.
	api.expect("login", map[string]any{"userId": userID, "pin": "0000"}, http.StatusUnauthorized)
	api.expect("login", map[string]any{"userId": userID, "pin": "0000"}, http.StatusUnauthorized)

	body := api.expect("reset_pin", map[string]any{"userId": userID, "newPin": "12a", "creatorSessionToken": admin}, http.StatusBadRequest)
	if body["error"] != msgInvalidPIN {
		t.Fatalf("unexpected error: %v", body["error"])
	}
	api.expect("reset_pin", map[string]any{"userId": userID, "newPin": "8642", "creatorSessionToken": admin}, http.StatusOK)

	body = api.expect("login", map[string]any{"userId": userID, "pin": "1357"}, http.StatusUnauthorized)
	if body["error"] != "PIN incorrect. 2 tentative(s) restante(s)" {
		t.Fatalf("expected counter cleared by reset, got %v", body["error"])
	}
	api.login(userID, "8642")
}

func TestListUsers(t *testing.T) {
	api := newTestAPI(t)
	_, admin := api.bootstrap()
	inactive := api.createUser(admin, "assistant", "1357")
	api.expect("update_user", map[string]any{"userId": inactive, "is_active": false, "creatorSessionToken": admin}, http.StatusOK)

	body := api.expect("list_users", nil, http.StatusOK)
	if users := body["users"].([]any); len(users) != 1 {
		t.Fatalf("expected one active user, got %v", users)
	}

	api.expect("list_users", map[string]any{"includeInactive": true}, http.StatusForbidden)

	body = api.expect("list_users", map[string]any{"includeInactive": true, "creatorSessionToken": admin}, http.StatusOK)
	users := body["users"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected two users, got %v", users)
	}
	if users[1].(map[string]any)["is_active"] != false {
		t.Fatalf("expected inactive user listed: %v", users[1])
	}
}

func TestAuthPINBadRequests(t *testing.T) {
	api := newTestAPI(t)

	body := api.expect("verify", nil, http.StatusBadRequest)
	if body["valid"] != false || body["error"] != msgTokenRequired {
		t.Fatalf("unexpected verify response: %v", body)
	}

	body = api.expect("sudo", nil, http.StatusBadRequest)
	if body["error"] != msgUnknownAction {
		t.Fatalf("unexpected error: %v", body["error"])
	}

	req, _ := http.NewRequest(http.MethodPost, api.baseURL+"/auth-pin", strings.NewReader("{not json"))
	resp, err := api.client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["error"] != msgInvalidBody {
		t.Fatalf("unexpected error: %v", body["error"])
	}
}

func TestBodyTooLarge(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.MaxBodyBytes = 64 })
	resp := api.post("/auth-pin", map[string]any{"action": "login", "pin": strings.Repeat("1", 200)}, nil)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func certificateBody() map[string]any {
	return map[string]any{
		"certificate": map[string]any{
			"id": "c1", "type": "repos", "date": "2024-03-05", "duree_jours": 3,
			"patient": map[string]any{"nom": "Haddad", "prenom": "Amina"},
		},
		"settings": map[string]any{"doctorName": "Dr. Benali", "specialty": "orl", "cabinetAddress": "Alger Centre, Alger"},
	}
}

func TestGenerateCertificate(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/generate-certificate-pdf", certificateBody(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[documentResponse](t, resp)
	if !body.Success || body.PDF != "" || body.Message != documents.FallbackMessage {
		t.Fatalf("unexpected response: %+v", body)
	}
	html, err := base64.StdEncoding.DecodeString(body.HTML)
	if err != nil {
		t.Fatalf("html is not base64: %v", err)
	}
	if !strings.Contains(string(html), "Certificat de Repos Médical") || !strings.Contains(string(html), "AMINA HADDAD") {
		t.Fatalf("unexpected html: %s", html)
	}

	resp = api.post("/generate-certificate-pdf", map[string]any{"settings": map[string]any{}}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing certificate, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGeneratePrescriptionLocalPDF(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.Documents = documents.NewGenerator(documents.WithLocalPDF()) })

	resp := api.post("/generate-prescription-pdf", map[string]any{
		"prescription": map[string]any{
			"date":    "2024-03-05",
			"items":   []any{map[string]any{"nom_medicament": "Doliprane", "posologie": "3 par jour"}},
			"patient": map[string]any{"nom": "Haddad", "prenom": "Amina"},
		},
		"cabinet": map[string]any{"name": "Cabinet Benali", "doctor": "Dr. Benali"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decode[documentResponse](t, resp)
	pdf, err := base64.StdEncoding.DecodeString(body.PDF)
	if err != nil || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("expected a PDF, got err=%v len=%d", err, len(pdf))
	}
	if body.Message != "" {
		t.Fatalf("unexpected message: %q", body.Message)
	}
}

func TestDocumentsRequireSession(t *testing.T) {
	api := newTestAPI(t, func(o *Options) { o.RequireDocumentSession = true })
	adminID, _ := api.bootstrap()
	token := api.login(adminID, "1234")

	resp := api.post("/generate-certificate-pdf", certificateBody(), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without session, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/generate-certificate-pdf", certificateBody(), map[string]string{"X-Session-Token": token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with session, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.post("/generate-certificate-pdf", certificateBody(), map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer session, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

type failingProbe struct{}

func (failingProbe) Check(context.Context) error { return errors.New("db down") }

func TestOpsEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["status"] != "ok" || body["version"] != "test" {
		t.Fatalf("unexpected healthz body: %v", body)
	}

	resp = api.get("/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = api.get("/v1/info")
	body := decode[map[string]any](t, resp)
	if _, err := time.Parse(time.RFC3339, body["time"].(string)); err != nil {
		t.Fatalf("invalid info time: %v", err)
	}

	resp = api.get("/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	down := newTestAPI(t, func(o *Options) { o.Ready = failingProbe{} })
	resp = down.get("/readyz")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if body := decode[map[string]any](t, resp); body["status"] != "not_ready" {
		t.Fatalf("unexpected readyz body: %v", body)
	}
}
