package obs

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                              "/",
		"/metrics":                      "/metrics",
		"/auth-pin":                     "/auth-pin",
		"/auth-pin/":                    "/auth-pin",
		"/auth-pin?x=1":                 "/auth-pin",
		"/generate-certificate-pdf":     "/generate-certificate-pdf",
		"/v1/info":                      "/v1/info",
		"/wp-admin/install.php":         "/other",
		"/generate-prescription-pdf/ab": "/other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentCountsByCanonicalPath(t *testing.T) {
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/other", "202"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/random/123", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "/other", "202"))
	if after-before != 1 {
		t.Fatalf("expected one request counted, got %v", after-before)
	}
}

func TestAuthActionCounter(t *testing.T) {
	before := testutil.ToFloat64(authActionsTotal.WithLabelValues("login", "ok"))
	AuthAction("login", "ok")
	if got := testutil.ToFloat64(authActionsTotal.WithLabelValues("login", "ok")); got-before != 1 {
		t.Fatalf("unexpected counter delta %v", got-before)
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	SetReady(true)
	if testutil.ToFloat64(readyGauge) != 1 {
		t.Fatal("expected ready gauge set")
	}
}

func TestLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	restore := SetOutput(&buf)
	defer restore()

	Logger().Info().Str("k", "v").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "service", "k"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("missing %q in %v", key, entry)
		}
	}
	if err := SetLevel("bogus"); err == nil {
		t.Fatal("expected parse error")
	}
}
