package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	goredis "github.com/redis/go-redis/v9"

	"medcabinet.org/internal/auth"
	"medcabinet.org/internal/documents"
	"medcabinet.org/internal/obs"
)

// ReadinessChecker reports whether the backing stores are reachable.
type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// ReadyProbe pings the configured database and Redis. Unset backends are skipped.
type ReadyProbe struct {
	DB    *sql.DB
	Redis goredis.UniversalClient
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Redis != nil {
		if err := rp.Redis.Ping(ctx).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Options configures the HTTP layer.
type Options struct {
	Version   string
	Ready     ReadinessChecker
	Auth      *auth.Service
	Documents *documents.Generator

	// RequireDocumentSession rejects document requests without a valid session.
	RequireDocumentSession bool

	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64
}

// API is the HTTP layer.
type API struct {
	router     chi.Router
	ready      ReadinessChecker
	auth       *auth.Service
	docs       *documents.Generator
	version    string
	docSession bool
	rateBurst  int
	ratePerSec float64
	maxBody    int64
}

func New(opts Options) *API {
	a := &API{
		ready:      opts.Ready,
		auth:       opts.Auth,
		docs:       opts.Documents,
		version:    opts.Version,
		docSession: opts.RequireDocumentSession,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSec,
		maxBody:    opts.MaxBodyBytes,
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.docs == nil {
		a.docs = documents.NewGenerator()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		obs.Instrument,
		RequestID,
		chimw.Recoverer,
		LoggingJSON,
		SecurityHeaders,
		CORS,
		func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) },
	)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	if a.auth != nil {
		limit := func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) }
		r.With(limit).Post("/auth-pin", a.handleAuthPIN)
	}

	r.Group(func(r chi.Router) {
		if a.docSession && a.auth != nil {
			r.Use(a.requireSession)
		}
		r.Post("/generate-certificate-pdf", a.handleCertificate)
		r.Post("/generate-prescription-pdf", a.handlePrescription)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler returns the instrumented router.
func (a *API) Handler() http.Handler { return a.router }

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": obs.ServiceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.ready.Check(ctx); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    obs.ServiceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

var errEmptyBody = errors.New("request body is required")

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeStatus maps a decode failure to its response status.
func decodeStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
