// Package httpapi is the HTTP surface of the auth service: route wiring,
// request validation, authentication middleware and error mapping.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chatapp/auth-service/internal/auth"
	"github.com/chatapp/auth-service/internal/config"
	"github.com/chatapp/auth-service/internal/obs"
)

// ReadyProbe checks the service's dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer. Handlers stay thin: decode, call the service, map
// the result.
type API struct {
	mux        *http.ServeMux
	svc        *auth.Service
	log        *zap.Logger
	readyProbe ReadyProbe
	version    string
	rateLimit  config.RateLimitConfig
}

func New(svc *auth.Service, log *zap.Logger, rp ReadyProbe, version string, rl config.RateLimitConfig) *API {
	if log == nil {
		log = zap.NewNop()
	}
	a := &API{
		mux:        http.NewServeMux(),
		svc:        svc,
		log:        log,
		readyProbe: rp,
		version:    version,
		rateLimit:  rl,
	}

	// Credential routes are rate limited per client IP; everything else is
	// cheap enough to leave open.
	a.mux.Handle("/v1/auth/register",
		a.limited(Validate(registerSchemas())(http.HandlerFunc(a.handleRegister))))
	a.mux.Handle("/v1/auth/login",
		a.limited(Validate(loginSchemas())(http.HandlerFunc(a.handleLogin))))
	a.mux.Handle("/v1/auth/refresh",
		Validate(refreshSchemas())(http.HandlerFunc(a.handleRefresh)))
	a.mux.Handle("/v1/auth/logout",
		Validate(refreshSchemas())(http.HandlerFunc(a.handleLogout)))
	a.mux.Handle("/v1/auth/logout-all", a.requireAuth(http.HandlerFunc(a.handleLogoutAll)))
	a.mux.Handle("/v1/auth/me", a.requireAuth(http.HandlerFunc(a.handleMe)))

	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = obs.Instrument(h)
	h = Logging(a.log)(h)
	h = RequestID(h)
	return h
}

func (a *API) limited(next http.Handler) http.Handler {
	return RateLimit(next, a.rateLimit.Burst, a.rateLimit.PerSecond)
}

// --- health/info handlers ---

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "auth-service",
		"version": a.version,
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "auth-service",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorDetails(w, r, code, msg, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, code int, msg string, details any) {
	payload := map[string]any{
		"message": msg,
	}
	if details != nil {
		payload["details"] = details
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
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
