// Package api wires HTTP requests through authentication, authorization,
// audit, and answer generation. Handlers never branch on authorization
// themselves; every data-scoped request goes through the guard.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/tilliq/classgate/internal/access"
	"github.com/tilliq/classgate/internal/audit"
	"github.com/tilliq/classgate/internal/auth"
	"github.com/tilliq/classgate/internal/datarouter"
	"github.com/tilliq/classgate/internal/llm"
	"github.com/tilliq/classgate/internal/safety"
)

// deniedMessage is returned for every deny regardless of internal reason, so
// callers cannot distinguish a missing resource from a forbidden one.
const deniedMessage = "Access denied: You are not authorized to view this student or class."

// AskRateLimiter is the rate limiter for POST /api/ask (10 req/60s per IP).
var AskRateLimiter = NewRateLimiter(10, 60*time.Second)

type API struct {
	auth     *auth.Auth
	guard    *access.Guard
	trail    *audit.Trail
	router   *datarouter.Router
	engine   *llm.Engine
	detector *safety.Detector
	logger   *slog.Logger
	version  string
}

func New(a *auth.Auth, guard *access.Guard, trail *audit.Trail, router *datarouter.Router, engine *llm.Engine, detector *safety.Detector, version string) *API {
	return &API{
		auth:     a,
		guard:    guard,
		trail:    trail,
		router:   router,
		engine:   engine,
		detector: detector,
		logger:   slog.Default(),
		version:  version,
	}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ask", RateLimitMiddleware(AskRateLimiter, a.handleAsk))
	mux.HandleFunc("GET /api/me", a.handleMe)
	mux.HandleFunc("GET /api/healthz", a.handleHealthz)
}

// principalFrom builds the request principal from verified claims only.
func (a *API) principalFrom(r *http.Request) (access.Principal, bool) {
	claims := a.auth.ExtractClaims(r)
	if claims == nil {
		return access.Principal{}, false
	}
	return access.Principal{
		SubjectID: claims.UserID,
		Role:      access.Role(claims.Role),
		SchoolID:  claims.SchoolID,
	}, true
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p, ok := a.principalFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": a.version})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
