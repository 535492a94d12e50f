package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerConfig holds configurable limits for the server.
type ServerConfig struct {
	MaxRequestBody    int64       // bytes, for JSON endpoints
	RequestsPerMinute int         // per-token rate limit
	AdminToken        string      // for admin endpoints
	Limiter           RateLimiter // overrides the in-memory limiter when set
}

// DefaultServerConfig returns reasonable defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		MaxRequestBody:    8 * 1024 * 1024,
		RequestsPerMinute: 600,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(svc *ledger.Service, tokens TokenStore, cfg *ServerConfig, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	if cfg.MaxRequestBody <= 0 {
		cfg.MaxRequestBody = DefaultServerConfig().MaxRequestBody
	}
	if logger == nil {
		logger = slog.Default()
	}

	rl := cfg.Limiter
	if rl == nil {
		rl = NewMemoryLimiter(cfg.RequestsPerMinute)
	}
	auth := authMiddleware(tokens, logger)
	limit := rateLimitMiddleware(rl, logger)

	h := &handlers{svc: svc, cfg: cfg, logger: logger}

	// applyMiddleware runs the first item outermost.
	// Execution order: auth -> requireRepo -> requireAccess -> rate limit -> handler
	withAccess := func(min ledger.Access, fn repoHandlerFunc) http.Handler {
		return applyMiddleware(h.repo(fn), auth, requireRepo, requireAccess(min), limit)
	}
	read := func(fn repoHandlerFunc) http.Handler { return withAccess(ledger.AccessRead, fn) }
	write := func(fn repoHandlerFunc) http.Handler { return withAccess(ledger.AccessWrite, fn) }

	mux := http.NewServeMux()

	// Health endpoints (no auth)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Ping(r.Context()); err != nil {
			logger.Warn("readyz: ledger store unavailable", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: ledger store unavailable"))
			return
		}
		if _, err := tokens.ListTokens(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: token store unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Admin endpoints
	if cfg.AdminToken != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /admin/tokens", makeAdminCreateTokenHandler(tokens, logger))
		adminMux.HandleFunc("GET /admin/tokens", makeAdminListTokensHandler(tokens, logger))
		adminMux.HandleFunc("DELETE /admin/tokens/{id}", makeAdminDeleteTokenHandler(tokens, logger))
		adminMux.HandleFunc("POST /admin/repos", h.adminCreateRepo)
		adminMux.HandleFunc("GET /admin/repos", h.adminListRepos)
		adminMux.HandleFunc("DELETE /admin/repos/{name}", h.adminDeleteRepo)
		mux.Handle("/admin/", adminAuth(cfg.AdminToken, adminMux))
	}

	const prefix = "/api/v1/repos/{repo}"

	mux.Handle("GET "+prefix+"/info", read(h.repoInfo))

	// Branches
	mux.Handle("GET "+prefix+"/branches", read(h.listBranches))
	mux.Handle("GET "+prefix+"/branches/{branch}", read(h.getBranch))
	mux.Handle("POST "+prefix+"/branches", write(h.createBranch))
	mux.Handle("POST "+prefix+"/branches/{branch}/archive", write(h.archiveBranch))
	mux.Handle("POST "+prefix+"/branches/{branch}/unarchive", write(h.unarchiveBranch))
	mux.Handle("DELETE "+prefix+"/branches/{branch}", write(h.deleteBranch))
	mux.Handle("POST "+prefix+"/branches/{branch}/merge", write(h.mergeBranch))

	// Changelists
	mux.Handle("GET "+prefix+"/changelists", read(h.listChangelists))
	mux.Handle("GET "+prefix+"/changelists/{number}", read(h.getChangelist))
	mux.Handle("GET "+prefix+"/changelists/{number}/files", read(h.changelistFiles))
	mux.Handle("POST "+prefix+"/changelists", write(h.submit))
	mux.Handle("GET "+prefix+"/paths-changed", read(h.pathsChanged))

	// Workspaces and checkouts
	mux.Handle("POST "+prefix+"/workspaces", write(h.createWorkspace))
	mux.Handle("GET "+prefix+"/workspaces/{id}", read(h.getWorkspace))
	mux.Handle("POST "+prefix+"/checkouts", write(h.checkout))
	mux.Handle("POST "+prefix+"/checkouts/undo", write(h.undoCheckout))
	mux.Handle("POST "+prefix+"/checkouts/active", read(h.activeCheckouts))
	mux.Handle("POST "+prefix+"/checkouts/conflicts", read(h.lockConflicts))

	// Apply global middleware. metricsMiddleware sits next to the mux so it sees r.Pattern.
	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		requestIDMiddleware,
		tracingMiddleware,
		loggingMiddleware(logger),
		metricsMiddleware,
	)

	cleanup := func() {
		rl.Stop()
	}

	return handler, cleanup
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	svc    *ledger.Service
	cfg    *ServerConfig
	logger *slog.Logger
}

type repoHandlerFunc func(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor)

// repo resolves the {repo} path value and calls fn with the repo and the token's actor.
func (h *handlers) repo(fn repoHandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		repo, err := h.svc.GetRepoByName(r.Context(), r.PathValue("repo"))
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		fn(w, r, repo, tokenFrom(r.Context()).Actor())
	})
}

// writeError maps a ledger error kind to its status and the structured error body.
// Internal errors are logged and reported without their cause.
func (h *handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var e *errs.Error
	if !errors.As(err, &e) || e.Kind == errs.KindInternal {
		reqID, _ := r.Context().Value(contextKeyRequestID).(string)
		h.logger.Error("request failed", "error", err, "path", r.URL.Path, "request_id", reqID)
		writeJSON(w, http.StatusInternalServerError, &remote.ErrorResponse{
			Error:   string(errs.KindInternal),
			Message: "internal server error",
		})
		return
	}
	writeJSON(w, errs.HTTPStatus(e.Kind), &remote.ErrorResponse{
		Error:   string(e.Kind),
		Message: e.Message,
		Details: e.Details,
	})
}

func (h *handlers) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := readJSON(r, h.cfg.MaxRequestBody, v); err != nil {
		writeJSON(w, http.StatusBadRequest, &remote.ErrorResponse{Error: string(errs.KindBadRequest), Message: err.Error()})
		return false
	}
	return true
}

// --- Health Handlers ---

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// --- Admin Auth ---

func adminAuth(adminToken string, next http.Handler) http.Handler {
	expected := "Bearer " + adminToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if subtle.ConstantTimeCompare([]byte(auth), []byte(expected)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "auth_failed", "message": "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, maxSize int64, v any) error {
	limited := io.LimitReader(r.Body, maxSize)
	if err := json.NewDecoder(limited).Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
