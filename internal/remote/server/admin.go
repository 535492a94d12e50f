package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
)

// adminActor is the ledger identity used by the admin endpoints.
var adminActor = ledger.Actor{UserID: "admin", Access: ledger.AccessAdmin}

// --- Admin Token Handlers ---

// CreateTokenRequest is the body of POST /admin/tokens.
type CreateTokenRequest struct {
	Description string   `json:"description"`
	UserID      string   `json:"user_id"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
}

// TokenEntry is token metadata as listed by GET /admin/tokens. Hashes are never returned.
type TokenEntry struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	UserID      string   `json:"user_id"`
	Repos       []string `json:"repos"`
	Permission  string   `json:"permission"`
	Token       string   `json:"token,omitempty"`
}

func makeAdminCreateTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTokenRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "invalid JSON"})
			return
		}
		if req.Permission == "" {
			req.Permission = "ro"
		}
		if ledger.ParseAccess(req.Permission) == ledger.AccessNone {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad_request", "message": "permission must be 'ro', 'rw' or 'admin'"})
			return
		}
		if len(req.Repos) == 0 {
			req.Repos = []string{"*"}
		}

		rawToken, info, err := tokens.CreateToken(req.Description, req.UserID, req.Repos, req.Permission)
		if err != nil {
			logger.Error("create token", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "failed to create token"})
			return
		}

		writeJSON(w, http.StatusCreated, &TokenEntry{
			ID:          info.ID,
			Description: info.Desc,
			UserID:      info.UserID,
			Repos:       info.Repos,
			Permission:  info.Permission,
			Token:       rawToken,
		})
	}
}

func makeAdminListTokensHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := tokens.ListTokens()
		if err != nil {
			logger.Error("list tokens", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "failed to list tokens"})
			return
		}

		entries := make([]TokenEntry, len(list))
		for i, t := range list {
			entries[i] = TokenEntry{
				ID:          t.ID,
				Description: t.Desc,
				UserID:      t.UserID,
				Repos:       t.Repos,
				Permission:  t.Permission,
			}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func makeAdminDeleteTokenHandler(tokens TokenStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := tokens.DeleteToken(id); err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": err.Error()})
				return
			}
			logger.Error("delete token", "error", err, "token_id", id)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error", "message": "failed to delete token"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- Admin Repo Handlers ---

func (h *handlers) adminCreateRepo(w http.ResponseWriter, r *http.Request) {
	var req remote.CreateRepoRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	repo, err := h.svc.CreateRepo(r.Context(), adminActor, req.Name, req.Public)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, repo)
}

func (h *handlers) adminListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := h.svc.ListRepos(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if repos == nil {
		repos = []*models.Repo{}
	}
	writeJSON(w, http.StatusOK, &remote.ReposResponse{Repos: repos})
}

func (h *handlers) adminDeleteRepo(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteRepo(r.Context(), adminActor, r.PathValue("name")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
