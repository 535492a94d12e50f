package server

import (
	"net/http"

	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
)

func (h *handlers) createWorkspace(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.WorkspaceRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	ws, err := h.svc.CreateWorkspace(r.Context(), actor, repo.ID, req.Name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (h *handlers) getWorkspace(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	ws, err := h.svc.GetWorkspace(r.Context(), repo.ID, r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

func (h *handlers) checkout(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.CheckoutRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	co, err := h.svc.Checkout(r.Context(), actor, repo.ID, req.WorkspaceID, req.Path, req.Locked)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, co)
}

func (h *handlers) undoCheckout(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.CheckoutRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	co, err := h.svc.UndoCheckout(r.Context(), actor, repo.ID, req.WorkspaceID, req.Path)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, co)
}

func (h *handlers) activeCheckouts(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	var req remote.PathsRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	cos, err := h.svc.ActiveCheckoutsFor(r.Context(), repo.ID, req.Paths)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cos == nil {
		cos = []*models.FileCheckout{}
	}
	writeJSON(w, http.StatusOK, cos)
}

// lockConflicts lists locks held on the paths by anyone but the caller.
func (h *handlers) lockConflicts(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.PathsRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	conflicts, err := h.svc.HasConflictingLock(r.Context(), repo.ID, req.Paths, actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if conflicts == nil {
		conflicts = []models.LockConflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}
