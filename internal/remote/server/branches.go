package server

import (
	"net/http"
	"strconv"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
)

func (h *handlers) repoInfo(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	sum, err := h.svc.Summary(r.Context(), repo.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &remote.RepoInfo{
		ID:              repo.ID,
		Name:            repo.Name,
		Public:          repo.Public,
		DefaultBranch:   sum.DefaultBranch,
		BranchCount:     sum.BranchCount,
		ChangelistCount: sum.ChangelistCount,
		LatestNumber:    sum.LatestNumber,
		CreatedAt:       repo.CreatedAt,
	})
}

func (h *handlers) listBranches(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	q := r.URL.Query()
	filter := ledger.BranchFilter{Pattern: q.Get("pattern")}
	if t := q.Get("type"); t != "" {
		bt, err := models.ParseBranchType(t)
		if err != nil {
			h.writeError(w, r, errs.BadRequest("%v", err))
			return
		}
		filter.Type = bt
	}
	if a := q.Get("archived"); a != "" {
		include, err := strconv.ParseBool(a)
		if err != nil {
			h.writeError(w, r, errs.BadRequest("invalid archived value %q", a))
			return
		}
		filter.IncludeArchived = include
	}

	branches, err := h.svc.ListBranches(r.Context(), repo.ID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if branches == nil {
		branches = []*models.Branch{}
	}
	writeJSON(w, http.StatusOK, branches)
}

func (h *handlers) getBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	b, err := h.svc.GetBranch(r.Context(), repo.ID, r.PathValue("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// createBranch starts the branch at its parent's head when no head number is given.
func (h *handlers) createBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.CreateBranchRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	bt, err := models.ParseBranchType(req.Type)
	if err != nil {
		h.writeError(w, r, errs.BadRequest("%v", err))
		return
	}

	head := req.HeadNumber
	if head == nil {
		if req.Parent == "" {
			h.writeError(w, r, errs.BadRequest("head_number is required for a branch without a parent"))
			return
		}
		parent, err := h.svc.GetBranch(r.Context(), repo.ID, req.Parent)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				err = errs.BadRequest("parent branch %q not found", req.Parent)
			}
			h.writeError(w, r, err)
			return
		}
		head = &parent.HeadNumber
	}

	b, err := h.svc.CreateBranch(r.Context(), actor, repo.ID, ledger.CreateBranchRequest{
		Name:             req.Name,
		Type:             bt,
		HeadNumber:       *head,
		ParentBranchName: req.Parent,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handlers) archiveBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	b, err := h.svc.ArchiveBranch(r.Context(), actor, repo.ID, r.PathValue("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) unarchiveBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	b, err := h.svc.UnarchiveBranch(r.Context(), actor, repo.ID, r.PathValue("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handlers) deleteBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	b, err := h.svc.DeleteBranch(r.Context(), actor, repo.ID, r.PathValue("branch"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// mergeBranch squashes {branch} into the requested target, or into its parent when none is named.
func (h *handlers) mergeBranch(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.MergeRequest
	if r.ContentLength != 0 && !h.readJSON(w, r, &req) {
		return
	}

	incoming := r.PathValue("branch")
	target := req.Target
	if target == "" {
		b, err := h.svc.GetBranch(r.Context(), repo.ID, incoming)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		if b.ParentBranchName == "" {
			h.writeError(w, r, errs.BadRequest("branch %q has no parent, a target is required", incoming))
			return
		}
		target = b.ParentBranchName
	}

	res, err := h.svc.MergeBranch(r.Context(), actor, repo.ID, incoming, target)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
