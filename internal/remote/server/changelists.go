package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/ledger"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/remote"
)

func parseNumber(s, name string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errs.BadRequest("invalid %s %q", name, s)
	}
	return n, nil
}

// listChangelists serves both the batch form (?numbers=1,2) and the history form.
func (h *handlers) listChangelists(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	q := r.URL.Query()

	var (
		cls []*models.Changelist
		err error
	)
	if raw := q.Get("numbers"); raw != "" {
		var numbers []int64
		for _, part := range strings.Split(raw, ",") {
			n, perr := parseNumber(strings.TrimSpace(part), "changelist number")
			if perr != nil {
				h.writeError(w, r, perr)
				return
			}
			numbers = append(numbers, n)
		}
		cls, err = h.svc.GetChangelists(r.Context(), repo.ID, numbers)
	} else {
		hq := ledger.HistoryQuery{Branch: q.Get("branch")}
		if s := q.Get("start"); s != "" {
			n, perr := parseNumber(s, "start")
			if perr != nil {
				h.writeError(w, r, perr)
				return
			}
			hq.StartNumber = &n
		}
		if s := q.Get("since"); s != "" {
			t, perr := time.Parse(time.RFC3339, s)
			if perr != nil {
				h.writeError(w, r, errs.BadRequest("invalid since %q, want RFC 3339", s))
				return
			}
			hq.StartTime = &t
		}
		if s := q.Get("count"); s != "" {
			n, perr := strconv.Atoi(s)
			if perr != nil {
				h.writeError(w, r, errs.BadRequest("invalid count %q", s))
				return
			}
			hq.Count = n
		}
		cls, err = h.svc.History(r.Context(), repo.ID, hq)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if cls == nil {
		cls = []*models.Changelist{}
	}
	writeJSON(w, http.StatusOK, cls)
}

func (h *handlers) getChangelist(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	n, err := parseNumber(r.PathValue("number"), "changelist number")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cl, err := h.svc.GetChangelist(r.Context(), repo.ID, n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cl)
}

func (h *handlers) changelistFiles(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	n, err := parseNumber(r.PathValue("number"), "changelist number")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	changes, err := h.svc.ChangelistFiles(r.Context(), repo.ID, n)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if changes == nil {
		changes = []*models.FileChange{}
	}
	writeJSON(w, http.StatusOK, changes)
}

func (h *handlers) submit(w http.ResponseWriter, r *http.Request, repo *models.Repo, actor ledger.Actor) {
	var req remote.SubmitRequest
	if !h.readJSON(w, r, &req) {
		return
	}
	cl, err := h.svc.Submit(r.Context(), actor, ledger.SubmitRequest{
		RepoID:         repo.ID,
		WorkspaceID:    req.WorkspaceID,
		Branch:         req.Branch,
		Message:        req.Message,
		VersionIndex:   req.VersionIndex,
		Modifications:  req.Modifications,
		KeepCheckedOut: req.KeepCheckedOut,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, &remote.SubmitResponse{ID: cl.ID, Number: cl.Number})
}

func (h *handlers) pathsChanged(w http.ResponseWriter, r *http.Request, repo *models.Repo, _ ledger.Actor) {
	q := r.URL.Query()
	from, err := parseNumber(q.Get("from"), "from")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	to, err := parseNumber(q.Get("to"), "to")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	paths, err := h.svc.ChangedPathsBetween(r.Context(), repo.ID, from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, &remote.ChangedPathsResponse{Paths: paths})
}
