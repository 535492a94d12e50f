package ledger

import (
	"context"
	"strings"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// SubmitRequest turns a workspace's modifications into a changelist on Branch.
type SubmitRequest struct {
	RepoID         string
	WorkspaceID    string
	Branch         string
	Message        string
	VersionIndex   string
	Modifications  []models.Modification
	KeepCheckedOut bool
}

// normalizeModifications normalizes paths and collapses repeated paths. A later entry
// for a path replaces the earlier one but keeps its position.
func normalizeModifications(mods []models.Modification) ([]models.Modification, error) {
	out := make([]models.Modification, 0, len(mods))
	index := make(map[string]int, len(mods))
	for _, m := range mods {
		p, err := normalizePath(m.Path)
		if err != nil {
			return nil, err
		}
		m.Path = p
		if m.OldPath != "" {
			if m.OldPath, err = normalizePath(m.OldPath); err != nil {
				return nil, err
			}
		}
		if i, ok := index[p]; ok {
			out[i] = m
			continue
		}
		index[p] = len(out)
		out = append(out, m)
	}
	return out, nil
}

// Submit records the modifications as a new changelist on the branch and advances its head.
func (s *Service) Submit(ctx context.Context, actor Actor, req SubmitRequest) (cl *models.Changelist, err error) {
	ctx, done := s.instrument(ctx, "submit",
		attribute.String("repo_id", req.RepoID),
		attribute.String("branch", req.Branch),
		attribute.Int("modifications", len(req.Modifications)))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	if len(req.Modifications) == 0 {
		return nil, errs.BadRequest("no modifications to submit")
	}
	if strings.TrimSpace(req.Message) == "" {
		return nil, errs.BadRequest("a description is required")
	}
	mods, err := normalizeModifications(req.Modifications)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(mods))
	for i, m := range mods {
		paths[i] = m.Path
	}

	var branchName string
	err = s.update(ctx, "submit", func(tx store.Tx) error {
		cl = nil
		if _, err := liveRepo(ctx, tx, req.RepoID); err != nil {
			return err
		}
		ws, err := ownedWorkspace(ctx, tx, actor, req.RepoID, req.WorkspaceID)
		if err != nil {
			return err
		}

		conflicts, err := lockConflicts(ctx, tx, req.RepoID, paths, actor.UserID)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			metrics.LockConflicts.WithLabelValues("submit").Inc()
			return lockedError(conflicts)
		}

		number, err := nextNumber(ctx, tx, req.RepoID)
		if err != nil {
			return err
		}

		branch, err := resolveBranch(ctx, tx, req.RepoID, req.Branch)
		if err != nil {
			return err
		}
		if branch.IsArchived() {
			return errs.BadRequest("branch %q is archived", branch.Name)
		}
		branchName = branch.Name

		parent, err := tx.GetChangelist(ctx, req.RepoID, branch.HeadNumber)
		if err != nil {
			return notFound(err, "head changelist %d of branch %q not found", branch.HeadNumber, branch.Name)
		}

		tree := parent.StateTree.Clone()
		changes := make([]*models.FileChange, 0, len(mods))
		fileIDs := make([]string, 0, len(mods))
		for _, m := range mods {
			f, err := s.ensureFile(ctx, tx, req.RepoID, m.Path)
			if err != nil {
				return err
			}
			fc := &models.FileChange{ChangelistNumber: number, FileID: f.ID, Path: f.Path, OldPath: m.OldPath}
			switch {
			case m.Delete:
				fc.Type = models.ChangeDelete
				tree.Delete(f.ID)
			case parent.StateTree.Has(f.ID):
				fc.Type = models.ChangeModify
				tree.Set(f.ID, number)
			default:
				fc.Type = models.ChangeAdd
				tree.Set(f.ID, number)
			}
			changes = append(changes, fc)
			fileIDs = append(fileIDs, f.ID)
		}

		now := s.clock()
		newCL := &models.Changelist{
			ID:           newID(),
			RepoID:       req.RepoID,
			Number:       number,
			Message:      req.Message,
			ParentNumber: models.Int64Ptr(branch.HeadNumber),
			StateTree:    tree,
			VersionIndex: req.VersionIndex,
			UserID:       actor.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertChangelist(ctx, newCL); err != nil {
			return err
		}
		if err := tx.InsertFileChanges(ctx, req.RepoID, changes); err != nil {
			return err
		}
		if err := tx.UpdateBranchHeadCAS(ctx, req.RepoID, branch.Name, number, branch.HeadNumber, now); err != nil {
			return err
		}

		if !req.KeepCheckedOut {
			active, err := tx.ListActiveCheckouts(ctx, req.RepoID, fileIDs)
			if err != nil {
				return err
			}
			var ids []string
			for _, c := range active {
				if c.WorkspaceID == ws.ID {
					ids = append(ids, c.ID)
				}
			}
			if err := tx.CloseCheckouts(ctx, ids, now); err != nil {
				return err
			}
		}

		cl = newCL
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChangelistsCreated.WithLabelValues("submit").Inc()
	s.logger.Info("changelist submitted",
		"repo_id", req.RepoID, "branch", branchName, "number", cl.Number,
		"user", actor.UserID, "files", len(mods))

	if s.notifier != nil {
		if repo, rerr := s.GetRepo(ctx, req.RepoID); rerr == nil {
			s.notifier.ChangelistSubmitted(repo, branchName, cl)
		}
	}
	return cl, nil
}
