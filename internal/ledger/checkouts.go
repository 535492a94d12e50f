package ledger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

func normalizePath(p string) (string, error) {
	n, err := models.NormalizePath(p)
	if err != nil {
		return "", errs.BadRequest("invalid path %q", p)
	}
	return n, nil
}

func normalizePaths(paths []string) ([]string, error) {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		n, err := normalizePath(p)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ensureFile returns the File for path, creating it on first reference.
func (s *Service) ensureFile(ctx context.Context, tx store.Tx, repoID, path string) (*models.File, error) {
	f, err := tx.GetFileByPath(ctx, repoID, path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	f = &models.File{ID: newID(), RepoID: repoID, Path: path, CreatedAt: s.clock()}
	if err := tx.InsertFile(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// ownedWorkspace loads a workspace and checks that actor owns it.
func ownedWorkspace(ctx context.Context, tx store.Tx, actor Actor, repoID, workspaceID string) (*models.Workspace, error) {
	ws, err := tx.GetWorkspace(ctx, repoID, workspaceID)
	if err != nil {
		return nil, notFound(err, "workspace %s not found", workspaceID)
	}
	if ws.UserID != actor.UserID {
		return nil, errs.Forbidden("workspace %s belongs to another user", workspaceID)
	}
	return ws, nil
}

// lockConflicts lists active locked checkouts on paths held by users other than excludingUserID.
// Paths without a File row cannot be locked and are skipped.
func lockConflicts(ctx context.Context, tx store.Tx, repoID string, paths []string, excludingUserID string) ([]models.LockConflict, error) {
	files, err := tx.GetFilesByPaths(ctx, repoID, paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	active, err := tx.ListActiveCheckouts(ctx, repoID, ids)
	if err != nil {
		return nil, err
	}
	var out []models.LockConflict
	for _, c := range active {
		if c.Locked && c.UserID != excludingUserID {
			out = append(out, models.LockConflict{Path: c.Path, UserID: c.UserID, WorkspaceID: c.WorkspaceID})
		}
	}
	return out, nil
}

// lockedError builds the Forbidden error returned by the submit gate.
func lockedError(conflicts []models.LockConflict) error {
	parts := make([]string, len(conflicts))
	for i, c := range conflicts {
		parts[i] = fmt.Sprintf("%s (locked by %s)", c.Path, c.UserID)
	}
	e := errs.Forbidden("cannot submit, %d file(s) locked by other users: %s", len(conflicts), strings.Join(parts, ", "))
	for _, c := range conflicts {
		e.WithDetail(c.Path, c.UserID)
	}
	return e
}

// CreateWorkspace creates a workspace owned by actor.
func (s *Service) CreateWorkspace(ctx context.Context, actor Actor, repoID, name string) (ws *models.Workspace, err error) {
	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, errs.BadRequest("workspace name is required")
	}
	if actor.UserID == "" {
		return nil, errs.BadRequest("workspace owner is required")
	}

	err = s.updateOnce(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		ws = &models.Workspace{ID: newID(), RepoID: repoID, UserID: actor.UserID, Name: name, CreatedAt: s.clock()}
		if err := tx.InsertWorkspace(ctx, ws); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return errs.Conflict("workspace %q already exists", name)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("workspace created", "repo_id", repoID, "workspace", ws.ID, "user", actor.UserID)
	return ws, nil
}

// GetWorkspace returns a workspace by ID.
func (s *Service) GetWorkspace(ctx context.Context, repoID, id string) (*models.Workspace, error) {
	var ws *models.Workspace
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		w, err := tx.GetWorkspace(ctx, repoID, id)
		if err != nil {
			return notFound(err, "workspace %s not found", id)
		}
		ws = w
		return nil
	})
	return ws, err
}

// Checkout opens path for edit in a workspace, optionally with an exclusive lock.
func (s *Service) Checkout(ctx context.Context, actor Actor, repoID, workspaceID, path string, locked bool) (co *models.FileCheckout, err error) {
	ctx, done := s.instrument(ctx, "checkout", attribute.String("repo_id", repoID), attribute.Bool("locked", locked))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	path, err = normalizePath(path)
	if err != nil {
		return nil, err
	}

	err = s.updateOnce(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		ws, err := ownedWorkspace(ctx, tx, actor, repoID, workspaceID)
		if err != nil {
			return err
		}
		f, err := s.ensureFile(ctx, tx, repoID, path)
		if err != nil {
			return err
		}

		if _, err := tx.GetActiveCheckout(ctx, f.ID, ws.ID); err == nil {
			return errs.Conflict("%s is already checked out in this workspace", path)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if locked {
			active, err := tx.ListActiveCheckouts(ctx, repoID, []string{f.ID})
			if err != nil {
				return err
			}
			for _, c := range active {
				if c.Locked {
					metrics.LockConflicts.WithLabelValues("checkout").Inc()
					return errs.Conflict("%s is locked by %s", path, c.UserID).WithDetail(path, c.UserID)
				}
			}
		}

		co = &models.FileCheckout{
			ID:          newID(),
			RepoID:      repoID,
			FileID:      f.ID,
			Path:        f.Path,
			WorkspaceID: ws.ID,
			UserID:      actor.UserID,
			Locked:      locked,
			CreatedAt:   s.clock(),
		}
		if err := tx.InsertCheckout(ctx, co); err != nil {
			if errors.Is(err, store.ErrConflict) {
				metrics.LockConflicts.WithLabelValues("checkout").Inc()
				return errs.Conflict("%s was checked out concurrently", path)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("file checked out", "repo_id", repoID, "path", path, "workspace", workspaceID, "locked", locked)
	return co, nil
}

// UndoCheckout closes the workspace's active checkout of path.
func (s *Service) UndoCheckout(ctx context.Context, actor Actor, repoID, workspaceID, path string) (co *models.FileCheckout, err error) {
	ctx, done := s.instrument(ctx, "undo_checkout", attribute.String("repo_id", repoID))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	path, err = normalizePath(path)
	if err != nil {
		return nil, err
	}

	err = s.updateOnce(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		ws, err := ownedWorkspace(ctx, tx, actor, repoID, workspaceID)
		if err != nil {
			return err
		}
		f, err := tx.GetFileByPath(ctx, repoID, path)
		if err != nil {
			return notFound(err, "%s is not checked out", path)
		}
		c, err := tx.GetActiveCheckout(ctx, f.ID, ws.ID)
		if err != nil {
			return notFound(err, "%s is not checked out", path)
		}
		now := s.clock()
		if err := tx.CloseCheckouts(ctx, []string{c.ID}, now); err != nil {
			return err
		}
		c.RemovedAt = &now
		co = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout reverted", "repo_id", repoID, "path", path, "workspace", workspaceID)
	return co, nil
}

// ActiveCheckoutsFor returns the open checkouts on paths with their owning users.
func (s *Service) ActiveCheckoutsFor(ctx context.Context, repoID string, paths []string) ([]*models.FileCheckout, error) {
	norm, err := normalizePaths(paths)
	if err != nil {
		return nil, err
	}
	out := []*models.FileCheckout{}
	err = s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		files, err := tx.GetFilesByPaths(ctx, repoID, norm)
		if err != nil || len(files) == 0 {
			return err
		}
		ids := make([]string, len(files))
		for i, f := range files {
			ids[i] = f.ID
		}
		active, err := tx.ListActiveCheckouts(ctx, repoID, ids)
		if err != nil {
			return err
		}
		out = append(out, active...)
		return nil
	})
	return out, err
}

// HasConflictingLock lists locks on paths held by anyone other than excludingUserID.
func (s *Service) HasConflictingLock(ctx context.Context, repoID string, paths []string, excludingUserID string) ([]models.LockConflict, error) {
	norm, err := normalizePaths(paths)
	if err != nil {
		return nil, err
	}
	var out []models.LockConflict
	err = s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		var err error
		out, err = lockConflicts(ctx, tx, repoID, norm, excludingUserID)
		return err
	})
	return out, err
}
