package ledger

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/gobwas/glob"
	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// CreateBranchRequest is the input of CreateBranch.
type CreateBranchRequest struct {
	Name             string
	Type             models.BranchType
	HeadNumber       int64
	ParentBranchName string
}

// BranchFilter narrows ListBranches. Pattern is a glob with '/' as separator.
type BranchFilter struct {
	Pattern         string
	Type            models.BranchType
	IncludeArchived bool
}

func validateBranchName(name string) error {
	if name == "" {
		return errs.BadRequest("branch name is required")
	}
	if len(name) > 255 {
		return errs.BadRequest("branch name too long")
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.HasPrefix(name, "-") ||
		strings.Contains(name, "..") || strings.Contains(name, "//") {
		return errs.BadRequest("invalid branch name %q", name)
	}
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || strings.ContainsRune(`~^:?*[\`, r) {
			return errs.BadRequest("invalid branch name %q", name)
		}
	}
	return nil
}

// resolveBranch loads a branch by name, or the repo's default branch when name is empty.
func resolveBranch(ctx context.Context, tx store.Tx, repoID, name string) (*models.Branch, error) {
	if name != "" {
		b, err := tx.GetBranch(ctx, repoID, name)
		if err != nil {
			return nil, notFound(err, "branch %q not found", name)
		}
		return b, nil
	}
	branches, err := tx.ListBranches(ctx, repoID)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		if b.IsDefault {
			return b, nil
		}
	}
	return nil, errs.NotFound("repo has no default branch")
}

// canManage reports whether actor may archive, unarchive or delete b.
func canManage(actor Actor, b *models.Branch) bool {
	if actor.Access >= AccessAdmin {
		return true
	}
	return b.Type == models.BranchFeature && b.CreatedByID != "" && b.CreatedByID == actor.UserID
}

// GetBranch returns a branch by name.
func (s *Service) GetBranch(ctx context.Context, repoID, name string) (*models.Branch, error) {
	var b *models.Branch
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		var err error
		b, err = resolveBranch(ctx, tx, repoID, name)
		return err
	})
	return b, err
}

// ListBranches returns the repo's branches ordered by name.
func (s *Service) ListBranches(ctx context.Context, repoID string, filter BranchFilter) ([]*models.Branch, error) {
	var g glob.Glob
	if filter.Pattern != "" {
		var err error
		if g, err = glob.Compile(filter.Pattern, '/'); err != nil {
			return nil, errs.BadRequest("invalid branch pattern %q: %v", filter.Pattern, err)
		}
	}

	out := []*models.Branch{}
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		all, err := tx.ListBranches(ctx, repoID)
		if err != nil {
			return err
		}
		for _, b := range all {
			if b.IsArchived() && !filter.IncludeArchived {
				continue
			}
			if filter.Type != "" && b.Type != filter.Type {
				continue
			}
			if g != nil && !g.Match(b.Name) {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

// CreateBranch creates a branch pointing at an existing changelist.
func (s *Service) CreateBranch(ctx context.Context, actor Actor, repoID string, req CreateBranchRequest) (branch *models.Branch, err error) {
	ctx, done := s.instrument(ctx, "create_branch", attribute.String("repo_id", repoID), attribute.String("branch", req.Name))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	if err := validateBranchName(req.Name); err != nil {
		return nil, err
	}
	typ, perr := models.ParseBranchType(string(req.Type))
	if perr != nil {
		return nil, errs.BadRequest("%v", perr)
	}
	parentName := req.ParentBranchName
	if typ == models.BranchMainline {
		parentName = ""
	} else if parentName == "" {
		return nil, errs.BadRequest("%s branch requires a parent branch", typ)
	}

	err = s.updateOnce(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		if _, err := tx.GetChangelist(ctx, repoID, req.HeadNumber); err != nil {
			return notFound(err, "changelist %d not found", req.HeadNumber)
		}
		if _, err := tx.GetBranch(ctx, repoID, req.Name); err == nil {
			return errs.Conflict("branch %q already exists", req.Name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if parentName != "" {
			parent, err := tx.GetBranch(ctx, repoID, parentName)
			if errors.Is(err, store.ErrNotFound) {
				return errs.BadRequest("parent branch %q not found", parentName)
			} else if err != nil {
				return err
			}
			if parent.IsArchived() {
				return errs.BadRequest("parent branch %q is archived", parentName)
			}
			if !typ.AllowsParent(parent.Type) {
				return errs.BadRequest("%s branch cannot have %s parent %q", typ, parent.Type, parentName)
			}
		}

		now := s.clock()
		branch = &models.Branch{
			ID:               newID(),
			RepoID:           repoID,
			Name:             req.Name,
			Type:             typ,
			HeadNumber:       req.HeadNumber,
			ParentBranchName: parentName,
			CreatedByID:      actor.UserID,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return tx.InsertBranch(ctx, branch)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("branch created", "repo_id", repoID, "branch", branch.Name, "type", branch.Type, "head", branch.HeadNumber)
	return branch, nil
}

// loadManaged loads a non-default branch for archive, unarchive or delete.
func loadManaged(ctx context.Context, tx store.Tx, repoID, name, verb string) (*models.Branch, error) {
	if _, err := liveRepo(ctx, tx, repoID); err != nil {
		return nil, err
	}
	b, err := tx.GetBranch(ctx, repoID, name)
	if err != nil {
		return nil, notFound(err, "branch %q not found", name)
	}
	if b.IsDefault {
		return nil, errs.BadRequest("cannot %s the default branch", verb)
	}
	return b, nil
}

func (s *Service) setArchived(ctx context.Context, actor Actor, repoID, name string, archive bool) (*models.Branch, error) {
	verb := "unarchive"
	if archive {
		verb = "archive"
	}
	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}

	var branch *models.Branch
	err := s.updateOnce(ctx, func(tx store.Tx) error {
		b, err := loadManaged(ctx, tx, repoID, name, verb)
		if err != nil {
			return err
		}
		if !canManage(actor, b) {
			return errs.Forbidden("only an admin or the creator of a feature branch may %s %q", verb, name)
		}
		if b.IsArchived() == archive {
			branch = b
			return nil
		}

		now := s.clock()
		var at *time.Time
		if archive {
			at = &now
		}
		if err := tx.SetBranchArchived(ctx, repoID, name, at, now); err != nil {
			return notFound(err, "branch %q not found", name)
		}
		b.ArchivedAt = at
		b.UpdatedAt = now
		branch = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("branch "+verb+"d", "repo_id", repoID, "branch", name)
	return branch, nil
}

// ArchiveBranch makes a branch read-only. Archiving an archived branch is a no-op.
func (s *Service) ArchiveBranch(ctx context.Context, actor Actor, repoID, name string) (b *models.Branch, err error) {
	ctx, done := s.instrument(ctx, "archive_branch", attribute.String("repo_id", repoID), attribute.String("branch", name))
	defer func() { done(err) }()
	return s.setArchived(ctx, actor, repoID, name, true)
}

// UnarchiveBranch makes an archived branch writable again.
func (s *Service) UnarchiveBranch(ctx context.Context, actor Actor, repoID, name string) (b *models.Branch, err error) {
	ctx, done := s.instrument(ctx, "unarchive_branch", attribute.String("repo_id", repoID), attribute.String("branch", name))
	defer func() { done(err) }()
	return s.setArchived(ctx, actor, repoID, name, false)
}

// DeleteBranch removes a FEATURE branch with no children and returns the removed row.
// Its changelists stay in the ledger.
func (s *Service) DeleteBranch(ctx context.Context, actor Actor, repoID, name string) (deleted *models.Branch, err error) {
	ctx, done := s.instrument(ctx, "delete_branch", attribute.String("repo_id", repoID), attribute.String("branch", name))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	err = s.updateOnce(ctx, func(tx store.Tx) error {
		b, err := loadManaged(ctx, tx, repoID, name, "delete")
		if err != nil {
			return err
		}
		if b.Type != models.BranchFeature {
			return errs.BadRequest("only feature branches can be deleted, %q is %s", name, b.Type)
		}
		if !canManage(actor, b) {
			return errs.Forbidden("only an admin or the creator of %q may delete it", name)
		}
		children, err := tx.CountChildBranches(ctx, repoID, name)
		if err != nil {
			return err
		}
		if children > 0 {
			return errs.BadRequest("branch %q has %d child branch(es)", name, children)
		}
		if err := tx.DeleteBranch(ctx, repoID, name); err != nil {
			return notFound(err, "branch %q not found", name)
		}
		deleted = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("branch deleted", "repo_id", repoID, "branch", name)
	return deleted, nil
}
