package ledger

import (
	"context"
	"errors"
	"strings"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultBranchName is the MAINLINE branch every new repo starts with.
const DefaultBranchName = "main"

const genesisMessage = "Repository created"

// RepoSummary is the repo info view served by the info endpoint.
type RepoSummary struct {
	Repo            *models.Repo `json:"repo"`
	DefaultBranch   string       `json:"default_branch"`
	BranchCount     int          `json:"branch_count"`
	ChangelistCount int          `json:"changelist_count"`
	LatestNumber    int64        `json:"latest_number"`
}

func validateRepoName(name string) error {
	if name == "" {
		return errs.BadRequest("repo name is required")
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\ `) || strings.HasPrefix(name, ".") {
		return errs.BadRequest("invalid repo name %q", name)
	}
	return nil
}

// CreateRepo creates a repo with its genesis changelist #0 and a default MAINLINE branch.
func (s *Service) CreateRepo(ctx context.Context, actor Actor, name string, public bool) (repo *models.Repo, err error) {
	ctx, done := s.instrument(ctx, "create_repo", attribute.String("repo", name))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessAdmin); err != nil {
		return nil, err
	}
	if err := validateRepoName(name); err != nil {
		return nil, err
	}

	err = s.update(ctx, "create_repo", func(tx store.Tx) error {
		if _, err := tx.GetRepoByName(ctx, name); err == nil {
			return errs.Conflict("repo %q already exists", name)
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.clock()
		r := &models.Repo{ID: newID(), Name: name, Public: public, CreatedAt: now}
		if err := tx.InsertRepo(ctx, r); err != nil {
			return err
		}

		genesis := &models.Changelist{
			ID:        newID(),
			RepoID:    r.ID,
			Number:    0,
			Message:   genesisMessage,
			StateTree: models.StateTree{},
			UserID:    actor.UserID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertChangelist(ctx, genesis); err != nil {
			return err
		}

		main := &models.Branch{
			ID:          newID(),
			RepoID:      r.ID,
			Name:        DefaultBranchName,
			Type:        models.BranchMainline,
			HeadNumber:  0,
			IsDefault:   true,
			CreatedByID: actor.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertBranch(ctx, main); err != nil {
			return err
		}
		repo = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChangelistsCreated.WithLabelValues("genesis").Inc()
	s.logger.Info("repo created", "repo", repo.Name, "id", repo.ID)
	return repo, nil
}

// GetRepo returns a live repo by ID.
func (s *Service) GetRepo(ctx context.Context, repoID string) (*models.Repo, error) {
	var repo *models.Repo
	err := s.view(ctx, func(tx store.Tx) error {
		var err error
		repo, err = liveRepo(ctx, tx, repoID)
		return err
	})
	return repo, err
}

// GetRepoByName returns a live repo by name.
func (s *Service) GetRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	var repo *models.Repo
	err := s.view(ctx, func(tx store.Tx) error {
		r, err := tx.GetRepoByName(ctx, name)
		if err != nil {
			return notFound(err, "repo %q not found", name)
		}
		repo = r
		return nil
	})
	return repo, err
}

// ListRepos returns all live repos ordered by name.
func (s *Service) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	var repos []*models.Repo
	err := s.view(ctx, func(tx store.Tx) error {
		all, err := tx.ListRepos(ctx)
		if err != nil {
			return err
		}
		repos = repos[:0]
		for _, r := range all {
			if !r.IsDeleted() {
				repos = append(repos, r)
			}
		}
		return nil
	})
	return repos, err
}

// DeleteRepo soft-deletes a repo. Its name becomes available again.
func (s *Service) DeleteRepo(ctx context.Context, actor Actor, name string) (err error) {
	ctx, done := s.instrument(ctx, "delete_repo", attribute.String("repo", name))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessAdmin); err != nil {
		return err
	}
	err = s.updateOnce(ctx, func(tx store.Tx) error {
		r, err := tx.GetRepoByName(ctx, name)
		if err != nil {
			return notFound(err, "repo %q not found", name)
		}
		return tx.SoftDeleteRepo(ctx, r.ID, s.clock())
	})
	if err != nil {
		return err
	}
	s.logger.Info("repo deleted", "repo", name)
	return nil
}

// Summary returns counts and the latest changelist number for a repo.
func (s *Service) Summary(ctx context.Context, repoID string) (*RepoSummary, error) {
	var sum *RepoSummary
	err := s.view(ctx, func(tx store.Tx) error {
		repo, err := liveRepo(ctx, tx, repoID)
		if err != nil {
			return err
		}
		branches, err := tx.ListBranches(ctx, repoID)
		if err != nil {
			return err
		}
		count, err := tx.CountChangelists(ctx, repoID)
		if err != nil {
			return err
		}
		latest, _, err := tx.MaxChangelistNumber(ctx, repoID)
		if err != nil {
			return err
		}
		sum = &RepoSummary{
			Repo:            repo,
			BranchCount:     len(branches),
			ChangelistCount: count,
			LatestNumber:    latest,
		}
		for _, b := range branches {
			if b.IsDefault {
				sum.DefaultBranch = b.Name
			}
		}
		return nil
	})
	return sum, err
}
