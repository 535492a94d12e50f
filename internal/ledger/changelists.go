package ledger

import (
	"context"
	"errors"
	"iter"
	"slices"
	"time"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultHistoryCount = 20
	maxHistoryCount     = 100
	maxBatchNumbers     = 100
)

// CreateChangelistRequest is the input of CreateChangelist.
type CreateChangelistRequest struct {
	RepoID       string
	ParentNumber *int64
	StateTree    models.StateTree
	Message      string
	VersionIndex string
}

// HistoryQuery selects a page of history along a branch's ancestor chain.
// StartNumber takes precedence over StartTime; with neither the branch head is used.
type HistoryQuery struct {
	Branch      string
	StartNumber *int64
	StartTime   *time.Time
	Count       int
}

// Ancestors yields the changelist numbered from, then each parent in turn, ending at the
// changelist with no parent. Parents always carry smaller numbers, so the sequence is finite.
func Ancestors(ctx context.Context, tx store.Tx, repoID string, from int64) iter.Seq2[*models.Changelist, error] {
	return func(yield func(*models.Changelist, error) bool) {
		next := &from
		for next != nil {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			cl, err := tx.GetChangelist(ctx, repoID, *next)
			if err != nil {
				yield(nil, notFound(err, "changelist %d not found", *next))
				return
			}
			if cl.ParentNumber != nil && *cl.ParentNumber >= cl.Number {
				yield(nil, errs.Internal(nil, "changelist %d has parent %d", cl.Number, *cl.ParentNumber))
				return
			}
			if !yield(cl, nil) {
				return
			}
			next = cl.ParentNumber
		}
	}
}

// Take limits seq to its first n elements.
func Take[T any](seq iter.Seq2[T, error], n int) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		if n <= 0 {
			return
		}
		i := 0
		for v, err := range seq {
			if !yield(v, err) || err != nil {
				return
			}
			i++
			if i >= n {
				return
			}
		}
	}
}

// Until ends seq before the first element for which stop returns true.
func Until[T any](seq iter.Seq2[T, error], stop func(T) bool) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v, err := range seq {
			if err != nil {
				yield(v, err)
				return
			}
			if stop(v) || !yield(v, nil) {
				return
			}
		}
	}
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// nextNumber is max+1, or 0 for an empty repo. It must run in the transaction that inserts.
func nextNumber(ctx context.Context, tx store.Tx, repoID string) (int64, error) {
	maxNum, ok, err := tx.MaxChangelistNumber(ctx, repoID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return maxNum + 1, nil
}

// NextChangelistNumber returns the number the next changelist in the repo would receive.
func (s *Service) NextChangelistNumber(ctx context.Context, repoID string) (int64, error) {
	var n int64
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		var err error
		n, err = nextNumber(ctx, tx, repoID)
		return err
	})
	return n, err
}

// CreateChangelist inserts a changelist with a caller-computed state tree and does not
// move any branch.
func (s *Service) CreateChangelist(ctx context.Context, actor Actor, req CreateChangelistRequest) (cl *models.Changelist, err error) {
	ctx, done := s.instrument(ctx, "create_changelist", attribute.String("repo_id", req.RepoID))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}
	tree := req.StateTree
	if tree == nil {
		tree = models.StateTree{}
	}

	err = s.update(ctx, "create_changelist", func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, req.RepoID); err != nil {
			return err
		}
		number, err := nextNumber(ctx, tx, req.RepoID)
		if err != nil {
			return err
		}

		if req.ParentNumber == nil {
			if number != 0 || len(tree) > 0 {
				return errs.BadRequest("only the genesis changelist may omit a parent")
			}
		} else if _, err := tx.GetChangelist(ctx, req.RepoID, *req.ParentNumber); err != nil {
			return notFound(err, "parent changelist %d not found", *req.ParentNumber)
		}

		if len(tree) > 0 {
			ids := tree.FileIDs()
			n, err := tx.CountFiles(ctx, req.RepoID, ids)
			if err != nil {
				return err
			}
			if n != len(ids) {
				return errs.BadRequest("state tree references %d unknown file(s)", len(ids)-n)
			}
		}

		now := s.clock()
		cl = &models.Changelist{
			ID:           newID(),
			RepoID:       req.RepoID,
			Number:       number,
			Message:      req.Message,
			ParentNumber: req.ParentNumber,
			StateTree:    tree.Clone(),
			VersionIndex: req.VersionIndex,
			UserID:       actor.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return tx.InsertChangelist(ctx, cl)
	})
	if err != nil {
		return nil, err
	}

	metrics.ChangelistsCreated.WithLabelValues("direct").Inc()
	s.logger.Info("changelist created", "repo_id", req.RepoID, "number", cl.Number)
	return cl, nil
}

// GetChangelist returns one changelist.
func (s *Service) GetChangelist(ctx context.Context, repoID string, number int64) (*models.Changelist, error) {
	var cl *models.Changelist
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		c, err := tx.GetChangelist(ctx, repoID, number)
		if err != nil {
			return notFound(err, "changelist %d not found", number)
		}
		cl = c
		return nil
	})
	return cl, err
}

// GetChangelists returns the changelists that exist among numbers, in ascending order.
func (s *Service) GetChangelists(ctx context.Context, repoID string, numbers []int64) ([]*models.Changelist, error) {
	if len(numbers) > maxBatchNumbers {
		return nil, errs.BadRequest("at most %d changelist numbers per request", maxBatchNumbers)
	}
	var out []*models.Changelist
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		var err error
		out, err = tx.GetChangelists(ctx, repoID, numbers)
		return err
	})
	return out, err
}

// WalkAncestors returns up to limit changelists starting at from and following parents.
func (s *Service) WalkAncestors(ctx context.Context, repoID string, from int64, limit int) ([]*models.Changelist, error) {
	if limit <= 0 {
		return nil, errs.BadRequest("limit must be positive")
	}
	var out []*models.Changelist
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		var err error
		out, err = collect(Take(Ancestors(ctx, tx, repoID, from), limit))
		return err
	})
	return out, err
}

// ChangedPathsBetween returns the sorted set of paths touched by changelists after
// fromExclusive up to and including toInclusive on to's chain.
func (s *Service) ChangedPathsBetween(ctx context.Context, repoID string, fromExclusive, toInclusive int64) ([]string, error) {
	paths := []string{}
	if fromExclusive >= toInclusive {
		return paths, nil
	}
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		chain, err := collect(Until(Ancestors(ctx, tx, repoID, toInclusive), func(cl *models.Changelist) bool {
			return cl.Number <= fromExclusive
		}))
		if err != nil {
			return err
		}
		numbers := make([]int64, len(chain))
		for i, cl := range chain {
			numbers[i] = cl.Number
		}
		changes, err := tx.ListFileChanges(ctx, repoID, numbers)
		if err != nil {
			return err
		}
		seen := make(map[string]bool)
		for _, fc := range changes {
			for _, p := range []string{fc.Path, fc.OldPath} {
				if p != "" && !seen[p] {
					seen[p] = true
					paths = append(paths, p)
				}
			}
		}
		slices.Sort(paths)
		return nil
	})
	return paths, err
}

// History returns a page of changelists along a branch chain, newest first.
func (s *Service) History(ctx context.Context, repoID string, q HistoryQuery) (page []*models.Changelist, err error) {
	ctx, done := s.instrument(ctx, "history", attribute.String("repo_id", repoID))
	defer func() { done(err) }()

	count := q.Count
	if count == 0 {
		count = defaultHistoryCount
	}
	if count < 1 || count > maxHistoryCount {
		return nil, errs.BadRequest("count must be between 1 and %d", maxHistoryCount)
	}

	err = s.view(ctx, func(tx store.Tx) error {
		page = nil
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}

		if q.StartNumber != nil {
			if _, err := tx.GetChangelist(ctx, repoID, *q.StartNumber); err != nil {
				return notFound(err, "changelist %d not found", *q.StartNumber)
			}
			cls, err := collect(Take(Ancestors(ctx, tx, repoID, *q.StartNumber), count))
			page = cls
			return err
		}

		branch, err := resolveBranch(ctx, tx, repoID, q.Branch)
		if err != nil {
			return err
		}
		start := branch.HeadNumber
		if q.StartTime != nil {
			start, err = tx.LatestAncestorAt(ctx, repoID, branch.HeadNumber, *q.StartTime)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
		}
		page, err = collect(Take(Ancestors(ctx, tx, repoID, start), count))
		return err
	})
	return page, err
}

// ChangelistFiles returns the file changes recorded for a changelist.
func (s *Service) ChangelistFiles(ctx context.Context, repoID string, number int64) ([]*models.FileChange, error) {
	var out []*models.FileChange
	err := s.view(ctx, func(tx store.Tx) error {
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		if _, err := tx.GetChangelist(ctx, repoID, number); err != nil {
			return notFound(err, "changelist %d not found", number)
		}
		var err error
		out, err = tx.ListFileChanges(ctx, repoID, []int64{number})
		return err
	})
	return out, err
}
