package ledger

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// incomingChangelists walks back from incomingHead and returns, newest first, every
// changelist that is not on the target chain. The walk ends at the first common ancestor.
func incomingChangelists(ctx context.Context, tx store.Tx, repoID string, incomingHead, targetHead int64) ([]*models.Changelist, error) {
	next, stop := iter.Pull2(Ancestors(ctx, tx, repoID, targetHead))
	defer stop()

	var target *models.Changelist
	advance := func() error {
		cl, err, ok := next()
		if !ok {
			target = nil
			return nil
		}
		if err != nil {
			return err
		}
		target = cl
		return nil
	}
	if err := advance(); err != nil {
		return nil, err
	}

	var out []*models.Changelist
	for cl, err := range Ancestors(ctx, tx, repoID, incomingHead) {
		if err != nil {
			return nil, err
		}
		for target != nil && target.Number > cl.Number {
			if err := advance(); err != nil {
				return nil, err
			}
		}
		if target != nil && target.Number == cl.Number {
			break
		}
		out = append(out, cl)
	}
	return out, nil
}

// squashMessage lists the collected changelists newest first under a summary line.
func squashMessage(incoming, target string, collected []*models.Changelist) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merged %s into %s", incoming, target)
	for _, cl := range collected {
		fmt.Fprintf(&b, "\n#%d %s", cl.Number, cl.Message)
	}
	return b.String()
}

// latestChanges keeps the newest change per file, re-numbered onto number and sorted by path.
func latestChanges(changes []*models.FileChange, number int64) []*models.FileChange {
	latest := make(map[string]*models.FileChange, len(changes))
	for _, fc := range changes {
		if prev, ok := latest[fc.FileID]; !ok || fc.ChangelistNumber >= prev.ChangelistNumber {
			latest[fc.FileID] = fc
		}
	}
	out := make([]*models.FileChange, 0, len(latest))
	for _, fc := range latest {
		c := *fc
		c.ChangelistNumber = number
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *models.FileChange) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// MergeBranch squashes a FEATURE branch into its parent as one changelist and deletes it.
func (s *Service) MergeBranch(ctx context.Context, actor Actor, repoID, incomingName, targetName string) (res *models.MergeResult, err error) {
	ctx, done := s.instrument(ctx, "merge",
		attribute.String("repo_id", repoID),
		attribute.String("incoming", incomingName),
		attribute.String("target", targetName))
	defer func() { done(err) }()

	if err := requireAccess(actor, AccessWrite); err != nil {
		return nil, err
	}

	var collectedCount int
	err = s.update(ctx, "merge", func(tx store.Tx) error {
		res = nil
		if _, err := liveRepo(ctx, tx, repoID); err != nil {
			return err
		}
		incoming, err := tx.GetBranch(ctx, repoID, incomingName)
		if err != nil {
			return notFound(err, "branch %q not found", incomingName)
		}
		target, err := tx.GetBranch(ctx, repoID, targetName)
		if err != nil {
			return notFound(err, "branch %q not found", targetName)
		}
		switch {
		case incoming.Type != models.BranchFeature:
			return errs.BadRequest("only feature branches can be merged, %q is %s", incoming.Name, incoming.Type)
		case incoming.ParentBranchName != target.Name:
			return errs.BadRequest("%q can only be merged into its parent %q", incoming.Name, incoming.ParentBranchName)
		case incoming.IsArchived():
			return errs.BadRequest("branch %q is archived", incoming.Name)
		case target.IsArchived():
			return errs.BadRequest("branch %q is archived", target.Name)
		}

		collected, err := incomingChangelists(ctx, tx, repoID, incoming.HeadNumber, target.HeadNumber)
		if err != nil {
			return err
		}
		if len(collected) == 0 {
			return errs.BadRequest("branch %q has no changes to merge into %q", incoming.Name, target.Name)
		}

		targetHead, err := tx.GetChangelist(ctx, repoID, target.HeadNumber)
		if err != nil {
			return notFound(err, "head changelist %d of branch %q not found", target.HeadNumber, target.Name)
		}
		incomingHead, err := tx.GetChangelist(ctx, repoID, incoming.HeadNumber)
		if err != nil {
			return notFound(err, "head changelist %d of branch %q not found", incoming.HeadNumber, incoming.Name)
		}

		numbers := make([]int64, len(collected))
		for i, cl := range collected {
			numbers[i] = cl.Number
		}
		history, err := tx.ListFileChanges(ctx, repoID, numbers)
		if err != nil {
			return err
		}

		number, err := nextNumber(ctx, tx, repoID)
		if err != nil {
			return err
		}
		changes := latestChanges(history, number)

		tree := targetHead.StateTree.Clone()
		tree.Merge(incomingHead.StateTree)
		// Only a file whose latest collected change is a DELETE leaves the tree; delete-then-recreate keeps it.
		for _, fc := range changes {
			if fc.Type == models.ChangeDelete {
				tree.Delete(fc.FileID)
			}
		}

		now := s.clock()
		merged := &models.Changelist{
			ID:           newID(),
			RepoID:       repoID,
			Number:       number,
			Message:      squashMessage(incoming.Name, target.Name, collected),
			ParentNumber: models.Int64Ptr(target.HeadNumber),
			StateTree:    tree,
			VersionIndex: incomingHead.VersionIndex,
			UserID:       actor.UserID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertChangelist(ctx, merged); err != nil {
			return err
		}
		if err := tx.InsertFileChanges(ctx, repoID, changes); err != nil {
			return err
		}
		if err := tx.UpdateBranchHeadCAS(ctx, repoID, target.Name, number, target.HeadNumber, now); err != nil {
			return err
		}
		if err := tx.DeleteBranch(ctx, repoID, incoming.Name); err != nil {
			return err
		}

		collectedCount = len(collected)
		res = &models.MergeResult{Changelist: merged, DeletedBranch: incoming.Name}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ChangelistsCreated.WithLabelValues("merge").Inc()
	metrics.MergedChangelists.Observe(float64(collectedCount))
	s.logger.Info("branch merged",
		"repo_id", repoID, "incoming", incomingName, "target", targetName,
		"number", res.Changelist.Number, "squashed", collectedCount)

	if s.notifier != nil {
		if repo, rerr := s.GetRepo(ctx, repoID); rerr == nil {
			s.notifier.BranchMerged(repo, incomingName, targetName, res.Changelist)
		}
	}
	return res, nil
}
