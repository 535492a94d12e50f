package ledger

import (
	"testing"
	"time"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numbersOf(cls []*models.Changelist) []int64 {
	out := make([]int64, len(cls))
	for i, cl := range cls {
		out[i] = cl.Number
	}
	return out
}

func TestCreateChangelist(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "add a", edit("a.txt"))
	aID := f.fileID("a.txt")

	t.Run("missing parent", func(t *testing.T) {
		_, err := f.svc.CreateChangelist(f.ctx, alice, CreateChangelistRequest{RepoID: f.repo.ID, ParentNumber: models.Int64Ptr(42)})
		assertKind(t, err, errs.KindNotFound)
	})

	t.Run("nil parent after genesis", func(t *testing.T) {
		_, err := f.svc.CreateChangelist(f.ctx, alice, CreateChangelistRequest{RepoID: f.repo.ID})
		assertKind(t, err, errs.KindBadRequest)
	})

	t.Run("unknown file in tree", func(t *testing.T) {
		_, err := f.svc.CreateChangelist(f.ctx, alice, CreateChangelistRequest{
			RepoID:       f.repo.ID,
			ParentNumber: models.Int64Ptr(1),
			StateTree:    models.StateTree{"nope": 1},
		})
		assertKind(t, err, errs.KindBadRequest)
	})

	t.Run("insert does not move branches", func(t *testing.T) {
		cl, err := f.svc.CreateChangelist(f.ctx, alice, CreateChangelistRequest{
			RepoID:       f.repo.ID,
			ParentNumber: models.Int64Ptr(1),
			StateTree:    models.StateTree{aID: 1},
			Message:      "shelved",
			VersionIndex: "v-1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(2), cl.Number)
		assert.Equal(t, "alice", cl.UserID)
		assert.Equal(t, int64(1), f.branch("main").HeadNumber)

		got, err := f.svc.GetChangelist(f.ctx, f.repo.ID, 2)
		require.NoError(t, err)
		assert.Equal(t, models.StateTree{aID: 1}, got.StateTree)
		assert.Equal(t, "v-1", got.VersionIndex)
	})

	t.Run("genesis into empty repo", func(t *testing.T) {
		require.NoError(t, f.st.Update(f.ctx, func(tx store.Tx) error {
			return tx.InsertRepo(f.ctx, &models.Repo{ID: "bare", Name: "bare", CreatedAt: f.repo.CreatedAt})
		}))
		cl, err := f.svc.CreateChangelist(f.ctx, admin, CreateChangelistRequest{RepoID: "bare", Message: "genesis"})
		require.NoError(t, err)
		assert.Equal(t, int64(0), cl.Number)
		assert.True(t, cl.IsGenesis())
	})
}

func TestAncestors(t *testing.T) {
	f := newFixture(t)
	for range 4 {
		f.submit(alice, "main", "change", edit("a.txt"))
	}

	require.NoError(t, f.st.View(f.ctx, func(tx store.Tx) error {
		all, err := collect(Ancestors(f.ctx, tx, f.repo.ID, 4))
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3, 2, 1, 0}, numbersOf(all))

		first, err := collect(Take(Ancestors(f.ctx, tx, f.repo.ID, 4), 2))
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3}, numbersOf(first))

		none, err := collect(Take(Ancestors(f.ctx, tx, f.repo.ID, 4), 0))
		require.NoError(t, err)
		assert.Empty(t, none)

		upTo, err := collect(Until(Ancestors(f.ctx, tx, f.repo.ID, 4), func(cl *models.Changelist) bool {
			return cl.Number <= 2
		}))
		require.NoError(t, err)
		assert.Equal(t, []int64{4, 3}, numbersOf(upTo))

		// Restartable: a second walk sees the same chain.
		again, err := collect(Take(Ancestors(f.ctx, tx, f.repo.ID, 4), 2))
		require.NoError(t, err)
		assert.Equal(t, first, again)

		_, err = collect(Ancestors(f.ctx, tx, f.repo.ID, 99))
		assertKind(t, err, errs.KindNotFound)
		return nil
	}))
}

func TestWalkAncestors(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "one", edit("a.txt"))
	f.submit(alice, "main", "two", edit("b.txt"))

	cls, err := f.svc.WalkAncestors(f.ctx, f.repo.ID, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, numbersOf(cls))

	cls, err = f.svc.WalkAncestors(f.ctx, f.repo.ID, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, numbersOf(cls))

	_, err = f.svc.WalkAncestors(f.ctx, f.repo.ID, 2, 0)
	assertKind(t, err, errs.KindBadRequest)
}

func TestChangedPathsBetween(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "one", edit("a.txt"), edit("b.txt"))
	f.submit(alice, "main", "two", edit("c.txt"), models.Modification{Path: "d.txt", OldPath: "b.txt"})
	f.submit(alice, "main", "three", remove("b.txt"), edit("a.txt"))

	paths, err := f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt"}, paths)

	paths, err = f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, paths)

	paths, err = f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 3, 3)
	require.NoError(t, err)
	assert.Empty(t, paths)

	paths, err = f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 3, 1)
	require.NoError(t, err)
	assert.Empty(t, paths)

	_, err = f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 0, 50)
	assertKind(t, err, errs.KindNotFound)
}

func TestChangedPathsBetween_FollowsBranchChain(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "base", edit("base.txt"))
	f.feature(alice, "f1", "main")
	f.submit(alice, "f1", "feature work", edit("feature.txt"))
	f.submit(alice, "main", "main work", edit("main.txt"))

	paths, err := f.svc.ChangedPathsBetween(f.ctx, f.repo.ID, 1, f.branch("f1").HeadNumber)
	require.NoError(t, err)
	assert.Equal(t, []string{"feature.txt"}, paths)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	var cls []*models.Changelist
	for range 5 {
		cls = append(cls, f.submit(alice, "main", "change", edit("a.txt")))
	}

	page, err := f.svc.History(f.ctx, f.repo.ID, HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4, 3, 2, 1, 0}, numbersOf(page))

	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Branch: "main", Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{5, 4}, numbersOf(page))

	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{StartNumber: models.Int64Ptr(3), Count: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 2}, numbersOf(page))

	since := cls[1].CreatedAt
	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{StartTime: &since, Count: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 0}, numbersOf(page))

	// StartNumber wins over StartTime.
	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{StartNumber: models.Int64Ptr(4), StartTime: &since, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, numbersOf(page))

	for _, count := range []int{-1, 101} {
		_, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Count: count})
		assertKind(t, err, errs.KindBadRequest)
	}
	_, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Branch: "nope"})
	assertKind(t, err, errs.KindNotFound)
	_, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{StartNumber: models.Int64Ptr(77)})
	assertKind(t, err, errs.KindNotFound)
}

func TestHistory_StartTimeStaysOnBranch(t *testing.T) {
	f := newFixture(t)
	m1 := f.submit(alice, "main", "main one", edit("a.txt"))
	f.feature(alice, "f1", "main")
	f1 := f.submit(alice, "f1", "feature one", edit("b.txt"))
	m2 := f.submit(alice, "main", "main two", edit("a.txt"))

	// f1 is newer than m1 but not on main's chain.
	since := f1.CreatedAt
	page, err := f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Branch: "main", StartTime: &since})
	require.NoError(t, err)
	assert.Equal(t, []int64{m1.Number, 0}, numbersOf(page))

	since = m2.CreatedAt
	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Branch: "f1", StartTime: &since, Count: 1})
	require.NoError(t, err)
	assert.Equal(t, []int64{f1.Number}, numbersOf(page))

	before := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	page, err = f.svc.History(f.ctx, f.repo.ID, HistoryQuery{Branch: "main", StartTime: &before})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestGetChangelists(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "one", edit("a.txt"))
	f.submit(alice, "main", "two", edit("b.txt"))

	cls, err := f.svc.GetChangelists(f.ctx, f.repo.ID, []int64{2, 9, 0})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2}, numbersOf(cls))

	_, err = f.svc.GetChangelist(f.ctx, f.repo.ID, 9)
	assertKind(t, err, errs.KindNotFound)

	_, err = f.svc.GetChangelists(f.ctx, f.repo.ID, make([]int64, 101))
	assertKind(t, err, errs.KindBadRequest)
}

func TestChangelistFiles(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "one", edit("b.txt"), edit("a.txt"))

	files, err := f.svc.ChangelistFiles(f.ctx, f.repo.ID, 1)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "a.txt", files[0].Path)
	assert.Equal(t, models.ChangeAdd, files[0].Type)
	assert.Equal(t, "b.txt", files[1].Path)

	files, err = f.svc.ChangelistFiles(f.ctx, f.repo.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, files)

	_, err = f.svc.ChangelistFiles(f.ctx, f.repo.ID, 5)
	assertKind(t, err, errs.KindNotFound)
}
