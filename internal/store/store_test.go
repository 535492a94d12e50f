package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore opens a migrated SQLite store in a temp directory.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// seedRepo inserts a repo with its genesis changelist and a default main branch.
func seedRepo(t *testing.T, st *SQLiteStore) *models.Repo {
	t.Helper()
	repo := &models.Repo{ID: uuid.NewString(), Name: "game", CreatedAt: epoch}
	err := st.Update(context.Background(), func(tx Tx) error {
		ctx := context.Background()
		if err := tx.InsertRepo(ctx, repo); err != nil {
			return err
		}
		if err := tx.InsertChangelist(ctx, &models.Changelist{
			ID: uuid.NewString(), RepoID: repo.ID, Number: 0, Message: "genesis",
			StateTree: models.StateTree{}, UserID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		}); err != nil {
			return err
		}
		return tx.InsertBranch(ctx, &models.Branch{
			ID: uuid.NewString(), RepoID: repo.ID, Name: "main", Type: models.BranchMainline,
			IsDefault: true, CreatedByID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		})
	})
	require.NoError(t, err)
	return repo
}

func TestRepos_InsertGetDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		got, err := tx.GetRepoByName(ctx, "game")
		require.NoError(t, err)
		assert.Equal(t, repo.ID, got.ID)
		assert.Equal(t, epoch, got.CreatedAt)
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.SoftDeleteRepo(ctx, repo.ID, epoch.Add(time.Hour))
	}))

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		_, err := tx.GetRepoByName(ctx, "game")
		assert.ErrorIs(t, err, ErrNotFound)

		got, err := tx.GetRepo(ctx, repo.ID)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())

		repos, err := tx.ListRepos(ctx)
		require.NoError(t, err)
		assert.Empty(t, repos)
		return nil
	}))
}

func TestChangelists_DuplicateNumberConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	err := st.Update(ctx, func(tx Tx) error {
		return tx.InsertChangelist(ctx, &models.Changelist{
			ID: uuid.NewString(), RepoID: repo.ID, Number: 0, Message: "again",
			UserID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestChangelists_StateTreeRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	file := &models.File{ID: uuid.NewString(), RepoID: repo.ID, Path: "src/a.txt", CreatedAt: epoch}
	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		if err := tx.InsertFile(ctx, file); err != nil {
			return err
		}
		if err := tx.InsertChangelist(ctx, &models.Changelist{
			ID: uuid.NewString(), RepoID: repo.ID, Number: 1, Message: "add a",
			ParentNumber: models.Int64Ptr(0), StateTree: models.StateTree{file.ID: 1},
			UserID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		}); err != nil {
			return err
		}
		return tx.InsertFileChanges(ctx, repo.ID, []*models.FileChange{
			{ChangelistNumber: 1, FileID: file.ID, Type: models.ChangeAdd},
		})
	}))

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		cl, err := tx.GetChangelist(ctx, repo.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, models.StateTree{file.ID: 1}, cl.StateTree)
		require.NotNil(t, cl.ParentNumber)
		assert.Equal(t, int64(0), *cl.ParentNumber)

		maxNum, ok, err := tx.MaxChangelistNumber(ctx, repo.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(1), maxNum)

		changes, err := tx.ListFileChanges(ctx, repo.ID, []int64{0, 1})
		require.NoError(t, err)
		require.Len(t, changes, 1)
		assert.Equal(t, "src/a.txt", changes[0].Path)
		assert.Equal(t, models.ChangeAdd, changes[0].Type)

		cls, err := tx.GetChangelists(ctx, repo.ID, []int64{1, 0, 42})
		require.NoError(t, err)
		require.Len(t, cls, 2)
		assert.Equal(t, int64(0), cls[0].Number)
		assert.Equal(t, int64(1), cls[1].Number)
		return nil
	}))
}

func TestChangelists_MaxOnEmptyRepo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := &models.Repo{ID: uuid.NewString(), Name: "empty", CreatedAt: epoch}

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertRepo(ctx, repo))
		_, ok, err := tx.MaxChangelistNumber(ctx, repo.ID)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestChangelists_LatestAncestorAt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	// 0 <- 1 <- 2 on one chain; 3 branches off 0 and is newer than 1.
	insert := func(number, parent int64, at time.Time) {
		require.NoError(t, st.Update(ctx, func(tx Tx) error {
			return tx.InsertChangelist(ctx, &models.Changelist{
				ID: uuid.NewString(), RepoID: repo.ID, Number: number, Message: "cl",
				ParentNumber: models.Int64Ptr(parent), StateTree: models.StateTree{},
				UserID: "u1", CreatedAt: at, UpdatedAt: at,
			})
		}))
	}
	insert(1, 0, epoch.Add(time.Hour))
	insert(2, 1, epoch.Add(3*time.Hour))
	insert(3, 0, epoch.Add(2*time.Hour))

	tests := []struct {
		name string
		from int64
		at   time.Time
		want int64
	}{
		{name: "skips off-chain newer changelist", from: 2, at: epoch.Add(150 * time.Minute), want: 1},
		{name: "exact timestamp is included", from: 2, at: epoch.Add(time.Hour), want: 1},
		{name: "after head", from: 2, at: epoch.Add(10 * time.Hour), want: 2},
		{name: "only genesis", from: 2, at: epoch.Add(time.Minute), want: 0},
		{name: "other chain", from: 3, at: epoch.Add(150 * time.Minute), want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, st.View(ctx, func(tx Tx) error {
				got, err := tx.LatestAncestorAt(ctx, repo.ID, tt.from, tt.at)
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return nil
			}))
		})
	}

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		_, err := tx.LatestAncestorAt(ctx, repo.ID, 2, epoch.Add(-time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestBranches_HeadCAS(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.InsertChangelist(ctx, &models.Changelist{
			ID: uuid.NewString(), RepoID: repo.ID, Number: 1, ParentNumber: models.Int64Ptr(0),
			UserID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		})
	}))

	err := st.Update(ctx, func(tx Tx) error {
		return tx.UpdateBranchHeadCAS(ctx, repo.ID, "main", 1, 7, epoch)
	})
	assert.ErrorIs(t, err, ErrConflict)

	err = st.Update(ctx, func(tx Tx) error {
		return tx.UpdateBranchHeadCAS(ctx, repo.ID, "nope", 1, 0, epoch)
	})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.UpdateBranchHeadCAS(ctx, repo.ID, "main", 1, 0, epoch)
	}))

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		b, err := tx.GetBranch(ctx, repo.ID, "main")
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.HeadNumber)
		return nil
	}))
}

func TestBranches_DuplicateNameAndChildren(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	err := st.Update(ctx, func(tx Tx) error {
		return tx.InsertBranch(ctx, &models.Branch{
			ID: uuid.NewString(), RepoID: repo.ID, Name: "main", Type: models.BranchMainline,
			CreatedByID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.InsertBranch(ctx, &models.Branch{
			ID: uuid.NewString(), RepoID: repo.ID, Name: "f1", Type: models.BranchFeature,
			ParentBranchName: "main", CreatedByID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		})
	}))

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		n, err := tx.CountChildBranches(ctx, repo.ID, "main")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		branches, err := tx.ListBranches(ctx, repo.ID)
		require.NoError(t, err)
		require.Len(t, branches, 2)
		assert.Equal(t, "f1", branches[0].Name)
		assert.Equal(t, "main", branches[0].ParentBranchName)
		assert.Empty(t, branches[1].ParentBranchName)
		return nil
	}))

	archivedAt := epoch.Add(time.Minute)
	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.SetBranchArchived(ctx, repo.ID, "f1", &archivedAt, archivedAt)
	}))
	require.NoError(t, st.View(ctx, func(tx Tx) error {
		b, err := tx.GetBranch(ctx, repo.ID, "f1")
		require.NoError(t, err)
		assert.True(t, b.IsArchived())
		return nil
	}))

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.DeleteBranch(ctx, repo.ID, "f1")
	}))
	err = st.Update(ctx, func(tx Tx) error {
		return tx.DeleteBranch(ctx, repo.ID, "f1")
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCheckouts_UniqueActiveLock(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)

	file := &models.File{ID: uuid.NewString(), RepoID: repo.ID, Path: "a.txt", CreatedAt: epoch}
	w1 := &models.Workspace{ID: uuid.NewString(), RepoID: repo.ID, UserID: "alice", Name: "w1", CreatedAt: epoch}
	w2 := &models.Workspace{ID: uuid.NewString(), RepoID: repo.ID, UserID: "bob", Name: "w2", CreatedAt: epoch}
	first := &models.FileCheckout{ID: uuid.NewString(), RepoID: repo.ID, FileID: file.ID, WorkspaceID: w1.ID, Locked: true, CreatedAt: epoch}

	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertFile(ctx, file))
		require.NoError(t, tx.InsertWorkspace(ctx, w1))
		require.NoError(t, tx.InsertWorkspace(ctx, w2))
		return tx.InsertCheckout(ctx, first)
	}))

	// A second lock on the same file from another workspace violates the partial index.
	err := st.Update(ctx, func(tx Tx) error {
		return tx.InsertCheckout(ctx, &models.FileCheckout{
			ID: uuid.NewString(), RepoID: repo.ID, FileID: file.ID, WorkspaceID: w2.ID, Locked: true, CreatedAt: epoch,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)

	// The same workspace may not hold two active checkouts of one file.
	err = st.Update(ctx, func(tx Tx) error {
		return tx.InsertCheckout(ctx, &models.FileCheckout{
			ID: uuid.NewString(), RepoID: repo.ID, FileID: file.ID, WorkspaceID: w1.ID, CreatedAt: epoch,
		})
	})
	assert.ErrorIs(t, err, ErrConflict)

	// An unlocked checkout from another workspace is fine.
	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.InsertCheckout(ctx, &models.FileCheckout{
			ID: uuid.NewString(), RepoID: repo.ID, FileID: file.ID, WorkspaceID: w2.ID, CreatedAt: epoch,
		})
	}))

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		active, err := tx.ListActiveCheckouts(ctx, repo.ID, []string{file.ID})
		require.NoError(t, err)
		require.Len(t, active, 2)
		users := make([]string, len(active))
		for i, c := range active {
			assert.Equal(t, "a.txt", c.Path)
			users[i] = c.UserID
		}
		assert.ElementsMatch(t, []string{"alice", "bob"}, users)
		return nil
	}))

	// Closing the lock frees it for someone else.
	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.CloseCheckouts(ctx, []string{first.ID}, epoch.Add(time.Minute))
	}))
	require.NoError(t, st.Update(ctx, func(tx Tx) error {
		return tx.InsertCheckout(ctx, &models.FileCheckout{
			ID: uuid.NewString(), RepoID: repo.ID, FileID: file.ID, WorkspaceID: w1.ID, Locked: true, CreatedAt: epoch,
		})
	}))
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	repo := seedRepo(t, st)
	boom := errors.New("boom")

	err := st.Update(ctx, func(tx Tx) error {
		require.NoError(t, tx.InsertChangelist(ctx, &models.Changelist{
			ID: uuid.NewString(), RepoID: repo.ID, Number: 1, ParentNumber: models.Int64Ptr(0),
			UserID: "u1", CreatedAt: epoch, UpdatedAt: epoch,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, st.View(ctx, func(tx Tx) error {
		_, err := tx.GetChangelist(ctx, repo.ID, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}
