package ledger

import (
	"testing"

	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ws := f.workspace(alice)

	co, err := f.svc.Checkout(f.ctx, alice, f.repo.ID, ws.ID, "./art/hero.psd", true)
	require.NoError(t, err)
	assert.Equal(t, "art/hero.psd", co.Path)
	assert.Equal(t, "alice", co.UserID)
	assert.True(t, co.Locked)
	assert.True(t, co.IsActive())

	_, err = f.svc.Checkout(f.ctx, alice, f.repo.ID, ws.ID, "art/hero.psd", false)
	assertKind(t, err, errs.KindConflict)

	undone, err := f.svc.UndoCheckout(f.ctx, alice, f.repo.ID, ws.ID, "art/hero.psd")
	require.NoError(t, err)
	assert.False(t, undone.IsActive())

	_, err = f.svc.UndoCheckout(f.ctx, alice, f.repo.ID, ws.ID, "art/hero.psd")
	assertKind(t, err, errs.KindNotFound)
	_, err = f.svc.UndoCheckout(f.ctx, alice, f.repo.ID, ws.ID, "never/seen.txt")
	assertKind(t, err, errs.KindNotFound)

	again, err := f.svc.Checkout(f.ctx, alice, f.repo.ID, ws.ID, "art/hero.psd", true)
	require.NoError(t, err)
	assert.NotEqual(t, co.ID, again.ID)
	assert.Equal(t, co.FileID, again.FileID)
}

func TestCheckout_ExclusiveLock(t *testing.T) {
	f := newFixture(t)
	w1 := f.workspace(alice)
	w2 := f.workspace(bob)

	_, err := f.svc.Checkout(f.ctx, alice, f.repo.ID, w1.ID, "a.txt", true)
	require.NoError(t, err)

	_, err = f.svc.Checkout(f.ctx, bob, f.repo.ID, w2.ID, "a.txt", true)
	assertKind(t, err, errs.KindConflict)
	assert.Contains(t, err.Error(), "locked by alice")

	// Unlocked checkouts can coexist with a lock.
	_, err = f.svc.Checkout(f.ctx, bob, f.repo.ID, w2.ID, "a.txt", false)
	require.NoError(t, err)

	active, err := f.svc.ActiveCheckoutsFor(f.ctx, f.repo.ID, []string{"a.txt", "unknown.txt"})
	require.NoError(t, err)
	require.Len(t, active, 2)
	owners := []string{active[0].UserID, active[1].UserID}
	assert.ElementsMatch(t, []string{"alice", "bob"}, owners)

	conflicts, err := f.svc.HasConflictingLock(f.ctx, f.repo.ID, []string{"a.txt"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, []models.LockConflict{{Path: "a.txt", UserID: "alice", WorkspaceID: w1.ID}}, conflicts)

	conflicts, err = f.svc.HasConflictingLock(f.ctx, f.repo.ID, []string{"a.txt"}, "alice")
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	_, err = f.svc.UndoCheckout(f.ctx, alice, f.repo.ID, w1.ID, "a.txt")
	require.NoError(t, err)
	_, err = f.svc.UndoCheckout(f.ctx, bob, f.repo.ID, w2.ID, "a.txt")
	require.NoError(t, err)
	_, err = f.svc.Checkout(f.ctx, bob, f.repo.ID, w2.ID, "a.txt", true)
	require.NoError(t, err)
}

func TestCheckout_WorkspaceOwnership(t *testing.T) {
	f := newFixture(t)
	ws := f.workspace(alice)

	_, err := f.svc.Checkout(f.ctx, bob, f.repo.ID, ws.ID, "a.txt", false)
	assertKind(t, err, errs.KindForbidden)
	_, err = f.svc.Checkout(f.ctx, alice, f.repo.ID, "missing", "a.txt", false)
	assertKind(t, err, errs.KindNotFound)
	_, err = f.svc.Checkout(f.ctx, alice, f.repo.ID, ws.ID, "../escape", false)
	assertKind(t, err, errs.KindBadRequest)
	_, err = f.svc.UndoCheckout(f.ctx, bob, f.repo.ID, ws.ID, "a.txt")
	assertKind(t, err, errs.KindForbidden)
}

func TestWorkspaces(t *testing.T) {
	f := newFixture(t)

	ws, err := f.svc.CreateWorkspace(f.ctx, alice, f.repo.ID, "laptop")
	require.NoError(t, err)
	assert.Equal(t, "alice", ws.UserID)

	got, err := f.svc.GetWorkspace(f.ctx, f.repo.ID, ws.ID)
	require.NoError(t, err)
	assert.Equal(t, "laptop", got.Name)

	_, err = f.svc.CreateWorkspace(f.ctx, alice, f.repo.ID, "laptop")
	assertKind(t, err, errs.KindConflict)

	// Names are per user.
	_, err = f.svc.CreateWorkspace(f.ctx, bob, f.repo.ID, "laptop")
	require.NoError(t, err)

	_, err = f.svc.CreateWorkspace(f.ctx, alice, f.repo.ID, " ")
	assertKind(t, err, errs.KindBadRequest)
	_, err = f.svc.GetWorkspace(f.ctx, f.repo.ID, "nope")
	assertKind(t, err, errs.KindNotFound)
}
