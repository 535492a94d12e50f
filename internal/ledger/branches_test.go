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

func TestCreateBranch_Validation(t *testing.T) {
	f := newFixture(t)
	f.submit(alice, "main", "one", edit("a.txt"))

	rel, err := f.svc.CreateBranch(f.ctx, admin, f.repo.ID, CreateBranchRequest{
		Name: "release/1.0", Type: models.BranchRelease, HeadNumber: 1, ParentBranchName: "main",
	})
	require.NoError(t, err)
	assert.Equal(t, "main", rel.ParentBranchName)
	assert.False(t, rel.IsDefault)

	cases := []struct {
		name string
		req  CreateBranchRequest
		kind errs.Kind
	}{
		{"empty name", CreateBranchRequest{Type: models.BranchFeature, ParentBranchName: "main"}, errs.KindBadRequest},
		{"bad name", CreateBranchRequest{Name: "a b", Type: models.BranchFeature, ParentBranchName: "main"}, errs.KindBadRequest},
		{"dotdot name", CreateBranchRequest{Name: "a..b", Type: models.BranchFeature, ParentBranchName: "main"}, errs.KindBadRequest},
		{"bad type", CreateBranchRequest{Name: "x", Type: "TOPIC", ParentBranchName: "main"}, errs.KindBadRequest},
		{"missing head", CreateBranchRequest{Name: "x", Type: models.BranchFeature, HeadNumber: 9, ParentBranchName: "main"}, errs.KindNotFound},
		{"taken", CreateBranchRequest{Name: "main", Type: models.BranchFeature, ParentBranchName: "main"}, errs.KindConflict},
		{"feature without parent", CreateBranchRequest{Name: "x", Type: models.BranchFeature}, errs.KindBadRequest},
		{"release without parent", CreateBranchRequest{Name: "x", Type: models.BranchRelease}, errs.KindBadRequest},
		{"missing parent", CreateBranchRequest{Name: "x", Type: models.BranchFeature, ParentBranchName: "ghost"}, errs.KindBadRequest},
		{"release under release", CreateBranchRequest{Name: "x", Type: models.BranchRelease, ParentBranchName: "release/1.0"}, errs.KindBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.CreateBranch(f.ctx, alice, f.repo.ID, tc.req)
			assertKind(t, err, tc.kind)
		})
	}

	t.Run("feature under feature", func(t *testing.T) {
		f.feature(alice, "f1", "main")
		_, err := f.svc.CreateBranch(f.ctx, alice, f.repo.ID, CreateBranchRequest{
			Name: "f2", Type: models.BranchFeature, HeadNumber: 1, ParentBranchName: "f1",
		})
		assertKind(t, err, errs.KindBadRequest)
	})

	t.Run("feature under release", func(t *testing.T) {
		b, err := f.svc.CreateBranch(f.ctx, alice, f.repo.ID, CreateBranchRequest{
			Name: "hotfix", Type: "feature", HeadNumber: 1, ParentBranchName: "release/1.0",
		})
		require.NoError(t, err)
		assert.Equal(t, models.BranchFeature, b.Type)
	})

	t.Run("archived parent", func(t *testing.T) {
		_, err := f.svc.ArchiveBranch(f.ctx, admin, f.repo.ID, "release/1.0")
		require.NoError(t, err)
		_, err = f.svc.CreateBranch(f.ctx, alice, f.repo.ID, CreateBranchRequest{
			Name: "late", Type: models.BranchFeature, HeadNumber: 1, ParentBranchName: "release/1.0",
		})
		assertKind(t, err, errs.KindBadRequest)
	})

	t.Run("mainline parent is dropped", func(t *testing.T) {
		b, err := f.svc.CreateBranch(f.ctx, admin, f.repo.ID, CreateBranchRequest{
			Name: "trunk2", Type: models.BranchMainline, HeadNumber: 0, ParentBranchName: "main",
		})
		require.NoError(t, err)
		assert.Empty(t, b.ParentBranchName)
		assert.False(t, b.IsDefault)
	})
}

func TestArchiveBranch_Permissions(t *testing.T) {
	f := newFixture(t)
	f.feature(alice, "f1", "main")
	_, err := f.svc.CreateBranch(f.ctx, alice, f.repo.ID, CreateBranchRequest{
		Name: "rel", Type: models.BranchRelease, ParentBranchName: "main",
	})
	require.NoError(t, err)

	_, err = f.svc.ArchiveBranch(f.ctx, admin, f.repo.ID, "main")
	assertKind(t, err, errs.KindBadRequest)

	_, err = f.svc.ArchiveBranch(f.ctx, bob, f.repo.ID, "f1")
	assertKind(t, err, errs.KindForbidden)

	// Creators may only manage their own feature branches.
	_, err = f.svc.ArchiveBranch(f.ctx, alice, f.repo.ID, "rel")
	assertKind(t, err, errs.KindForbidden)

	_, err = f.svc.ArchiveBranch(f.ctx, alice, f.repo.ID, "missing")
	assertKind(t, err, errs.KindNotFound)

	b, err := f.svc.ArchiveBranch(f.ctx, alice, f.repo.ID, "f1")
	require.NoError(t, err)
	assert.True(t, b.IsArchived())
	assert.True(t, f.branch("f1").IsArchived())

	b, err = f.svc.ArchiveBranch(f.ctx, alice, f.repo.ID, "f1")
	require.NoError(t, err)
	assert.True(t, b.IsArchived())

	_, err = f.svc.Submit(f.ctx, alice, SubmitRequest{
		RepoID: f.repo.ID, WorkspaceID: f.workspace(alice).ID, Branch: "f1",
		Message: "blocked", Modifications: []models.Modification{edit("a.txt")},
	})
	assertKind(t, err, errs.KindBadRequest)

	b, err = f.svc.UnarchiveBranch(f.ctx, admin, f.repo.ID, "f1")
	require.NoError(t, err)
	assert.False(t, b.IsArchived())

	_, err = f.svc.ArchiveBranch(f.ctx, admin, f.repo.ID, "rel")
	require.NoError(t, err)
}

func TestDeleteBranch(t *testing.T) {
	f := newFixture(t)
	f.feature(alice, "f1", "main")
	cl := f.submit(alice, "f1", "work", edit("a.txt"))
	_, err := f.svc.CreateBranch(f.ctx, admin, f.repo.ID, CreateBranchRequest{
		Name: "rel", Type: models.BranchRelease, ParentBranchName: "main",
	})
	require.NoError(t, err)

	for _, tc := range []struct {
		actor Actor
		name  string
		kind  errs.Kind
	}{
		{admin, "main", errs.KindBadRequest},
		{admin, "rel", errs.KindBadRequest},
		{bob, "f1", errs.KindForbidden},
		{alice, "ghost", errs.KindNotFound},
	} {
		b, err := f.svc.DeleteBranch(f.ctx, tc.actor, f.repo.ID, tc.name)
		assertKind(t, err, tc.kind)
		assert.Nil(t, b)
	}

	deleted, err := f.svc.DeleteBranch(f.ctx, alice, f.repo.ID, "f1")
	require.NoError(t, err)
	assert.Equal(t, "f1", deleted.Name)
	assert.Equal(t, models.BranchFeature, deleted.Type)
	assert.Equal(t, "main", deleted.ParentBranchName)
	assert.Equal(t, cl.Number, deleted.HeadNumber)

	_, err = f.svc.GetBranch(f.ctx, f.repo.ID, "f1")
	assertKind(t, err, errs.KindNotFound)

	kept, err := f.svc.GetChangelist(f.ctx, f.repo.ID, cl.Number)
	require.NoError(t, err)
	assert.Equal(t, "work", kept.Message)
}

func TestDeleteBranch_WithChildIsRejected(t *testing.T) {
	f := newFixture(t)
	f.feature(alice, "f1", "main")

	// The hierarchy rules never produce a feature under a feature, so the child is
	// written straight to the store.
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.st.Update(f.ctx, func(tx store.Tx) error {
		return tx.InsertBranch(f.ctx, &models.Branch{
			ID: "child", RepoID: f.repo.ID, Name: "f1/child", Type: models.BranchFeature,
			ParentBranchName: "f1", CreatedByID: "alice", CreatedAt: now, UpdatedAt: now,
		})
	}))

	_, err := f.svc.DeleteBranch(f.ctx, admin, f.repo.ID, "f1")
	assertKind(t, err, errs.KindBadRequest)
	assert.Contains(t, err.Error(), "child")

	_, err = f.svc.DeleteBranch(f.ctx, admin, f.repo.ID, "f1/child")
	require.NoError(t, err)
	_, err = f.svc.DeleteBranch(f.ctx, admin, f.repo.ID, "f1")
	require.NoError(t, err)
}

func TestListBranches(t *testing.T) {
	f := newFixture(t)
	f.feature(alice, "feature/login", "main")
	f.feature(alice, "feature/ui/menu", "main")
	f.feature(bob, "bugfix", "main")
	_, err := f.svc.CreateBranch(f.ctx, admin, f.repo.ID, CreateBranchRequest{
		Name: "release/1.0", Type: models.BranchRelease, ParentBranchName: "main",
	})
	require.NoError(t, err)
	_, err = f.svc.ArchiveBranch(f.ctx, bob, f.repo.ID, "bugfix")
	require.NoError(t, err)

	names := func(bs []*models.Branch) []string {
		out := make([]string, len(bs))
		for i, b := range bs {
			out[i] = b.Name
		}
		return out
	}

	all, err := f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/login", "feature/ui/menu", "main", "release/1.0"}, names(all))

	withArchived, err := f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"bugfix", "feature/login", "feature/ui/menu", "main", "release/1.0"}, names(withArchived))

	oneLevel, err := f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{Pattern: "feature/*"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/login"}, names(oneLevel))

	deep, err := f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{Pattern: "feature/**"})
	require.NoError(t, err)
	assert.Equal(t, []string{"feature/login", "feature/ui/menu"}, names(deep))

	releases, err := f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{Type: models.BranchRelease})
	require.NoError(t, err)
	assert.Equal(t, []string{"release/1.0"}, names(releases))

	_, err = f.svc.ListBranches(f.ctx, f.repo.ID, BranchFilter{Pattern: "[unclosed"})
	assertKind(t, err, errs.KindBadRequest)
}
