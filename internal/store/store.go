// Package store provides the relational persistence for the changelist ledger.
// All reads and writes happen inside a transaction obtained from Store.View or Store.Update.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

// Sentinel errors for expected conditions.
var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a uniqueness violation or a failed compare-and-swap.
	ErrConflict = errors.New("conflict")
	// ErrBusy reports that the database stayed locked past the busy timeout.
	ErrBusy = errors.New("database busy")
)

// Store opens transactions over the ledger tables.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a write transaction that is committed if fn returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the set of ledger queries available inside a transaction.
type Tx interface {
	// Repos
	InsertRepo(ctx context.Context, r *models.Repo) error
	GetRepo(ctx context.Context, id string) (*models.Repo, error)
	GetRepoByName(ctx context.Context, name string) (*models.Repo, error)
	ListRepos(ctx context.Context) ([]*models.Repo, error)
	SoftDeleteRepo(ctx context.Context, id string, at time.Time) error

	// Changelists
	MaxChangelistNumber(ctx context.Context, repoID string) (int64, bool, error)
	InsertChangelist(ctx context.Context, cl *models.Changelist) error
	GetChangelist(ctx context.Context, repoID string, number int64) (*models.Changelist, error)
	GetChangelists(ctx context.Context, repoID string, numbers []int64) ([]*models.Changelist, error)
	CountChangelists(ctx context.Context, repoID string) (int, error)
	LatestAncestorAt(ctx context.Context, repoID string, from int64, at time.Time) (int64, error)

	// File changes
	InsertFileChanges(ctx context.Context, repoID string, changes []*models.FileChange) error
	ListFileChanges(ctx context.Context, repoID string, numbers []int64) ([]*models.FileChange, error)

	// Files
	InsertFile(ctx context.Context, f *models.File) error
	GetFileByPath(ctx context.Context, repoID, path string) (*models.File, error)
	GetFilesByPaths(ctx context.Context, repoID string, paths []string) ([]*models.File, error)
	CountFiles(ctx context.Context, repoID string, ids []string) (int, error)

	// Branches
	InsertBranch(ctx context.Context, b *models.Branch) error
	GetBranch(ctx context.Context, repoID, name string) (*models.Branch, error)
	ListBranches(ctx context.Context, repoID string) ([]*models.Branch, error)
	CountChildBranches(ctx context.Context, repoID, parentName string) (int, error)
	UpdateBranchHeadCAS(ctx context.Context, repoID, name string, newHead, expectedHead int64, at time.Time) error
	SetBranchArchived(ctx context.Context, repoID, name string, archivedAt *time.Time, updatedAt time.Time) error
	DeleteBranch(ctx context.Context, repoID, name string) error

	// Workspaces
	InsertWorkspace(ctx context.Context, ws *models.Workspace) error
	GetWorkspace(ctx context.Context, repoID, id string) (*models.Workspace, error)

	// Checkouts
	InsertCheckout(ctx context.Context, c *models.FileCheckout) error
	GetActiveCheckout(ctx context.Context, fileID, workspaceID string) (*models.FileCheckout, error)
	ListActiveCheckouts(ctx context.Context, repoID string, fileIDs []string) ([]*models.FileCheckout, error)
	CloseCheckouts(ctx context.Context, ids []string, at time.Time) error
}
