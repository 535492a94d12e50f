package models

import "time"

// Workspace is a user's working area in a repo. Checkouts are held by workspaces.
type Workspace struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// FileCheckout is a workspace's claim on a file. Locked checkouts are exclusive.
// Checkouts are closed by setting RemovedAt and are never deleted.
type FileCheckout struct {
	ID          string     `json:"id"`
	RepoID      string     `json:"repo_id"`
	FileID      string     `json:"file_id"`
	Path        string     `json:"path"`
	WorkspaceID string     `json:"workspace_id"`
	UserID      string     `json:"user_id"`
	Locked      bool       `json:"locked"`
	CreatedAt   time.Time  `json:"created_at"`
	RemovedAt   *time.Time `json:"removed_at,omitempty"`
}

// IsActive returns true while the checkout has not been closed
func (c *FileCheckout) IsActive() bool {
	return c.RemovedAt == nil
}

// LockConflict names a path locked by someone else
type LockConflict struct {
	Path        string `json:"path"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

// Modification is one entry of a submit request
type Modification struct {
	Path    string `json:"path"`
	Delete  bool   `json:"delete,omitempty"`
	OldPath string `json:"old_path,omitempty"`
}

// MergeResult is returned by a squash merge
type MergeResult struct {
	Changelist    *Changelist `json:"changelist"`
	DeletedBranch string      `json:"deleted_branch"`
}
