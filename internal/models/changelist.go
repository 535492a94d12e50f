package models

import (
	"slices"
	"time"
)

// StateTree maps a file ID to the number of the changelist that last touched it.
// It is the materialized snapshot of every live file as of one changelist.
type StateTree map[string]int64

// Clone returns an independent copy. A nil tree clones to an empty one.
func (t StateTree) Clone() StateTree {
	out := make(StateTree, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Set records that changelist number last touched fileID.
func (t StateTree) Set(fileID string, number int64) {
	t[fileID] = number
}

// Delete removes fileID from the tree.
func (t StateTree) Delete(fileID string) {
	delete(t, fileID)
}

// Has reports whether fileID is live in the tree.
func (t StateTree) Has(fileID string) bool {
	_, ok := t[fileID]
	return ok
}

// FileIDs returns the keys in sorted order.
func (t StateTree) FileIDs() []string {
	ids := make([]string, 0, len(t))
	for id := range t {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Merge overlays every entry of other onto t. Entries of other win on conflicting keys.
func (t StateTree) Merge(other StateTree) {
	for k, v := range other {
		t[k] = v
	}
}

// Changelist is an immutable, numbered snapshot in a repo's linear history
type Changelist struct {
	ID           string    `json:"id"`
	RepoID       string    `json:"repo_id"`
	Number       int64     `json:"number"`
	Message      string    `json:"message"`
	ParentNumber *int64    `json:"parent_number,omitempty"`
	StateTree    StateTree `json:"state_tree"`
	VersionIndex string    `json:"version_index,omitempty"`
	UserID       string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsGenesis returns true for the parentless first changelist of a repo
func (c *Changelist) IsGenesis() bool {
	return c.ParentNumber == nil
}

// ChangeType describes how a changelist affected a file
type ChangeType string

const (
	ChangeAdd    ChangeType = "ADD"
	ChangeModify ChangeType = "MODIFY"
	ChangeDelete ChangeType = "DELETE"
)

// FileChange is one audit row per (changelist, file)
type FileChange struct {
	ChangelistNumber int64      `json:"changelist_number"`
	FileID           string     `json:"file_id"`
	Path             string     `json:"path"`
	Type             ChangeType `json:"change_type"`
	OldPath          string     `json:"old_path,omitempty"`
}

// Int64Ptr returns a pointer to n.
func Int64Ptr(n int64) *int64 {
	return &n
}
