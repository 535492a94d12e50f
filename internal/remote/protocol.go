// Package remote defines the wire types and clients for the depot HTTP API.
package remote

import (
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

// CreateBranchRequest creates a branch. A nil HeadNumber starts the branch at its parent's head.
type CreateBranchRequest struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	HeadNumber *int64 `json:"head_number,omitempty"`
	Parent     string `json:"parent,omitempty"`
}

// MergeRequest squashes the branch in the URL into Target. An empty Target means the parent branch.
type MergeRequest struct {
	Target string `json:"target,omitempty"`
}

// SubmitRequest is the body of POST /changelists.
type SubmitRequest struct {
	WorkspaceID    string                `json:"workspace_id"`
	Branch         string                `json:"branch,omitempty"`
	Message        string                `json:"message"`
	VersionIndex   string                `json:"version_index,omitempty"`
	Modifications  []models.Modification `json:"modifications"`
	KeepCheckedOut bool                  `json:"keep_checked_out,omitempty"`
}

// SubmitResponse identifies the changelist created by a submit.
type SubmitResponse struct {
	ID     string `json:"id"`
	Number int64  `json:"number"`
}

// HistoryOptions selects a page of history. Zero values use server defaults.
type HistoryOptions struct {
	Branch string
	Start  *int64
	Since  *time.Time
	Count  int
}

// ChangedPathsResponse lists the paths touched between two changelists.
type ChangedPathsResponse struct {
	Paths []string `json:"paths"`
}

// WorkspaceRequest creates a workspace for the calling user.
type WorkspaceRequest struct {
	Name string `json:"name"`
}

// CheckoutRequest opens a file for edit in a workspace.
type CheckoutRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Path        string `json:"path"`
	Locked      bool   `json:"locked,omitempty"`
}

// PathsRequest carries a set of paths for checkout queries.
type PathsRequest struct {
	Paths []string `json:"paths"`
}

// RepoInfo contains summary information about a repository.
type RepoInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Public          bool      `json:"public"`
	DefaultBranch   string    `json:"default_branch"`
	BranchCount     int       `json:"branch_count"`
	ChangelistCount int       `json:"changelist_count"`
	LatestNumber    int64     `json:"latest_number"`
	CreatedAt       time.Time `json:"created_at"`
}

// CreateRepoRequest is the body of POST /admin/repos.
type CreateRepoRequest struct {
	Name   string `json:"name"`
	Public bool   `json:"public,omitempty"`
}

// ReposResponse is the body of GET /admin/repos.
type ReposResponse struct {
	Repos []*models.Repo `json:"repos"`
}

// ErrorResponse is the structured error format returned by the server.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}
