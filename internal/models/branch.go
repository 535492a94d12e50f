package models

import (
	"fmt"
	"strings"
	"time"
)

// BranchType classifies a branch within the repo hierarchy
type BranchType string

const (
	BranchMainline BranchType = "MAINLINE"
	BranchRelease  BranchType = "RELEASE"
	BranchFeature  BranchType = "FEATURE"
)

// ParseBranchType accepts the canonical upper-case names as well as lower-case input.
func ParseBranchType(s string) (BranchType, error) {
	switch t := BranchType(strings.ToUpper(s)); t {
	case BranchMainline, BranchRelease, BranchFeature:
		return t, nil
	default:
		return "", fmt.Errorf("unknown branch type %q", s)
	}
}

// AllowsParent reports whether a branch of type t may be created under a parent of type parent.
// Mainline branches never have a parent.
func (t BranchType) AllowsParent(parent BranchType) bool {
	switch t {
	case BranchFeature:
		return parent == BranchMainline || parent == BranchRelease
	case BranchRelease:
		return parent == BranchMainline
	default:
		return false
	}
}

// Branch is a named pointer to a changelist in a repo
type Branch struct {
	ID               string     `json:"id"`
	RepoID           string     `json:"repo_id"`
	Name             string     `json:"name"`
	Type             BranchType `json:"type"`
	HeadNumber       int64      `json:"head_number"`
	IsDefault        bool       `json:"is_default"`
	ParentBranchName string     `json:"parent_branch_name,omitempty"`
	ArchivedAt       *time.Time `json:"archived_at,omitempty"`
	CreatedByID      string     `json:"created_by_id"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// IsArchived returns true if the branch is read-only
func (b *Branch) IsArchived() bool {
	return b.ArchivedAt != nil
}
