package models

import "time"

// Repo is an isolated namespace of changelists and branches
type Repo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Public    bool       `json:"public"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IsDeleted returns true if the repo was soft-deleted
func (r *Repo) IsDeleted() bool {
	return r.DeletedAt != nil
}
