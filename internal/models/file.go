package models

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidPath is returned by NormalizePath for paths that cannot name a file.
var ErrInvalidPath = errors.New("invalid path")

// File is the identity of a path inside a repo. Its ID never changes once created.
type File struct {
	ID        string    `json:"id"`
	RepoID    string    `json:"repo_id"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizePath converts separators to forward slashes and strips a leading "./" or "/".
// Empty paths and paths with empty, "." or ".." segments are rejected.
func NormalizePath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	for strings.HasPrefix(p, "./") || strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "./"), "/")
	}
	if p == "" {
		return "", ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", ErrInvalidPath
		}
	}
	return p, nil
}
