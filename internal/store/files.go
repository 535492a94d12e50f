package store

import (
	"context"
	"fmt"

	"github.com/kilupskalvis/depot/internal/models"
)

// InsertFile returns ErrConflict if the path already exists in the repo.
func (t *sqlTx) InsertFile(ctx context.Context, f *models.File) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO files (id, repo_id, path, created_at) VALUES (?, ?, ?, ?)`,
		f.ID, f.RepoID, f.Path, toNanos(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert file %s: %w", f.Path, mapErr(err))
	}
	return nil
}

func (t *sqlTx) GetFileByPath(ctx context.Context, repoID, path string) (*models.File, error) {
	var (
		f         models.File
		createdAt int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, repo_id, path, created_at FROM files WHERE repo_id = ? AND path = ?`, repoID, path).
		Scan(&f.ID, &f.RepoID, &f.Path, &createdAt)
	if err != nil {
		return nil, mapErr(err)
	}
	f.CreatedAt = fromNanos(createdAt)
	return &f, nil
}

// GetFilesByPaths returns the files that exist among paths. Unknown paths are skipped.
func (t *sqlTx) GetFilesByPaths(ctx context.Context, repoID string, paths []string) ([]*models.File, error) {
	var out []*models.File
	for _, chunk := range chunks(paths) {
		args := append([]any{repoID}, anySlice(chunk)...)
		rows, err := t.tx.QueryContext(ctx,
			`SELECT id, repo_id, path, created_at FROM files WHERE repo_id = ? AND path IN (`+placeholders(len(chunk))+`) ORDER BY path`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("get files: %w", mapErr(err))
		}
		for rows.Next() {
			var (
				f         models.File
				createdAt int64
			)
			if err := rows.Scan(&f.ID, &f.RepoID, &f.Path, &createdAt); err != nil {
				rows.Close()
				return nil, mapErr(err)
			}
			f.CreatedAt = fromNanos(createdAt)
			out = append(out, &f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountFiles returns how many of ids name files in the repo.
func (t *sqlTx) CountFiles(ctx context.Context, repoID string, ids []string) (int, error) {
	total := 0
	for _, chunk := range chunks(ids) {
		var n int
		args := append([]any{repoID}, anySlice(chunk)...)
		err := t.tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM files WHERE repo_id = ? AND id IN (`+placeholders(len(chunk))+`)`, args...).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count files: %w", mapErr(err))
		}
		total += n
	}
	return total, nil
}
