package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

func (t *sqlTx) InsertWorkspace(ctx context.Context, ws *models.Workspace) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO workspaces (id, repo_id, user_id, name, created_at) VALUES (?, ?, ?, ?, ?)`,
		ws.ID, ws.RepoID, ws.UserID, ws.Name, toNanos(ws.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert workspace %s: %w", ws.Name, mapErr(err))
	}
	return nil
}

func (t *sqlTx) GetWorkspace(ctx context.Context, repoID, id string) (*models.Workspace, error) {
	var (
		ws        models.Workspace
		createdAt int64
	)
	err := t.tx.QueryRowContext(ctx,
		`SELECT id, repo_id, user_id, name, created_at FROM workspaces WHERE repo_id = ? AND id = ?`, repoID, id).
		Scan(&ws.ID, &ws.RepoID, &ws.UserID, &ws.Name, &createdAt)
	if err != nil {
		return nil, mapErr(err)
	}
	ws.CreatedAt = fromNanos(createdAt)
	return &ws, nil
}

// InsertCheckout returns ErrConflict when a partial unique index rejects the row:
// the workspace already holds the file, or another active lock exists.
func (t *sqlTx) InsertCheckout(ctx context.Context, c *models.FileCheckout) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO file_checkouts (id, repo_id, file_id, workspace_id, locked, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.RepoID, c.FileID, c.WorkspaceID, boolInt(c.Locked), toNanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert checkout: %w", mapErr(err))
	}
	return nil
}

const checkoutSelect = `
	SELECT c.id, c.repo_id, c.file_id, f.path, c.workspace_id, w.user_id, c.locked, c.created_at, c.removed_at
	FROM file_checkouts c
	JOIN files f ON f.id = c.file_id
	JOIN workspaces w ON w.id = c.workspace_id`

func scanCheckout(row interface{ Scan(...any) error }) (*models.FileCheckout, error) {
	var (
		c         models.FileCheckout
		locked    int
		createdAt int64
		removedAt sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.RepoID, &c.FileID, &c.Path, &c.WorkspaceID, &c.UserID, &locked, &createdAt, &removedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	c.Locked = locked != 0
	c.CreatedAt = fromNanos(createdAt)
	c.RemovedAt = timePtr(removedAt)
	return &c, nil
}

func (t *sqlTx) GetActiveCheckout(ctx context.Context, fileID, workspaceID string) (*models.FileCheckout, error) {
	row := t.tx.QueryRowContext(ctx,
		checkoutSelect+` WHERE c.file_id = ? AND c.workspace_id = ? AND c.removed_at IS NULL`, fileID, workspaceID)
	return scanCheckout(row)
}

// ListActiveCheckouts returns open checkouts on the given files ordered by path, then creation time, then ID.
func (t *sqlTx) ListActiveCheckouts(ctx context.Context, repoID string, fileIDs []string) ([]*models.FileCheckout, error) {
	var out []*models.FileCheckout
	for _, chunk := range chunks(fileIDs) {
		args := append([]any{repoID}, anySlice(chunk)...)
		rows, err := t.tx.QueryContext(ctx,
			checkoutSelect+` WHERE c.repo_id = ? AND c.removed_at IS NULL AND c.file_id IN (`+placeholders(len(chunk))+`)
			ORDER BY f.path, c.created_at, c.id`, args...)
		if err != nil {
			return nil, fmt.Errorf("list checkouts: %w", mapErr(err))
		}
		for rows.Next() {
			c, err := scanCheckout(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, c)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CloseCheckouts soft-deletes the given checkouts. Already closed ones are left untouched.
func (t *sqlTx) CloseCheckouts(ctx context.Context, ids []string, at time.Time) error {
	for _, chunk := range chunks(ids) {
		args := append([]any{toNanos(at)}, anySlice(chunk)...)
		_, err := t.tx.ExecContext(ctx,
			`UPDATE file_checkouts SET removed_at = ? WHERE removed_at IS NULL AND id IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return fmt.Errorf("close checkouts: %w", mapErr(err))
		}
	}
	return nil
}
