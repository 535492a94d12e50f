package store

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

const changelistColumns = `id, repo_id, number, message, parent_number, state_tree, version_index, user_id, created_at, updated_at`

func scanChangelist(row interface{ Scan(...any) error }) (*models.Changelist, error) {
	var (
		cl        models.Changelist
		parent    sql.NullInt64
		tree      string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&cl.ID, &cl.RepoID, &cl.Number, &cl.Message, &parent, &tree,
		&cl.VersionIndex, &cl.UserID, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if parent.Valid {
		cl.ParentNumber = models.Int64Ptr(parent.Int64)
	}
	cl.StateTree = models.StateTree{}
	if err := json.Unmarshal([]byte(tree), &cl.StateTree); err != nil {
		return nil, fmt.Errorf("decode state tree of changelist %d: %w", cl.Number, err)
	}
	cl.CreatedAt = fromNanos(createdAt)
	cl.UpdatedAt = fromNanos(updatedAt)
	return &cl, nil
}

// MaxChangelistNumber returns the highest number in the repo; ok is false if there are none.
func (t *sqlTx) MaxChangelistNumber(ctx context.Context, repoID string) (int64, bool, error) {
	var maxNum sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(number) FROM changelists WHERE repo_id = ?`, repoID).Scan(&maxNum)
	if err != nil {
		return 0, false, fmt.Errorf("max changelist number: %w", mapErr(err))
	}
	return maxNum.Int64, maxNum.Valid, nil
}

// InsertChangelist returns ErrConflict if the number is already taken in the repo.
func (t *sqlTx) InsertChangelist(ctx context.Context, cl *models.Changelist) error {
	tree := cl.StateTree
	if tree == nil {
		tree = models.StateTree{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode state tree: %w", err)
	}

	var parent sql.NullInt64
	if cl.ParentNumber != nil {
		parent = sql.NullInt64{Int64: *cl.ParentNumber, Valid: true}
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO changelists (`+changelistColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cl.ID, cl.RepoID, cl.Number, cl.Message, parent, string(data), cl.VersionIndex, cl.UserID,
		toNanos(cl.CreatedAt), toNanos(cl.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert changelist %d: %w", cl.Number, mapErr(err))
	}
	return nil
}

func (t *sqlTx) GetChangelist(ctx context.Context, repoID string, number int64) (*models.Changelist, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+changelistColumns+` FROM changelists WHERE repo_id = ? AND number = ?`, repoID, number)
	return scanChangelist(row)
}

// GetChangelists returns the changelists that exist among numbers, in ascending order.
func (t *sqlTx) GetChangelists(ctx context.Context, repoID string, numbers []int64) ([]*models.Changelist, error) {
	var out []*models.Changelist
	for _, chunk := range chunks(numbers) {
		args := append([]any{repoID}, anySlice(chunk)...)
		rows, err := t.tx.QueryContext(ctx,
			`SELECT `+changelistColumns+` FROM changelists WHERE repo_id = ? AND number IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("get changelists: %w", mapErr(err))
		}
		for rows.Next() {
			cl, err := scanChangelist(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, cl)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(out, func(a, b *models.Changelist) int {
		return cmp.Compare(a.Number, b.Number)
	})
	return out, nil
}

// LatestAncestorAt returns the number of the newest changelist created at or before at
// on the parent chain starting at from. It returns ErrNotFound when there is none.
func (t *sqlTx) LatestAncestorAt(ctx context.Context, repoID string, from int64, at time.Time) (int64, error) {
	cutoff := toNanos(at)

	// Served by changelists_repo_created; skips the chain walk for times before the repo existed.
	var newest sql.NullInt64
	err := t.tx.QueryRowContext(ctx,
		`SELECT MAX(number) FROM changelists WHERE repo_id = ? AND created_at <= ?`, repoID, cutoff).Scan(&newest)
	if err != nil {
		return 0, fmt.Errorf("changelists before %s: %w", at, mapErr(err))
	}
	if !newest.Valid {
		return 0, ErrNotFound
	}

	// The recursion stops at the first ancestor old enough, so only (number, parent, time)
	// of the newer ones is read.
	var number int64
	err = t.tx.QueryRowContext(ctx, `
		WITH RECURSIVE chain(number, parent_number, created_at) AS (
			SELECT number, parent_number, created_at FROM changelists WHERE repo_id = ? AND number = ?
			UNION ALL
			SELECT c.number, c.parent_number, c.created_at
			FROM changelists c JOIN chain ON c.repo_id = ? AND c.number = chain.parent_number
			WHERE chain.created_at > ?
		)
		SELECT number FROM chain WHERE created_at <= ? ORDER BY number DESC LIMIT 1`,
		repoID, from, repoID, cutoff, cutoff).Scan(&number)
	if err != nil {
		return 0, mapErr(err)
	}
	return number, nil
}

func (t *sqlTx) CountChangelists(ctx context.Context, repoID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM changelists WHERE repo_id = ?`, repoID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count changelists: %w", mapErr(err))
	}
	return n, nil
}

func (t *sqlTx) InsertFileChanges(ctx context.Context, repoID string, changes []*models.FileChange) error {
	if len(changes) == 0 {
		return nil
	}
	stmt, err := t.tx.PrepareContext(ctx,
		`INSERT INTO file_changes (repo_id, changelist_number, file_id, change_type, old_path) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare file change insert: %w", mapErr(err))
	}
	defer stmt.Close()

	for _, fc := range changes {
		if _, err := stmt.ExecContext(ctx, repoID, fc.ChangelistNumber, fc.FileID, string(fc.Type), fc.OldPath); err != nil {
			return fmt.Errorf("insert file change %d/%s: %w", fc.ChangelistNumber, fc.FileID, mapErr(err))
		}
	}
	return nil
}

// ListFileChanges returns the file changes of the given changelists with their current paths,
// ordered by changelist number then path.
func (t *sqlTx) ListFileChanges(ctx context.Context, repoID string, numbers []int64) ([]*models.FileChange, error) {
	var out []*models.FileChange
	for _, chunk := range chunks(numbers) {
		args := append([]any{repoID}, anySlice(chunk)...)
		rows, err := t.tx.QueryContext(ctx, `
			SELECT fc.changelist_number, fc.file_id, f.path, fc.change_type, fc.old_path
			FROM file_changes fc
			JOIN files f ON f.id = fc.file_id
			WHERE fc.repo_id = ? AND fc.changelist_number IN (`+placeholders(len(chunk))+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("list file changes: %w", mapErr(err))
		}
		for rows.Next() {
			var (
				fc         models.FileChange
				changeType string
			)
			if err := rows.Scan(&fc.ChangelistNumber, &fc.FileID, &fc.Path, &changeType, &fc.OldPath); err != nil {
				rows.Close()
				return nil, mapErr(err)
			}
			fc.Type = models.ChangeType(changeType)
			out = append(out, &fc)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	slices.SortFunc(out, func(a, b *models.FileChange) int {
		return cmp.Or(cmp.Compare(a.ChangelistNumber, b.ChangelistNumber), cmp.Compare(a.Path, b.Path))
	})
	return out, nil
}
