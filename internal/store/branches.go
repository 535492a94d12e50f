package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

const branchColumns = `id, repo_id, name, type, head_number, is_default, parent_branch_name, archived_at, created_by_id, created_at, updated_at`

func scanBranch(row interface{ Scan(...any) error }) (*models.Branch, error) {
	var (
		b          models.Branch
		branchType string
		isDefault  int
		parent     sql.NullString
		archivedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&b.ID, &b.RepoID, &b.Name, &branchType, &b.HeadNumber, &isDefault, &parent,
		&archivedAt, &b.CreatedByID, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	b.Type = models.BranchType(branchType)
	b.IsDefault = isDefault != 0
	b.ParentBranchName = parent.String
	b.ArchivedAt = timePtr(archivedAt)
	b.CreatedAt = fromNanos(createdAt)
	b.UpdatedAt = fromNanos(updatedAt)
	return &b, nil
}

// InsertBranch returns ErrConflict if the name is taken in the repo.
func (t *sqlTx) InsertBranch(ctx context.Context, b *models.Branch) error {
	var parent sql.NullString
	if b.ParentBranchName != "" {
		parent = sql.NullString{String: b.ParentBranchName, Valid: true}
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO branches (`+branchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.RepoID, b.Name, string(b.Type), b.HeadNumber, boolInt(b.IsDefault), parent,
		nullableNanos(b.ArchivedAt), b.CreatedByID, toNanos(b.CreatedAt), toNanos(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert branch %s: %w", b.Name, mapErr(err))
	}
	return nil
}

func (t *sqlTx) GetBranch(ctx context.Context, repoID, name string) (*models.Branch, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? AND name = ?`, repoID, name)
	return scanBranch(row)
}

func (t *sqlTx) ListBranches(ctx context.Context, repoID string) ([]*models.Branch, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE repo_id = ? ORDER BY name`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list branches: %w", mapErr(err))
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (t *sqlTx) CountChildBranches(ctx context.Context, repoID, parentName string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE repo_id = ? AND parent_branch_name = ?`, repoID, parentName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count child branches: %w", mapErr(err))
	}
	return n, nil
}

// UpdateBranchHeadCAS moves the head only if it still equals expectedHead.
// Returns ErrConflict if the head moved underneath the caller, ErrNotFound if the branch is gone.
func (t *sqlTx) UpdateBranchHeadCAS(ctx context.Context, repoID, name string, newHead, expectedHead int64, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE branches SET head_number = ?, updated_at = ? WHERE repo_id = ? AND name = ? AND head_number = ?`,
		newHead, toNanos(at), repoID, name, expectedHead)
	if err != nil {
		return fmt.Errorf("update branch %s: %w", name, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	if _, err := t.GetBranch(ctx, repoID, name); err != nil {
		return err
	}
	return fmt.Errorf("%w: branch %s head is no longer %d", ErrConflict, name, expectedHead)
}

// SetBranchArchived archives the branch at archivedAt, or unarchives it when archivedAt is nil.
func (t *sqlTx) SetBranchArchived(ctx context.Context, repoID, name string, archivedAt *time.Time, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE branches SET archived_at = ?, updated_at = ? WHERE repo_id = ? AND name = ?`,
		nullableNanos(archivedAt), toNanos(updatedAt), repoID, name)
	if err != nil {
		return fmt.Errorf("archive branch %s: %w", name, mapErr(err))
	}
	return requireRow(res)
}

func (t *sqlTx) DeleteBranch(ctx context.Context, repoID, name string) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM branches WHERE repo_id = ? AND name = ?`, repoID, name)
	if err != nil {
		return fmt.Errorf("delete branch %s: %w", name, mapErr(err))
	}
	return requireRow(res)
}
