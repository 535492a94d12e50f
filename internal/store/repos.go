package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

const repoColumns = `id, name, public, created_at, deleted_at`

func scanRepo(row interface{ Scan(...any) error }) (*models.Repo, error) {
	var (
		r         models.Repo
		public    int
		createdAt int64
		deletedAt sql.NullInt64
	)
	if err := row.Scan(&r.ID, &r.Name, &public, &createdAt, &deletedAt); err != nil {
		return nil, mapErr(err)
	}
	r.Public = public != 0
	r.CreatedAt = fromNanos(createdAt)
	r.DeletedAt = timePtr(deletedAt)
	return &r, nil
}

func (t *sqlTx) InsertRepo(ctx context.Context, r *models.Repo) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO repos (id, name, public, created_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Name, boolInt(r.Public), toNanos(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert repo %s: %w", r.Name, mapErr(err))
	}
	return nil
}

func (t *sqlTx) GetRepo(ctx context.Context, id string) (*models.Repo, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repos WHERE id = ?`, id)
	return scanRepo(row)
}

// GetRepoByName only resolves live repos.
func (t *sqlTx) GetRepoByName(ctx context.Context, name string) (*models.Repo, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE name = ? AND deleted_at IS NULL`, name)
	return scanRepo(row)
}

func (t *sqlTx) ListRepos(ctx context.Context) ([]*models.Repo, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+repoColumns+` FROM repos WHERE deleted_at IS NULL ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list repos: %w", mapErr(err))
	}
	defer rows.Close()

	var repos []*models.Repo
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (t *sqlTx) SoftDeleteRepo(ctx context.Context, id string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE repos SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`, toNanos(at), id)
	if err != nil {
		return fmt.Errorf("delete repo: %w", mapErr(err))
	}
	return requireRow(res)
}

// requireRow returns ErrNotFound when an UPDATE or DELETE matched nothing.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
