package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/depot/internal/models"
)

// RetryConfig controls how RetryClient backs off between attempts.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig is used when NewRetryClient gets a nil config.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryClient wraps a RemoteClient with automatic retry on transient errors.
// Mutations that allocate or claim something are passed through once.
type RetryClient struct {
	inner  RemoteClient
	config *RetryConfig
}

// NewRetryClient creates a RetryClient that wraps the given RemoteClient.
func NewRetryClient(inner RemoteClient, cfg *RetryConfig) *RetryClient {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryClient{inner: inner, config: cfg}
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (rc *RetryClient) backoff(attempt int) time.Duration {
	base := float64(rc.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(rc.config.MaxBackoff) {
		base = float64(rc.config.MaxBackoff)
	}
	jitter := base * rc.config.JitterFraction * (rand.Float64()*2 - 1) // +/- jitter
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (rc *RetryClient) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= rc.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < rc.config.MaxRetries {
			d := rc.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, rc.config.MaxRetries)
}

// --- Delegate RemoteClient methods through retry logic ---

func (rc *RetryClient) GetRepoInfo(ctx context.Context) (info *RepoInfo, err error) {
	err = rc.retry(ctx, "get repo info", func() error {
		info, err = rc.inner.GetRepoInfo(ctx)
		return err
	})
	return
}

func (rc *RetryClient) ListBranches(ctx context.Context, pattern, branchType string, includeArchived bool) (branches []*models.Branch, err error) {
	err = rc.retry(ctx, "list branches", func() error {
		branches, err = rc.inner.ListBranches(ctx, pattern, branchType, includeArchived)
		return err
	})
	return
}

func (rc *RetryClient) GetBranch(ctx context.Context, branch string) (b *models.Branch, err error) {
	err = rc.retry(ctx, "get branch", func() error {
		b, err = rc.inner.GetBranch(ctx, branch)
		return err
	})
	return
}

func (rc *RetryClient) CreateBranch(ctx context.Context, req *CreateBranchRequest) (*models.Branch, error) {
	// A retried create after a lost response would report a spurious conflict.
	return rc.inner.CreateBranch(ctx, req)
}

func (rc *RetryClient) ArchiveBranch(ctx context.Context, branch string) (b *models.Branch, err error) {
	err = rc.retry(ctx, "archive branch", func() error {
		b, err = rc.inner.ArchiveBranch(ctx, branch)
		return err
	})
	return
}

func (rc *RetryClient) UnarchiveBranch(ctx context.Context, branch string) (b *models.Branch, err error) {
	err = rc.retry(ctx, "unarchive branch", func() error {
		b, err = rc.inner.UnarchiveBranch(ctx, branch)
		return err
	})
	return
}

func (rc *RetryClient) DeleteBranch(ctx context.Context, branch string) (b *models.Branch, err error) {
	err = rc.retry(ctx, "delete branch", func() error {
		b, err = rc.inner.DeleteBranch(ctx, branch)
		return err
	})
	return
}

func (rc *RetryClient) MergeBranch(ctx context.Context, branch, target string) (*models.MergeResult, error) {
	// Merges create a changelist and are NOT retried.
	return rc.inner.MergeBranch(ctx, branch, target)
}

func (rc *RetryClient) History(ctx context.Context, opts HistoryOptions) (cls []*models.Changelist, err error) {
	err = rc.retry(ctx, "history", func() error {
		cls, err = rc.inner.History(ctx, opts)
		return err
	})
	return
}

func (rc *RetryClient) GetChangelists(ctx context.Context, numbers []int64) (cls []*models.Changelist, err error) {
	err = rc.retry(ctx, "get changelists", func() error {
		cls, err = rc.inner.GetChangelists(ctx, numbers)
		return err
	})
	return
}

func (rc *RetryClient) GetChangelist(ctx context.Context, number int64) (cl *models.Changelist, err error) {
	err = rc.retry(ctx, "get changelist", func() error {
		cl, err = rc.inner.GetChangelist(ctx, number)
		return err
	})
	return
}

func (rc *RetryClient) ChangelistFiles(ctx context.Context, number int64) (changes []*models.FileChange, err error) {
	err = rc.retry(ctx, "changelist files", func() error {
		changes, err = rc.inner.ChangelistFiles(ctx, number)
		return err
	})
	return
}

func (rc *RetryClient) ChangedPaths(ctx context.Context, from, to int64) (paths []string, err error) {
	err = rc.retry(ctx, "changed paths", func() error {
		paths, err = rc.inner.ChangedPaths(ctx, from, to)
		return err
	})
	return
}

func (rc *RetryClient) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResponse, error) {
	// Submits are NOT retried: a lost response may hide a committed changelist.
	return rc.inner.Submit(ctx, req)
}

func (rc *RetryClient) CreateWorkspace(ctx context.Context, name string) (*models.Workspace, error) {
	return rc.inner.CreateWorkspace(ctx, name)
}

func (rc *RetryClient) GetWorkspace(ctx context.Context, id string) (ws *models.Workspace, err error) {
	err = rc.retry(ctx, "get workspace", func() error {
		ws, err = rc.inner.GetWorkspace(ctx, id)
		return err
	})
	return
}

func (rc *RetryClient) Checkout(ctx context.Context, req *CheckoutRequest) (*models.FileCheckout, error) {
	// Lock acquisition is NOT retried, a second attempt would conflict with the first.
	return rc.inner.Checkout(ctx, req)
}

func (rc *RetryClient) UndoCheckout(ctx context.Context, workspaceID, path string) (*models.FileCheckout, error) {
	return rc.inner.UndoCheckout(ctx, workspaceID, path)
}

func (rc *RetryClient) ActiveCheckouts(ctx context.Context, paths []string) (cos []*models.FileCheckout, err error) {
	err = rc.retry(ctx, "active checkouts", func() error {
		cos, err = rc.inner.ActiveCheckouts(ctx, paths)
		return err
	})
	return
}

func (rc *RetryClient) LockConflicts(ctx context.Context, paths []string) (conflicts []models.LockConflict, err error) {
	err = rc.retry(ctx, "lock conflicts", func() error {
		conflicts, err = rc.inner.LockConflicts(ctx, paths)
		return err
	})
	return
}
