// Package ledger implements the changelist ledger: numbering, branch lifecycle,
// submission, squash merges and file locks. Every operation runs in one store
// transaction; no ledger state is cached between calls.
package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kilupskalvis/depot/internal/errs"
	"github.com/kilupskalvis/depot/internal/metrics"
	"github.com/kilupskalvis/depot/internal/models"
	"github.com/kilupskalvis/depot/internal/store"
	"github.com/kilupskalvis/depot/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Access is the capability granted to a caller for a repo.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
	AccessAdmin
)

// ParseAccess maps a token permission ("ro", "rw", "admin") to an Access level.
func ParseAccess(permission string) Access {
	switch permission {
	case "ro", "read":
		return AccessRead
	case "rw", "write":
		return AccessWrite
	case "admin":
		return AccessAdmin
	default:
		return AccessNone
	}
}

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessAdmin:
		return "admin"
	default:
		return "none"
	}
}

// Actor is the authenticated caller of a ledger operation.
type Actor struct {
	UserID string
	Access Access
}

// Notifier is told about committed ledger events. Calls happen after commit and must not block.
type Notifier interface {
	ChangelistSubmitted(repo *models.Repo, branch string, cl *models.Changelist)
	BranchMerged(repo *models.Repo, incoming, target string, cl *models.Changelist)
}

// Service runs ledger operations against a Store.
type Service struct {
	store    store.Store
	logger   *slog.Logger
	retry    *RetryConfig
	now      func() time.Time
	notifier Notifier
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option      { return func(s *Service) { s.logger = l } }
func WithRetry(cfg *RetryConfig) Option     { return func(s *Service) { s.retry = cfg } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithNotifier(n Notifier) Option        { return func(s *Service) { s.notifier = n } }

// NewService creates a ledger service over st.
func NewService(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:  st,
		logger: slog.Default(),
		retry:  DefaultRetryConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

func newID() string {
	return uuid.NewString()
}

func requireAccess(actor Actor, min Access) error {
	if actor.Access < min {
		return errs.Forbidden("%s access required", min)
	}
	return nil
}

// view runs fn in a read transaction and normalizes the error.
func (s *Service) view(ctx context.Context, fn func(tx store.Tx) error) error {
	return finish(s.store.View(ctx, fn))
}

// updateOnce runs fn in a single write transaction. Uniqueness violations become Conflict.
func (s *Service) updateOnce(ctx context.Context, fn func(tx store.Tx) error) error {
	return finish(s.store.Update(ctx, fn))
}

// finish converts anything that is not already an *errs.Error into a typed kind.
func finish(err error) error {
	if err == nil {
		return nil
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrBusy):
		c := errs.Conflict("concurrent update, try again")
		c.Err = err
		return c
	case errors.Is(err, store.ErrNotFound):
		nf := errs.NotFound("not found")
		nf.Err = err
		return nf
	}
	return errs.Internal(err, "ledger store")
}

// notFound turns store.ErrNotFound into a NotFound kind with the given message.
func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return errs.NotFound(format, args...)
	}
	return err
}

// instrument opens a span and returns a completion func that records duration and outcome.
func (s *Service) instrument(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "ledger."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		result := "ok"
		if err != nil {
			result = string(errs.KindOf(err))
		}
		metrics.OperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
		tracing.End(span, err)
	}
}

// liveRepo loads a repo that has not been deleted.
func liveRepo(ctx context.Context, tx store.Tx, repoID string) (*models.Repo, error) {
	repo, err := tx.GetRepo(ctx, repoID)
	if err != nil {
		return nil, notFound(err, "repo %s not found", repoID)
	}
	if repo.IsDeleted() {
		return nil, errs.NotFound("repo %s not found", repoID)
	}
	return repo, nil
}
