// Package uow runs one workflow call as a unit of work: take the per-key
// locks, execute inside a single transaction, map storage failures to
// application errors, and record the audit trail once the commit succeeds.
package uow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/audit"
	"github.com/clinic/clinic/internal/platform/auth"
	"github.com/clinic/clinic/internal/platform/db"
	"github.com/clinic/clinic/internal/platform/lock"
	"github.com/clinic/clinic/pkg/apperror"
)

type Runner struct {
	tx     db.Transactor
	locks  lock.Locker
	trail  audit.Trail
	logger zerolog.Logger
	now    func() time.Time
}

func New(tx db.Transactor, locks lock.Locker, trail audit.Trail, logger zerolog.Logger) *Runner {
	if locks == nil {
		locks = lock.NewLocalLocker()
	}
	if trail == nil {
		trail = audit.Nop()
	}
	return &Runner{tx: tx, locks: locks, trail: trail, logger: logger, now: time.Now}
}

// WithClock replaces the runner's time source.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

func (r *Runner) Now() time.Time {
	return r.now()
}

// Do holds every key for the duration of fn and commits fn's writes atomically.
func (r *Runner) Do(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	release, err := lock.LockAll(ctx, r.locks, keys...)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return apperror.Wrap(apperror.KindConflict, err, "resource is busy, retry later")
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	defer release()

	return db.MapError(r.tx.InTx(ctx, fn))
}

// Record writes the audit entry for a committed mutation.
func (r *Runner) Record(ctx context.Context, action, entityType string, id uuid.UUID, details string) {
	userID := auth.UserIDFromContext(ctx)
	msg := "id=" + id.String()
	if details != "" {
		msg += " " + details
	}
	r.trail.Log(ctx, action, entityType, msg, userID)

	r.Logger(ctx).Info().
		Str("action", action).
		Str("entity_type", entityType).
		Str("entity_id", id.String()).
		Str("user_id", userID).
		Msg("workflow committed")
}

// Logger prefers the request-scoped logger on ctx.
func (r *Runner) Logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &r.logger
}
