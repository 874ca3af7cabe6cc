package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// Scheduler runs fn after a delay. Implementations must pass a context that is
// cancelled on shutdown.
type Scheduler interface {
	After(delay time.Duration, fn func(ctx context.Context))
}

// ItemRunner runs one item; the executor satisfies it.
type ItemRunner interface {
	Run(ctx context.Context, item workitem.Item) (Outcome, error)
}

// RunnerOptions tunes the retry wrapper.
type RunnerOptions struct {
	MaxAttempts int
	RetryDelay  time.Duration
	LockTTL     time.Duration
	// MissingReferenceCap evicts an item whose reference stayed missing for
	// this many passes. Zero disables the cap.
	MissingReferenceCap int
}

func (o RunnerOptions) withDefaults() RunnerOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 180 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 600 * time.Second
	}
	return o
}

// Runner is the per-item retry wrapper around an executor.
type Runner struct {
	exec      ItemRunner
	store     Store
	evictor   *Evictor
	scheduler Scheduler
	notifier  notifications.Service
	opts      RunnerOptions
	logger    *slog.Logger
}

// NewRunner builds the retry wrapper.
func NewRunner(exec ItemRunner, store Store, evictor *Evictor, scheduler Scheduler, notifier notifications.Service, opts RunnerOptions, logger *slog.Logger) *Runner {
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	return &Runner{
		exec:      exec,
		store:     store,
		evictor:   evictor,
		scheduler: scheduler,
		notifier:  notifier,
		opts:      opts.withDefaults(),
		logger:    logging.NewComponentLogger(logger, "runner"),
	}
}

// MaxAttempts is the configured retry budget.
func (r *Runner) MaxAttempts() int { return r.opts.MaxAttempts }

// Execute runs item, whose lease the caller already holds, and applies the
// retry policy to the result.
func (r *Runner) Execute(ctx context.Context, item workitem.Item) error {
	logger := r.logger.With(logging.ItemArgs(item.Key, string(item.Kind))...)
	outcome, err := r.exec.Run(ctx, item)
	if err == nil {
		if outcome.State == StateAborted {
			return r.missingReference(ctx, logger, item)
		}
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown mid-run: the lease expires and discovery picks the item up.
		return err
	}
	if !services.Retryable(err) {
		logging.ErrorWithContext(logger, "work item failed on configuration; not counting the attempt", "item_config_error",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "fix the configuration and restart the worker"),
		)
		if relErr := r.store.ReleaseLock(ctx, item.Key); relErr != nil {
			return errors.Join(err, relErr)
		}
		_ = r.notifier.NotifyError(ctx, err, item.Key)
		return err
	}

	attempts, incrErr := r.store.IncrAttempts(ctx, item.Key)
	if incrErr != nil {
		return errors.Join(err, incrErr)
	}
	if attempts >= r.opts.MaxAttempts {
		reason := fmt.Sprintf("failed %d times: %s", attempts, services.Class(err))
		if evictErr := r.evictor.Evict(ctx, item.Key, reason); evictErr != nil {
			return errors.Join(err, evictErr)
		}
		return err
	}

	if relErr := r.store.ReleaseLock(ctx, item.Key); relErr != nil {
		return errors.Join(err, relErr)
	}
	logging.WarnWithContext(logger, "work item failed; re-attempt scheduled", "item_retry_scheduled",
		logging.Int("attempt", attempts),
		logging.Int("max_attempts", r.opts.MaxAttempts),
		logging.Duration("delay", r.opts.RetryDelay),
		logging.String("error_class", services.Class(err)),
		logging.Error(err),
		logging.String(logging.FieldImpact, "the item is retried after the delay or by the next discovery pass"),
	)
	if r.scheduler != nil {
		r.scheduler.After(r.opts.RetryDelay, func(ctx context.Context) {
			if err := r.Reattempt(ctx, item); err != nil && ctx.Err() == nil {
				logger.Debug("delayed re-attempt ended with error", logging.Error(err))
			}
		})
	}
	return err
}

// Reattempt re-acquires the lease and runs item again. If another worker
// already holds the lease, or the asset was committed or evicted in the
// meantime, the re-attempt is dropped.
func (r *Runner) Reattempt(ctx context.Context, item workitem.Item) error {
	acquired, err := r.store.TryAcquireLock(ctx, item.Key, r.opts.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		r.logger.Debug("re-attempt skipped; item already in flight",
			logging.String(logging.FieldObjectKey, item.Key),
		)
		return nil
	}
	exists, err := r.evictor.objects.Exists(ctx, item.Key)
	if err != nil {
		_ = r.store.ReleaseLock(ctx, item.Key)
		return err
	}
	if !exists {
		// Finished by another pass since the failure was scheduled.
		r.logger.Debug("re-attempt dropped; asset already gone",
			logging.String(logging.FieldObjectKey, item.Key),
		)
		return r.forget(ctx, item.Key)
	}
	attempts, err := r.store.Attempts(ctx, item.Key)
	if err != nil {
		_ = r.store.ReleaseLock(ctx, item.Key)
		return err
	}
	if attempts >= r.opts.MaxAttempts {
		return r.evictor.Evict(ctx, item.Key, fmt.Sprintf("reached %d attempts", attempts))
	}
	return r.Execute(ctx, item)
}

// forget clears the coordination state of an item whose asset no longer
// exists.
func (r *Runner) forget(ctx context.Context, key string) error {
	return errors.Join(
		r.store.ClearAttempts(ctx, key),
		r.store.ClearAttempts(ctx, coord.MissingRefPrefix+key),
		r.store.ReleaseLock(ctx, key),
	)
}

func (r *Runner) missingReference(ctx context.Context, logger *slog.Logger, item workitem.Item) error {
	if r.opts.MissingReferenceCap <= 0 {
		return nil
	}
	passes, err := r.store.IncrAttempts(ctx, coord.MissingRefPrefix+item.Key)
	if err != nil {
		return err
	}
	if passes >= r.opts.MissingReferenceCap {
		return r.evictor.Evict(ctx, item.Key, fmt.Sprintf("reference %q missing for %d passes", item.Entity(), passes))
	}
	logger.Debug("missing reference counted",
		logging.Int("passes", passes),
		logging.Int("cap", r.opts.MissingReferenceCap),
	)
	return nil
}
