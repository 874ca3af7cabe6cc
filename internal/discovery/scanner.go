package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/executor"
	"scribe/internal/logging"
	"scribe/internal/objectstore"
	"scribe/internal/workitem"
)

// Dispatcher accepts a leased item for execution. It returns false when the
// item could not be queued, in which case the scanner releases the lease.
type Dispatcher interface {
	Dispatch(ctx context.Context, item workitem.Item) bool
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(ctx context.Context, item workitem.Item) bool

func (f DispatchFunc) Dispatch(ctx context.Context, item workitem.Item) bool { return f(ctx, item) }

// Report summarizes one pass over a prefix.
type Report struct {
	Kind       workitem.Kind
	Seen       int
	Dispatched int
	// Locked counts keys another worker already holds.
	Locked    int
	Evicted   int
	Malformed int
}

func (r Report) String() string {
	return fmt.Sprintf("%s: seen=%d dispatched=%d locked=%d evicted=%d malformed=%d",
		r.Kind, r.Seen, r.Dispatched, r.Locked, r.Evicted, r.Malformed)
}

// Options tunes a scanner.
type Options struct {
	MaxAttempts int
	LockTTL     time.Duration
}

// Scanner discovers work for any registered kind.
type Scanner struct {
	store      executor.Store
	objects    objectstore.Store
	evictor    *executor.Evictor
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger
}

// NewScanner builds a scanner.
func NewScanner(store executor.Store, objects objectstore.Store, evictor *executor.Evictor, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Scanner {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 600 * time.Second
	}
	return &Scanner{
		store:      store,
		objects:    objects,
		evictor:    evictor,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "discovery"),
	}
}

// Scan makes one pass over kind's prefix. Per-key store failures are logged
// and skipped; a listing failure aborts the pass.
func (s *Scanner) Scan(ctx context.Context, kind workitem.Kind) (Report, error) {
	report := Report{Kind: kind}
	objects, err := s.objects.List(ctx, kind.Prefix()+"/")
	if err != nil {
		return report, fmt.Errorf("list %s: %w", kind.Prefix(), err)
	}
	logger := s.logger.With(logging.String(logging.FieldKind, string(kind)))

	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if workitem.IsFolderMarker(obj.Key) {
			continue
		}
		report.Seen++
		if err := s.visit(ctx, logger, kind, obj.Key, &report); err != nil {
			logger.Warn("discovery skipped object after store error",
				logging.String(logging.FieldEventType, "discovery_object_failed"),
				logging.String(logging.FieldObjectKey, obj.Key),
				logging.Error(err),
			)
		}
	}

	if report.Seen > 0 {
		logger.Info("discovery pass complete",
			logging.String(logging.FieldEventType, "discovery_pass"),
			logging.Int("seen", report.Seen),
			logging.Int("dispatched", report.Dispatched),
			logging.Int("locked", report.Locked),
			logging.Int("evicted", report.Evicted),
			logging.Int("malformed", report.Malformed),
		)
	}
	return report, nil
}

func (s *Scanner) visit(ctx context.Context, logger *slog.Logger, kind workitem.Kind, key string, report *Report) error {
	attempts, err := s.store.Attempts(ctx, key)
	if err != nil {
		return err
	}
	if attempts >= s.opts.MaxAttempts {
		if err := s.evictor.Evict(ctx, key, fmt.Sprintf("reached %d attempts", attempts)); err != nil {
			return err
		}
		report.Evicted++
		return nil
	}

	item, err := workitem.Parse(kind, key)
	if err != nil {
		if !errors.Is(err, workitem.ErrMalformed) {
			return err
		}
		report.Malformed++
		count, incrErr := s.store.IncrAttempts(ctx, key)
		if incrErr != nil {
			return incrErr
		}
		logging.WarnWithContext(logger, "malformed filename", "filename_malformed",
			logging.String(logging.FieldObjectKey, key),
			logging.Int("attempt", count),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "rename the upload to {entity}[_{arg}]_{guid}.{ext}"),
		)
		return nil
	}

	acquired, err := s.store.TryAcquireLock(ctx, key, s.opts.LockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		report.Locked++
		return nil
	}
	if !s.dispatcher.Dispatch(ctx, item) {
		logger.Debug("dispatch refused; releasing lease", logging.String(logging.FieldObjectKey, key))
		return s.store.ReleaseLock(ctx, key)
	}
	report.Dispatched++
	return nil
}
