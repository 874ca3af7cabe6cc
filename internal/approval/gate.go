package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/services"
)

// GateStore is the slice of the coordination store the executor side needs.
type GateStore interface {
	coord.Queue
	coord.ResultStore
}

// Gate is the executor side of the rendezvous.
type Gate struct {
	store        GateStore
	pollInterval time.Duration
	timeout      time.Duration
	sleeper      func(context.Context, time.Duration) error
	now          func() time.Time
	logger       *slog.Logger
}

// GateOption customizes a gate.
type GateOption func(*Gate)

// WithPolling overrides the result poll interval and overall wait.
func WithPolling(interval, timeout time.Duration) GateOption {
	return func(g *Gate) {
		if interval > 0 {
			g.pollInterval = interval
		}
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithGateSleeper overrides how the gate waits between polls.
func WithGateSleeper(sleeper func(context.Context, time.Duration) error) GateOption {
	return func(g *Gate) {
		if sleeper != nil {
			g.sleeper = sleeper
		}
	}
}

// WithGateLogger attaches a logger.
func WithGateLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logging.NewComponentLogger(logger, "approval")
	}
}

// NewGate builds a gate polling every second for up to 100 seconds.
func NewGate(store GateStore, opts ...GateOption) *Gate {
	g := &Gate{
		store:        store,
		pollInterval: time.Second,
		timeout:      100 * time.Second,
		sleeper:      sleepContext,
		now:          time.Now,
		logger:       logging.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Publish enqueues a proposal for the notifier.
func (g *Gate) Publish(ctx context.Context, p Proposal) error {
	if p.ExpectsVerdict() && p.TaskID == "" {
		return services.Wrap(services.ErrValidation, "approval", "publish", "task id required", nil)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = g.now().UTC()
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return services.Wrap(services.ErrValidation, "approval", "publish", "encode proposal", err)
	}
	if err := g.store.Enqueue(ctx, coord.ProposalQueue, payload); err != nil {
		return err
	}
	g.logger.Info("proposal published",
		logging.String(logging.FieldEventType, "proposal_published"),
		logging.String(logging.FieldTaskID, p.TaskID),
		logging.String(logging.FieldKind, p.Kind),
		logging.Bool("expects_verdict", p.ExpectsVerdict()),
	)
	return nil
}

// Await polls the result slot for taskID. The slot is consumed when read, so
// a verdict is applied at most once. A false return means the wait timed out.
func (g *Gate) Await(ctx context.Context, taskID string) (Verdict, bool, error) {
	var waited time.Duration
	for {
		payload, ok, err := g.store.TakeResult(ctx, taskID)
		if err != nil {
			return Verdict{}, false, err
		}
		if ok {
			var verdict Verdict
			if err := json.Unmarshal(payload, &verdict); err != nil {
				return Verdict{}, false, services.Wrap(services.ErrValidation, "approval", "await", "decode verdict", err)
			}
			verdict.TaskID = taskID
			return verdict, true, nil
		}
		if waited >= g.timeout {
			g.logger.Info("approval wait timed out",
				logging.String(logging.FieldEventType, "approval_timeout"),
				logging.String(logging.FieldTaskID, taskID),
				logging.Duration("waited", waited),
			)
			return Verdict{TaskID: taskID}, false, nil
		}
		if err := g.sleeper(ctx, g.pollInterval); err != nil {
			return Verdict{}, false, fmt.Errorf("await verdict %s: %w", taskID, err)
		}
		waited += g.pollInterval
	}
}

// Request publishes p and waits for its verdict.
func (g *Gate) Request(ctx context.Context, p Proposal) (Verdict, bool, error) {
	if err := g.Publish(ctx, p); err != nil {
		return Verdict{}, false, err
	}
	return g.Await(ctx, p.TaskID)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
