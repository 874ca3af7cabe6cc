package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/services"
)

const finalizeTimeout = 15 * time.Second

// NotifierStore is the slice of the coordination store the notifier needs.
type NotifierStore interface {
	coord.LockStore
	coord.Queue
	coord.ResultStore
}

// NotifierOptions configures the consumer loop.
type NotifierOptions struct {
	// ChannelRef names the destination; the notifier lease is scoped to it.
	ChannelRef   string
	PollInterval time.Duration
	VoteWindow   time.Duration
	VerdictTTL   time.Duration
	LeaseTTL     time.Duration
}

func (o NotifierOptions) withDefaults() NotifierOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.VoteWindow <= 0 {
		o.VoteWindow = 60 * time.Second
	}
	if o.VerdictTTL <= 0 {
		o.VerdictTTL = 60 * time.Second
	}
	if o.LeaseTTL <= 0 {
		o.LeaseTTL = 2*o.VoteWindow + o.PollInterval
	}
	return o
}

// Notifier is the long-lived consumer of the proposal queue. Exactly one
// notifier should serve a channel; Run enforces that with a store lease.
type Notifier struct {
	store   NotifierStore
	channel Channel
	opts    NotifierOptions
	logger  *slog.Logger
	now     func() time.Time
	leased  bool
}

// NewNotifier builds a notifier over store and channel.
func NewNotifier(store NotifierStore, channel Channel, opts NotifierOptions, logger *slog.Logger) *Notifier {
	return &Notifier{
		store:   store,
		channel: channel,
		opts:    opts.withDefaults(),
		logger:  logging.NewComponentLogger(logger, "notifier"),
		now:     time.Now,
	}
}

// LeaseKey is the lock key that makes the notifier a singleton per channel.
func (n *Notifier) LeaseKey() string {
	return "notifier:" + n.opts.ChannelRef
}

// Run polls the proposal queue until ctx is cancelled. While another notifier
// holds the channel lease this one stays idle.
func (n *Notifier) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.opts.PollInterval)
	defer ticker.Stop()
	defer n.releaseLease()

	n.logger.Info("notifier started",
		logging.String(logging.FieldEventType, "notifier_started"),
		logging.String("channel", n.opts.ChannelRef),
		logging.Duration("poll_interval", n.opts.PollInterval),
		logging.Duration("vote_window", n.opts.VoteWindow),
	)
	for {
		if err := n.tick(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(n.logger, "notifier pass failed", "notifier_pass_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the coordination store and chat connectivity"),
				logging.String(logging.FieldImpact, "pending proposals wait for the next poll"),
			)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (n *Notifier) tick(ctx context.Context) error {
	held, err := n.holdLease(ctx)
	if err != nil || !held {
		return err
	}
	for ctx.Err() == nil {
		processed, err := n.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if !processed {
			return nil
		}
		if held, err := n.holdLease(ctx); err != nil || !held {
			return err
		}
	}
	return nil
}

func (n *Notifier) holdLease(ctx context.Context) (bool, error) {
	key := n.LeaseKey()
	if n.leased {
		ok, err := n.store.RenewLock(ctx, key, n.opts.LeaseTTL)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		n.leased = false
		logging.WarnWithContext(n.logger, "notifier lease lost", "notifier_lease_lost",
			logging.String(logging.FieldImpact, "another notifier may be serving this channel"),
		)
	}
	ok, err := n.store.TryAcquireLock(ctx, key, n.opts.LeaseTTL)
	if err != nil {
		return false, err
	}
	if ok {
		n.leased = true
		n.logger.Info("notifier lease acquired",
			logging.String(logging.FieldEventType, "notifier_lease_acquired"),
			logging.String("lease", key),
		)
		return true, nil
	}
	n.logger.Debug("notifier lease held elsewhere", logging.String("lease", key))
	return false, nil
}

func (n *Notifier) releaseLease() {
	if !n.leased {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := n.store.ReleaseLock(ctx, n.LeaseKey()); err != nil {
		n.logger.Warn("release notifier lease failed", logging.Error(err))
	}
	n.leased = false
}

// ProcessNext handles one queued proposal. It reports false when the queue
// was empty. Undecodable entries are dropped so they cannot wedge the queue.
func (n *Notifier) ProcessNext(ctx context.Context) (bool, error) {
	payload, ok, err := n.store.Dequeue(ctx, coord.ProposalQueue)
	if err != nil || !ok {
		return false, err
	}
	var proposal Proposal
	if err := json.Unmarshal(payload, &proposal); err != nil {
		logging.ErrorWithContext(n.logger, "dropping undecodable proposal", "proposal_decode_failed",
			logging.Error(err),
			logging.Int("bytes", len(payload)),
		)
		return true, nil
	}
	if !proposal.ExpectsVerdict() {
		if err := n.channel.Send(ctx, proposal); err != nil {
			return true, services.Wrap(services.ErrExternal, "notifier", "send", "post announcement", err)
		}
		return true, nil
	}
	return true, n.collect(ctx, proposal)
}

func (n *Notifier) collect(ctx context.Context, proposal Proposal) error {
	logger := n.logger.With(
		logging.String(logging.FieldTaskID, proposal.TaskID),
		logging.String(logging.FieldKind, proposal.Kind),
	)
	poll, err := n.channel.Publish(ctx, proposal)
	if err != nil {
		return services.Wrap(services.ErrExternal, "notifier", "publish", "post proposal "+proposal.TaskID, err)
	}

	timer := time.NewTimer(n.opts.VoteWindow)
	reason := "first_reaction"
	select {
	case <-poll.Reacted():
	case <-timer.C:
		reason = "window_elapsed"
	case <-ctx.Done():
		reason = "shutdown"
	}
	timer.Stop()

	// The verdict is written even during shutdown so the waiting executor is
	// not left to time out.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	votes, err := poll.Tally(finalCtx)
	if err != nil {
		logging.WarnWithContext(logger, "tally failed; recording no votes", "vote_tally_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the change is saved as an unconfirmed revision"),
		)
		votes = Votes{}
	}
	verdict := Verdict{TaskID: proposal.TaskID, Votes: votes, DecidedAt: n.now().UTC()}
	encoded, err := json.Marshal(verdict)
	if err != nil {
		return err
	}
	if err := n.store.SetResult(finalCtx, proposal.TaskID, encoded, n.opts.VerdictTTL); err != nil {
		return fmt.Errorf("record verdict %s: %w", proposal.TaskID, err)
	}
	logger.Info("verdict recorded", logging.Args(append([]logging.Attr{
		logging.String(logging.FieldEventType, "verdict_recorded"),
		logging.String("stop_reason", reason),
	}, logging.VoteAttrs(votes.Approve, votes.Reject, votes.Retry, true)...)...)...)

	if err := poll.Resolve(finalCtx, StatusFor(verdict)); err != nil {
		logging.WarnWithContext(logger, "status footer update failed", "proposal_resolve_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "the verdict stands; only the chat message is stale"),
		)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return nil
}
