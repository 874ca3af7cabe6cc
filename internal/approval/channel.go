package approval

import "context"

// Channel is the human-facing side the notifier publishes to.
type Channel interface {
	// Publish renders a proposal with approve, reject and retry affordances.
	Publish(ctx context.Context, p Proposal) (Poll, error)
	// Send posts a plain announcement that collects no votes.
	Send(ctx context.Context, p Proposal) error
}

// Poll is one published proposal awaiting votes.
type Poll interface {
	// Reacted is closed or signalled on the first human reaction.
	Reacted() <-chan struct{}
	// Tally counts every human reaction present now.
	Tally(ctx context.Context) (Votes, error)
	// Resolve re-renders the proposal with its final status.
	Resolve(ctx context.Context, status Status) error
}
