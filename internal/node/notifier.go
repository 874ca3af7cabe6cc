package node

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"scribe/internal/approval"
	"scribe/internal/chat/discord"
	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/daemon"
	"scribe/internal/workflow"
)

// Notifier is the approval channel consumer node.
type Notifier struct {
	Store    coord.Store
	Channel  approval.Channel
	Consumer *approval.Notifier
	Manager  *workflow.Manager
	Daemon   *daemon.Daemon

	closeChannel func() error
}

// NewNotifier wires the proposal consumer to the configured chat channel.
// The node serves no HTTP API.
func NewNotifier(ctx context.Context, cfg *config.Config, logger *slog.Logger, ov Overrides) (*Notifier, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	store, err := ov.store(ctx, cfg)
	if err != nil {
		return nil, err
	}

	n := &Notifier{Store: store, Channel: ov.Channel}
	if n.Channel == nil {
		ch, err := discord.Open(cfg.Discord.Token, cfg.Discord.ChannelID, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		n.Channel = ch
		n.closeChannel = ch.Close
	} else if closer, ok := ov.Channel.(io.Closer); ok {
		n.closeChannel = closer.Close
	}

	wf := cfg.Workflow
	n.Consumer = approval.NewNotifier(store, n.Channel, approval.NotifierOptions{
		ChannelRef:   cfg.Discord.ChannelID,
		PollInterval: wf.NotifierPollDuration(),
		VoteWindow:   wf.VoteWindowDuration(),
		VerdictTTL:   wf.VerdictTTLDuration(),
	}, logger)

	n.Manager = workflow.NewManager(nil, nil, workflow.Options{Workers: 1}, logger)
	n.Manager.AddJob(workflow.Job{
		Name:     "notifier",
		Interval: wf.NotifierPollDuration(),
		Run:      n.Consumer.Run,
	})
	n.Manager.AddHealthCheck("store", storeHealth(store))

	nodeCfg := *cfg
	nodeCfg.API.Bind = ""
	d, err := daemon.New(&nodeCfg, "notifier", store, nil, n.Manager, logger)
	if err != nil {
		n.release()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	n.Daemon = d
	return n, nil
}

// Start acquires the notifier role lock and launches the consumer.
func (n *Notifier) Start(ctx context.Context) error {
	return n.Daemon.Start(ctx)
}

// Close stops the consumer, disconnects the channel and releases the store.
func (n *Notifier) Close() error {
	n.Daemon.Stop()
	if n.closeChannel != nil {
		_ = n.closeChannel()
	}
	return n.Store.Close()
}

func (n *Notifier) release() {
	if n.closeChannel != nil {
		_ = n.closeChannel()
	}
	_ = n.Store.Close()
}
