package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"scribe/internal/config"
	"scribe/internal/logging"
	"scribe/internal/node"
)

type runnable interface {
	Start(ctx context.Context) error
	Close() error
}

func newWorkerCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run discovery, enrichment and commits for the enabled task kinds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), ctx, "worker", func(runCtx context.Context, cfg *config.Config, logger *slog.Logger) (runnable, error) {
				return node.NewWorker(runCtx, cfg, logger, node.Overrides{})
			})
		},
	}
}

func newNotifierCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notifier",
		Short: "Relay proposals to the approval channel and record verdicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), ctx, "notifier", func(runCtx context.Context, cfg *config.Config, logger *slog.Logger) (runnable, error) {
				return node.NewNotifier(runCtx, cfg, logger, node.Overrides{})
			})
		},
	}
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload and review API without processing work",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRole(cmd.Context(), ctx, "serve", func(runCtx context.Context, cfg *config.Config, logger *slog.Logger) (runnable, error) {
				return node.NewServer(runCtx, cfg, logger, node.Overrides{})
			})
		},
	}
}

func runRole(cmdCtx context.Context, ctx *commandContext, role string, build func(context.Context, *config.Config, *slog.Logger) (runnable, error)) error {
	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, logger, err := ctx.logger(role)
	if err != nil {
		return err
	}
	logger = logger.With(logging.String("role", role))

	n, err := build(signalCtx, cfg, logger)
	if err != nil {
		logger.Error("node setup failed", logging.Error(err))
		return err
	}
	if err := n.Start(signalCtx); err != nil {
		_ = n.Close()
		return err
	}

	<-signalCtx.Done()
	logger.Info("scribe shutting down")
	return n.Close()
}
