package node

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"scribe/internal/approval"
	"scribe/internal/cms"
	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/daemon"
	"scribe/internal/discovery"
	"scribe/internal/enrich"
	"scribe/internal/executor"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/objectstore"
	"scribe/internal/refcache"
	"scribe/internal/review"
	"scribe/internal/tasks"
	"scribe/internal/workflow"
	"scribe/internal/workitem"
)

const requestPollInterval = time.Second

// Worker is a fully wired processing node.
type Worker struct {
	Store     coord.Store
	Objects   objectstore.Store
	Registry  *tasks.Registry
	Cache     *refcache.Cache
	Refresher *refcache.Refresher
	Runner    *executor.Runner
	Scanner   *discovery.Scanner
	Reviews   *review.Processor
	Manager   *workflow.Manager
	Daemon    *daemon.Daemon
}

// NewWorker builds every worker collaborator from cfg. The returned worker
// owns the store; Close releases it.
func NewWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger, ov Overrides) (*Worker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	registry, err := tasks.DefaultRegistry().Restrict(cfg.Tasks.Enabled)
	if err != nil {
		return nil, fmt.Errorf("tasks.enabled: %w", err)
	}
	store, err := ov.store(ctx, cfg)
	if err != nil {
		return nil, err
	}
	objects, err := ov.objects(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	w := &Worker{Store: store, Objects: objects, Registry: registry}
	notifier := notifications.NewService(cfg)
	wf := cfg.Workflow

	cmsOpts := []cms.Option{}
	enrichOpts := []enrich.Option{
		enrich.WithRateLimitRetry(cfg.LLM.RateLimitAttempts, time.Second, time.Duration(cfg.LLM.RateLimitMaxDelay)*time.Second),
		enrich.WithLogger(logger),
	}
	if ov.HTTPClient != nil {
		cmsOpts = append(cmsOpts, cms.WithHTTPClient(ov.HTTPClient))
		enrichOpts = append(enrichOpts, enrich.WithHTTPClient(ov.HTTPClient))
	}
	backend := cms.NewClient(cms.Config{
		SiteURL:        cfg.CMS.SiteURL,
		RESTNamespace:  cfg.CMS.RESTNamespace,
		GraphQLPath:    cfg.CMS.GraphQLPath,
		Username:       cfg.CMS.Username,
		Password:       cfg.CMS.Password,
		TimeoutSeconds: cfg.CMS.TimeoutSeconds,
		PageSize:       cfg.CMS.PageSize,
	}, cmsOpts...)
	enricher := enrich.NewClient(enrich.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		MaxTokens:      cfg.LLM.MaxTokens,
		TimeoutSeconds: cfg.LLM.TimeoutSeconds,
	}, enrichOpts...)

	w.Cache = refcache.New(store)
	w.Refresher = refcache.NewRefresher(store, backend, logger, cms.CollectionHeroes, cms.CollectionItems)
	gate := approval.NewGate(store,
		approval.WithPolling(wf.ApprovalPollDuration(), wf.ApprovalTimeoutDuration()),
		approval.WithGateLogger(logger),
	)

	exec := executor.New(executor.Deps{
		Store:      store,
		Objects:    objects,
		References: w.Cache,
		Enricher:   enricher,
		Gate:       gate,
		Backend:    backend,
		Refresher:  w.Refresher,
		Registry:   registry,
		Notifier:   notifier,
		Logger:     logger,
		ChannelRef: cfg.Discord.ChannelID,
		PresignTTL: cfg.S3.PresignTTL(),
	})
	evictor := executor.NewEvictor(store, objects, notifier, logger)

	w.Manager = workflow.NewManager(store, func(ctx context.Context, item workitem.Item) error {
		return w.Runner.Execute(ctx, item)
	}, workflow.Options{
		Workers:  wf.Workers,
		LeaseTTL: wf.LockTTLDuration(),
	}, logger)
	w.Runner = executor.NewRunner(exec, store, evictor, w.Manager, notifier, executor.RunnerOptions{
		MaxAttempts:         wf.MaxAttempts,
		RetryDelay:          wf.RetryDelayDuration(),
		LockTTL:             wf.LockTTLDuration(),
		MissingReferenceCap: wf.MissingReferenceCap,
	}, logger)
	w.Scanner = discovery.NewScanner(store, objects, evictor, w.Manager, discovery.Options{
		MaxAttempts: wf.MaxAttempts,
		LockTTL:     wf.LockTTLDuration(),
	}, logger)
	w.Reviews = review.NewProcessor(review.Deps{
		Queue:      store,
		Heroes:     w.Cache,
		Completer:  enricher,
		Publisher:  gate,
		Backend:    backend,
		Refresher:  w.Refresher,
		ChannelRef: cfg.Discord.ChannelID,
		Logger:     logger,
	})

	w.configureJobs(cfg, logger)
	w.Manager.AddHealthCheck("store", storeHealth(store))
	w.Manager.AddHealthCheck("llm", func(context.Context) workflow.Health {
		if err := enricher.Ready(); err != nil {
			return workflow.Unhealthy("llm", err.Error())
		}
		return workflow.Healthy("llm")
	})
	w.Manager.AddHealthCheck("reference-cache", func(ctx context.Context) workflow.Health {
		snap, err := w.Cache.Snapshot(ctx, cms.CollectionHeroes)
		if err != nil {
			return workflow.Unhealthy("reference-cache", err.Error())
		}
		if len(snap.Nodes) == 0 {
			return workflow.Unhealthy("reference-cache", "heroes snapshot is empty")
		}
		return workflow.Healthy("reference-cache")
	})

	d, err := daemon.New(cfg, "worker", store, objects, w.Manager, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create daemon: %w", err)
	}
	w.Daemon = d
	return w, nil
}

func (w *Worker) configureJobs(cfg *config.Config, logger *slog.Logger) {
	wf := cfg.Workflow
	scanLogger := logging.NewComponentLogger(logger, "discovery")
	w.Manager.ConfigureScans(w.Registry.Kinds(), wf.ScanIntervalDuration(), wf.ScanOffset, func(ctx context.Context, kind workitem.Kind) error {
		report, err := w.Scanner.Scan(ctx, kind)
		if report.Dispatched > 0 || report.Evicted > 0 {
			scanLogger.Info("discovery pass complete",
				logging.String(logging.FieldEventType, "scan_complete"),
				logging.String(logging.FieldKind, string(kind)),
				logging.String("report", report.String()),
			)
		}
		return err
	})
	w.Manager.AddJob(workflow.Job{
		Name:     "refresh",
		Interval: wf.RefreshIntervalDuration(),
		Run:      w.Refresher.Refresh,
	})
	w.Manager.AddJob(workflow.Job{
		Name:     "refresh-requests",
		Interval: requestPollInterval,
		Run: func(ctx context.Context) error {
			w.Refresher.Run(ctx)
			return nil
		},
	})
	w.Manager.AddJob(workflow.Job{
		Name:     "reviews",
		Interval: wf.ReviewPollDuration(),
		Run:      w.Reviews.Drain,
	})
}

// Start launches the daemon, its workflow and API server.
func (w *Worker) Start(ctx context.Context) error {
	return w.Daemon.Start(ctx)
}

// Close stops the daemon and releases the store.
func (w *Worker) Close() error {
	return w.Daemon.Close()
}

func storeHealth(store coord.Store) workflow.HealthCheck {
	return func(ctx context.Context) workflow.Health {
		if err := store.Ping(ctx); err != nil {
			return workflow.Unhealthy("store", err.Error())
		}
		return workflow.Healthy("store")
	}
}
