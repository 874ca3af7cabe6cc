package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/coord"
	"scribe/internal/logging"
	"scribe/internal/notifications"
	"scribe/internal/objectstore"
	"scribe/internal/review"
	"scribe/internal/services"
	"scribe/internal/workflow"
)

// Daemon runs one node role: a worker (workflow plus API) or an API-only
// server when no workflow manager is supplied.
type Daemon struct {
	cfg      *config.Config
	role     string
	logger   *slog.Logger
	store    coord.Store
	workflow *workflow.Manager
	uploads  *api.UploadService
	notifier notifications.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Role         string
	StoreBackend string
	StoreErr     error
	LockFilePath string
	Proposals    int64
	Reviews      int64
	Workflow     *workflow.StatusSummary
}

// New constructs a daemon. wf may be nil for an API-only node; objects may be
// nil for a node that accepts no uploads.
func New(cfg *config.Config, role string, store coord.Store, objects objectstore.Store, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("daemon requires config and store")
	}
	role = strings.TrimSpace(role)
	if role == "" {
		role = "worker"
	}
	lockPath := filepath.Join(cfg.Logging.Dir, "scribe-"+role+".lock")
	d := &Daemon{
		cfg:      cfg,
		role:     role,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		workflow: wf,
		notifier: notifications.NewService(cfg),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	if objects != nil {
		d.uploads = api.NewUploadService(objects)
	}
	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = srv
	return d, nil
}

// Start acquires the role lock, then launches the workflow and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another scribe %s instance is already running on this host", d.role)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if d.workflow != nil {
		if err := d.workflow.Start(d.ctx); err != nil {
			d.abortStart()
			return fmt.Errorf("start workflow: %w", err)
		}
	}
	if err := d.api.start(d.ctx); err != nil {
		if d.workflow != nil {
			d.workflow.Stop()
		}
		d.abortStart()
		return err
	}

	d.running.Store(true)
	d.logger.Info("scribe daemon started",
		logging.String("role", d.role),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) abortStart() {
	_ = d.lock.Unlock()
	d.cancel()
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	if d.workflow != nil {
		d.workflow.Stop()
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("scribe daemon stopped", logging.String("role", d.role))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Role:         d.role,
		StoreBackend: d.cfg.Store.Backend,
		LockFilePath: d.lockPath,
	}
	if err := d.store.Ping(ctx); err != nil {
		status.StoreErr = err
	} else {
		status.Proposals, _ = d.store.QueueLen(ctx, coord.ProposalQueue)
		status.Reviews, _ = d.store.QueueLen(ctx, coord.ReviewQueue)
	}
	if d.workflow != nil {
		summary := d.workflow.Status(ctx)
		status.Workflow = &summary
	}
	return status
}

// Upload stores a screenshot where discovery will find it.
func (d *Daemon) Upload(ctx context.Context, req api.UploadRequest) (api.UploadResponse, error) {
	if d.uploads == nil {
		return api.UploadResponse{}, services.Wrap(services.ErrConfiguration, "daemon", "upload", "this node accepts no uploads", nil)
	}
	key, kind, err := d.uploads.Upload(ctx, req)
	if err != nil {
		return api.UploadResponse{}, err
	}
	d.logger.Info("screenshot uploaded", logging.Args(append(logging.ItemAttrs(key, string(kind)),
		logging.String(logging.FieldEventType, "upload_stored"))...)...)
	return api.UploadResponse{Key: key, Kind: string(kind)}, nil
}

// SubmitReview queues review notes for the review job.
func (d *Daemon) SubmitReview(ctx context.Context, req api.ReviewRequest) error {
	return review.Enqueue(ctx, d.store, review.Submission{
		Hero:      req.Hero,
		ChannelID: req.ChannelID,
		Message:   req.Message,
	})
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LockPath returns the role lock file path.
func (d *Daemon) LockPath() string {
	return d.lockPath
}

// APIAddr returns the bound API address, or an empty string when the server is
// disabled or not running.
func (d *Daemon) APIAddr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}
