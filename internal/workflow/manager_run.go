package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"scribe/internal/logging"
	"scribe/internal/services"
	"scribe/internal/workitem"
)

// Start launches the pool and every registered job.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.handler == nil && len(m.jobs) == 0 {
		m.mu.Unlock()
		return errors.New("workflow has no handler or jobs configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.started = time.Now()
	jobs := append([]*jobState(nil), m.jobs...)
	workers := 0
	if m.handler != nil {
		workers = m.opts.Workers
	}
	m.wg.Add(len(jobs) + workers)
	m.mu.Unlock()

	for i := 0; i < workers; i++ {
		go m.runWorker(runCtx, i)
	}
	for _, js := range jobs {
		go m.runJob(runCtx, js)
	}
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("workers", workers),
		logging.Int("jobs", len(jobs)),
	)
	return nil
}

// Stop cancels jobs, in-flight items and pending re-attempts, then waits.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Dispatch queues a leased item for the pool without blocking. It returns
// false when the manager is stopped or the backlog is full.
func (m *Manager) Dispatch(ctx context.Context, item workitem.Item) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running || m.handler == nil || ctx.Err() != nil {
		return false
	}
	select {
	case m.items <- dispatched{item: item}:
		m.pending++
		return true
	default:
		m.logger.Debug("dispatch backlog full",
			logging.String(logging.FieldObjectKey, item.Key),
			logging.Int("backlog", cap(m.items)),
		)
		return false
	}
}

// After runs fn once delay has elapsed unless the manager stops first. The
// context passed to fn is cancelled on Stop.
func (m *Manager) After(delay time.Duration, fn func(ctx context.Context)) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	ctx := m.runCtx
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		fn(ctx)
	}()
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-m.items:
			m.markStarted(d.item)
			err := m.execute(ctx, d.item)
			m.markFinished(err)
			if err != nil && ctx.Err() == nil {
				logger.Debug("work item returned error",
					logging.String(logging.FieldObjectKey, d.item.Key),
					logging.String("error_class", services.Class(err)),
					logging.Error(err),
				)
			}
		}
	}
}

func (m *Manager) execute(ctx context.Context, item workitem.Item) error {
	itemCtx, cancel := context.WithCancel(services.WithObjectKey(ctx, item.Key))
	var hb sync.WaitGroup
	if m.heartbeat != nil {
		hb.Add(1)
		go m.heartbeat.StartLoop(itemCtx, &hb, item.Key)
	}
	defer func() {
		cancel()
		hb.Wait()
	}()
	return m.handler(itemCtx, item)
}

func (m *Manager) runJob(ctx context.Context, js *jobState) {
	defer m.wg.Done()
	job := js.job
	logger := m.logger.With(logging.String("job", job.Name))

	if job.Interval <= 0 {
		logger.Warn("job has no interval; not scheduled",
			logging.String(logging.FieldEventType, "job_disabled"),
		)
		m.mu.Lock()
		js.disabled = true
		m.mu.Unlock()
		return
	}

	m.setNextRun(js, time.Now().Add(job.InitialDelay))
	if !sleepContext(ctx, job.InitialDelay) {
		return
	}
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		m.runJobOnce(ctx, js, logger)
		m.setNextRun(js, time.Now().Add(job.Interval))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Manager) runJobOnce(ctx context.Context, js *jobState, logger *slog.Logger) {
	m.mu.Lock()
	js.running = true
	m.mu.Unlock()

	err := js.job.Run(ctx)

	m.mu.Lock()
	js.running = false
	js.runs++
	js.lastRun = time.Now()
	js.lastErr = err
	if err != nil && ctx.Err() == nil {
		m.lastErr = err
	}
	m.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		logger.Warn("job run failed",
			logging.String(logging.FieldEventType, "job_failed"),
			logging.String("error_class", services.Class(err)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the job retries on its next interval"),
		)
	}
}

func (m *Manager) setNextRun(js *jobState, at time.Time) {
	m.mu.Lock()
	js.nextRun = at
	m.mu.Unlock()
}

func (m *Manager) markStarted(item workitem.Item) {
	m.mu.Lock()
	m.pending--
	m.inFlight++
	copy := item
	m.lastItem = &copy
	m.mu.Unlock()
}

func (m *Manager) markFinished(err error) {
	m.mu.Lock()
	m.inFlight--
	m.executed++
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}

func sleepContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
