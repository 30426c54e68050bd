package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/RitaChen0/QuantLab-sub000/internal/backtest"
	"github.com/RitaChen0/QuantLab-sub000/internal/config"
	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
	"github.com/RitaChen0/QuantLab-sub000/internal/market/kline"
	"github.com/RitaChen0/QuantLab-sub000/internal/monitoring"
	"github.com/RitaChen0/QuantLab-sub000/internal/strategy/dsl"
)

// Manager owns the async execution lifecycle of backtests: submission,
// worker handoff, status transitions, cancellation, polling and lease
// recovery. All status writes flow through the state machine.
type Manager struct {
	repo    Repository
	lease   *LeaseService
	queue   *Queue
	loader  *kline.Loader
	cfg     config.BacktestConfig
	metrics *monitoring.Metrics
	logger  *logging.Logger
	cron    *cron.Cron
}

// NewManager wires the lifecycle manager
func NewManager(repo Repository, lease *LeaseService, queue *Queue, loader *kline.Loader, cfg config.BacktestConfig, metrics *monitoring.Metrics, logger *logging.Logger) *Manager {
	return &Manager{
		repo:    repo,
		lease:   lease,
		queue:   queue,
		loader:  loader,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// Start launches the worker pool and the lease reaper
func (m *Manager) Start(ctx context.Context) error {
	m.queue.Start(ctx)

	m.cron = cron.New()
	spec := m.cfg.ReaperSpec
	if spec == "" {
		spec = "@every 1m"
	}
	if _, err := m.cron.AddFunc(spec, func() { m.reapExpired(context.Background()) }); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "reaper schedule invalid")
	}
	m.cron.Start()
	return nil
}

// Stop drains the workers and stops the reaper
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
	m.queue.Stop()
}

// Submit validates a pending backtest and hands it to the worker pool.
// The strategy source is validated synchronously so unsafe code never
// reaches a worker. Returns the task id to poll.
func (m *Manager) Submit(ctx context.Context, id string) (string, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if b.Status != StatusPending {
		return "", apperrors.Newf(apperrors.ErrCodeConflict,
			"backtest is %s and cannot be submitted", b.Status)
	}
	if err := b.ValidateRequest(); err != nil {
		return "", err
	}
	if err := dsl.Validate(b.StrategySource); err != nil {
		return "", err
	}

	token, ok, err := m.lease.Acquire(ctx, id)
	if err != nil {
		return "", err
	}
	if !ok {
		m.metrics.RecordLeaseConflict()
		return "", apperrors.New(apperrors.ErrCodeConflict, "backtest is already executing", nil)
	}

	task, err := m.queue.Enqueue(id, func(taskCtx context.Context, task *TaskHandle) error {
		return m.run(taskCtx, id, token, task)
	})
	if err != nil {
		if releaseErr := m.lease.Release(ctx, id, token); releaseErr != nil {
			m.logger.WithField("backtest", id).WithError(releaseErr).Warn("lease release after enqueue failure")
		}
		return "", err
	}

	if err := m.repo.UpdateStatus(ctx, id, StatusRunning, "", task.ID); err != nil {
		_ = m.queue.Revoke(task.ID)
		if releaseErr := m.lease.Release(ctx, id, token); releaseErr != nil {
			m.logger.WithField("backtest", id).WithError(releaseErr).Warn("lease release after status failure")
		}
		return "", err
	}

	m.metrics.SetQueueDepth(float64(m.queue.Depth()))
	m.logger.WithFields(logging.Fields{"backtest": id, "task_id": task.ID}).Info("backtest submitted")
	return task.ID, nil
}

// run executes one backtest end to end. Terminal exits release the lease;
// a transient failure keeps it, renews the TTL and bubbles the error up so
// the queue retries under the same lease.
func (m *Manager) run(ctx context.Context, id, token string, task *TaskHandle) error {
	started := time.Now()
	release := func() {
		if err := m.lease.Release(context.Background(), id, token); err != nil {
			m.logger.WithField("backtest", id).WithError(err).Warn("lease release failed")
		}
	}
	retry := func(err error) error {
		// Out of attempts: close the record here instead of leaking the
		// lease until the reaper notices
		if task.Attempt() >= m.cfg.MaxRetries {
			m.finish(id, StatusFailed, sanitize(err), started)
			release()
			return err
		}
		if _, renewErr := m.lease.Renew(context.Background(), id, token); renewErr != nil {
			m.logger.WithField("backtest", id).WithError(renewErr).Warn("lease renew failed")
		}
		return err
	}

	b, err := m.repo.Get(ctx, id)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return retry(err)
		}
		m.finish(id, StatusFailed, sanitize(err), started)
		release()
		return nil
	}

	result, err := m.execute(ctx, b, task)
	if err != nil {
		if ctx.Err() != nil {
			m.finish(id, StatusCancelled, "", started)
			release()
			return nil
		}
		if apperrors.IsRetryable(err) {
			return retry(err)
		}
		m.finish(id, StatusFailed, sanitize(err), started)
		release()
		return nil
	}

	if err := m.repo.SaveResult(context.Background(), id, result); err != nil {
		if apperrors.IsRetryable(err) {
			return retry(err)
		}
		m.logger.WithField("backtest", id).WithError(err).Error("result save failed")
		m.finish(id, StatusFailed, "failed to persist results", started)
		release()
		return nil
	}

	release()
	m.metrics.RecordRun(string(StatusCompleted), time.Since(started))
	m.metrics.AddBarsProcessed(len(result.Equity))
	m.logger.WithFields(logging.Fields{
		"backtest": id,
		"trades":   len(result.Trades),
		"duration": time.Since(started).String(),
	}).Info("backtest completed")
	return nil
}

// execute performs load, compile and simulation for one record
func (m *Manager) execute(ctx context.Context, b *Backtest, task *TaskHandle) (*backtest.Result, error) {
	series, err := m.loader.Load(ctx, b.Symbol, b.StartTime, b.EndTime, b.Interval)
	if err != nil {
		return nil, err
	}
	if series.Clipped {
		m.logger.WithFields(logging.Fields{
			"backtest": b.ID,
			"start":    series.EffectiveStart,
			"end":      series.EffectiveEnd,
		}).Info("requested range clipped to stored data")
	}

	strategy, err := dsl.Compile(b.StrategySource, b.Params)
	if err != nil {
		return nil, err
	}

	engine := backtest.NewEngine(backtest.Config{
		Symbol:         b.Symbol,
		InitialCapital: b.InitialCapital,
		CommissionRate: b.CommissionRate,
		MinCommission:  b.MinCommission,
		TaxRate:        b.TaxRate,
		SlippageRate:   b.SlippageRate,
	}, strategy)
	engine.OnProgress(task.SetProgress)

	return engine.Run(ctx, series.Bars, b.Params)
}

// finish records a terminal status, tolerating races where another path
// already closed the record
func (m *Manager) finish(id string, status Status, message string, started time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := m.repo.UpdateStatus(ctx, id, status, message, ""); err != nil {
		if !apperrors.Is(err, apperrors.ErrCodeConflict) {
			m.logger.WithField("backtest", id).WithError(err).Error("status update failed")
		}
		return
	}
	m.metrics.RecordRun(string(status), time.Since(started))
	m.metrics.SetQueueDepth(float64(m.queue.Depth()))
}

// Cancel stops a pending or running backtest. Terminal states conflict.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !b.Status.CanTransitionTo(StatusCancelled) {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"backtest is already %s", statusPhrase(b.Status))
	}

	if b.TaskID != "" {
		if err := m.queue.Revoke(b.TaskID); err != nil && !apperrors.Is(err, apperrors.ErrCodeNotFound) {
			return err
		}
	}

	// A PENDING record cancels immediately; a RUNNING one is also marked
	// here so the caller observes CANCELLED without waiting for the worker
	if err := m.repo.UpdateStatus(ctx, id, StatusCancelled, "", ""); err != nil {
		return err
	}
	m.logger.WithField("backtest", id).Info("backtest cancelled")
	return nil
}

func statusPhrase(s Status) string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return string(s)
	}
}

// PollResult represents the externally visible state of a run
type PollResult struct {
	BacktestID string  `json:"backtest_id"`
	TaskID     string  `json:"task_id"`
	Status     Status  `json:"status"`
	BarsDone   int     `json:"bars_done"`
	BarsTotal  int     `json:"bars_total"`
	Progress   float64 `json:"progress"`
	Warning    string  `json:"warning,omitempty"`
}

// Poll reports run progress, reconciling the live task state against the
// persisted status. A persisted terminal status always wins.
func (m *Manager) Poll(ctx context.Context, id, taskID string) (*PollResult, error) {
	b, err := m.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &PollResult{BacktestID: id, TaskID: taskID, Status: b.Status}

	task, err := m.queue.Get(taskID)
	if err != nil {
		// Task evicted or process restarted, the record is authoritative
		return out, nil
	}

	done, total := task.Progress()
	out.BarsDone = done
	out.BarsTotal = total
	if total > 0 {
		out.Progress = float64(done) / float64(total) * 100
	}

	if !b.Status.IsTerminal() {
		out.Status = taskStatus(task.CurrentState())
	}

	if state := task.CurrentState(); (state == TaskRunning || state == TaskRetrying) &&
		m.cfg.SoftTimeout > 0 && !task.StartedAt.IsZero() &&
		time.Since(task.StartedAt) > m.cfg.SoftTimeout {
		out.Warning = fmt.Sprintf("run time exceeds soft limit of %s", m.cfg.SoftTimeout)
	}

	return out, nil
}

// taskStatus maps internal task states to the external status vocabulary
func taskStatus(state TaskState) Status {
	switch state {
	case TaskQueued:
		return StatusPending
	case TaskRunning, TaskRetrying:
		return StatusRunning
	case TaskSucceeded:
		return StatusCompleted
	case TaskFailed:
		return StatusFailed
	case TaskRevoked:
		return StatusCancelled
	default:
		return StatusPending
	}
}

// reapExpired fails RUNNING backtests whose lease has expired, which
// happens when a worker died without releasing it
func (m *Manager) reapExpired(ctx context.Context) {
	running, err := m.repo.ListByStatus(ctx, StatusRunning)
	if err != nil {
		m.logger.WithError(err).Error("reaper list failed")
		return
	}

	for _, b := range running {
		held, err := m.lease.Held(ctx, b.ID)
		if err != nil {
			m.logger.WithField("backtest", b.ID).WithError(err).Warn("reaper lease lookup failed")
			continue
		}
		if held {
			continue
		}
		if err := m.repo.UpdateStatus(ctx, b.ID, StatusFailed, "worker lost", ""); err != nil {
			if !apperrors.Is(err, apperrors.ErrCodeConflict) {
				m.logger.WithField("backtest", b.ID).WithError(err).Error("reaper status update failed")
			}
			continue
		}
		m.metrics.RecordRun(string(StatusFailed), 0)
		m.logger.WithField("backtest", b.ID).Warn("reaped backtest with expired lease")
	}
}

// sanitize maps an internal error to a short summary safe to persist and
// show to the owner. Raw error text never leaves the process.
func sanitize(err error) string {
	appErr := apperrors.AsAppError(err)
	if appErr == nil {
		return "internal error during execution"
	}
	switch appErr.Code {
	case apperrors.ErrCodeDataUnavailable:
		return "no market data available for the requested range"
	case apperrors.ErrCodeDataInvalid:
		return "market data for the requested range is invalid"
	case apperrors.ErrCodeValidation:
		return "request parameters failed validation"
	case apperrors.ErrCodeUnsafeCode:
		return "strategy source failed the safety check"
	case apperrors.ErrCodeInvalidStrategy:
		return "strategy could not be compiled"
	case apperrors.ErrCodeExecution:
		return "strategy raised an error during simulation"
	case apperrors.ErrCodeTimeout:
		return "execution exceeded the time limit"
	default:
		return "internal error during execution"
	}
}
