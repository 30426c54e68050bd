package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
)

// TaskState represents the internal execution state of a queued task
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskRetrying  TaskState = "retrying"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskRevoked   TaskState = "revoked"
)

// TaskFunc is the unit of work a task executes
type TaskFunc func(ctx context.Context, task *TaskHandle) error

// TaskHandle tracks one enqueued unit of work
type TaskHandle struct {
	ID          string
	BacktestID  string
	State       TaskState
	LastError   string
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	barsDone  int
	barsTotal int
	attempt   int
	fn        TaskFunc
	cancel    context.CancelFunc
	mu        sync.Mutex
}

// Attempt returns the zero-based index of the current execution attempt
func (t *TaskHandle) Attempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// SetProgress records bar counts from inside a running task
func (t *TaskHandle) SetProgress(done, total int) {
	t.mu.Lock()
	t.barsDone = done
	t.barsTotal = total
	t.mu.Unlock()
}

// Progress returns the bar counters recorded so far
func (t *TaskHandle) Progress() (done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.barsDone, t.barsTotal
}

func (t *TaskHandle) setState(s TaskState) {
	t.mu.Lock()
	t.State = s
	t.mu.Unlock()
}

// CurrentState returns the task state under the handle lock
func (t *TaskHandle) CurrentState() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// CompletedTime returns when the task reached a terminal state, zero while
// it is still queued or running
func (t *TaskHandle) CompletedTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CompletedAt
}

// Queue runs backtest tasks on a fixed worker pool with bounded retry
type Queue struct {
	tasks      chan *TaskHandle
	workers    int
	maxRetries int
	baseWait   time.Duration
	logger     *logging.Logger

	mu      sync.RWMutex
	byID    map[string]*TaskHandle
	wg      sync.WaitGroup
	baseCtx context.Context
	stop    context.CancelFunc
	started bool
}

// NewQueue creates a queue with the given pool size and retry policy
func NewQueue(workers, size, maxRetries int, baseWait time.Duration, logger *logging.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	return &Queue{
		tasks:      make(chan *TaskHandle, size),
		workers:    workers,
		maxRetries: maxRetries,
		baseWait:   baseWait,
		logger:     logger,
		byID:       make(map[string]*TaskHandle),
	}
}

// Start launches the worker pool
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.baseCtx, q.stop = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
}

// Stop cancels all running tasks and waits for the workers to drain
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.stop()
	close(q.tasks)
	q.started = false
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a task for the given backtest. It fails fast with
// ErrCodeQueueFull when the queue has no room.
func (q *Queue) Enqueue(backtestID string, fn TaskFunc) (*TaskHandle, error) {
	task := &TaskHandle{
		ID:         uuid.New().String(),
		BacktestID: backtestID,
		State:      TaskQueued,
		CreatedAt:  time.Now(),
		fn:         fn,
	}

	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeInternal, "queue not started", nil)
	}
	select {
	case q.tasks <- task:
		q.byID[task.ID] = task
		q.mu.Unlock()
		return task, nil
	default:
		q.mu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeQueueFull, "task queue is full", nil)
	}
}

// Depth returns the number of tasks waiting for a worker
func (q *Queue) Depth() int {
	return len(q.tasks)
}

// Get returns the handle for a task id
func (q *Queue) Get(taskID string) (*TaskHandle, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	task, ok := q.byID[taskID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, "task %s not found", taskID)
	}
	return task, nil
}

// Revoke cancels a task. A queued task never runs; a running task is
// signalled through its context. Finished tasks are left untouched.
func (q *Queue) Revoke(taskID string) error {
	task, err := q.Get(taskID)
	if err != nil {
		return err
	}

	task.mu.Lock()
	defer task.mu.Unlock()
	switch task.State {
	case TaskQueued:
		task.State = TaskRevoked
	case TaskRunning, TaskRetrying:
		task.State = TaskRevoked
		if task.cancel != nil {
			task.cancel()
		}
	}
	return nil
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for task := range q.tasks {
		if task.CurrentState() == TaskRevoked {
			continue
		}
		q.process(task)
	}
}

func (q *Queue) process(task *TaskHandle) {
	ctx, cancel := context.WithCancel(q.baseCtx)
	task.mu.Lock()
	task.cancel = cancel
	task.State = TaskRunning
	task.StartedAt = time.Now()
	task.mu.Unlock()
	defer cancel()

	var err error
	for attempt := 0; ; attempt++ {
		task.mu.Lock()
		task.attempt = attempt
		task.mu.Unlock()

		err = task.fn(ctx, task)
		if err == nil {
			task.mu.Lock()
			// A revoked task may still return nil; keep the revoked state
			if task.State != TaskRevoked {
				task.State = TaskSucceeded
			}
			task.CompletedAt = time.Now()
			task.mu.Unlock()
			return
		}

		task.mu.Lock()
		task.LastError = err.Error()
		revoked := task.State == TaskRevoked
		task.mu.Unlock()

		if revoked || ctx.Err() != nil {
			task.mu.Lock()
			task.CompletedAt = time.Now()
			task.mu.Unlock()
			return
		}
		if attempt >= q.maxRetries || !apperrors.IsRetryable(err) {
			break
		}

		task.setState(TaskRetrying)
		wait := q.baseWait << attempt
		q.logger.WithFields(logging.Fields{
			"task_id":  task.ID,
			"backtest": task.BacktestID,
			"attempt":  attempt + 1,
			"wait":     wait.String(),
		}).Warn("task failed, retrying")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			task.mu.Lock()
			task.CompletedAt = time.Now()
			task.mu.Unlock()
			return
		}
		task.setState(TaskRunning)
	}

	task.mu.Lock()
	task.State = TaskFailed
	task.CompletedAt = time.Now()
	task.mu.Unlock()
	q.logger.WithFields(logging.Fields{
		"task_id":  task.ID,
		"backtest": task.BacktestID,
	}).WithError(err).Error("task failed permanently")
}
