// Package scheduler runs the trading day's wall-clock jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"nifty-paper-terminal/internal/config"
	"nifty-paper-terminal/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrSkipped is returned by a handler that had nothing to do.
var ErrSkipped = errors.New("scheduler: job skipped")

// Status is the outcome of a task's last run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// jobTimeout bounds a single run.
const jobTimeout = 2 * time.Minute

// Handler is the work of one job.
type Handler func(ctx context.Context) error

// Task is a registered job and its last outcome.
type Task struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Status   Status    `json:"status"`
	LastRun  time.Time `json:"last_run,omitempty"`
	NextRun  time.Time `json:"next_run,omitempty"`
	Error    string    `json:"error,omitempty"`

	entryID cron.EntryID
	handler Handler
}

// Scheduler manages the named cron jobs.
type Scheduler struct {
	cron    *cron.Cron
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu      sync.RWMutex
	tasks   map[string]*Task
	order   []string
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// New creates a scheduler evaluating schedules in loc.
func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	logger = logger.Named("scheduler")
	cl := cronLogger{s: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		tasks:  make(map[string]*Task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithMetrics attaches a metrics recorder.
func (s *Scheduler) WithMetrics(m *metrics.Metrics) *Scheduler {
	s.metrics = m
	return s
}

// DailySpec turns an HH:MM time into a weekday cron schedule.
func DailySpec(hhmm string) (string, error) {
	h, m, err := config.ParseClock(hhmm)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * MON-FRI", m, h), nil
}

// Add registers a named job.
func (s *Scheduler) Add(name, schedule string, h Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("job %s already registered", name)
	}

	task := &Task{Name: name, Schedule: schedule, Status: StatusPending, handler: h}
	id, err := s.cron.AddFunc(schedule, func() { s.run(task) })
	if err != nil {
		return fmt.Errorf("failed to add cron job %s: %w", name, err)
	}
	task.entryID = id
	s.tasks[name] = task
	s.order = append(s.order, name)
	return nil
}

// RunNow runs a job immediately, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("job not found: %s", name)
	}
	return s.run(task)
}

func (s *Scheduler) run(task *Task) error {
	s.mu.Lock()
	task.Status = StatusRunning
	task.LastRun = time.Now()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()
	err := task.handler(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case err == nil:
		task.Status = StatusCompleted
		task.Error = ""
		s.logger.Info("Job completed", zap.String("job", task.Name))
	case errors.Is(err, ErrSkipped):
		task.Status = StatusSkipped
		task.Error = ""
		s.logger.Debug("Job skipped", zap.String("job", task.Name), zap.Error(err))
		err = nil
	default:
		task.Status = StatusFailed
		task.Error = err.Error()
		s.logger.Error("Job failed", zap.String("job", task.Name), zap.Error(err))
	}
	s.metrics.SchedulerRun(task.Name, string(task.Status))
	return err
}

// Start starts the cron loop. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Strings("jobs", s.order))
}

// Stop stops the cron loop and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	<-done.Done()
	s.logger.Info("Scheduler stopped")
}

// Close stops the scheduler and cancels jobs still in flight.
func (s *Scheduler) Close() {
	s.cancel()
	s.Stop()
}

// Running reports whether the cron loop is active.
func (s *Scheduler) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Tasks lists the jobs in registration order.
func (s *Scheduler) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Task, 0, len(s.order))
	for _, name := range s.order {
		t := *s.tasks[name]
		if s.running {
			t.NextRun = s.cron.Entry(t.entryID).Next
		}
		out = append(out, t)
	}
	return out
}
