package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sourceMonitor/internal/core/domain"
)

// CycleFunc runs one monitoring cycle.
type CycleFunc func(ctx context.Context, deep bool) (*domain.RunReport, error)

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	// DeepDiff applies to scheduled cycles; RunNow picks its own mode.
	DeepDiff bool
	// RunOnStart runs a cycle as soon as Start is called.
	RunOnStart bool
	Now        func() time.Time
	Logger     *slog.Logger
}

// Scheduler triggers cycles on an interval and on demand, never more than
// one at a time.
//
// runSlot is the run lock: a cycle holds its single slot for its whole
// duration. mu only guards the fields below it and is never held while a
// cycle runs, so Status does not block.
type Scheduler struct {
	cycle CycleFunc
	base  context.Context
	opts  SchedulerOptions
	log   *slog.Logger

	runSlot chan struct{}

	mu        sync.Mutex
	state     domain.SchedulerState
	interval  time.Duration
	cancel    context.CancelFunc
	inFlight  bool
	lastRunAt *time.Time
	nextRunAt *time.Time
	lastError string
}

// NewScheduler creates a stopped scheduler. Cycles run under base, so they
// end only when base does, never because of Stop.
func NewScheduler(base context.Context, cycle CycleFunc, opts SchedulerOptions) *Scheduler {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		cycle:   cycle,
		base:    base,
		opts:    opts,
		log:     log,
		runSlot: make(chan struct{}, 1),
		state:   domain.SchedulerStopped,
	}
}

// Start begins periodic cycles. Calling it while running is a no-op.
func (s *Scheduler) Start(interval time.Duration) error {
	if interval <= 0 {
		return domain.ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SchedulerRunning {
		s.log.Warn("scheduler already running", "interval", s.interval)
		return nil
	}
	ctx, cancel := context.WithCancel(s.base)
	s.state = domain.SchedulerRunning
	s.interval = interval
	s.cancel = cancel
	next := s.opts.Now().Add(interval)
	s.nextRunAt = &next

	go s.loop(ctx, interval)
	s.log.Info("scheduler started", "interval", interval, "run_on_start", s.opts.RunOnStart)
	return nil
}

// Stop cancels future cycles. A cycle in flight runs to completion.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == domain.SchedulerStopped {
		return
	}
	s.cancel()
	s.cancel = nil
	s.state = domain.SchedulerStopped
	s.nextRunAt = nil
	s.log.Info("scheduler stopped")
}

// RunNow runs one cycle immediately. It returns domain.ErrBusy without
// doing anything when another cycle is in flight.
func (s *Scheduler) RunNow(ctx context.Context, deep bool) (*domain.RunReport, error) {
	return s.tryRun(ctx, deep, nil)
}

// Drain stops the scheduler and waits for an in-flight cycle to finish.
func (s *Scheduler) Drain(ctx context.Context) error {
	s.Stop()
	select {
	case s.runSlot <- struct{}{}:
		<-s.runSlot
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports the scheduler state without waiting for a running cycle.
func (s *Scheduler) Status() domain.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.SchedulerStatus{
		State:     s.state,
		Running:   s.state == domain.SchedulerRunning,
		InFlight:  s.inFlight,
		Interval:  s.interval,
		LastRunAt: copyTime(s.lastRunAt),
		NextRunAt: copyTime(s.nextRunAt),
		LastError: s.lastError,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration) {
	if s.opts.RunOnStart {
		s.scheduled(ctx, interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			s.scheduled(ctx, interval)
		}
	}
}

func (s *Scheduler) scheduled(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	if ctx.Err() == nil {
		next := s.opts.Now().Add(interval)
		s.nextRunAt = &next
	}
	s.mu.Unlock()

	_, err := s.tryRun(s.base, s.opts.DeepDiff, ctx)
	switch {
	case errors.Is(err, domain.ErrBusy):
		s.log.Info("scheduled cycle skipped, another cycle is running")
	case errors.Is(err, errStopped):
		s.log.Info("scheduled cycle skipped, scheduler stopped")
	}
}

var errStopped = errors.New("scheduler stopped")

// tryRun takes the run slot and runs one cycle under ctx. When loop is
// non-nil the cycle is skipped if loop has ended by the time the slot is
// held; the check shares a lock with Stop, so a cycle either starts before
// Stop or not at all.
func (s *Scheduler) tryRun(ctx context.Context, deep bool, loop context.Context) (*domain.RunReport, error) {
	select {
	case s.runSlot <- struct{}{}:
	default:
		return nil, domain.ErrBusy
	}
	defer func() { <-s.runSlot }()

	s.mu.Lock()
	if loop != nil && loop.Err() != nil {
		s.mu.Unlock()
		return nil, errStopped
	}
	s.inFlight = true
	s.mu.Unlock()

	report, err := s.cycle(ctx, deep)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	finished := s.opts.Now()
	s.lastRunAt = &finished
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
		s.log.Error("monitoring cycle failed", "err", err)
	}
	return report, err
}
