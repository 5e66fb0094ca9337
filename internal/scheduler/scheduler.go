// Package scheduler drives the periodic queue and sync runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs tickFn on a schedule until stopped. Ticks never overlap:
// a tick that outlasts its slot delays the next one.
type Scheduler struct {
	name      string
	schedule  string
	next      func(time.Time) time.Time
	immediate bool
	tickFn    func(context.Context)
	logger    *zap.Logger

	running atomic.Bool
	ticks   atomic.Int64
	lastRun atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Status is a point-in-time view for operators.
type Status struct {
	Name     string    `json:"name"`
	Schedule string    `json:"schedule"`
	Running  bool      `json:"running"`
	Ticks    int64     `json:"ticks"`
	LastRun  time.Time `json:"lastRun,omitempty"`
}

// New ticks every interval, starting with an immediate tick on Start.
func New(name string, interval time.Duration, tickFn func(context.Context), logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:      name,
		schedule:  "every " + interval.String(),
		next:      func(t time.Time) time.Time { return t.Add(interval) },
		immediate: true,
		tickFn:    tickFn,
		logger:    logger.With(zap.String("job", name)),
		done:      make(chan struct{}),
	}, nil
}

// NewCron ticks on a standard five-field cron spec evaluated in loc.
func NewCron(name, spec string, loc *time.Location, tickFn func(context.Context), logger *zap.Logger) (*Scheduler, error) {
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	if loc == nil {
		loc = time.Local
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return &Scheduler{
		name:     name,
		schedule: spec + " " + loc.String(),
		next:     func(t time.Time) time.Time { return sched.Next(t.In(loc)) },
		tickFn:   tickFn,
		logger:   logger.With(zap.String("job", name)),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		s.logger.Info("scheduler started", zap.String("schedule", s.schedule))

		if s.immediate {
			s.safeTick(ctx)
		}

		for {
			wait := time.Until(s.next(time.Now()))
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.logger.Info("scheduler stopping")
				return
			case <-timer.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	s.logger.Info("scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Status() Status {
	st := Status{
		Name:     s.name,
		Schedule: s.schedule,
		Running:  s.running.Load(),
		Ticks:    s.ticks.Load(),
	}
	if ns := s.lastRun.Load(); ns > 0 {
		st.LastRun = time.Unix(0, ns).UTC()
	}
	return st
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler tick panic recovered", zap.Any("panic", r))
		}
	}()

	start := time.Now()
	s.lastRun.Store(start.UnixNano())
	s.ticks.Add(1)
	s.tickFn(ctx)
	s.logger.Info("scheduler tick completed", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
}
