// Package scheduler runs gated periodic tasks.
//
// Each task owns a goroutine while its gate is open. When the gate closes
// the goroutine's context is cancelled, which also aborts an in-flight
// request, and Update waits for it to exit before returning.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
)

const defaultTickTimeout = 10 * time.Second

// Conditions are the inputs every gate is evaluated against.
type Conditions struct {
	Connected bool
	Running   bool
	Live      bool // the running source is a network camera
}

// Gate decides whether a task should be armed.
type Gate func(Conditions) bool

// Always never closes.
func Always(Conditions) bool { return true }

// WhenConnected opens while the backend is reachable.
func WhenConnected(c Conditions) bool { return c.Connected }

// WhenStreaming opens while the backend is reachable and streaming.
func WhenStreaming(c Conditions) bool { return c.Connected && c.Running }

// Task is one periodic job.
type Task struct {
	Name string
	// Interval returns the cadence under c. Zero disables the task.
	Interval func(c Conditions) time.Duration
	Gate     Gate
	// Timeout bounds each tick; defaults to 10s.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Every returns a constant Interval.
func Every(d time.Duration) func(Conditions) time.Duration {
	return func(Conditions) time.Duration { return d }
}

type armed struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

// Scheduler owns a set of tasks.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  []Task
	armed  map[string]*armed
	cond   Conditions
	closed bool
}

// New creates a scheduler whose tasks derive their contexts from parent.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		armed:  make(map[string]*armed),
	}
}

// Add registers t and arms it immediately if its gate is open under the
// current conditions.
func (s *Scheduler) Add(t Task) error {
	if t.Name == "" || t.Run == nil || t.Interval == nil {
		return fmt.Errorf("scheduler: task needs a name, interval and run func")
	}
	if t.Gate == nil {
		t.Gate = Always
	}
	s.mu.Lock()
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			s.mu.Unlock()
			return fmt.Errorf("scheduler: duplicate task %q", t.Name)
		}
	}
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	s.Update(s.Conditions())
	return nil
}

// Conditions returns the last conditions passed to Update.
func (s *Scheduler) Conditions() Conditions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cond
}

// Update re-evaluates every gate under c. Tasks whose gate opened are armed
// with an immediate first tick; tasks whose gate closed or whose interval
// changed are cancelled and waited for. Update must not be called from a
// task it would cancel.
func (s *Scheduler) Update(c Conditions) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.cond = c
	var stopped []chan struct{}
	for _, t := range s.tasks {
		interval := t.Interval(c)
		want := interval > 0 && t.Gate(c)
		cur, running := s.armed[t.Name]

		if running && (!want || cur.interval != interval) {
			cur.cancel()
			stopped = append(stopped, cur.done)
			delete(s.armed, t.Name)
			logger.Debug("Scheduler", "Disarmed %s", t.Name)
			running = false
		}
		if want && !running {
			s.arm(t, interval)
		}
	}
	s.mu.Unlock()

	for _, done := range stopped {
		<-done
	}
}

// arm must be called with mu held.
func (s *Scheduler) arm(t Task, interval time.Duration) {
	ctx, cancel := context.WithCancel(s.ctx)
	a := &armed{interval: interval, cancel: cancel, done: make(chan struct{})}
	s.armed[t.Name] = a
	logger.Debug("Scheduler", "Armed %s every %v", t.Name, interval)
	go s.loop(ctx, t, a)
}

func (s *Scheduler) loop(ctx context.Context, t Task, a *armed) {
	defer close(a.done)

	s.tick(ctx, t)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, t)
		}
	}
}

// tick runs one iteration. A panic or error is logged and never stops
// the loop.
func (s *Scheduler) tick(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = defaultTickTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Scheduler", "Task %s panicked: %v\n%s", t.Name, r, debug.Stack())
		}
	}()
	if err := t.Run(tctx); err != nil && ctx.Err() == nil {
		logger.Debug("Scheduler", "Task %s failed: %v", t.Name, err)
	}
}

// Active returns the names of armed tasks, sorted.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.armed))
	for name := range s.armed {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close cancels every task and waits for all of them to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var done []chan struct{}
	for name, a := range s.armed {
		done = append(done, a.done)
		delete(s.armed, name)
	}
	s.mu.Unlock()

	s.cancel()
	for _, d := range done {
		<-d
	}
}
