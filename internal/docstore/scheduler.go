package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler consumes a scheduled continuation payload.
type Handler func(ctx context.Context, payload []byte) error

// Scheduler is the deferred-work collaborator: it runs a registered
// handler with an opaque payload after a delay. Retry policy belongs
// to the scheduler, not the engine; the engine only requires that a
// re-delivered payload is safe to re-run.
type Scheduler interface {
	RunAfter(ctx context.Context, delay time.Duration, handle string, payload []byte) error
}

// Registry maps continuation handles to handlers. Handlers register
// once at startup, before any mutation schedules work.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handle to a handler. Re-registering a handle
// replaces the previous handler.
func (r *Registry) Register(handle string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[handle] = h
}

// Lookup returns the handler for a handle, or nil.
func (r *Registry) Lookup(handle string) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handlers[handle]
}

// TimerScheduler runs continuations in-process on wall-clock timers.
//
// Continuation failures are logged with the handle, never swallowed
// and never retried; a production deployment substitutes a durable
// scheduler behind the same interface.
type TimerScheduler struct {
	registry *Registry
	log      *slog.Logger

	mu      sync.Mutex
	pending sync.WaitGroup
	timers  []*time.Timer
	closed  bool
}

var _ Scheduler = (*TimerScheduler)(nil)

// NewTimerScheduler creates a scheduler dispatching to the registry.
func NewTimerScheduler(registry *Registry, log *slog.Logger) *TimerScheduler {
	if log == nil {
		log = slog.Default()
	}
	return &TimerScheduler{registry: registry, log: log}
}

// RunAfter schedules a continuation. The handle must already be
// registered; scheduling against an unknown handle fails immediately
// rather than at fire time.
func (s *TimerScheduler) RunAfter(ctx context.Context, delay time.Duration, handle string, payload []byte) error {
	if s.registry.Lookup(handle) == nil {
		return fmt.Errorf("schedule %q: no handler registered", handle)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("schedule %q: scheduler closed", handle)
	}

	s.pending.Add(1)
	timer := time.AfterFunc(delay, func() {
		defer s.pending.Done()
		handler := s.registry.Lookup(handle)
		if handler == nil {
			s.log.Error("continuation handler unregistered", "handle", handle)
			return
		}
		if err := handler(context.Background(), payload); err != nil {
			s.log.Error("continuation failed", "handle", handle, "error", err)
		}
	})
	s.timers = append(s.timers, timer)
	return nil
}

// Close stops accepting work and waits for in-flight continuations.
// Timers that have not fired yet are cancelled.
func (s *TimerScheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, t := range s.timers {
		if t.Stop() {
			s.pending.Done()
		}
	}
	s.mu.Unlock()
	s.pending.Wait()
}

// Wait blocks until every scheduled continuation has run. Test helper.
func (s *TimerScheduler) Wait() {
	s.pending.Wait()
}
