package bayeux

import (
	"sync"
	"time"
)

// Handle is a cancellable reference to one scheduled action.
type Handle struct {
	timer     *time.Timer
	scheduler *Scheduler
}

// Cancel stops the pending action if it has not yet fired. It is safe to
// call Cancel more than once or after the action has already run.
func (h *Handle) Cancel() bool {
	if h == nil {
		return false
	}
	if h.scheduler != nil {
		h.scheduler.forget(h)
	}
	return h.timer.Stop()
}

// Scheduler runs single-shot actions after a delay and tracks every
// outstanding handle so Shutdown can cancel them all at once. A Scheduler may
// be shared across many sessions; each SessionEngine owns one only if none
// was injected, and shuts it down on terminate.
type Scheduler struct {
	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewScheduler constructs an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{handles: make(map[*Handle]struct{})}
}

// Schedule arms action to run after delay, returning a cancellable handle.
func (s *Scheduler) Schedule(delay time.Duration, action func()) *Handle {
	h := &Handle{scheduler: s}
	s.mu.Lock()
	s.handles[h] = struct{}{}
	s.mu.Unlock()
	h.timer = time.AfterFunc(delay, func() {
		s.forget(h)
		action()
	})
	return h
}

func (s *Scheduler) forget(h *Handle) {
	s.mu.Lock()
	delete(s.handles, h)
	s.mu.Unlock()
}

// Shutdown cancels every outstanding handle. It is idempotent.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	handles := s.handles
	s.handles = make(map[*Handle]struct{})
	s.mu.Unlock()
	for h := range handles {
		h.timer.Stop()
	}
}

// replacingSlot enforces "at most one pending action" for a single logical
// timer (e.g. the next handshake or connect attempt): arming a new action
// always cancels whatever was previously armed in the slot.
type replacingSlot struct {
	mu        sync.Mutex
	scheduler *Scheduler
	current   *Handle
}

func newReplacingSlot(scheduler *Scheduler) *replacingSlot {
	return &replacingSlot{scheduler: scheduler}
}

func (r *replacingSlot) arm(delay time.Duration, action func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Cancel()
	}
	r.current = r.scheduler.Schedule(delay, action)
}

func (r *replacingSlot) cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.current.Cancel()
		r.current = nil
	}
}
