package bayeux

import (
	"sync"
	"sync/atomic"
	"time"
)

// StateTag names one of the eight session lifecycle states.
type StateTag int

const (
	TagDisconnected StateTag = iota
	TagHandshaking
	TagRehandshaking
	TagConnecting
	TagConnected
	TagUnconnected
	TagDisconnecting
	TagTerminating
)

func (t StateTag) String() string {
	switch t {
	case TagDisconnected:
		return "DISCONNECTED"
	case TagHandshaking:
		return "HANDSHAKING"
	case TagRehandshaking:
		return "REHANDSHAKING"
	case TagConnecting:
		return "CONNECTING"
	case TagConnected:
		return "CONNECTED"
	case TagUnconnected:
		return "UNCONNECTED"
	case TagDisconnecting:
		return "DISCONNECTING"
	case TagTerminating:
		return "TERMINATING"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions is the fixed transition graph from spec section 4.1.
var legalTransitions = map[StateTag]map[StateTag]bool{
	TagDisconnected:  set(TagHandshaking),
	TagHandshaking:   set(TagConnecting, TagRehandshaking, TagTerminating),
	TagRehandshaking: set(TagConnecting, TagRehandshaking, TagTerminating),
	TagConnecting:    set(TagConnected, TagUnconnected, TagRehandshaking, TagDisconnecting, TagTerminating),
	TagConnected:     set(TagConnected, TagUnconnected, TagRehandshaking, TagDisconnecting, TagTerminating),
	TagUnconnected:   set(TagConnected, TagUnconnected, TagRehandshaking, TagTerminating),
	TagDisconnecting: set(TagTerminating),
	TagTerminating:   set(TagDisconnected),
}

// impliedBy captures the "implies" relation used by WaitFor: being in the key
// tag also satisfies a wait for any tag in the value set.
var impliedBy = map[StateTag][]StateTag{
	TagConnecting:   {TagHandshaking},
	TagConnected:    {TagHandshaking, TagConnecting},
	TagTerminating:  {TagDisconnecting},
	TagDisconnected: {TagDisconnecting, TagTerminating},
}

func set(tags ...StateTag) map[StateTag]bool {
	m := make(map[StateTag]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// CanTransitionTo reports whether s -> next is a legal edge in the graph.
func (t StateTag) CanTransitionTo(next StateTag) bool {
	return legalTransitions[t][next]
}

// Implies reports whether being in tag t satisfies a WaitFor(target).
func (t StateTag) Implies(target StateTag) bool {
	if t == target {
		return true
	}
	for _, implied := range impliedBy[t] {
		if implied == target {
			return true
		}
	}
	return false
}

// stateContext is the per-variant payload every SessionState carries.
type stateContext struct {
	transport          Transport
	clientID           string
	advice             *Advice
	backoff            int64
	handshakeFields    map[string]interface{}
	handshakeCallback  Callback
	disconnectCallback Callback
	unconnectSince     time.Time
	abort              bool
}

// SessionState is the tagged-union session state: one concrete type per tag,
// all sharing stateContext for the fields spec section 3 says every state
// carries, with the tag-specific ones (backoff, unconnectSince, abort)
// meaningful only on the variants that use them.
type SessionState interface {
	Tag() StateTag
	Context() stateContext
}

type disconnectedState struct{ stateContext }
type handshakingState struct{ stateContext }
type rehandshakingState struct{ stateContext }
type connectingState struct{ stateContext }
type connectedState struct{ stateContext }
type unconnectedState struct{ stateContext }
type disconnectingState struct{ stateContext }
type terminatingState struct{ stateContext }

func (s disconnectedState) Tag() StateTag   { return TagDisconnected }
func (s handshakingState) Tag() StateTag    { return TagHandshaking }
func (s rehandshakingState) Tag() StateTag  { return TagRehandshaking }
func (s connectingState) Tag() StateTag     { return TagConnecting }
func (s connectedState) Tag() StateTag      { return TagConnected }
func (s unconnectedState) Tag() StateTag    { return TagUnconnected }
func (s disconnectingState) Tag() StateTag  { return TagDisconnecting }
func (s terminatingState) Tag() StateTag    { return TagTerminating }

func (s disconnectedState) Context() stateContext  { return s.stateContext }
func (s handshakingState) Context() stateContext   { return s.stateContext }
func (s rehandshakingState) Context() stateContext { return s.stateContext }
func (s connectingState) Context() stateContext    { return s.stateContext }
func (s connectedState) Context() stateContext     { return s.stateContext }
func (s unconnectedState) Context() stateContext   { return s.stateContext }
func (s disconnectingState) Context() stateContext { return s.stateContext }
func (s terminatingState) Context() stateContext   { return s.stateContext }

// stateBox is the single concrete pointee type stored in the atomic cell, so
// the interface-valued SessionState can be swapped atomically.
type stateBox struct{ state SessionState }

// TransitionFunc inspects the current state and proposes a next one. Return
// changed=false to mean "no change" (the sentinel outcome from spec 4.1).
type TransitionFunc func(current SessionState) (next SessionState, changed bool)

// EnterHook fires once, after a successful swap that also changes the state
// tag.
type EnterHook func(prev StateTag, next SessionState)

// RunHook fires on every successful swap, tag-changing or not.
type RunHook func(next SessionState, tagChanged bool)

// StateMachine executes atomic transitions over the fixed state graph. All
// mutation happens via Update's compare-and-swap loop; WaitFor is the only
// blocking operation.
type StateMachine struct {
	cell             atomic.Pointer[stateBox]
	updatersInFlight atomic.Int64

	mu      sync.Mutex
	waiters []chan struct{}
}

// NewStateMachine constructs a machine starting in DISCONNECTED.
func NewStateMachine() *StateMachine {
	sm := &StateMachine{}
	sm.cell.Store(&stateBox{state: disconnectedState{}})
	return sm
}

// Current returns the current state. Safe for concurrent use.
func (sm *StateMachine) Current() SessionState {
	return sm.cell.Load().state
}

// Update atomically proposes a transition, retrying on CAS contention and
// rejecting (without retry) proposals the legality graph forbids. On success
// it fires onEnter (if the tag changed) then onRun, both before returning, so
// callers observing the returned state have already seen their side effects
// take or not take effect downstream.
func (sm *StateMachine) Update(propose TransitionFunc, onEnter EnterHook, onRun RunHook) (applied bool, result SessionState, err error) {
	for {
		box := sm.cell.Load()
		cur := box.state
		next, changed := propose(cur)
		if !changed {
			return false, cur, nil
		}
		if !cur.Tag().CanTransitionTo(next.Tag()) {
			return false, cur, ErrIllegalTransition
		}

		sm.updatersInFlight.Add(1)
		swapped := sm.cell.CompareAndSwap(box, &stateBox{state: next})
		if !swapped {
			sm.updatersInFlight.Add(-1)
			continue
		}

		tagChanged := next.Tag() != cur.Tag()
		if tagChanged && onEnter != nil {
			onEnter(cur.Tag(), next)
		}
		if onRun != nil {
			onRun(next, tagChanged)
		}
		sm.updatersInFlight.Add(-1)
		sm.notifyWaiters()
		return true, next, nil
	}
}

func (sm *StateMachine) notifyWaiters() {
	sm.mu.Lock()
	waiters := sm.waiters
	sm.waiters = nil
	sm.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

func (sm *StateMachine) subscribe() chan struct{} {
	ch := make(chan struct{})
	sm.mu.Lock()
	sm.waiters = append(sm.waiters, ch)
	sm.mu.Unlock()
	return ch
}

func (sm *StateMachine) matches(targets []StateTag) bool {
	if sm.updatersInFlight.Load() != 0 {
		return false
	}
	cur := sm.Current().Tag()
	for _, t := range targets {
		if cur.Implies(t) {
			return true
		}
	}
	return false
}

// WaitFor blocks the caller until the state tag equals or implies one of
// targets, or deadline elapses. A deadline of 0 or less blocks indefinitely.
// The updatersInFlight gate ensures a waiter never observes an intermediate
// state whose side effects have not yet been delivered (spec 4.1).
func (sm *StateMachine) WaitFor(deadline time.Duration, targets ...StateTag) bool {
	if deadline <= 0 {
		for {
			if sm.matches(targets) {
				return true
			}
			<-sm.subscribe()
		}
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		if sm.matches(targets) {
			return true
		}
		ch := sm.subscribe()
		select {
		case <-ch:
			continue
		case <-timer.C:
			return sm.matches(targets)
		}
	}
}
