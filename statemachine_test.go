package bayeux

import (
	"testing"
	"time"
)

func TestStateMachineLegalTransition(t *testing.T) {
	sm := NewStateMachine()
	if tag := sm.Current().Tag(); tag != TagDisconnected {
		t.Fatalf("expected initial tag DISCONNECTED, got %s", tag)
	}

	applied, next, err := sm.Update(func(cur SessionState) (SessionState, bool) {
		return handshakingState{stateContext{clientID: "ignored-until-connect"}}, true
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !applied {
		t.Fatal("expected transition to apply")
	}
	if next.Tag() != TagHandshaking {
		t.Fatalf("expected HANDSHAKING, got %s", next.Tag())
	}
}

func TestStateMachineIllegalTransitionRejected(t *testing.T) {
	sm := NewStateMachine()
	// DISCONNECTED can only legally go to HANDSHAKING.
	applied, cur, err := sm.Update(func(cur SessionState) (SessionState, bool) {
		return connectedState{}, true
	}, nil, nil)
	if applied {
		t.Fatal("expected illegal transition to be rejected")
	}
	if err != ErrIllegalTransition {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if cur.Tag() != TagDisconnected {
		t.Fatalf("expected state to remain DISCONNECTED, got %s", cur.Tag())
	}
}

func TestStateMachineNoChangeSentinel(t *testing.T) {
	sm := NewStateMachine()
	applied, cur, err := sm.Update(func(cur SessionState) (SessionState, bool) {
		return nil, false
	}, nil, nil)
	if applied || err != nil {
		t.Fatalf("expected no-op update, got applied=%v err=%v", applied, err)
	}
	if cur.Tag() != TagDisconnected {
		t.Fatalf("expected unchanged state, got %s", cur.Tag())
	}
}

func TestStateMachineEnterFiresOnlyOnTagChange(t *testing.T) {
	sm := NewStateMachine()
	var enterCount, runCount int

	onEnter := func(prev StateTag, next SessionState) { enterCount++ }
	onRun := func(next SessionState, tagChanged bool) { runCount++ }

	sm.Update(func(cur SessionState) (SessionState, bool) {
		return handshakingState{}, true
	}, onEnter, onRun)
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return connectingState{stateContext{clientID: "c1"}}, true
	}, onEnter, onRun)
	// CONNECTED -> CONNECTED self-loop: tag unchanged, run fires, enter doesn't.
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return connectedState{stateContext{clientID: "c1", backoff: 0}}, true
	}, onEnter, onRun)
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return connectedState{stateContext{clientID: "c1", backoff: 5}}, true
	}, onEnter, onRun)

	if enterCount != 3 {
		t.Fatalf("expected 3 tag-changing transitions to fire onEnter, got %d", enterCount)
	}
	if runCount != 4 {
		t.Fatalf("expected onRun to fire on every successful update, got %d", runCount)
	}
}

func TestStateMachineWaitForImplied(t *testing.T) {
	sm := NewStateMachine()
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return handshakingState{}, true
	}, nil, nil)

	// CONNECTING implies HANDSHAKING has already happened; WaitFor(HANDSHAKING)
	// should already be satisfied once CONNECTING is reached.
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return connectingState{stateContext{clientID: "c1"}}, true
	}, nil, nil)

	if !sm.WaitFor(time.Second, TagHandshaking) {
		t.Fatal("expected CONNECTING to imply HANDSHAKING for WaitFor")
	}
}

func TestStateMachineWaitForTimeout(t *testing.T) {
	sm := NewStateMachine()
	if sm.WaitFor(10*time.Millisecond, TagConnected) {
		t.Fatal("expected WaitFor to time out while still DISCONNECTED")
	}
}

func TestStateMachineWaitForUnblocksOnTransition(t *testing.T) {
	sm := NewStateMachine()
	done := make(chan bool, 1)
	go func() {
		done <- sm.WaitFor(time.Second, TagHandshaking)
	}()

	time.Sleep(10 * time.Millisecond)
	sm.Update(func(cur SessionState) (SessionState, bool) {
		return handshakingState{}, true
	}, nil, nil)

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected WaitFor to report success")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not unblock after matching transition")
	}
}

func TestStateTagCanTransitionTo(t *testing.T) {
	if !TagConnecting.CanTransitionTo(TagConnected) {
		t.Fatal("CONNECTING -> CONNECTED should be legal")
	}
	if TagDisconnecting.CanTransitionTo(TagConnected) {
		t.Fatal("DISCONNECTING -> CONNECTED should be illegal")
	}
	if TagHandshaking.CanTransitionTo(TagDisconnecting) {
		t.Fatal("HANDSHAKING -> DISCONNECTING should be illegal")
	}
}
