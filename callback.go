package bayeux

import "sync"

// Callback is a one-shot handler correlated with the message id that
// produced it. It is removed from the table before being invoked.
type Callback func(reply Message, err error)

// callbackTable maps an outbound message id to its one-shot callback.
type callbackTable struct {
	mu sync.Mutex
	m  map[string]Callback
}

func newCallbackTable() *callbackTable {
	return &callbackTable{m: make(map[string]Callback)}
}

func (t *callbackTable) register(id string, cb Callback) {
	if cb == nil || id == "" {
		return
	}
	t.mu.Lock()
	t.m[id] = cb
	t.mu.Unlock()
}

// pop removes and returns the callback for id, if any. The table never
// invokes callbacks itself; callers pop then call, so a callback is always
// removed before it runs.
func (t *callbackTable) pop(id string) (Callback, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cb, ok := t.m[id]
	if ok {
		delete(t.m, id)
	}
	return cb, ok
}
