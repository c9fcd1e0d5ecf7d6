package bayeux

import "sync"

// MessageQueue is a thread-safe drainable queue of outbound application
// messages held while the session is not ready to send (mid-batch, or before
// the first successful handshake).
type MessageQueue struct {
	mu       sync.Mutex
	messages []Message
}

// NewMessageQueue returns an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{}
}

// Enqueue appends a message to the tail of the queue.
func (q *MessageQueue) Enqueue(m Message) {
	q.mu.Lock()
	q.messages = append(q.messages, m)
	q.mu.Unlock()
}

// Drain atomically swaps out the queue contents, so two concurrent flushes
// can never both send the same messages.
func (q *MessageQueue) Drain() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.messages) == 0 {
		return nil
	}
	drained := q.messages
	q.messages = nil
	return drained
}

// Len reports the number of messages currently queued.
func (q *MessageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}
