package bayeux

import "github.com/google/uuid"

// newMessageID returns a fresh, collision-proof id for an outbound message.
// Using uuid instead of a mutex-guarded counter keeps id generation safe to
// call concurrently from application, transport, and scheduler goroutines
// without a shared lock on the engine.
func newMessageID() string {
	return uuid.NewString()
}
