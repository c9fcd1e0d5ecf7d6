package bayeux

import "fmt"

// Sentinel errors for conditions that carry no extra context.
var (
	ErrClientNotConnected = fmt.Errorf("client is not connected")
	ErrFailedToConnect    = fmt.Errorf("server reported an unsuccessful connect")
	ErrUnbalancedBatch    = fmt.Errorf("endBatch called without a matching startBatch")
	ErrMetaPublish        = fmt.Errorf("cannot publish to a /meta/ channel")
	ErrIllegalTransition  = fmt.Errorf("illegal state transition")
	ErrAlreadyHandshaking = fmt.Errorf("handshake already in progress or session already established")
)

// HandshakeFailedError wraps any error encountered while handshaking.
type HandshakeFailedError struct{ Err error }

func (e HandshakeFailedError) Error() string { return "handshake failed: " + e.Err.Error() }
func (e HandshakeFailedError) Unwrap() error { return e.Err }

// ConnectionFailedError wraps any error encountered while connecting.
type ConnectionFailedError struct{ Err error }

func (e ConnectionFailedError) Error() string { return "connect failed: " + e.Err.Error() }
func (e ConnectionFailedError) Unwrap() error { return e.Err }

// SubscriptionFailedError wraps a failed /meta/subscribe exchange.
type SubscriptionFailedError struct {
	Channels []Channel
	Err      error
}

func (e SubscriptionFailedError) Error() string {
	return fmt.Sprintf("subscribe to %v failed: %s", e.Channels, e.Err)
}
func (e SubscriptionFailedError) Unwrap() error { return e.Err }

// UnsubscribeFailedError wraps a failed /meta/unsubscribe exchange.
type UnsubscribeFailedError struct {
	Channels []Channel
	Err      error
}

func (e UnsubscribeFailedError) Error() string {
	return fmt.Sprintf("unsubscribe from %v failed: %s", e.Channels, e.Err)
}
func (e UnsubscribeFailedError) Unwrap() error { return e.Err }

// DisconnectFailedError wraps a failed /meta/disconnect exchange.
type DisconnectFailedError struct{ Err error }

func (e DisconnectFailedError) Error() string {
	if e.Err == nil {
		return "disconnect failed"
	}
	return "disconnect failed: " + e.Err.Error()
}
func (e DisconnectFailedError) Unwrap() error { return e.Err }

// NegotiationFailedError is returned (and synthesized onto a handshake reply
// per the wire protocol's "405" error string) when no transport is common to
// both the client's preference list and the server's supported list.
type NegotiationFailedError struct {
	Client []string
	Server []string
}

func (e NegotiationFailedError) Error() string {
	return fmt.Sprintf("405:c%v,s%v:no transport", e.Client, e.Server)
}

// RemoteCallTimeoutError is synthesized when a remoteCall's deadline elapses
// before a reply arrives.
type RemoteCallTimeoutError struct{ Target string }

func (e RemoteCallTimeoutError) Error() string { return "406::timeout" }

// BadResponseError is returned by transports for a non-2xx / malformed reply.
type BadResponseError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e BadResponseError) Error() string {
	return fmt.Sprintf("bad response: %s (%d)", e.Status, e.StatusCode)
}

// AlreadyRegisteredError is returned when the same MessageExtender is
// registered twice.
type AlreadyRegisteredError struct{ Ext MessageExtender }

func (e AlreadyRegisteredError) Error() string { return "extension already registered" }

func newHandshakeError(serverError string) error {
	if serverError == "" {
		return fmt.Errorf("handshake unsuccessful")
	}
	return fmt.Errorf("handshake unsuccessful: %s", serverError)
}

func newConnectError(serverError string) error {
	if serverError == "" {
		return ErrFailedToConnect
	}
	return fmt.Errorf("%s: %w", serverError, ErrFailedToConnect)
}

func newDisconnectError(serverError string) error {
	if serverError == "" {
		return fmt.Errorf("disconnect unsuccessful")
	}
	return fmt.Errorf("disconnect unsuccessful: %s", serverError)
}

func newSubscribeError(serverError string) error {
	if serverError == "" {
		return fmt.Errorf("subscribe unsuccessful")
	}
	return fmt.Errorf("subscribe unsuccessful: %s", serverError)
}

func newUnsubscribeError(serverError string) error {
	if serverError == "" {
		return fmt.Errorf("unsubscribe unsuccessful")
	}
	return fmt.Errorf("unsubscribe unsuccessful: %s", serverError)
}
