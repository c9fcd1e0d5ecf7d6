package bayeux

import (
	"context"
	"sync"
)

// TransportListener receives reply messages and failures from a Transport.
// Send may deliver to it from any goroutine; the engine serializes what it
// does with those deliveries.
type TransportListener interface {
	OnMessages(messages []Message)
	OnFailure(err error, messages []Message)
}

// Transport is the capability a concrete wire transport must provide. It is
// modeled as an interface rather than a base type to embed: transports are
// interchanged under a session state's transport slot, never inherited from.
type Transport interface {
	// Name is the connectionType string this transport negotiates under,
	// e.g. "long-polling" or "websocket".
	Name() string

	// Accept reports whether this transport is usable for the given Bayeux
	// version and server URL, letting a transport decline based on scheme
	// or other URL constraints before it is ever offered to the server.
	Accept(version, rawURL string) bool

	// Init prepares the transport for use (e.g. dialing a websocket).
	Init(ctx context.Context, opts map[string]interface{}) error

	// Send dispatches a batch of messages, delivering the reply or a
	// failure to listener asynchronously.
	Send(ctx context.Context, listener TransportListener, messages []Message)

	// Terminate cleanly shuts the transport down.
	Terminate() error

	// Abort forcibly tears the transport down, skipping any graceful
	// handshake Terminate would otherwise perform.
	Abort() error
}

// TransportRegistry registers named transports and negotiates one given a
// client preference order and a server-advertised list.
type TransportRegistry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

// NewTransportRegistry returns an empty registry.
func NewTransportRegistry() *TransportRegistry {
	return &TransportRegistry{transports: make(map[string]Transport)}
}

// Register adds t under its Name(). Registering the same name twice replaces
// the previous transport.
func (r *TransportRegistry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transports[t.Name()] = t
}

// Get looks up a transport by name.
func (r *TransportRegistry) Get(name string) (Transport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.transports[name]
	return t, ok
}

// Negotiate picks the client's most-preferred transport that the server also
// supports: clientPreferred is first filtered down to the transports whose
// Accept(version, url) returns true, then intersected with serverSupported,
// preserving clientPreferred's order throughout. The head of that list wins.
func (r *TransportRegistry) Negotiate(clientPreferred, serverSupported []string, version, rawURL string) (Transport, bool) {
	serverSet := make(map[string]struct{}, len(serverSupported))
	for _, name := range serverSupported {
		serverSet[name] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range clientPreferred {
		t, ok := r.transports[name]
		if !ok || !t.Accept(version, rawURL) {
			continue
		}
		if _, supported := serverSet[name]; supported {
			return t, true
		}
	}
	return nil, false
}

// AcceptedNames returns, in clientPreferred's order, the subset of names the
// registry knows about whose Accept(version, url) returns true. Used to pick
// an initial transport before any server list is known (the handshake
// request itself).
func (r *TransportRegistry) AcceptedNames(clientPreferred []string, version, rawURL string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(clientPreferred))
	for _, name := range clientPreferred {
		if t, ok := r.transports[name]; ok && t.Accept(version, rawURL) {
			out = append(out, name)
		}
	}
	return out
}
