package bayeux

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Client is the high-level, goroutine-driven facade over a SessionEngine: it
// owns the transports, starts the handshake, and exposes subscribe/publish
// as plain Go channels instead of the engine's callback-based API.
type Client struct {
	engine *SessionEngine
	logger Logger

	handshakeTemplate map[string]interface{}
	ignoreError       IgnoreErrorFunc

	subsMu sync.Mutex
	subs   map[Channel]*clientSubscription

	errors chan error
}

type clientSubscription struct {
	entry     *subscriptionEntry
	receiving chan<- []Message
}

// IgnoreErrorFunc inspects an error the engine returns from Unsubscribe and
// reports whether the Client should drop it silently instead of logging it.
type IgnoreErrorFunc func(error) bool

// Options stores the available configuration for a Client.
type Options struct {
	Logger            Logger
	HTTPClient        *http.Client
	HTTPTransport     http.RoundTripper
	EnableWebSocket   bool
	ClientTransports  []string
	BackoffIncrement  time.Duration
	MaxBackoff        time.Duration
	HandshakeTemplate map[string]interface{}
	ExceptionHandler  func(error)
	IgnoreError       IgnoreErrorFunc
}

// Option configures a Client at construction.
type Option func(*Options)

// WithLogger returns an Option with logger.
func WithLogger(logger Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithFieldLogger returns an Option with logger.
func WithFieldLogger(logger logrus.FieldLogger) Option {
	return func(o *Options) { o.Logger = &wrappedFieldLogger{logger} }
}

// WithHTTPClient returns an Option with custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *Options) { o.HTTPClient = client }
}

// WithHTTPTransport returns an Option with custom http.RoundTripper.
func WithHTTPTransport(transport http.RoundTripper) Option {
	return func(o *Options) { o.HTTPTransport = transport }
}

// WithWebSocket registers the websocket transport alongside long-polling and
// prefers it during negotiation (client preference order ["websocket",
// "long-polling"]), unless WithTransports overrides the order explicitly.
func WithWebSocket() Option {
	return func(o *Options) { o.EnableWebSocket = true }
}

// WithTransports overrides the client's transport preference order used
// during negotiation. Names not registered (see WithWebSocket) are ignored.
func WithTransports(names ...string) Option {
	return func(o *Options) { o.ClientTransports = names }
}

// WithBackoffIncrement overrides the default 1s backoff step applied on each
// unsuccessful handshake or connect.
func WithBackoffIncrement(d time.Duration) Option {
	return func(o *Options) { o.BackoffIncrement = d }
}

// WithMaxBackoff overrides the default 30s backoff ceiling.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *Options) { o.MaxBackoff = d }
}

// WithHandshakeTemplate adds extra fields to every /meta/handshake request,
// except the fields the engine itself owns. The entries of an "ext" map are
// merged into the request's ext; every other key is also sent inside ext, not
// as a top-level field.
func WithHandshakeTemplate(template map[string]interface{}) Option {
	return func(o *Options) { o.HandshakeTemplate = template }
}

// WithExceptionHandler routes panics recovered from subscription callbacks
// somewhere other than the default logger.
func WithExceptionHandler(f func(error)) Option {
	return func(o *Options) { o.ExceptionHandler = f }
}

// WithIgnoreError takes a function that Unsubscribe calls with any error the
// engine returns. If the function returns true, the error is dropped;
// otherwise it is logged. These errors are never sent on the error channel
// Start returns, and subscribe failures do not reach the function at all.
//
// The default is to log every error.
func WithIgnoreError(f IgnoreErrorFunc) Option {
	return func(o *Options) { o.IgnoreError = f }
}

// NewClient creates a Client targeting serverAddress. It registers an HTTP
// long-polling transport unconditionally and a WebSocket transport when
// WithWebSocket is given, but does not start handshaking until Start is
// called.
func NewClient(serverAddress string, opts ...Option) (*Client, error) {
	options := &Options{}
	for _, opt := range opts {
		if opt != nil {
			opt(options)
		}
	}
	if options.Logger == nil {
		options.Logger = newNullLogger()
	}
	if options.IgnoreError == nil {
		options.IgnoreError = func(error) bool { return false }
	}

	registry := NewTransportRegistry()
	httpTransport, err := NewHTTPTransport(options.HTTPClient, options.HTTPTransport, options.Logger)
	if err != nil {
		return nil, err
	}
	registry.Register(httpTransport)

	clientTransports := options.ClientTransports
	if options.EnableWebSocket {
		registry.Register(NewWebSocketTransport(options.Logger))
		if len(clientTransports) == 0 {
			clientTransports = []string{ConnectionTypeWebsocket, ConnectionTypeLongPolling}
		}
	}

	engine := NewSessionEngine(serverAddress, registry, options.Logger, nil, EngineOptions{
		BackoffIncrement: options.BackoffIncrement,
		MaxBackoff:       options.MaxBackoff,
		ClientTransports: clientTransports,
		ExceptionHandler: options.ExceptionHandler,
	})

	return &Client{
		engine:            engine,
		logger:            options.Logger,
		handshakeTemplate: options.HandshakeTemplate,
		ignoreError:       options.IgnoreError,
		subs:              make(map[Channel]*clientSubscription),
		errors:            make(chan error, 1),
	}, nil
}

// Start handshakes and returns a channel that receives at most one error: an
// error starting the handshake, a handshake failure with reconnect:"none"
// advice, or a transport negotiation failure. Subscribe and unsubscribe
// failures are not sent on it. The channel is closed once the session
// reaches DISCONNECTED.
func (c *Client) Start(ctx context.Context) <-chan error {
	go c.start(ctx)
	return c.errors
}

func (c *Client) start(ctx context.Context) {
	logger := c.logger.WithField("at", "start")
	defer close(c.errors)

	// A handshake can fail two ways: synchronously (no transport could even
	// be attempted) or asynchronously, discovered only once a reply arrives
	// (e.g. negotiation failure after an otherwise successful reply). Listen
	// on the bus so both surface here exactly once.
	var reportOnce sync.Once
	c.engine.AddListener(MetaHandshake, func(m Message) {
		if m.Successful {
			return
		}
		// A reconnect:"handshake"/"retry" advice means the engine will keep
		// retrying on its own; only a terminal failure (reconnect:"none", or
		// a negotiation failure with no shared transport) is reported here.
		terminal := strings.HasSuffix(m.Error, ":no transport") || (m.Advice != nil && m.Advice.reconnectOrDefault() == AdviceReconnectNone)
		if !terminal {
			return
		}
		reportOnce.Do(func() {
			err := fmt.Errorf("handshake failed: %v", m.Error)
			select {
			case c.errors <- err:
			default:
			}
		})
	})

	if err := c.engine.Handshake(ctx, c.handshakeTemplate, nil); err != nil {
		logger.WithError(err).Debug("handshake failed")
		reportOnce.Do(func() {
			c.errors <- err
		})
		return
	}

	c.engine.WaitFor(0, TagDisconnected)
}

// Subscribe queues a subscription to ch and streams every message delivered
// on it to receiving. Subscribing the same channel twice is a no-op beyond
// registering the extra receiver; both receive every message. The engine
// clears subscriptions when the session enters HANDSHAKING (and on the
// automatic rehandshake after a failed first handshake reply), so a
// subscription made before then receives nothing.
func (c *Client) Subscribe(ch Channel, receiving chan []Message) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	entry := c.engine.Subscribe(ch, func(m Message) {
		if receiving != nil {
			receiving <- []Message{m}
		}
	})
	c.subs[ch] = &clientSubscription{entry: entry, receiving: receiving}
}

// Unsubscribe removes the subscription registered for ch, if any.
func (c *Client) Unsubscribe(ch Channel) {
	c.subsMu.Lock()
	sub, ok := c.subs[ch]
	if ok {
		delete(c.subs, ch)
	}
	c.subsMu.Unlock()
	if !ok {
		return
	}
	if err := c.engine.Unsubscribe(sub.entry); err != nil && !c.ignoreError(err) {
		c.logger.WithError(err).Error("unsubscribe failed")
	}
}

// Publish sends data on ch, an application (non-meta) channel.
func (c *Client) Publish(ctx context.Context, ch Channel, data interface{}) error {
	return c.engine.Publish(ch, data, nil)
}

// RemoteCall issues a /service/<target> request, returning the reply (or a
// RemoteCallTimeoutError) via callback.
func (c *Client) RemoteCall(target string, data interface{}, timeout time.Duration, callback Callback) error {
	return c.engine.RemoteCall(target, data, timeout, callback)
}

// Disconnect issues a graceful /meta/disconnect and waits for the session to
// finish tearing down.
func (c *Client) Disconnect(ctx context.Context) error {
	done := make(chan Message, 1)
	if err := c.engine.Disconnect(func(m Message, _ error) { done <- m }); err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.engine.WaitFor(5*time.Second, TagDisconnected)
	return nil
}

// Abort tears the session down immediately, without a graceful
// /meta/disconnect round trip.
func (c *Client) Abort() error {
	return c.engine.Abort()
}

// UseExtension adds the provided MessageExtender for use with this Client's
// session.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_ext
func (c *Client) UseExtension(ext MessageExtender) error {
	return c.engine.UseExtension(ext)
}

// State reports the session's current lifecycle tag.
func (c *Client) State() StateTag {
	return c.engine.Current()
}

// WaitFor blocks until the session reaches (or implies) one of targets, or
// deadline elapses, returning whether it did. A zero deadline waits
// indefinitely.
func (c *Client) WaitFor(deadline time.Duration, targets ...StateTag) bool {
	return c.engine.WaitFor(deadline, targets...)
}
