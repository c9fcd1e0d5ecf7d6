package bayeux

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WebSocketTransport implements the Bayeux wire protocol over a single
// persistent gorilla/websocket connection. Unlike HTTP long-polling, the
// connection is read continuously by a background loop; Send only writes the
// outbound batch, and replies are delivered to listener as they arrive.
type WebSocketTransport struct {
	logger Logger

	mu     sync.RWMutex
	url    *url.URL
	conn   *websocket.Conn
	ready  atomic.Bool
	closed atomic.Bool

	listenerMu sync.RWMutex
	listener   TransportListener
}

// NewWebSocketTransport constructs an unconnected transport; Init dials.
func NewWebSocketTransport(logger Logger) *WebSocketTransport {
	if logger == nil {
		logger = newNullLogger()
	}
	return &WebSocketTransport{logger: logger}
}

func (t *WebSocketTransport) Name() string { return ConnectionTypeWebsocket }

func (t *WebSocketTransport) Accept(version, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss" || u.Scheme == "http" || u.Scheme == "https"
}

func (t *WebSocketTransport) Init(ctx context.Context, opts map[string]interface{}) error {
	rawURL, _ := opts["url"].(string)
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	u = rewriteToWebSocketScheme(u)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.url = u
	t.conn = conn
	t.mu.Unlock()
	t.ready.Store(true)

	go t.readLoop()
	return nil
}

func rewriteToWebSocketScheme(u *url.URL) *url.URL {
	cp := *u
	switch cp.Scheme {
	case "http":
		cp.Scheme = "ws"
	case "https":
		cp.Scheme = "wss"
	}
	return &cp
}

// SetListener must be called (by the engine, once) before the first Send so
// the background read loop has somewhere to deliver unsolicited frames.
func (t *WebSocketTransport) SetListener(listener TransportListener) {
	t.listenerMu.Lock()
	t.listener = listener
	t.listenerMu.Unlock()
}

func (t *WebSocketTransport) Send(ctx context.Context, listener TransportListener, messages []Message) {
	t.SetListener(listener)

	if !t.ready.Load() {
		listener.OnFailure(wsError("websocket not ready"), messages)
		return
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if err := conn.WriteJSON(messages); err != nil {
		listener.OnFailure(err, messages)
	}
}

func (t *WebSocketTransport) readLoop() {
	defer t.ready.Store(false)
	for {
		t.mu.RLock()
		conn := t.conn
		t.mu.RUnlock()
		if conn == nil {
			return
		}

		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				t.deliverFailure(err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			t.deliverFailure(wsError("unsupported websocket message type"))
			continue
		}

		var messages []Message
		if err := json.Unmarshal(raw, &messages); err != nil {
			t.deliverFailure(err)
			continue
		}
		t.deliverMessages(messages)
	}
}

func (t *WebSocketTransport) deliverMessages(messages []Message) {
	t.listenerMu.RLock()
	listener := t.listener
	t.listenerMu.RUnlock()
	if listener != nil {
		listener.OnMessages(messages)
	}
}

func (t *WebSocketTransport) deliverFailure(err error) {
	t.listenerMu.RLock()
	listener := t.listener
	t.listenerMu.RUnlock()
	if listener != nil {
		listener.OnFailure(err, nil)
	}
}

func (t *WebSocketTransport) Terminate() error {
	t.closed.Store(true)
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

func (t *WebSocketTransport) Abort() error {
	t.closed.Store(true)
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

type wsError string

func (e wsError) Error() string { return string(e) }
