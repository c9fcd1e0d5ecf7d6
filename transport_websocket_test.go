package bayeux

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// echoWebSocketServer upgrades every request to a websocket and passes each
// inbound batch to handle, which writes whatever replies (or unsolicited
// frames) the test needs on conn.
func echoWebSocketServer(t *testing.T, handle func(conn *websocket.Conn, messages []Message)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			var messages []Message
			if err := conn.ReadJSON(&messages); err != nil {
				return
			}
			handle(conn, messages)
		}
	}))
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	srv := echoWebSocketServer(t, func(conn *websocket.Conn, messages []Message) {
		reply := []Message{{ID: messages[0].ID, Channel: messages[0].Channel, Successful: true}}
		_ = conn.WriteJSON(reply)
	})
	defer srv.Close()

	transport := NewWebSocketTransport(nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := transport.Init(context.Background(), map[string]interface{}{"url": wsURL}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer transport.Terminate()

	listener := newRecordingListener()
	transport.Send(context.Background(), listener, []Message{{ID: "1", Channel: MetaHandshake}})
	listener.waitOne(t)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.messages) != 1 || !listener.messages[0][0].Successful {
		t.Fatalf("expected one successful reply, got %+v", listener.messages)
	}
}

func TestWebSocketTransportDeliversUnsolicitedPush(t *testing.T) {
	pushed := make(chan *websocket.Conn, 1)
	srv := echoWebSocketServer(t, func(conn *websocket.Conn, messages []Message) {
		reply := []Message{{ID: messages[0].ID, Channel: messages[0].Channel, Successful: true}}
		_ = conn.WriteJSON(reply)
		select {
		case pushed <- conn:
		default:
		}
	})
	defer srv.Close()

	transport := NewWebSocketTransport(nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	if err := transport.Init(context.Background(), map[string]interface{}{"url": wsURL}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer transport.Terminate()

	listener := newRecordingListener()
	transport.Send(context.Background(), listener, []Message{{ID: "1", Channel: MetaConnect}})
	listener.waitOne(t)

	var conn *websocket.Conn
	select {
	case conn = <-pushed:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the initial connect")
	}

	if err := conn.WriteJSON([]Message{{Channel: "/chat"}}); err != nil {
		t.Fatalf("server push: %v", err)
	}
	listener.waitOne(t)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.messages) != 2 || listener.messages[1][0].Channel != "/chat" {
		t.Fatalf("expected a second delivery for the unsolicited push, got %+v", listener.messages)
	}
}

func TestWebSocketTransportSendBeforeInitFails(t *testing.T) {
	transport := NewWebSocketTransport(nil)
	listener := newRecordingListener()
	transport.Send(context.Background(), listener, []Message{{ID: "1", Channel: MetaHandshake}})
	listener.waitOne(t)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.failures) != 1 {
		t.Fatalf("expected a failure when sending before Init, got %+v", listener)
	}
}
