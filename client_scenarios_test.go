package bayeux_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bayeuxgo/bayeux"
	"github.com/bayeuxgo/bayeux/gobayeuxtest"
)

func TestClientCleanLifecycleAndPush(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()

	client, err := bayeux.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	errs := client.Start(context.Background())
	if !client.WaitFor(2*time.Second, bayeux.TagConnected) {
		t.Fatalf("client never reached CONNECTED, stuck in %v", client.State())
	}

	received := make(chan []bayeux.Message, 1)
	client.Subscribe("/chat", received)

	srv.Push(bayeux.Message{Channel: "/chat", Data: json.RawMessage(`{"text":"hi"}`)})

	select {
	case msgs := <-received:
		if len(msgs) != 1 || string(msgs[0].Data) != `{"text":"hi"}` {
			t.Fatalf("unexpected delivered message: %+v", msgs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pushed message was never delivered to the subscriber")
	}

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !client.WaitFor(2*time.Second, bayeux.TagDisconnected) {
		t.Fatalf("client never reached DISCONNECTED, stuck in %v", client.State())
	}

	select {
	case err, ok := <-errs:
		if ok {
			t.Fatalf("unexpected error on a clean lifecycle: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("error channel was never closed after disconnect")
	}
}

func TestClientServerRequestedRehandshake(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()
	srv.Handshake = gobayeuxtest.RehandshakeAdvice(srv.Handshake)

	client, err := bayeux.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	client.Start(context.Background())
	if !client.WaitFor(3*time.Second, bayeux.TagConnected) {
		t.Fatalf("client never recovered to CONNECTED after a rehandshake advice, stuck in %v", client.State())
	}

	_ = client.Abort()
}

func TestClientUnconnectedEscalatesToRehandshake(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()

	// First connect fails with retry advice and a tiny maxInterval, so the
	// unconnected-to-rehandshake escalation formula trips almost immediately:
	// (now - unconnectSince) + backoff exceeds timeout+interval+maxInterval.
	srv.Connect = func(req bayeux.Message) bayeux.Message {
		return bayeux.Message{
			ID:         req.ID,
			Channel:    bayeux.MetaConnect,
			Successful: false,
			ClientID:   req.ClientID,
			Advice: &bayeux.Advice{
				Reconnect:   bayeux.AdviceReconnectRetry,
				Interval:    0,
				Timeout:     0,
				MaxInterval: 1,
			},
		}
	}

	client, err := bayeux.NewClient(srv.URL(), bayeux.WithBackoffIncrement(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	client.Start(context.Background())
	if !client.WaitFor(2*time.Second, bayeux.TagRehandshaking, bayeux.TagConnected) {
		t.Fatalf("client never escalated out of UNCONNECTED, stuck in %v", client.State())
	}

	_ = client.Abort()
}

func TestClientNegotiationFailureSurfacesOnStart(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()
	srv.Handshake = gobayeuxtest.NegotiationFailure

	client, err := bayeux.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	errs := client.Start(context.Background())
	select {
	case err, ok := <-errs:
		if !ok || err == nil {
			t.Fatal("expected a negotiation failure error on the error channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("negotiation failure was never reported")
	}

	if !client.WaitFor(2*time.Second, bayeux.TagTerminating, bayeux.TagDisconnected) {
		t.Fatalf("client never terminated after negotiation failure, stuck in %v", client.State())
	}
}

func TestClientSubscribeDedupSendsOneRequestPerChannel(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()

	subscribeCount := 0
	srv.Subscribe = func(req bayeux.Message) bayeux.Message {
		subscribeCount++
		return bayeux.Message{
			ID:           req.ID,
			Channel:      bayeux.MetaSubscribe,
			Successful:   true,
			ClientID:     req.ClientID,
			Subscription: req.Subscription,
		}
	}

	client, err := bayeux.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Start(context.Background())
	if !client.WaitFor(2*time.Second, bayeux.TagConnected) {
		t.Fatalf("client never reached CONNECTED, stuck in %v", client.State())
	}

	a := make(chan []bayeux.Message, 1)
	b := make(chan []bayeux.Message, 1)
	client.Subscribe("/chat", a)
	client.Subscribe("/chat", b)

	srv.Push(bayeux.Message{Channel: "/chat", Data: json.RawMessage(`1`)})

	for _, ch := range []chan []bayeux.Message{a, b} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both subscribers to receive the pushed message")
		}
	}

	if subscribeCount != 1 {
		t.Fatalf("expected exactly one /meta/subscribe request for a channel subscribed twice, got %d", subscribeCount)
	}

	_ = client.Abort()
}

func TestClientDisconnectRaceIgnoresLateConnectReply(t *testing.T) {
	srv := gobayeuxtest.NewServer(t)
	defer srv.Close()

	client, err := bayeux.NewClient(srv.URL())
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	client.Start(context.Background())
	if !client.WaitFor(2*time.Second, bayeux.TagConnected) {
		t.Fatalf("client never reached CONNECTED, stuck in %v", client.State())
	}

	if err := client.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if !client.WaitFor(2*time.Second, bayeux.TagDisconnected) {
		t.Fatalf("client never reached DISCONNECTED, stuck in %v", client.State())
	}

	// A late /meta/connect reply has no legal edge back to CONNECTED from
	// here; the state machine's own legality gate discards it.
	if client.State() != bayeux.TagDisconnected {
		t.Fatalf("expected session to remain DISCONNECTED, got %v", client.State())
	}
}
