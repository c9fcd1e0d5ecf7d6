package bayeux

import "testing"

func TestHandshakeRequestBuilderDropsReservedTemplateFields(t *testing.T) {
	b := NewHandshakeRequestBuilder()
	_ = b.AddVersion(BayeuxVersion)
	_ = b.AddMinimumVersion(BayeuxVersion)
	_ = b.AddSupportedConnectionType(ConnectionTypeLongPolling)
	b.AddTemplate(map[string]interface{}{
		"version":  "9.9", // reserved, must be dropped
		"customer": "acme",
	})

	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected exactly one handshake message, got %d", len(msgs))
	}
	m := msgs[0]
	if m.Version != BayeuxVersion {
		t.Fatalf("expected reserved version field to win over the template, got %q", m.Version)
	}
	if m.ID == "" {
		t.Fatal("expected a non-empty message id")
	}
	if m.Ext["customer"] != "acme" {
		t.Fatalf("expected non-reserved template field to be applied, got %v", m.Ext)
	}
}

func TestSubscribeRequestBuilderOneMessagePerChannel(t *testing.T) {
	b := NewSubscribeRequestBuilder()
	b.AddClientID("client-1")
	_ = b.AddSubscription("/foo")
	_ = b.AddSubscription("/bar")

	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected one message per subscribed channel, got %d", len(msgs))
	}
	if msgs[0].Subscription != "/foo" || msgs[1].Subscription != "/bar" {
		t.Fatalf("unexpected subscriptions: %+v", msgs)
	}
	for _, m := range msgs {
		if m.ClientID != "client-1" {
			t.Fatalf("expected clientId to be set on every message, got %+v", m)
		}
		if m.Channel != MetaSubscribe {
			t.Fatalf("expected channel %s, got %s", MetaSubscribe, m.Channel)
		}
	}
}

func TestConnectRequestBuilderZeroTimeoutAdvice(t *testing.T) {
	b := NewConnectRequestBuilder()
	b.AddClientID("client-1")
	_ = b.AddConnectionType(ConnectionTypeLongPolling)
	b.WithZeroTimeoutAdvice(true)

	msgs, err := b.Build()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msgs[0].Advice == nil || msgs[0].Advice.Timeout != 0 {
		t.Fatalf("expected a zero-timeout advice on the connect request, got %+v", msgs[0].Advice)
	}
}

func TestPublishMessageMarshalsData(t *testing.T) {
	m, err := publishMessage("/foo", "client-1", map[string]interface{}{"x": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(m.Data) != `{"x":1}` {
		t.Fatalf("expected marshaled data, got %s", m.Data)
	}
	if m.Channel != "/foo" || m.ClientID != "client-1" {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func TestServiceMessageUsesServicePrefix(t *testing.T) {
	m, err := serviceMessage("search", "client-1", "query")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Channel != "/service/search" {
		t.Fatalf("expected /service/search, got %s", m.Channel)
	}
}
