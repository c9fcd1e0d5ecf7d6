package bayeux

import "testing"

func TestAckExtensionAdvertisesOnHandshake(t *testing.T) {
	ext := NewAckExtension()
	m := Message{Channel: MetaHandshake}
	ext.Outgoing(&m)

	if v, ok := m.Ext["ack"].(bool); !ok || !v {
		t.Fatalf("expected ext.ack=true on outgoing handshake, got %v", m.Ext)
	}
}

func TestAckExtensionInertUntilServerConfirms(t *testing.T) {
	ext := NewAckExtension()
	connect := Message{Channel: MetaConnect}
	ext.Outgoing(&connect)

	if _, present := connect.Ext["ack"]; present {
		t.Fatal("expected no ack field on connect before the server confirms support")
	}
}

func TestAckExtensionEnablesAfterSuccessfulHandshakeWithAck(t *testing.T) {
	ext := NewAckExtension()
	reply := Message{Channel: MetaHandshake, Successful: true, Ext: map[string]interface{}{"ack": true}}
	ext.Incoming(&reply)

	connect := Message{Channel: MetaConnect}
	ext.Outgoing(&connect)
	if _, present := connect.Ext["ack"]; !present {
		t.Fatal("expected ack to be attached to connect once the server confirmed support")
	}
}

func TestAckExtensionTracksSequenceFromReplies(t *testing.T) {
	ext := NewAckExtension()
	ext.Incoming(&Message{Channel: MetaHandshake, Successful: true, Ext: map[string]interface{}{"ack": true}})

	ext.Incoming(&Message{Channel: MetaConnect, Ext: map[string]interface{}{"ack": float64(7)}})

	out := Message{Channel: MetaConnect}
	ext.Outgoing(&out)
	if v, _ := out.Ext["ack"].(int64); v != 7 {
		t.Fatalf("expected outgoing ack seq 7, got %v", out.Ext["ack"])
	}
}

func TestAckExtensionIgnoresUnsuccessfulHandshakeAck(t *testing.T) {
	ext := NewAckExtension()
	ext.Incoming(&Message{Channel: MetaHandshake, Successful: false, Ext: map[string]interface{}{"ack": true}})

	connect := Message{Channel: MetaConnect}
	ext.Outgoing(&connect)
	if _, present := connect.Ext["ack"]; present {
		t.Fatal("expected ack to remain disabled after an unsuccessful handshake")
	}
}
