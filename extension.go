package bayeux

import "sync/atomic"

// MessageExtender rewrites outgoing and incoming messages. Extensions run in
// registration order before a message is sent and after a reply is received;
// the engine restores the message id after every extension has run, since an
// extension may rewrite any other field but never the id.
type MessageExtender interface {
	Outgoing(m *Message)
	Incoming(m *Message)
}

// AckExtension implements the Bayeux 1.0 optional acknowledgment extension:
// it advertises ext.ack=true on handshake, and once the server confirms
// support in the handshake reply, attaches a monotonically increasing
// ext.ack sequence to every /meta/connect so the server may skip re-sending
// already-acknowledged messages.
type AckExtension struct {
	enabled atomic.Bool
	seq     atomic.Int64
}

// NewAckExtension returns an extension that is inert until the server
// confirms ack support during handshake.
func NewAckExtension() *AckExtension {
	return &AckExtension{}
}

func (a *AckExtension) Outgoing(m *Message) {
	switch m.Channel {
	case MetaHandshake:
		setExt(m, "ack", true)
	case MetaConnect:
		if a.enabled.Load() {
			setExt(m, "ack", a.seq.Load())
		}
	}
}

func (a *AckExtension) Incoming(m *Message) {
	switch m.Channel {
	case MetaHandshake:
		if m.Successful && extBool(m, "ack") {
			a.enabled.Store(true)
		}
	case MetaConnect:
		if a.enabled.Load() {
			if v, ok := extInt(m, "ack"); ok {
				a.seq.Store(v)
			}
		}
	}
}

func setExt(m *Message, key string, value interface{}) {
	if m.Ext == nil {
		m.Ext = map[string]interface{}{}
	}
	m.Ext[key] = value
}

func extBool(m *Message, key string) bool {
	v, _ := m.Ext[key].(bool)
	return v
}

func extInt(m *Message, key string) (int64, bool) {
	switch v := m.Ext[key].(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
