package bayeux

import "encoding/json"

// requestBuilder accumulates fields for a family of Bayeux messages and
// reports the first error encountered so callers can check once at Build.
type requestBuilder struct {
	channel Channel
	fields  map[string]interface{}
	err     error
}

func newRequestBuilder(channel Channel) *requestBuilder {
	return &requestBuilder{channel: channel, fields: map[string]interface{}{}}
}

func (b *requestBuilder) set(key string, value interface{}) {
	if b.err != nil {
		return
	}
	b.fields[key] = value
}

// HandshakeRequestBuilder builds a single /meta/handshake message.
type HandshakeRequestBuilder struct {
	*requestBuilder
	supported []string
	template  map[string]interface{}
}

func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{requestBuilder: newRequestBuilder(MetaHandshake)}
}

func (b *HandshakeRequestBuilder) AddVersion(version string) error {
	b.set("version", version)
	return b.err
}

func (b *HandshakeRequestBuilder) AddMinimumVersion(version string) error {
	b.set("minimumVersion", version)
	return b.err
}

func (b *HandshakeRequestBuilder) AddSupportedConnectionType(ct string) error {
	if b.err != nil {
		return b.err
	}
	b.supported = append(b.supported, ct)
	return nil
}

// AddTemplate sets caller-supplied handshake fields for Build to merge. Build
// silently drops any that collide with the reserved set the engine owns,
// merges the entries of an "ext" map into the message's ext, and places every
// other key under ext too, since Message has no open-ended top-level fields.
func (b *HandshakeRequestBuilder) AddTemplate(template map[string]interface{}) {
	b.template = template
}

func (b *HandshakeRequestBuilder) Build() ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := Message{
		ID:                       newMessageID(),
		Channel:                  MetaHandshake,
		Version:                  stringField(b.fields, "version"),
		MinimumVersion:           stringField(b.fields, "minimumVersion"),
		SupportedConnectionTypes: append([]string(nil), b.supported...),
	}
	for k, v := range b.template {
		if _, reserved := reservedHandshakeFields[k]; reserved {
			continue
		}
		applyTemplateField(&m, k, v)
	}
	return []Message{m}, nil
}

func stringField(fields map[string]interface{}, key string) string {
	v, _ := fields[key].(string)
	return v
}

func applyTemplateField(m *Message, key string, value interface{}) {
	switch key {
	case "ext":
		if ext, ok := value.(map[string]interface{}); ok {
			if m.Ext == nil {
				m.Ext = map[string]interface{}{}
			}
			for k, v := range ext {
				m.Ext[k] = v
			}
		}
	default:
		if m.Ext == nil {
			m.Ext = map[string]interface{}{}
		}
		m.Ext[key] = value
	}
}

// ConnectRequestBuilder builds a single /meta/connect message.
type ConnectRequestBuilder struct {
	*requestBuilder
	clientID       string
	connectionType string
	zeroTimeout    bool
}

func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{requestBuilder: newRequestBuilder(MetaConnect)}
}

func (b *ConnectRequestBuilder) AddClientID(clientID string) { b.clientID = clientID }

func (b *ConnectRequestBuilder) AddConnectionType(ct string) error {
	b.connectionType = ct
	return nil
}

// WithZeroTimeoutAdvice marks this as the first connect after a handshake or
// an unconnected failure, so the request carries a zero-timeout advice hint
// instead of the steady-state long-poll timeout.
func (b *ConnectRequestBuilder) WithZeroTimeoutAdvice(zero bool) { b.zeroTimeout = zero }

func (b *ConnectRequestBuilder) Build() ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	m := Message{
		ID:             newMessageID(),
		Channel:        MetaConnect,
		ClientID:       b.clientID,
		ConnectionType: b.connectionType,
	}
	if b.zeroTimeout {
		m.Advice = &Advice{Timeout: 0}
	}
	return []Message{m}, nil
}

// SubscribeRequestBuilder builds one /meta/subscribe message per channel.
type SubscribeRequestBuilder struct {
	*requestBuilder
	clientID string
	subs     []Channel
}

func NewSubscribeRequestBuilder() *SubscribeRequestBuilder {
	return &SubscribeRequestBuilder{requestBuilder: newRequestBuilder(MetaSubscribe)}
}

func (b *SubscribeRequestBuilder) AddClientID(clientID string) { b.clientID = clientID }

func (b *SubscribeRequestBuilder) AddSubscription(ch Channel) error {
	b.subs = append(b.subs, ch)
	return nil
}

func (b *SubscribeRequestBuilder) Build() ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	ms := make([]Message, 0, len(b.subs))
	for _, ch := range b.subs {
		ms = append(ms, Message{
			ID:           newMessageID(),
			Channel:      MetaSubscribe,
			ClientID:     b.clientID,
			Subscription: ch,
		})
	}
	return ms, nil
}

// UnsubscribeRequestBuilder builds one /meta/unsubscribe message per channel.
type UnsubscribeRequestBuilder struct {
	*requestBuilder
	clientID string
	subs     []Channel
}

func NewUnsubscribeRequestBuilder() *UnsubscribeRequestBuilder {
	return &UnsubscribeRequestBuilder{requestBuilder: newRequestBuilder(MetaUnsubscribe)}
}

func (b *UnsubscribeRequestBuilder) AddClientID(clientID string) { b.clientID = clientID }

func (b *UnsubscribeRequestBuilder) AddSubscription(ch Channel) error {
	b.subs = append(b.subs, ch)
	return nil
}

func (b *UnsubscribeRequestBuilder) Build() ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	ms := make([]Message, 0, len(b.subs))
	for _, ch := range b.subs {
		ms = append(ms, Message{
			ID:           newMessageID(),
			Channel:      MetaUnsubscribe,
			ClientID:     b.clientID,
			Subscription: ch,
		})
	}
	return ms, nil
}

// DisconnectRequestBuilder builds a single /meta/disconnect message.
type DisconnectRequestBuilder struct {
	*requestBuilder
	clientID string
}

func NewDisconnectRequestBuilder() *DisconnectRequestBuilder {
	return &DisconnectRequestBuilder{requestBuilder: newRequestBuilder(MetaDisconnect)}
}

func (b *DisconnectRequestBuilder) AddClientID(clientID string) { b.clientID = clientID }

func (b *DisconnectRequestBuilder) Build() ([]Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	return []Message{{ID: newMessageID(), Channel: MetaDisconnect, ClientID: b.clientID}}, nil
}

// publishMessage builds a single application publish message.
func publishMessage(ch Channel, clientID string, data interface{}) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		raw = encoded
	}
	return Message{ID: newMessageID(), Channel: ch, ClientID: clientID, Data: raw}, nil
}

// serviceMessage builds a single /service/<target> remote-call message.
func serviceMessage(target string, clientID string, data interface{}) (Message, error) {
	return publishMessage(Channel("/service/"+target), clientID, data)
}
