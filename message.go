package bayeux

import (
	"encoding/json"
	"time"
)

// Channel is a Bayeux channel path, e.g. "/meta/handshake" or "/foo/bar".
type Channel string

const emptyChannel Channel = ""

// Well-known meta channels.
const (
	MetaHandshake   Channel = "/meta/handshake"
	MetaConnect     Channel = "/meta/connect"
	MetaDisconnect  Channel = "/meta/disconnect"
	MetaSubscribe   Channel = "/meta/subscribe"
	MetaUnsubscribe Channel = "/meta/unsubscribe"
)

// Connection type names exchanged in supportedConnectionTypes/connectionType.
const (
	ConnectionTypeLongPolling = "long-polling"
	ConnectionTypeWebsocket   = "websocket"
)

// BayeuxVersion is the protocol version this client speaks.
const BayeuxVersion = "1.0"

// AdviceReconnect is the server's steer on what the client should do next.
type AdviceReconnect string

const (
	AdviceReconnectRetry     AdviceReconnect = "retry"
	AdviceReconnectHandshake AdviceReconnect = "handshake"
	AdviceReconnectNone      AdviceReconnect = "none"
)

// Advice carries the server's reconnection guidance, attached to replies.
// Timeout is encoded even when zero, so a connect request's zero-timeout
// advice reaches the server.
type Advice struct {
	Reconnect   AdviceReconnect `json:"reconnect,omitempty"`
	Interval    int64           `json:"interval,omitempty"`
	Timeout     int64           `json:"timeout"`
	MaxInterval int64           `json:"maxInterval,omitempty"`
}

// ShouldHandshake reports whether the advice asks the client to re-handshake.
func (a *Advice) ShouldHandshake() bool {
	return a != nil && a.Reconnect == AdviceReconnectHandshake
}

// IntervalAsDuration converts the millisecond interval to a time.Duration.
func (a *Advice) IntervalAsDuration() time.Duration {
	if a == nil {
		return 0
	}
	return time.Duration(a.Interval) * time.Millisecond
}

func (a *Advice) reconnectOrDefault() AdviceReconnect {
	if a == nil || a.Reconnect == "" {
		return AdviceReconnectRetry
	}
	return a.Reconnect
}

// Failure describes a transport-level I/O failure synthesized into a reply.
type Failure struct {
	Exception      string `json:"exception,omitempty"`
	ConnectionType string `json:"connectionType,omitempty"`
}

// Message is a single Bayeux envelope, wire-compatible in both directions.
//
// Every outbound message must carry a unique ID; the engine restores it after
// extensions run, since extensions may rewrite any other field.
type Message struct {
	ID                       string                 `json:"id,omitempty"`
	Channel                  Channel                `json:"channel"`
	ClientID                 string                 `json:"clientId,omitempty"`
	Successful               bool                   `json:"successful,omitempty"`
	Data                     json.RawMessage        `json:"data,omitempty"`
	Subscription             Channel                `json:"subscription,omitempty"`
	Advice                   *Advice                `json:"advice,omitempty"`
	SupportedConnectionTypes []string               `json:"supportedConnectionTypes,omitempty"`
	ConnectionType           string                 `json:"connectionType,omitempty"`
	Version                  string                 `json:"version,omitempty"`
	MinimumVersion           string                 `json:"minimumVersion,omitempty"`
	Error                    string                 `json:"error,omitempty"`
	Failure                  *Failure               `json:"failure,omitempty"`
	Ext                      map[string]interface{} `json:"ext,omitempty"`
}

// reservedHandshakeFields are the fields a handshake template must never
// overwrite; the engine always wins on these.
var reservedHandshakeFields = map[string]struct{}{
	"id":                       {},
	"channel":                  {},
	"supportedConnectionTypes": {},
	"version":                  {},
	"minimumVersion":           {},
}

func isMetaChannel(ch Channel) bool {
	return len(ch) >= 6 && ch[:6] == "/meta/"
}
