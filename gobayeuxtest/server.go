// Package gobayeuxtest provides a minimal, scriptable fake Bayeux server for
// exercising the HTTP transport and SessionEngine end to end without a real
// CometD backend.
package gobayeuxtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/bayeuxgo/bayeux"
)

// Responder computes the reply for a single request message. Returning a
// zero-value Message (empty Channel) drops the reply entirely, letting a
// test simulate a server that never answers one particular exchange.
type Responder func(req bayeux.Message) bayeux.Message

// Server is an httptest-backed fake Bayeux endpoint. Each meta channel has
// an independently overridable Responder, defaulting to a "happy path" reply
// that accepts whatever the client sends. Tests override the relevant field
// before the client connects to script failures, advice, or delays.
type Server struct {
	*httptest.Server

	t testing.TB

	mu          sync.Mutex
	clientID    string
	subscribed  map[bayeux.Channel]bool
	clientIDSeq int
	pending     []bayeux.Message

	Handshake   Responder
	Connect     Responder
	Subscribe   Responder
	Unsubscribe Responder
	Disconnect  Responder

	connectCount atomic.Int64
}

// NewServer starts a fake server with the happy-path responders wired in.
// Callers may overwrite any of the exported Responder fields before issuing
// requests; the server reads them fresh on every request.
func NewServer(t testing.TB) *Server {
	s := &Server{t: t, subscribed: make(map[bayeux.Channel]bool)}
	s.Handshake = s.defaultHandshake
	s.Connect = s.defaultConnect
	s.Subscribe = s.defaultSubscribe
	s.Unsubscribe = s.defaultUnsubscribe
	s.Disconnect = s.defaultDisconnect
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the server's base address, suitable for bayeux.NewClient.
func (s *Server) URL() string { return s.Server.URL }

// ConnectCount reports how many /meta/connect requests have been handled.
func (s *Server) ConnectCount() int64 { return s.connectCount.Load() }

// Push queues an out-of-band message to be delivered on the next
// /meta/connect response, simulating a server-side publish arriving on a
// client's long poll.
func (s *Server) Push(m bayeux.Message) {
	s.mu.Lock()
	s.pending = append(s.pending, m)
	s.mu.Unlock()
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var reqs []bayeux.Message
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var hadConnect bool
	replies := make([]bayeux.Message, 0, len(reqs))
	for _, req := range reqs {
		if req.Channel == bayeux.MetaConnect {
			hadConnect = true
		}
		reply := s.dispatch(req)
		if reply.Channel != "" {
			replies = append(replies, reply)
		}
	}

	if hadConnect {
		s.mu.Lock()
		replies = append(replies, s.pending...)
		s.pending = nil
		s.mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(replies); err != nil {
		s.t.Logf("gobayeuxtest: failed to encode replies: %v", err)
	}
}

func (s *Server) dispatch(req bayeux.Message) bayeux.Message {
	switch req.Channel {
	case bayeux.MetaHandshake:
		return s.Handshake(req)
	case bayeux.MetaConnect:
		s.connectCount.Add(1)
		return s.Connect(req)
	case bayeux.MetaSubscribe:
		return s.Subscribe(req)
	case bayeux.MetaUnsubscribe:
		return s.Unsubscribe(req)
	case bayeux.MetaDisconnect:
		return s.Disconnect(req)
	default:
		return bayeux.Message{ID: req.ID, Channel: req.Channel, Successful: true, ClientID: req.ClientID}
	}
}

func (s *Server) nextClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clientIDSeq++
	s.clientID = "fake-client-" + strconv.Itoa(s.clientIDSeq)
	return s.clientID
}

func (s *Server) defaultHandshake(req bayeux.Message) bayeux.Message {
	return bayeux.Message{
		ID:                       req.ID,
		Channel:                  bayeux.MetaHandshake,
		Successful:               true,
		ClientID:                 s.nextClientID(),
		Version:                  bayeux.BayeuxVersion,
		SupportedConnectionTypes: []string{bayeux.ConnectionTypeLongPolling},
		Advice:                   &bayeux.Advice{Reconnect: bayeux.AdviceReconnectRetry, Interval: 0, Timeout: 30000},
	}
}

func (s *Server) defaultConnect(req bayeux.Message) bayeux.Message {
	return bayeux.Message{
		ID:         req.ID,
		Channel:    bayeux.MetaConnect,
		Successful: true,
		ClientID:   req.ClientID,
		Advice:     &bayeux.Advice{Reconnect: bayeux.AdviceReconnectRetry, Interval: 10, Timeout: 30000},
	}
}

func (s *Server) defaultSubscribe(req bayeux.Message) bayeux.Message {
	return bayeux.Message{
		ID:           req.ID,
		Channel:      bayeux.MetaSubscribe,
		Successful:   true,
		ClientID:     req.ClientID,
		Subscription: req.Subscription,
	}
}

func (s *Server) defaultUnsubscribe(req bayeux.Message) bayeux.Message {
	return bayeux.Message{
		ID:           req.ID,
		Channel:      bayeux.MetaUnsubscribe,
		Successful:   true,
		ClientID:     req.ClientID,
		Subscription: req.Subscription,
	}
}

func (s *Server) defaultDisconnect(req bayeux.Message) bayeux.Message {
	return bayeux.Message{ID: req.ID, Channel: bayeux.MetaDisconnect, Successful: true, ClientID: req.ClientID}
}

// RehandshakeAdvice builds a Responder that rejects once and then defers to
// fallback, simulating a server that asks the client to re-handshake exactly
// one time (useful for testing the REHANDSHAKING escalation path).
func RehandshakeAdvice(fallback Responder) Responder {
	var fired atomic.Bool
	return func(req bayeux.Message) bayeux.Message {
		if fired.CompareAndSwap(false, true) {
			return bayeux.Message{
				ID:         req.ID,
				Channel:    req.Channel,
				Successful: false,
				Advice:     &bayeux.Advice{Reconnect: bayeux.AdviceReconnectHandshake},
			}
		}
		return fallback(req)
	}
}

// NegotiationFailure is a Responder whose handshake reply advertises no
// connection types the client could possibly share, forcing a
// NegotiationFailedError.
func NegotiationFailure(req bayeux.Message) bayeux.Message {
	return bayeux.Message{
		ID:                       req.ID,
		Channel:                  bayeux.MetaHandshake,
		Successful:               true,
		ClientID:                 "unused",
		SupportedConnectionTypes: []string{"smoke-signal"},
	}
}
