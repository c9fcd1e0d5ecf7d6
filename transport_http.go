package bayeux

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// HTTPTransport implements long-polling over plain HTTP POSTs, one request
// per batch, using a cookie jar shared across requests to the same origin.
type HTTPTransport struct {
	client *http.Client
	logger Logger

	mu  sync.RWMutex
	url *url.URL

	cancelMu sync.Mutex
	cancels  map[context.CancelFunc]struct{}
}

// NewHTTPTransport constructs the transport. A nil client gets a default
// http.Client with a public-suffix-aware cookie jar, matching the
// conventional net/http + cookiejar construction; a nil roundTripper keeps
// http.DefaultTransport.
func NewHTTPTransport(client *http.Client, roundTripper http.RoundTripper, logger Logger) (*HTTPTransport, error) {
	if client == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client = &http.Client{Jar: jar}
	}
	if roundTripper == nil {
		roundTripper = http.DefaultTransport
	}
	client.Transport = roundTripper

	if logger == nil {
		logger = newNullLogger()
	}

	return &HTTPTransport{
		client:  client,
		logger:  logger,
		cancels: make(map[context.CancelFunc]struct{}),
	}, nil
}

func (t *HTTPTransport) Name() string { return ConnectionTypeLongPolling }

func (t *HTTPTransport) Accept(version, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func (t *HTTPTransport) Init(ctx context.Context, opts map[string]interface{}) error {
	rawURL, _ := opts["url"].(string)
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.url = u
	t.mu.Unlock()
	return nil
}

func (t *HTTPTransport) Terminate() error {
	t.client.CloseIdleConnections()
	return nil
}

// Abort cancels every in-flight request's context in addition to closing
// idle connections.
func (t *HTTPTransport) Abort() error {
	t.cancelMu.Lock()
	cancels := t.cancels
	t.cancels = make(map[context.CancelFunc]struct{})
	t.cancelMu.Unlock()
	for cancel := range cancels {
		cancel()
	}
	return t.Terminate()
}

func (t *HTTPTransport) Send(ctx context.Context, listener TransportListener, messages []Message) {
	reqCtx, cancel := context.WithCancel(ctx)
	t.cancelMu.Lock()
	t.cancels[cancel] = struct{}{}
	t.cancelMu.Unlock()

	go func() {
		defer func() {
			t.cancelMu.Lock()
			delete(t.cancels, cancel)
			t.cancelMu.Unlock()
			cancel()
		}()

		resp, err := t.do(reqCtx, messages)
		if err != nil {
			listener.OnFailure(err, messages)
			return
		}
		listener.OnMessages(resp)
	}()
}

func (t *HTTPTransport) do(ctx context.Context, ms []Message) ([]Message, error) {
	t.mu.RLock()
	target := t.url
	t.mu.RUnlock()
	if target == nil {
		return nil, BadResponseError{Status: "transport not initialized"}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(ms); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, BadResponseError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}
	}

	messages := make([]Message, 0)
	if err := json.NewDecoder(resp.Body).Decode(&messages); err != nil {
		return nil, err
	}
	return messages, nil
}
