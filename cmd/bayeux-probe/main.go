// Command bayeux-probe handshakes with a Bayeux server, optionally
// subscribes to a channel, and prints every message it receives until
// interrupted.
//
// Only the standard library's flag package is used for argument parsing:
// no other example in the corpus ties a CLI dependency (cobra, viper) to a
// protocol client of this shape, and pulling one in for a single probe
// command would be a dependency with no other home in this module. See
// DESIGN.md.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bayeuxgo/bayeux"
)

func main() {
	var (
		addr        = flag.String("addr", "", "Bayeux server URL (required)")
		channel     = flag.String("subscribe", "", "channel to subscribe to, e.g. /foo/bar")
		websocket   = flag.Bool("websocket", false, "prefer the websocket transport over long-polling")
		verbose     = flag.Bool("verbose", false, "log debug-level engine activity")
		maxBackoff  = flag.Duration("max-backoff", 30*time.Second, "backoff ceiling between reconnect attempts")
		idleTimeout = flag.Duration("idle-timeout", 0, "exit after this long from startup, whether or not messages arrive (0 = never)")
	)
	flag.Parse()

	if *addr == "" {
		fmt.Fprintln(os.Stderr, "bayeux-probe: -addr is required")
		flag.Usage()
		os.Exit(2)
	}

	opts := []bayeux.Option{bayeux.WithMaxBackoff(*maxBackoff)}
	if *websocket {
		opts = append(opts, bayeux.WithWebSocket())
	}
	if *verbose {
		opts = append(opts, bayeux.WithLogger(verboseLogger{}))
	}

	client, err := bayeux.NewClient(*addr, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bayeux-probe: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := client.Start(ctx)

	if *channel != "" {
		// Subscriptions are cleared when the handshake starts, so subscribe
		// only once the session has moved on to connecting.
		client.WaitFor(10*time.Second, bayeux.TagConnecting)
		msgs := make(chan []bayeux.Message, 16)
		client.Subscribe(bayeux.Channel(*channel), msgs)
		go printMessages(msgs)
	}

	idle := newIdleTimer(*idleTimeout)
	defer idle.stop()

	select {
	case err := <-errs:
		if err != nil {
			fmt.Fprintf(os.Stderr, "bayeux-probe: %v\n", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		_ = client.Disconnect(context.Background())
	case <-idle.c:
		fmt.Fprintln(os.Stderr, "bayeux-probe: idle timeout reached, disconnecting")
		_ = client.Disconnect(context.Background())
	}
}

func printMessages(msgs <-chan []bayeux.Message) {
	for batch := range msgs {
		for _, m := range batch {
			encoded, err := json.Marshal(m)
			if err != nil {
				continue
			}
			fmt.Println(string(encoded))
		}
	}
}

type idleTimer struct {
	c      <-chan time.Time
	cancel func()
}

func newIdleTimer(d time.Duration) idleTimer {
	if d <= 0 {
		return idleTimer{c: nil, cancel: func() {}}
	}
	t := time.NewTimer(d)
	return idleTimer{c: t.C, cancel: func() { t.Stop() }}
}

func (i idleTimer) stop() { i.cancel() }

type verboseLogger struct{}

func (verboseLogger) WithField(key string, value interface{}) bayeux.Logger {
	fmt.Fprintf(os.Stderr, "[bayeux] %s=%v\n", key, value)
	return verboseLogger{}
}

func (verboseLogger) WithFields(fields map[string]interface{}) bayeux.Logger {
	for k, v := range fields {
		fmt.Fprintf(os.Stderr, "[bayeux] %s=%v\n", k, v)
	}
	return verboseLogger{}
}

func (verboseLogger) WithError(err error) bayeux.Logger {
	fmt.Fprintf(os.Stderr, "[bayeux] error=%v\n", err)
	return verboseLogger{}
}

func (verboseLogger) Debug(args ...interface{})                 { fmt.Fprintln(os.Stderr, args...) }
func (verboseLogger) Debugf(format string, args ...interface{}) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
func (verboseLogger) Info(args ...interface{})                  { fmt.Fprintln(os.Stderr, args...) }
func (verboseLogger) Error(args ...interface{})                 { fmt.Fprintln(os.Stderr, args...) }
