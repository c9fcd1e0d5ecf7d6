package bayeux

import (
	"strings"
	"sync"
)

// Subscription is the callback invoked for a dispatched message.
type Subscription func(Message)

// subscriptionEntry is one registered (channel, callback) pair. listener
// entries survive ClearSubscriptions; plain subscriptions do not.
type subscriptionEntry struct {
	channel  Channel
	callback Subscription
	listener bool
}

// ChannelBus maps channel ids, including glob patterns, to ordered lists of
// subscriptions and dispatches incoming messages to the matching ones.
// Insertion order is preserved per channel so dispatch is deterministic.
type ChannelBus struct {
	mu   sync.RWMutex
	subs map[Channel][]*subscriptionEntry
}

// NewChannelBus returns an empty bus.
func NewChannelBus() *ChannelBus {
	return &ChannelBus{subs: make(map[Channel][]*subscriptionEntry)}
}

// Subscribe registers cb on ch as a subscription cleared by ClearSubscriptions.
func (b *ChannelBus) Subscribe(ch Channel, cb Subscription) *subscriptionEntry {
	return b.add(ch, cb, false)
}

// AddListener registers cb on ch as a permanent listener, never cleared
// automatically.
func (b *ChannelBus) AddListener(ch Channel, cb Subscription) *subscriptionEntry {
	return b.add(ch, cb, true)
}

func (b *ChannelBus) add(ch Channel, cb Subscription, listener bool) *subscriptionEntry {
	entry := &subscriptionEntry{channel: ch, callback: cb, listener: listener}
	b.mu.Lock()
	b.subs[ch] = append(b.subs[ch], entry)
	b.mu.Unlock()
	return entry
}

// Remove unregisters a single entry previously returned by Subscribe or
// AddListener.
func (b *ChannelBus) Remove(entry *subscriptionEntry) {
	if entry == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	entries := b.subs[entry.channel]
	for i, e := range entries {
		if e == entry {
			b.subs[entry.channel] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	if len(b.subs[entry.channel]) == 0 {
		delete(b.subs, entry.channel)
	}
}

// LocalSubscriberCount reports how many local (non-listener) subscriptions
// exist on ch, used to detect the 0<->1 crossing that drives
// /meta/subscribe and /meta/unsubscribe.
func (b *ChannelBus) LocalSubscriberCount(ch Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := 0
	for _, e := range b.subs[ch] {
		if !e.listener {
			count++
		}
	}
	return count
}

// ClearSubscriptions removes every non-listener subscription, leaving
// permanent listeners in place. Called on entering HANDSHAKING for an
// explicit handshake() call, per the lifecycle rule in spec section 3.
func (b *ChannelBus) ClearSubscriptions() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, entries := range b.subs {
		kept := entries[:0:0]
		for _, e := range entries {
			if e.listener {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, ch)
		} else {
			b.subs[ch] = kept
		}
	}
}

// Dispatch delivers msg to every subscription matching its channel: exact
// listeners first, then single-level glob ("/a/b/*") only at the immediate
// parent, then recursive globs ("/a/**", "/**") from the nearest prefix
// outward. A panicking callback is recovered and routed to onPanic; it never
// aborts dispatch to the remaining listeners.
func (b *ChannelBus) Dispatch(msg Message, onPanic func(recovered interface{})) {
	for _, ch := range matchingChannels(msg.Channel) {
		b.mu.RLock()
		entries := append([]*subscriptionEntry(nil), b.subs[ch]...)
		b.mu.RUnlock()
		for _, e := range entries {
			invokeSafely(e.callback, msg, onPanic)
		}
	}
}

func invokeSafely(cb Subscription, msg Message, onPanic func(interface{})) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	cb(msg)
}

// matchingChannels returns, in dispatch order, the exact channel followed by
// the glob patterns that must also be notified for a message on ch.
//
// For segments [s1..sn]: the exact channel is notified first; then for each
// i from n down to 1, at i==n the single-level glob prefix(i-1)+"/*" is
// notified (single-level globs only match at the immediate parent), and for
// every i the recursive glob prefix(i-1)+"/**" is notified.
func matchingChannels(ch Channel) []Channel {
	trimmed := strings.TrimPrefix(string(ch), "/")
	if trimmed == "" {
		return []Channel{ch}
	}
	segments := strings.Split(trimmed, "/")
	n := len(segments)

	out := make([]Channel, 0, 2*n+1)
	out = append(out, ch)

	for i := n; i >= 1; i-- {
		prefix := strings.Join(segments[:i-1], "/")
		if i == n {
			out = append(out, globChannel(prefix, "*"))
		}
		out = append(out, globChannel(prefix, "**"))
	}
	return out
}

func globChannel(prefix, glob string) Channel {
	if prefix == "" {
		return Channel("/" + glob)
	}
	return Channel("/" + prefix + "/" + glob)
}
