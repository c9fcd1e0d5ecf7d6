package bayeux

import (
	"reflect"
	"testing"
)

func TestMatchingChannelsTopLevel(t *testing.T) {
	got := matchingChannels(Channel("/foo"))
	want := []Channel{"/foo", "/*", "/**"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMatchingChannelsNested(t *testing.T) {
	got := matchingChannels(Channel("/foo/bar"))
	want := []Channel{"/foo/bar", "/foo/*", "/foo/**", "/**"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestMatchingChannelsThreeLevels(t *testing.T) {
	got := matchingChannels(Channel("/foo/bar/baz"))
	want := []Channel{
		"/foo/bar/baz",
		"/foo/bar/*", "/foo/bar/**",
		"/foo/**",
		"/**",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestChannelBusDispatchExactAndGlobs(t *testing.T) {
	bus := NewChannelBus()
	var exact, singleLevel, recursiveNested, recursiveRoot []Message

	bus.Subscribe("/foo/bar", func(m Message) { exact = append(exact, m) })
	bus.Subscribe("/foo/*", func(m Message) { singleLevel = append(singleLevel, m) })
	bus.Subscribe("/foo/**", func(m Message) { recursiveNested = append(recursiveNested, m) })
	bus.Subscribe("/**", func(m Message) { recursiveRoot = append(recursiveRoot, m) })

	bus.Dispatch(Message{Channel: "/foo/bar", Data: []byte(`1`)}, nil)

	if len(exact) != 1 || len(singleLevel) != 1 || len(recursiveNested) != 1 || len(recursiveRoot) != 1 {
		t.Fatalf("expected every matching glob level to receive one message: exact=%d single=%d nested=%d root=%d",
			len(exact), len(singleLevel), len(recursiveNested), len(recursiveRoot))
	}
}

func TestChannelBusSingleLevelGlobOnlyMatchesImmediateParent(t *testing.T) {
	bus := NewChannelBus()
	var matched int
	bus.Subscribe("/foo/*", func(m Message) { matched++ })

	bus.Dispatch(Message{Channel: "/foo/bar/baz"}, nil)

	if matched != 0 {
		t.Fatalf("expected /foo/* to not match /foo/bar/baz, got %d deliveries", matched)
	}
}

func TestChannelBusLocalSubscriberCrossing(t *testing.T) {
	bus := NewChannelBus()
	if bus.LocalSubscriberCount("/foo") != 0 {
		t.Fatal("expected 0 subscribers initially")
	}

	entry1 := bus.Subscribe("/foo", func(Message) {})
	if bus.LocalSubscriberCount("/foo") != 1 {
		t.Fatal("expected 1 subscriber after first Subscribe")
	}

	entry2 := bus.Subscribe("/foo", func(Message) {})
	if bus.LocalSubscriberCount("/foo") != 2 {
		t.Fatal("expected 2 subscribers after second Subscribe")
	}

	bus.Remove(entry1)
	if bus.LocalSubscriberCount("/foo") != 1 {
		t.Fatal("expected 1 subscriber after removing one")
	}

	bus.Remove(entry2)
	if bus.LocalSubscriberCount("/foo") != 0 {
		t.Fatal("expected 0 subscribers after removing both")
	}
}

func TestChannelBusClearSubscriptionsKeepsListeners(t *testing.T) {
	bus := NewChannelBus()
	var subscriptionFired, listenerFired bool

	bus.Subscribe("/foo", func(Message) { subscriptionFired = true })
	bus.AddListener("/foo", func(Message) { listenerFired = true })

	bus.ClearSubscriptions()
	bus.Dispatch(Message{Channel: "/foo"}, nil)

	if subscriptionFired {
		t.Fatal("expected cleared subscription to not fire")
	}
	if !listenerFired {
		t.Fatal("expected listener to survive ClearSubscriptions")
	}
	if bus.LocalSubscriberCount("/foo") != 0 {
		t.Fatal("expected listener to not count as a local subscriber")
	}
}

func TestChannelBusDispatchRecoversPanickingCallback(t *testing.T) {
	bus := NewChannelBus()
	bus.Subscribe("/foo", func(Message) { panic("boom") })

	var recovered interface{}
	bus.Dispatch(Message{Channel: "/foo"}, func(r interface{}) { recovered = r })

	if recovered == nil {
		t.Fatal("expected onPanic to be invoked with the recovered value")
	}
}

func TestChannelBusRemoveNilIsNoop(t *testing.T) {
	bus := NewChannelBus()
	bus.Remove(nil) // must not panic
}
