package bayeux

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EngineOptions configures a SessionEngine. The zero value is usable: any
// field left unset takes the default NewSessionEngine documents. The named
// functional options a caller is expected to reach for (WithBackoffIncrement,
// WithTransports, ...) live one layer up on Client's Option, since Client is
// the constructor nearly everyone uses; EngineOptions exists for callers
// driving a SessionEngine directly without the Client facade.
type EngineOptions struct {
	BackoffIncrement time.Duration
	MaxBackoff       time.Duration
	ClientTransports []string
	ExceptionHandler func(recovered error)
}

// SessionEngine drives one Bayeux session: the state machine, the transport
// in use, the channel bus, and every meta message exchange. Client wraps it
// with the goroutine/channel facade applications actually call into; the
// engine itself is safe for concurrent use on its own.
type SessionEngine struct {
	logger Logger

	sm               *StateMachine
	registry         *TransportRegistry
	clientTransports []string
	url              string

	backoffIncrement time.Duration
	maxBackoff       time.Duration

	queue     *MessageQueue
	bus       *ChannelBus
	callbacks *callbackTable

	scheduler      *Scheduler
	schedulerOwned bool
	handshakeSlot  *replacingSlot
	connectSlot    *replacingSlot

	extsMu sync.Mutex
	exts   []MessageExtender

	batchMu    sync.Mutex
	batchDepth int

	exceptionHandler func(error)

	ctx       context.Context
	cancelCtx context.CancelFunc
}

// NewSessionEngine constructs an engine in DISCONNECTED. registry must have
// at least one transport registered before Handshake is called. A nil
// scheduler causes the engine to create and own one, shutting it down on
// terminate; a nil logger gets a logger that discards everything. Any zero
// field in options takes its documented default.
func NewSessionEngine(rawURL string, registry *TransportRegistry, logger Logger, scheduler *Scheduler, options EngineOptions) *SessionEngine {
	if options.BackoffIncrement == 0 {
		options.BackoffIncrement = 1000 * time.Millisecond
	}
	if options.MaxBackoff == 0 {
		options.MaxBackoff = 30000 * time.Millisecond
	}
	if len(options.ClientTransports) == 0 {
		options.ClientTransports = []string{ConnectionTypeLongPolling}
	}

	owned := false
	if scheduler == nil {
		scheduler = NewScheduler()
		owned = true
	}
	if logger == nil {
		logger = newNullLogger()
	}

	e := &SessionEngine{
		logger:           logger,
		sm:               NewStateMachine(),
		registry:         registry,
		clientTransports: options.ClientTransports,
		url:              rawURL,
		backoffIncrement: options.BackoffIncrement,
		maxBackoff:       options.MaxBackoff,
		queue:            NewMessageQueue(),
		bus:              NewChannelBus(),
		callbacks:        newCallbackTable(),
		scheduler:        scheduler,
		schedulerOwned:   owned,
		exceptionHandler: options.ExceptionHandler,
	}
	e.handshakeSlot = newReplacingSlot(scheduler)
	e.connectSlot = newReplacingSlot(scheduler)
	return e
}

// Current returns the current lifecycle tag.
func (e *SessionEngine) Current() StateTag { return e.sm.Current().Tag() }

// WaitFor blocks until the session reaches (or implies) one of targets, or
// deadline elapses, returning whether it did.
func (e *SessionEngine) WaitFor(deadline time.Duration, targets ...StateTag) bool {
	return e.sm.WaitFor(deadline, targets...)
}

// Handshake initiates (or restarts, from DISCONNECTED only) the session.
// template fields are merged into the outgoing /meta/handshake, except the
// reserved fields the engine itself owns. callback, if not nil, receives the
// handshake reply.
func (e *SessionEngine) Handshake(ctx context.Context, template map[string]interface{}, callback Callback) error {
	initial := e.pickInitialTransport()
	if initial == nil {
		return NegotiationFailedError{Client: e.clientTransports}
	}

	e.ctx, e.cancelCtx = context.WithCancel(ctx)
	if err := initial.Init(e.ctx, map[string]interface{}{"url": e.url}); err != nil {
		return err
	}
	if ws, ok := initial.(*WebSocketTransport); ok {
		ws.SetListener(e)
	}

	applied, _, err := e.sm.Update(func(cur SessionState) (SessionState, bool) {
		if cur.Tag() != TagDisconnected {
			return nil, false
		}
		nextCtx := stateContext{transport: initial, handshakeFields: template, handshakeCallback: callback}
		return handshakingState{nextCtx}, true
	}, e.onEnter, e.onRun)
	if err != nil {
		return err
	}
	if !applied {
		return ErrAlreadyHandshaking
	}
	return nil
}

// Disconnect initiates a graceful /meta/disconnect exchange from CONNECTING
// or CONNECTED. From any other state it terminates without that exchange and
// invokes callback synthetically.
func (e *SessionEngine) Disconnect(callback Callback) error {
	cur := e.sm.Current()
	switch cur.Tag() {
	case TagConnecting, TagConnected:
		_, _, err := e.sm.Update(transitionTo(TagDisconnecting, func(ctx stateContext) stateContext {
			ctx.disconnectCallback = callback
			return ctx
		}), e.onEnter, e.onRun)
		return err
	default:
		// HANDSHAKING, REHANDSHAKING and UNCONNECTED have no legal edge to
		// DISCONNECTING, so a disconnect() call there (or from DISCONNECTING
		// itself) goes straight to TERMINATING. From DISCONNECTED or
		// TERMINATING the legality gate rejects the proposal and the state is
		// left as it is.
		e.sm.Update(transitionTo(TagTerminating, identityCtx), e.onEnter, e.onRun)
		if callback != nil {
			callback(Message{Channel: MetaDisconnect, Successful: true}, nil)
		}
		return nil
	}
}

// Abort tears the session down without a graceful /meta/disconnect
// exchange: the transport is forced closed rather than given the chance to
// drain.
func (e *SessionEngine) Abort() error {
	_, _, err := e.sm.Update(transitionTo(TagTerminating, func(ctx stateContext) stateContext {
		ctx.abort = true
		return ctx
	}), e.onEnter, e.onRun)
	return err
}

// Publish sends data on ch, an application (non-meta) channel. callback, if
// not nil, receives the publish ack.
func (e *SessionEngine) Publish(ch Channel, data interface{}, callback Callback) error {
	if isMetaChannel(ch) {
		return ErrMetaPublish
	}
	cur := e.sm.Current()
	if cur.Tag() == TagDisconnected || cur.Tag() == TagTerminating {
		return ErrClientNotConnected
	}
	msg, err := publishMessage(ch, cur.Context().clientID, data)
	if err != nil {
		return err
	}
	if callback != nil {
		e.callbacks.register(msg.ID, callback)
	}
	e.sendOrQueue(cur, []Message{msg})
	return nil
}

// RemoteCall issues a /service/<target> request, invoking callback with the
// reply or, if timeout elapses first, a synthetic RemoteCallTimeoutError
// reply.
func (e *SessionEngine) RemoteCall(target string, data interface{}, timeout time.Duration, callback Callback) error {
	cur := e.sm.Current()
	if cur.Tag() == TagDisconnected || cur.Tag() == TagTerminating {
		return ErrClientNotConnected
	}
	msg, err := serviceMessage(target, cur.Context().clientID, data)
	if err != nil {
		return err
	}

	var handle *Handle
	wrapped := func(reply Message, callbackErr error) {
		if handle != nil {
			handle.Cancel()
		}
		if callback != nil {
			callback(reply, callbackErr)
		}
	}
	e.callbacks.register(msg.ID, wrapped)

	if timeout > 0 {
		handle = e.scheduler.Schedule(timeout, func() {
			if cb, ok := e.callbacks.pop(msg.ID); ok {
				timeoutErr := RemoteCallTimeoutError{Target: target}
				cb(Message{ID: msg.ID, Channel: msg.Channel, Error: timeoutErr.Error()}, timeoutErr)
			}
		})
	}

	e.sendOrQueue(cur, []Message{msg})
	return nil
}

// Subscribe registers cb on ch, sending /meta/subscribe only on the 0->1
// local-subscriber crossing. The returned handle is required by Unsubscribe.
func (e *SessionEngine) Subscribe(ch Channel, cb Subscription) *subscriptionEntry {
	entry := e.bus.Subscribe(ch, cb)
	if e.bus.LocalSubscriberCount(ch) == 1 {
		e.sendMetaSubscribe(ch)
	}
	return entry
}

// AddListener registers a permanent subscription that ClearSubscriptions
// never removes and that never triggers a /meta/subscribe by itself.
func (e *SessionEngine) AddListener(ch Channel, cb Subscription) *subscriptionEntry {
	return e.bus.AddListener(ch, cb)
}

// Unsubscribe removes entry, sending /meta/unsubscribe only on the 1->0
// local-subscriber crossing.
func (e *SessionEngine) Unsubscribe(entry *subscriptionEntry) error {
	if entry == nil {
		return nil
	}
	ch := entry.channel
	e.bus.Remove(entry)
	if e.bus.LocalSubscriberCount(ch) == 0 {
		e.sendMetaUnsubscribe(ch)
	}
	return nil
}

func (e *SessionEngine) sendMetaSubscribe(ch Channel) {
	cur := e.sm.Current()
	builder := NewSubscribeRequestBuilder()
	builder.AddClientID(cur.Context().clientID)
	_ = builder.AddSubscription(ch)
	msgs, _ := builder.Build()
	e.sendOrQueue(cur, msgs)
}

func (e *SessionEngine) sendMetaUnsubscribe(ch Channel) {
	cur := e.sm.Current()
	builder := NewUnsubscribeRequestBuilder()
	builder.AddClientID(cur.Context().clientID)
	_ = builder.AddSubscription(ch)
	msgs, _ := builder.Build()
	e.sendOrQueue(cur, msgs)
}

// StartBatch defers every Publish/Subscribe/Unsubscribe send until a
// matching EndBatch, coalescing whatever accumulates into one flush.
// Batches nest; sends flush only once the outermost EndBatch returns.
func (e *SessionEngine) StartBatch() {
	e.batchMu.Lock()
	e.batchDepth++
	e.batchMu.Unlock()
}

// EndBatch closes one level of batching, flushing the queue if it was the
// outermost level. Returns ErrUnbalancedBatch if no batch is open.
func (e *SessionEngine) EndBatch() error {
	e.batchMu.Lock()
	if e.batchDepth == 0 {
		e.batchMu.Unlock()
		return ErrUnbalancedBatch
	}
	e.batchDepth--
	depleted := e.batchDepth == 0
	e.batchMu.Unlock()
	if depleted {
		e.flushQueue()
	}
	return nil
}

func (e *SessionEngine) inBatch() bool {
	e.batchMu.Lock()
	defer e.batchMu.Unlock()
	return e.batchDepth > 0
}

// UseExtension registers ext; each instance may only be registered once.
func (e *SessionEngine) UseExtension(ext MessageExtender) error {
	e.extsMu.Lock()
	defer e.extsMu.Unlock()
	for _, registered := range e.exts {
		if registered == ext {
			return AlreadyRegisteredError{Ext: ext}
		}
	}
	e.exts = append(e.exts, ext)
	return nil
}

func (e *SessionEngine) pickInitialTransport() Transport {
	names := e.registry.AcceptedNames(e.clientTransports, BayeuxVersion, e.url)
	if len(names) == 0 {
		return nil
	}
	t, _ := e.registry.Get(names[0])
	return t
}

// isReadyToSend reports whether clientId has been assigned (CONNECTING,
// CONNECTED, UNCONNECTED or DISCONNECTING), matching the states spec section
// 3 lists for the clientId-non-null invariant.
func (e *SessionEngine) isReadyToSend(cur SessionState) bool {
	switch cur.Tag() {
	case TagConnecting, TagConnected, TagUnconnected, TagDisconnecting:
		return true
	default:
		return false
	}
}

func (e *SessionEngine) sendOrQueue(cur SessionState, msgs []Message) {
	if e.inBatch() || !e.isReadyToSend(cur) {
		for _, m := range msgs {
			e.queue.Enqueue(m)
		}
		return
	}
	t := cur.Context().transport
	if t == nil {
		for _, m := range msgs {
			e.queue.Enqueue(m)
		}
		return
	}
	e.dispatchOutgoing(t, msgs)
}

func (e *SessionEngine) flushQueue() {
	if e.inBatch() {
		return
	}
	cur := e.sm.Current()
	if !e.isReadyToSend(cur) {
		return
	}
	msgs := e.queue.Drain()
	if len(msgs) == 0 {
		return
	}
	t := cur.Context().transport
	if t == nil {
		for _, m := range msgs {
			e.queue.Enqueue(m)
		}
		return
	}
	e.dispatchOutgoing(t, msgs)
}

// dispatchOutgoing sends msgs over t. A message built and queued before
// clientId was ever assigned (the not-yet-handshaken enqueue path) carries an
// empty ClientID baked in at enqueue time; it is stamped with whatever
// clientId is current by the time it actually ships, since only the
// handshake request itself is allowed to go out without one.
func (e *SessionEngine) dispatchOutgoing(t Transport, msgs []Message) {
	clientID := e.sm.Current().Context().clientID
	for i := range msgs {
		if msgs[i].ClientID == "" && msgs[i].Channel != MetaHandshake {
			msgs[i].ClientID = clientID
		}
	}
	e.runExtensions(msgs, func(ext MessageExtender, m *Message) { ext.Outgoing(m) })
	t.Send(e.ctx, e, msgs)
}

func (e *SessionEngine) runExtensions(msgs []Message, apply func(MessageExtender, *Message)) {
	e.extsMu.Lock()
	exts := append([]MessageExtender(nil), e.exts...)
	e.extsMu.Unlock()
	for i := range msgs {
		id := msgs[i].ID
		for _, ext := range exts {
			apply(ext, &msgs[i])
		}
		msgs[i].ID = id
	}
}

// OnMessages implements TransportListener: it runs incoming extensions then
// routes each reply by channel.
func (e *SessionEngine) OnMessages(msgs []Message) {
	e.runExtensions(msgs, func(ext MessageExtender, m *Message) { ext.Incoming(m) })
	for _, m := range msgs {
		e.routeReply(m)
	}
}

// OnFailure implements TransportListener: it synthesizes an unsuccessful
// reply per originating message (or, with none given, treats it as a
// /meta/connect failure, the only long-lived outstanding exchange a
// transport has) and routes it the same way a real reply would be routed.
func (e *SessionEngine) OnFailure(err error, msgs []Message) {
	cur := e.sm.Current()
	connType := ""
	if t := cur.Context().transport; t != nil {
		connType = t.Name()
	}
	if len(msgs) == 0 {
		msgs = []Message{{Channel: MetaConnect}}
	}
	for _, orig := range msgs {
		e.routeReply(Message{
			ID:         orig.ID,
			Channel:    orig.Channel,
			Successful: false,
			Failure:    &Failure{Exception: err.Error(), ConnectionType: connType},
		})
	}
}

func (e *SessionEngine) routeReply(m Message) {
	switch m.Channel {
	case MetaHandshake:
		e.onHandshakeReply(m)
	case MetaConnect:
		e.onConnectReply(m)
	case MetaDisconnect:
		e.onDisconnectReply(m)
	case MetaSubscribe:
		var err error
		if !m.Successful {
			err = SubscriptionFailedError{Channels: []Channel{m.Subscription}, Err: newSubscribeError(m.Error)}
		}
		e.invokeCallback(m, err)
		e.bus.Dispatch(m, e.handlePanic)
	case MetaUnsubscribe:
		var err error
		if !m.Successful {
			err = UnsubscribeFailedError{Channels: []Channel{m.Subscription}, Err: newUnsubscribeError(m.Error)}
		}
		e.invokeCallback(m, err)
		e.bus.Dispatch(m, e.handlePanic)
	default:
		var err error
		if !m.Successful && m.Error != "" {
			err = fmt.Errorf("%s", m.Error)
		}
		e.invokeCallback(m, err)
		e.bus.Dispatch(m, e.handlePanic)
	}
}

func (e *SessionEngine) onHandshakeReply(m Message) {
	var err error
	if !m.Successful {
		err = HandshakeFailedError{Err: newHandshakeError(m.Error)}
	}
	e.invokeCallback(m, err)
	e.bus.Dispatch(m, e.handlePanic)

	if !m.Successful {
		switch m.Advice.reconnectOrDefault() {
		case AdviceReconnectNone:
			e.sm.Update(transitionTo(TagTerminating, identityCtx), e.onEnter, e.onRun)
		default:
			e.sm.Update(func(cur SessionState) (SessionState, bool) {
				ctx := cur.Context()
				ctx.backoff = e.nextBackoff(ctx.backoff)
				return rehandshakingState{ctx}, true
			}, e.onEnter, e.onRun)
		}
		return
	}

	negotiated, ok := e.registry.Negotiate(e.clientTransports, m.SupportedConnectionTypes, BayeuxVersion, e.url)
	if !ok {
		negErr := NegotiationFailedError{Client: e.clientTransports, Server: m.SupportedConnectionTypes}
		failure := m
		failure.Successful = false
		failure.Error = negErr.Error()
		e.bus.Dispatch(failure, e.handlePanic)
		e.sm.Update(transitionTo(TagTerminating, identityCtx), e.onEnter, e.onRun)
		return
	}

	cur := e.sm.Current()
	curTransport := cur.Context().transport
	if curTransport == nil || curTransport.Name() != negotiated.Name() {
		if curTransport != nil {
			_ = curTransport.Terminate()
		}
		_ = negotiated.Init(e.ctx, map[string]interface{}{"url": e.url})
		if ws, ok := negotiated.(*WebSocketTransport); ok {
			ws.SetListener(e)
		}
	}

	advice := m.Advice
	switch advice.reconnectOrDefault() {
	case AdviceReconnectNone:
		e.sm.Update(transitionTo(TagTerminating, func(ctx stateContext) stateContext {
			ctx.transport, ctx.clientID, ctx.advice = negotiated, m.ClientID, advice
			return ctx
		}), e.onEnter, e.onRun)
	default:
		e.sm.Update(transitionTo(TagConnecting, func(ctx stateContext) stateContext {
			ctx.transport, ctx.clientID, ctx.advice, ctx.backoff = negotiated, m.ClientID, advice, 0
			return ctx
		}), e.onEnter, e.onRun)
	}
}

func (e *SessionEngine) onConnectReply(m Message) {
	var err error
	if !m.Successful {
		err = ConnectionFailedError{Err: newConnectError(m.Error)}
	}
	e.invokeCallback(m, err)
	e.bus.Dispatch(m, e.handlePanic)

	if m.Successful {
		switch m.Advice.reconnectOrDefault() {
		case AdviceReconnectNone:
			e.sm.Update(transitionTo(TagDisconnecting, identityCtx), e.onEnter, e.onRun)
		default:
			e.sm.Update(transitionTo(TagConnected, func(ctx stateContext) stateContext {
				ctx.backoff = 0
				if m.Advice != nil {
					ctx.advice = m.Advice
				}
				return ctx
			}), e.onEnter, e.onRun)
		}
		return
	}

	switch m.Advice.reconnectOrDefault() {
	case AdviceReconnectHandshake:
		e.sm.Update(transitionTo(TagRehandshaking, func(ctx stateContext) stateContext {
			ctx.backoff = 0
			return ctx
		}), e.onEnter, e.onRun)
	case AdviceReconnectNone:
		e.sm.Update(transitionTo(TagTerminating, identityCtx), e.onEnter, e.onRun)
	default:
		now := time.Now()
		e.sm.Update(transitionTo(TagUnconnected, func(ctx stateContext) stateContext {
			ctx.backoff = e.nextBackoff(ctx.backoff)
			ctx.unconnectSince = now
			if m.Advice != nil {
				ctx.advice = m.Advice
			}
			return ctx
		}), e.onEnter, e.onRun)
	}
}

func (e *SessionEngine) onDisconnectReply(m Message) {
	var err error
	if !m.Successful {
		err = DisconnectFailedError{Err: newDisconnectError(m.Error)}
	}
	e.invokeCallback(m, err)
	e.bus.Dispatch(m, e.handlePanic)
	e.sm.Update(transitionTo(TagTerminating, identityCtx), e.onEnter, e.onRun)
}

func (e *SessionEngine) invokeCallback(m Message, err error) {
	cb, ok := e.callbacks.pop(m.ID)
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.handlePanic(r)
		}
	}()
	cb(m, err)
}

func (e *SessionEngine) handlePanic(recovered interface{}) {
	err, ok := recovered.(error)
	if !ok {
		err = panicError{recovered}
	}
	if e.exceptionHandler != nil {
		e.exceptionHandler(err)
		return
	}
	e.logger.WithError(err).Error("recovered from listener panic")
}

type panicError struct{ v interface{} }

func (p panicError) Error() string { return "panic: " + formatPanic(p.v) }

func formatPanic(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}

// nextBackoff applies the linear step-and-cap policy from spec section 4.3.
func (e *SessionEngine) nextBackoff(current int64) int64 {
	next := current + e.backoffIncrement.Milliseconds()
	if max := e.maxBackoff.Milliseconds(); next > max {
		return max
	}
	return next
}

// onEnter clears non-listener subscriptions on an explicit handshake, and on
// the automatic rehandshake that follows an unsuccessful handshake reply
// (the only path into REHANDSHAKING from HANDSHAKING itself); a
// REHANDSHAKING entered from elsewhere (UNCONNECTED escalation, a failed
// connect with "handshake" advice) does not re-clear, since no new
// subscriptions have been made since the session last held them.
func (e *SessionEngine) onEnter(prev StateTag, next SessionState) {
	switch next.Tag() {
	case TagHandshaking:
		e.bus.ClearSubscriptions()
	case TagRehandshaking:
		if prev == TagHandshaking {
			e.bus.ClearSubscriptions()
		}
	}
}

func (e *SessionEngine) onRun(next SessionState, tagChanged bool) {
	ctx := next.Context()
	switch next.Tag() {
	case TagHandshaking:
		e.doSendHandshake(ctx)
	case TagRehandshaking:
		e.handshakeSlot.arm(time.Duration(ctx.backoff)*time.Millisecond, func() {
			e.doSendHandshake(ctx)
		})
	case TagConnecting:
		e.connectSlot.cancel()
		e.doSendConnect(ctx, true)
		e.flushQueue()
	case TagConnected:
		e.connectSlot.arm(ctx.advice.IntervalAsDuration(), func() {
			e.doSendConnect(ctx, false)
		})
	case TagUnconnected:
		e.scheduleFromUnconnected(ctx)
	case TagDisconnecting:
		e.doSendDisconnect(ctx)
	case TagTerminating:
		e.cleanupAndFinish(ctx)
	}
}

func (e *SessionEngine) doSendHandshake(ctx stateContext) {
	if ctx.transport == nil {
		return
	}
	builder := NewHandshakeRequestBuilder()
	_ = builder.AddVersion(BayeuxVersion)
	_ = builder.AddMinimumVersion(BayeuxVersion)
	for _, name := range e.registry.AcceptedNames(e.clientTransports, BayeuxVersion, e.url) {
		_ = builder.AddSupportedConnectionType(name)
	}
	builder.AddTemplate(ctx.handshakeFields)
	msgs, err := builder.Build()
	if err != nil {
		return
	}
	if ctx.handshakeCallback != nil {
		e.callbacks.register(msgs[0].ID, ctx.handshakeCallback)
	}
	e.dispatchOutgoing(ctx.transport, msgs)
}

func (e *SessionEngine) doSendConnect(ctx stateContext, zeroTimeout bool) {
	if ctx.transport == nil {
		return
	}
	builder := NewConnectRequestBuilder()
	builder.AddClientID(ctx.clientID)
	_ = builder.AddConnectionType(ctx.transport.Name())
	builder.WithZeroTimeoutAdvice(zeroTimeout)
	msgs, err := builder.Build()
	if err != nil {
		return
	}
	e.dispatchOutgoing(ctx.transport, msgs)
}

func (e *SessionEngine) doSendDisconnect(ctx stateContext) {
	builder := NewDisconnectRequestBuilder()
	builder.AddClientID(ctx.clientID)
	msgs, err := builder.Build()
	if err != nil {
		return
	}
	if ctx.disconnectCallback != nil {
		e.callbacks.register(msgs[0].ID, ctx.disconnectCallback)
	}
	if ctx.transport != nil {
		e.dispatchOutgoing(ctx.transport, msgs)
	}
}

// scheduleFromUnconnected arms the next action from UNCONNECTED without
// sending anything itself: either a connect retry after backoff+interval, or
// an escalation straight to REHANDSHAKING once the elapsed unconnected time
// plus backoff exceeds the advertised timeout+interval+maxInterval budget
// (spec section 4.3's "unconnected-to-rehandshake escalation" formula).
func (e *SessionEngine) scheduleFromUnconnected(ctx stateContext) {
	advice := ctx.advice
	elapsed := time.Since(ctx.unconnectSince).Milliseconds() + ctx.backoff
	if advice != nil && advice.MaxInterval > 0 {
		threshold := advice.Timeout + advice.Interval + advice.MaxInterval
		if elapsed > threshold {
			e.sm.Update(transitionTo(TagRehandshaking, identityCtx), e.onEnter, e.onRun)
			return
		}
	}

	delay := time.Duration(ctx.backoff) * time.Millisecond
	if advice != nil {
		delay += advice.IntervalAsDuration()
	}
	e.connectSlot.arm(delay, func() {
		e.doSendConnect(ctx, true)
	})
}

// cleanupAndFinish runs once on entering TERMINATING: it cancels any pending
// scheduled action, tears the transport down (Abort if the session was
// aborted, Terminate otherwise), cancels the root context threaded through
// every Transport.Send call, shuts down an owned scheduler, and finally
// self-transitions to DISCONNECTED.
func (e *SessionEngine) cleanupAndFinish(ctx stateContext) {
	e.handshakeSlot.cancel()
	e.connectSlot.cancel()

	if ctx.transport != nil {
		if ctx.abort {
			_ = ctx.transport.Abort()
		} else {
			_ = ctx.transport.Terminate()
		}
	}

	if e.cancelCtx != nil {
		e.cancelCtx()
	}
	if e.schedulerOwned {
		e.scheduler.Shutdown()
	}

	e.sm.Update(transitionTo(TagDisconnected, func(stateContext) stateContext {
		return stateContext{}
	}), e.onEnter, e.onRun)
}

// newStateForTag constructs the concrete SessionState variant for tag,
// carrying ctx. Every state transition proposal in this file goes through
// this plus transitionTo rather than naming the eight state struct types
// directly at each call site.
func newStateForTag(tag StateTag, ctx stateContext) SessionState {
	switch tag {
	case TagDisconnected:
		return disconnectedState{ctx}
	case TagHandshaking:
		return handshakingState{ctx}
	case TagRehandshaking:
		return rehandshakingState{ctx}
	case TagConnecting:
		return connectingState{ctx}
	case TagConnected:
		return connectedState{ctx}
	case TagUnconnected:
		return unconnectedState{ctx}
	case TagDisconnecting:
		return disconnectingState{ctx}
	case TagTerminating:
		return terminatingState{ctx}
	default:
		panic("bayeux: unknown state tag")
	}
}

// transitionTo builds a TransitionFunc that always proposes tag, with mutate
// applied to the current context. StateMachine.Update's own legality check
// rejects the proposal (without retrying or mutating anything) when the
// current tag cannot legally reach tag; callers rely on this to implement
// invariants like ignoring a late connect reply after DISCONNECTING has
// already been entered.
func transitionTo(tag StateTag, mutate func(stateContext) stateContext) TransitionFunc {
	return func(cur SessionState) (SessionState, bool) {
		return newStateForTag(tag, mutate(cur.Context())), true
	}
}

func identityCtx(ctx stateContext) stateContext { return ctx }
