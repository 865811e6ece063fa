package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/relaymcp/relay/idgen"
	"github.com/relaymcp/relay/logging"
	"github.com/relaymcp/relay/protoerr"
	"github.com/relaymcp/relay/wire"
)

type correlationKey struct {
	connID    string
	sessionID string
	requestID string
}

type progressKey struct {
	connID    string
	sessionID string
	token     string
}

type pendingRequest struct {
	key        correlationKey
	reqID      wire.ID
	resultCh   chan *wire.Response
	timer      *time.Timer
	timeout    time.Duration
	totalStart time.Time
	maxTotal   time.Duration
	onProgress func(json.RawMessage)
	resetOnPg  bool
	once       sync.Once
	cancel     context.CancelFunc
}

func (p *pendingRequest) complete(resp *wire.Response) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.resultCh <- resp
		close(p.resultCh)
	})
}

type incomingRequest struct {
	cancel    context.CancelFunc
	cancelled bool
	mu        sync.Mutex
}

func (r *incomingRequest) trip(reason string) {
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

func (r *incomingRequest) isCancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled
}

type connection struct {
	id        string
	transport Transport
}

// Engine is the protocol core (spec §4.E). The zero value is not usable;
// use New. An Engine may be connected to multiple transports concurrently
// and is safe for concurrent use from multiple goroutines (the "parallel
// threads" scheduling model in spec §5: every shared map is guarded by its
// own mutex).
type Engine struct {
	Logger logging.Logger
	IDGen  idgen.Generator
	Hooks  Hooks

	DefaultRequestTimeout time.Duration // default 60s, spec §4.E.6 step 4

	connMu  sync.Mutex
	connSeq int64
	conns   map[string]*connection

	handlerMu sync.RWMutex
	handlers  map[string]HandlerFunc

	pendingMu sync.Mutex
	pending   map[correlationKey]*pendingRequest

	incomingMu sync.Mutex
	incoming   map[correlationKey]*incomingRequest

	progressMu sync.Mutex
	progress   map[progressKey]correlationKey
}

// New builds an Engine ready to accept connections and features.
func New() *Engine {
	return &Engine{
		Logger:                logging.Nop{},
		IDGen:                 idgen.Generator{},
		DefaultRequestTimeout: 60 * time.Second,
		conns:                 make(map[string]*connection),
		handlers:              make(map[string]HandlerFunc),
		pending:               make(map[correlationKey]*pendingRequest),
		incoming:              make(map[correlationKey]*incomingRequest),
		progress:              make(map[progressKey]correlationKey),
	}
}

// AddFeature installs a Feature, calling its Initialize with a Registrar
// that writes into the engine's single method table (spec §4.E.7).
func (e *Engine) AddFeature(f Feature) error {
	return f.Initialize(registrar{e})
}

type registrar struct{ e *Engine }

func (r registrar) RegisterHandler(method string, h HandlerFunc) error {
	r.e.handlerMu.Lock()
	defer r.e.handlerMu.Unlock()
	if _, exists := r.e.handlers[method]; exists {
		return fmt.Errorf("engine: method %q already registered", method)
	}
	r.e.handlers[method] = h
	return nil
}

func (e *Engine) handlerFor(method string) (HandlerFunc, bool) {
	e.handlerMu.RLock()
	defer e.handlerMu.RUnlock()
	h, ok := e.handlers[method]
	return h, ok
}

// Connect mints a connection id, installs the engine's incoming-message
// callback on transport, and returns the new connection id (spec §4.E.1).
func (e *Engine) Connect(transport Transport) (string, error) {
	e.connMu.Lock()
	e.connSeq++
	id := fmt.Sprintf("conn-%d", e.connSeq)
	c := &connection{id: id, transport: transport}
	e.conns[id] = c
	e.connMu.Unlock()

	if err := transport.Connect(func(msg wire.Message, ctx context.Context, info MessageInfo) {
		e.onMessage(id, msg, ctx, info)
	}); err != nil {
		e.connMu.Lock()
		delete(e.conns, id)
		e.connMu.Unlock()
		return "", fmt.Errorf("engine: connect: %w", err)
	}
	return id, nil
}

// Disconnect tears a connection's transport down and removes it.
func (e *Engine) Disconnect(connID string) error {
	e.connMu.Lock()
	c, ok := e.conns[connID]
	delete(e.conns, connID)
	e.connMu.Unlock()
	if !ok {
		return nil
	}
	return c.transport.Disconnect()
}

func (e *Engine) transportFor(connID string) (Transport, bool) {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	c, ok := e.conns[connID]
	if !ok {
		return nil, false
	}
	return c.transport, true
}

func sessionIDOf(info MessageInfo) string {
	if info.Session == nil {
		return ""
	}
	return info.Session.ID
}

// onMessage implements incoming dispatch (spec §4.E.2).
func (e *Engine) onMessage(connID string, msg wire.Message, ctx context.Context, info MessageInfo) {
	if e.Hooks.OnBeforeReceive != nil {
		e.Hooks.OnBeforeReceive(msg, info)
	}
	defer func() {
		if e.Hooks.OnAfterReceive != nil {
			e.Hooks.OnAfterReceive(msg, info)
		}
	}()

	sessionID := sessionIDOf(info)

	switch m := msg.(type) {
	case *wire.Response:
		key := correlationKey{connID: connID, sessionID: sessionID, requestID: m.ID.String()}
		e.pendingMu.Lock()
		p, ok := e.pending[key]
		if ok {
			delete(e.pending, key)
		}
		e.pendingMu.Unlock()
		if !ok {
			e.Logger.Info("engine: dropping unmatched response", logging.F("requestId", m.ID.String()))
			return
		}
		p.complete(m)

	case *wire.Request:
		if m.IsNotification() {
			e.dispatchNotification(connID, sessionID, m, ctx, info)
			return
		}
		e.processRequest(connID, sessionID, m, ctx, info)
	}
}

func (e *Engine) dispatchNotification(connID, sessionID string, m *wire.Request, ctx context.Context, info MessageInfo) {
	switch m.Method {
	case "notifications/cancelled":
		e.handleCancelled(connID, sessionID, m.Params)
		return
	case "notifications/progress":
		e.handleProgress(connID, sessionID, m.Params)
		return
	}

	h, ok := e.handlerFor(m.Method)
	if !ok {
		return // unhandled notifications are silently dropped
	}
	hctx := HandlerContext{Logger: e.Logger, IDGen: e.IDGen, Session: info.Session, InstanceID: info.InstanceID}
	reqInfo := RequestInfo{Method: m.Method, Timestamp: time.Now(), Metadata: info.Metadata, Aborted: func() bool { return false }}
	facade := e.facadeFor(connID, sessionID)
	func() {
		defer func() {
			if r := recover(); r != nil {
				e.Logger.Error("engine: notification handler panicked", fmt.Errorf("%v", r), logging.F("method", m.Method))
			}
		}()
		if _, err := h(facade, m, hctx, reqInfo); err != nil {
			e.Logger.Warn("engine: notification handler error", logging.F("method", m.Method), logging.F("err", err.Error()))
		}
	}()
}

// processRequest implements request processing (spec §4.E.3).
func (e *Engine) processRequest(connID, sessionID string, m *wire.Request, ctx context.Context, info MessageInfo) {
	key := correlationKey{connID: connID, sessionID: sessionID, requestID: m.ID.String()}
	reqCtx, cancel := context.WithCancel(ctx)
	inc := &incomingRequest{cancel: cancel}

	e.incomingMu.Lock()
	e.incoming[key] = inc
	e.incomingMu.Unlock()
	defer func() {
		e.incomingMu.Lock()
		delete(e.incoming, key)
		e.incomingMu.Unlock()
	}()

	h, ok := e.handlerFor(m.Method)
	if !ok {
		e.emitResult(connID, sessionID, m.ID, nil, protoerr.MethodNotFound(m.Method))
		return
	}

	hctx := HandlerContext{Logger: e.Logger, IDGen: e.IDGen, Session: info.Session, InstanceID: info.InstanceID}
	reqInfo := RequestInfo{Method: m.Method, Timestamp: time.Now(), Metadata: info.Metadata, Aborted: inc.isCancelled}
	facade := e.facadeFor(connID, sessionID)

	result, err := e.invokeHandler(h, facade, m, hctx, reqInfo, reqCtx)

	if inc.isCancelled() {
		return // a cancelled request produces no response (spec §4.E.3 step 5, §4.E.4)
	}
	if err != nil {
		pe := protoerr.HandlerError(err)
		if e.Hooks.OnHandlerError != nil {
			e.Hooks.OnHandlerError(m.Method, Route{SessionID: sessionID, RequestID: m.ID.String()}, pe)
		}
		e.emitResult(connID, sessionID, m.ID, nil, pe)
		return
	}
	e.emitResult(connID, sessionID, m.ID, result, nil)
}

func (e *Engine) invokeHandler(h HandlerFunc, facade Facade, m *wire.Request, hctx HandlerContext, info RequestInfo, ctx context.Context) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(facade, m, hctx, info)
}

func (e *Engine) emitResult(connID, sessionID string, id wire.ID, result any, pe *protoerr.Error) {
	t, ok := e.transportFor(connID)
	if !ok {
		return
	}
	var resp *wire.Response
	if pe != nil {
		resp = wire.NewErrorResponse(id, pe.Wire())
	} else {
		r, err := wire.NewResultResponse(id, result)
		if err != nil {
			resp = wire.NewErrorResponse(id, protoerr.Internal("encode result: %v", err).Wire())
		} else {
			resp = r
		}
	}
	route := Route{SessionID: sessionID, RequestID: id.String()}
	if err := t.Send(context.Background(), resp, route); err != nil {
		e.Logger.Error("engine: emit result failed", err, logging.F("requestId", id.String()))
	}
}

// handleCancelled implements cancellation (spec §4.E.4).
func (e *Engine) handleCancelled(connID, sessionID string, params json.RawMessage) {
	var body struct {
		RequestID json.RawMessage `json:"requestId"`
		Reason    string          `json:"reason"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		return
	}
	var reqID string
	_ = json.Unmarshal(body.RequestID, &reqID)
	if reqID == "" {
		var n int64
		if err := json.Unmarshal(body.RequestID, &n); err == nil {
			reqID = fmt.Sprintf("%d", n)
		}
	}
	key := correlationKey{connID: connID, sessionID: sessionID, requestID: reqID}
	e.incomingMu.Lock()
	inc, ok := e.incoming[key]
	e.incomingMu.Unlock()
	if ok {
		inc.trip(body.Reason)
	}
}

// handleProgress implements progress routing (spec §4.E.5).
func (e *Engine) handleProgress(connID, sessionID string, params json.RawMessage) {
	var body struct {
		ProgressToken json.RawMessage `json:"progressToken"`
		Progress      float64         `json:"progress"`
		Total         float64         `json:"total"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		return
	}
	token := tokenString(body.ProgressToken)
	if token == "" {
		return
	}
	pkey := progressKey{connID: connID, sessionID: sessionID, token: token}
	e.progressMu.Lock()
	ckey, ok := e.progress[pkey]
	e.progressMu.Unlock()
	if !ok {
		return
	}
	e.pendingMu.Lock()
	p, ok := e.pending[ckey]
	e.pendingMu.Unlock()
	if !ok || p.onProgress == nil {
		return
	}
	p.onProgress(params)
	if p.resetOnPg && p.timer != nil {
		d := p.timeout
		if p.maxTotal > 0 {
			if remaining := p.maxTotal - time.Since(p.totalStart); remaining < d {
				d = remaining
			}
		}
		p.timer.Reset(d)
	}
}

func tokenString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return fmt.Sprintf("%d", n)
	}
	return ""
}

// facade implements Facade for a given (connID, sessionID) pair.
type facade struct {
	e         *Engine
	connID    string
	sessionID string
}

func (e *Engine) facadeFor(connID, sessionID string) Facade {
	return &facade{e: e, connID: connID, sessionID: sessionID}
}

func (f *facade) Send(ctx context.Context, method string, params any, opts SendOptions) (*wire.Response, error) {
	opts.SessionID = f.sessionID
	return f.e.Request(ctx, f.connID, method, params, opts)
}

func (f *facade) Notify(ctx context.Context, method string, params any) error {
	return f.e.Notify(ctx, f.connID, f.sessionID, method, params)
}

func (f *facade) Ping(ctx context.Context, opts SendOptions) error {
	opts.SessionID = f.sessionID
	_, err := f.e.Request(ctx, f.connID, "ping", nil, opts)
	return err
}

// Request mints an id via IDGen and sends a request, waiting for its
// correlated response (a convenience wrapper over Send, spec §4.E.6).
func (e *Engine) Request(ctx context.Context, connID, method string, params any, opts SendOptions) (*wire.Response, error) {
	id := wire.StringID(e.IDGen.Generate(idgen.Options{Prefix: "req-"}))
	msg, err := wire.NewRequest(id, method, params)
	if err != nil {
		return nil, protoerr.Internal("encode request: %v", err)
	}
	return e.Send(ctx, connID, msg, opts)
}

// Notify sends a fire-and-forget notification (spec §4.E.6).
func (e *Engine) Notify(ctx context.Context, connID, sessionID, method string, params any) error {
	msg, err := wire.NewRequest(wire.ID{}, method, params)
	if err != nil {
		return protoerr.Internal("encode notification: %v", err)
	}
	route := Route{SessionID: sessionID}
	if e.Hooks.OnBeforeSendNotif != nil {
		e.Hooks.OnBeforeSendNotif(method, route)
	}
	t, ok := e.transportFor(connID)
	if !ok {
		return protoerr.ConnectionClosed()
	}
	sendErr := t.Send(ctx, msg, route)
	if e.Hooks.OnAfterSendNotif != nil {
		e.Hooks.OnAfterSendNotif(method, route, sendErr)
	}
	return sendErr
}

// Send implements outgoing send (spec §4.E.6). The method prefix
// "notifications/" routes to Notify; otherwise this registers a
// pending-request, arms its timeout, sends via the transport, and waits.
func (e *Engine) Send(ctx context.Context, connID string, msg *wire.Request, opts SendOptions) (*wire.Response, error) {
	if isNotificationMethod(msg.Method) {
		return nil, e.Notify(ctx, connID, opts.SessionID, msg.Method, json.RawMessage(msg.Params))
	}
	if opts.SessionID == "" {
		return nil, protoerr.Internal("send: sessionId is required")
	}

	key := correlationKey{connID: connID, sessionID: opts.SessionID, requestID: msg.ID.String()}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = e.DefaultRequestTimeout
	}

	waitCtx := ctx
	if opts.Ctx != nil {
		waitCtx = opts.Ctx
	}
	innerCtx, cancel := context.WithCancel(waitCtx)

	p := &pendingRequest{
		key:        key,
		reqID:      msg.ID,
		resultCh:   make(chan *wire.Response, 1),
		timeout:    timeout,
		onProgress: opts.OnProgress,
		resetOnPg:  opts.ResetTimeoutOnProgress,
		maxTotal:   opts.MaxTotalTimeout,
		totalStart: time.Now(),
		cancel:     cancel,
	}

	e.pendingMu.Lock()
	e.pending[key] = p
	e.pendingMu.Unlock()

	if token := progressTokenOf(msg.Params); token != "" {
		pkey := progressKey{connID: connID, sessionID: opts.SessionID, token: token}
		e.progressMu.Lock()
		e.progress[pkey] = key
		e.progressMu.Unlock()
		defer func() {
			e.progressMu.Lock()
			delete(e.progress, pkey)
			e.progressMu.Unlock()
		}()
	}

	p.timer = time.AfterFunc(timeout, func() {
		e.removePending(key)
		p.complete(wire.NewErrorResponse(msg.ID, protoerr.Timeout(msg.ID.String(), opts.SessionID, timeout.Milliseconds()).Wire()))
	})
	defer func() {
		if p.timer != nil {
			p.timer.Stop()
		}
	}()

	route := Route{SessionID: opts.SessionID, RequestID: msg.ID.String()}
	if e.Hooks.OnBeforeSendRequest != nil {
		e.Hooks.OnBeforeSendRequest(msg.Method, route)
	}
	t, ok := e.transportFor(connID)
	if !ok {
		e.removePending(key)
		return nil, protoerr.ConnectionClosed()
	}
	sendErr := t.Send(ctx, msg, route)
	if e.Hooks.OnAfterSendRequest != nil {
		e.Hooks.OnAfterSendRequest(msg.Method, route, sendErr)
	}
	if sendErr != nil {
		e.removePending(key)
		return nil, protoerr.InternalWrap(sendErr, "transport send failed")
	}

	select {
	case resp := <-p.resultCh:
		return resp, nil
	case <-innerCtx.Done():
		e.removePending(key)
		return nil, protoerr.Internal("aborted by external signal")
	}
}

func (e *Engine) removePending(key correlationKey) {
	e.pendingMu.Lock()
	delete(e.pending, key)
	e.pendingMu.Unlock()
}

func isNotificationMethod(method string) bool {
	return len(method) >= len("notifications/") && method[:len("notifications/")] == "notifications/"
}

func progressTokenOf(params json.RawMessage) string {
	var body struct {
		Meta struct {
			ProgressToken json.RawMessage `json:"progressToken"`
		} `json:"_meta"`
	}
	if err := json.Unmarshal(params, &body); err != nil {
		return ""
	}
	if body.Meta.ProgressToken == nil {
		return ""
	}
	return tokenString(body.Meta.ProgressToken)
}

// Close implements engine shutdown (spec §4.E.8): completes every
// outstanding pending request with a connection-closed error, trips every
// incoming-request abort handle, disconnects every connection, and clears
// all maps.
func (e *Engine) Close() error {
	e.pendingMu.Lock()
	for key, p := range e.pending {
		p.complete(wire.NewErrorResponse(p.reqID, protoerr.ConnectionClosed().Wire()))
		delete(e.pending, key)
	}
	e.pendingMu.Unlock()

	e.incomingMu.Lock()
	for key, inc := range e.incoming {
		inc.trip("connection closed")
		delete(e.incoming, key)
	}
	e.incomingMu.Unlock()

	e.connMu.Lock()
	conns := make([]*connection, 0, len(e.conns))
	for _, c := range e.conns {
		conns = append(conns, c)
	}
	e.conns = make(map[string]*connection)
	e.connMu.Unlock()

	var firstErr error
	for _, c := range conns {
		if err := c.transport.Disconnect(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
