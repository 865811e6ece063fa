package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaymcp/relay/broker"
	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/idgen"
	"github.com/relaymcp/relay/logging"
	"github.com/relaymcp/relay/middleware/authmw"
	"github.com/relaymcp/relay/protoerr"
	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/session/jwtbind"
	"github.com/relaymcp/relay/topic"
	"github.com/relaymcp/relay/wire"
)

// Handler is the Streamable-HTTP transport (spec §4.D): an http.Handler
// that decodes JSON-RPC batches off POST bodies, correlates their
// responses through the broker rather than an in-process channel, and
// serves the session-scoped background channel over GET.
//
// Many Handler instances across many gateway processes can share one
// engine's worth of routing behavior, because every outbound message
// passes through the broker keyed by the topic scheme. Inbound messages
// decoded off a POST are handed to this process's engine directly.
type Handler struct {
	Broker broker.Broker
	Store  session.Store // optional; nil uses the stateless fallback (spec §4.B)
	Engine *engine.Engine
	Config Config
	Logger logging.Logger

	// Middlewares is applied, in order, around every route (spec §4.D.2).
	Middlewares []func(http.Handler) http.Handler

	// OnClose, if set, is invoked exactly once when Close completes.
	OnClose func()

	instanceID string
	connID     string
	gw         *gatewayTransport
	router     chi.Router

	subsMu sync.Mutex
	subs   map[broker.Subscription]struct{}

	ready atomic.Bool

	closeOnce sync.Once
}

// SetReady flips the readiness flag /readiness reports (spec §8 invariant
// 6: "readiness reflects listener state"). Callers should set it true
// once the HTTP listener is accepting connections and false during
// graceful shutdown.
func (h *Handler) SetReady(ready bool) { h.ready.Store(ready) }

// NewHandler connects eng to a fresh gatewayTransport backed by brk and
// returns a ready-to-mount Handler.
func NewHandler(eng *engine.Engine, brk broker.Broker, store session.Store, cfg Config, logger logging.Logger) (*Handler, error) {
	if logger == nil {
		logger = logging.Nop{}
	}
	instanceID := idgen.Generator{}.Generate(idgen.Options{Prefix: "gw-"})
	gw := newGatewayTransport(brk, instanceID)
	connID, err := eng.Connect(gw)
	if err != nil {
		return nil, fmt.Errorf("transport: connect engine: %w", err)
	}
	h := &Handler{
		Broker:     brk,
		Store:      store,
		Engine:     eng,
		Config:     cfg,
		Logger:     logger,
		instanceID: instanceID,
		connID:     connID,
		gw:         gw,
		subs:       make(map[broker.Subscription]struct{}),
	}
	h.router = h.buildRouter()
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var next http.Handler = h.router
	for i := len(h.Middlewares) - 1; i >= 0; i-- {
		next = h.Middlewares[i](next)
	}
	next.ServeHTTP(w, req)
}

// buildRouter wires the endpoint layout of spec §4.D.1: the configurable
// MCP endpoint plus /health and /readiness, with everything else 404 and
// unsupported methods 405.
func (h *Handler) buildRouter() chi.Router {
	r := chi.NewRouter()
	for _, mw := range h.Middlewares {
		r.Use(mw)
	}

	r.Get("/health", h.handleHealth)
	r.Get("/readiness", h.handleReadiness)

	endpoint := h.Config.Endpoint
	if endpoint == "" {
		endpoint = "/mcp"
	}
	r.Route(endpoint, func(r chi.Router) {
		r.MethodFunc(http.MethodOptions, "/", h.handleOptions)
		r.MethodFunc(http.MethodPost, "/", h.handlePost)
		r.MethodFunc(http.MethodGet, "/", h.handleGet)
		r.MethodFunc(http.MethodDelete, "/", h.handleDelete)
		r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Allow", "OPTIONS, POST, GET, DELETE")
			http.Error(w, "unsupported method", http.StatusMethodNotAllowed)
		})
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}

func (h *Handler) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !h.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"not ready","listening":false}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready","listening":true}`))
}

func (h *Handler) handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "OPTIONS, POST, GET, DELETE")
	w.WriteHeader(http.StatusNoContent)
}

// accept is the parsed Accept header, matching every comma-separated
// value across every repeated Accept header line.
type accept struct {
	json bool
	sse  bool
}

func parseAccept(req *http.Request) accept {
	var a accept
	for _, v := range strings.Split(strings.Join(req.Header.Values("Accept"), ","), ",") {
		switch strings.TrimSpace(v) {
		case "application/json":
			a.json = true
		case "text/event-stream":
			a.sse = true
		case "*/*":
			a.json, a.sse = true, true
		}
	}
	return a
}

func (h *Handler) requestMetadata(req *http.Request) session.RequestMetadata {
	return session.RequestMetadata{Headers: req.Header, RemoteAddr: req.RemoteAddr}
}

// resolveOrCreateSession implements session resolution for POST (spec
// §4.D.3 step 2): the header wins if present (404 on a store miss);
// otherwise a session is always minted, store-backed if one is
// configured, falling back to an ephemeral in-memory session otherwise.
func (h *Handler) resolveOrCreateSession(w http.ResponseWriter, req *http.Request) (*session.Session, bool) {
	md := h.requestMetadata(req)
	if id := req.Header.Get("Mcp-Session-Id"); id != "" {
		if h.Store == nil {
			return session.New(id), true
		}
		sess, err := h.Store.Get(req.Context(), id, md)
		if err != nil {
			if err == session.ErrNotFound {
				http.Error(w, "session not found", http.StatusNotFound)
				return nil, false
			}
			http.Error(w, "session store error", http.StatusInternalServerError)
			return nil, false
		}
		return sess, true
	}

	if h.Store == nil {
		return session.New(idgen.NewSessionID()), true
	}
	sess, err := h.Store.Create(req.Context(), md)
	if err != nil {
		http.Error(w, "session store error", http.StatusInternalServerError)
		return nil, false
	}
	return sess, true
}

// handlePost implements spec §4.D.3.
func (h *Handler) handlePost(w http.ResponseWriter, req *http.Request) {
	a := parseAccept(req)
	if !a.json && !a.sse {
		http.Error(w, "Accept must contain application/json or text/event-stream", http.StatusNotAcceptable)
		return
	}

	sess, ok := h.resolveOrCreateSession(w, req)
	if !ok {
		return
	}
	w.Header().Set("Mcp-Session-Id", sess.ID)
	if claims, ok := authmw.ClaimsFromContext(req.Context()); ok {
		jwtbind.Bind(sess, jwtbind.FromRegisteredClaims(claims.RegisteredClaims, claims.Scope))
	}

	body, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	msgs, err := wire.DecodeBatch(body)
	if err != nil {
		resp := wire.NewErrorResponse(wire.ID{}, protoerr.ParseError(err).Wire())
		data, _ := wire.EncodeMessage(resp)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write(data)
		return
	}

	var requestIDs []string
	for _, m := range msgs {
		if r, ok := m.(*wire.Request); ok && !r.IsNotification() {
			requestIDs = append(requestIDs, r.ID.String())
		}
	}

	info := engine.MessageInfo{Session: sess, Metadata: req.Header}

	if len(requestIDs) == 0 {
		h.deliverAll(req.Context(), msgs, info)
		for _, m := range msgs {
			data, err := wire.EncodeMessage(m)
			if err != nil {
				continue
			}
			if _, err := h.Broker.Publish(req.Context(), topic.BackgroundOutbound(sess.ID), data); err != nil {
				h.Logger.Warn("transport: audit publish failed", logging.F("err", err.Error()))
			}
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	mode := h.Config.ResponseModePolicy
	if mode == nil {
		mode = DefaultResponseModePolicy
	}
	if mode(msgs, sess) == ModeSSE && !a.sse {
		http.Error(w, "Accept must contain text/event-stream", http.StatusNotAcceptable)
		return
	}

	// Critical ordering (spec §4.D.3 step 7): every correlation
	// subscription opens, and is observed Ready, strictly before any
	// message in the batch is delivered to the engine, so a response
	// produced during delivery can never be published before we're
	// listening for it.
	subs := make(map[string]broker.Subscription, len(requestIDs))
	defer h.unsubscribeAll(subs)
	for _, reqID := range requestIDs {
		sub, err := h.Broker.Subscribe(req.Context(), topic.RequestOutbound(sess.ID, reqID), broker.SubscribeOptions{})
		if err != nil {
			http.Error(w, "failed to correlate request", http.StatusInternalServerError)
			return
		}
		h.trackSub(sub)
		subs[reqID] = sub
	}
	for _, sub := range subs {
		select {
		case <-sub.Ready():
		case <-req.Context().Done():
			return
		}
	}

	h.deliverAll(req.Context(), msgs, info)

	timeout := h.Config.ResponseTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if mode(msgs, sess) == ModeSSE {
		h.streamResponses(w, req, sess.ID, subs, requestIDs, timeout)
		return
	}
	h.writeJSONResponses(w, req, subs, requestIDs, timeout)
}

func (h *Handler) deliverAll(ctx context.Context, msgs []wire.Message, info engine.MessageInfo) {
	for _, m := range msgs {
		go h.gw.deliver(m, ctx, info)
	}
}

// writeJSONResponses implements the JSON response-mode path (spec §4.D.3
// step 8): every request in the batch is awaited up to timeout, missing
// ones materializing as a JSON-RPC internal-error timeout response; a
// single-request batch yields a single object, otherwise an array.
func (h *Handler) writeJSONResponses(w http.ResponseWriter, req *http.Request, subs map[string]broker.Subscription, requestIDs []string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	responses := make([]*wire.Response, len(requestIDs))
	var wg sync.WaitGroup
	for i, reqID := range requestIDs {
		wg.Add(1)
		go func(i int, reqID string, sub broker.Subscription) {
			defer wg.Done()
			resp, err := awaitResponse(req.Context(), sub, time.Until(deadline))
			if err != nil {
				resp = wire.NewErrorResponse(wire.StringID(reqID), protoerr.Timeout(reqID, "", timeout.Milliseconds()).Wire())
			}
			responses[i] = resp
		}(i, reqID, subs[reqID])
	}
	wg.Wait()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if len(responses) == 1 {
		data, _ := wire.EncodeMessage(responses[0])
		_, _ = w.Write(data)
		return
	}
	_, _ = w.Write([]byte("["))
	for i, r := range responses {
		if i > 0 {
			_, _ = w.Write([]byte(","))
		}
		data, _ := wire.EncodeMessage(r)
		_, _ = w.Write(data)
	}
	_, _ = w.Write([]byte("]"))
}

// streamResponses implements the SSE response-mode path (spec §4.D.3 step
// 8): events are forwarded as soon as each subscription delivers one,
// unsubscribing a request's own subscription once its terminal response
// arrives, ending the HTTP response once every request is accounted for.
func (h *Handler) streamResponses(w http.ResponseWriter, req *http.Request, sessionID string, subs map[string]broker.Subscription, requestIDs []string, timeout time.Duration) {
	setSSEHeaders(w, sessionID)

	type delivery struct {
		reqID string
		msg   broker.Message
	}
	merged := make(chan delivery)
	var wg sync.WaitGroup
	for _, reqID := range requestIDs {
		wg.Add(1)
		go func(reqID string, sub broker.Subscription) {
			defer wg.Done()
			for msg := range sub.C() {
				select {
				case merged <- delivery{reqID: reqID, msg: msg}:
				case <-req.Context().Done():
					return
				}
			}
		}(reqID, subs[reqID])
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	outstanding := make(map[string]struct{}, len(requestIDs))
	for _, reqID := range requestIDs {
		outstanding[reqID] = struct{}{}
	}

	for len(outstanding) > 0 {
		select {
		case d, ok := <-merged:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, d.msg.EventID, d.msg.Payload); err != nil {
				return
			}
			d.msg.Ack()
			if isTerminalResponse(d.msg.Payload) {
				delete(outstanding, d.reqID)
				if sub, ok := subs[d.reqID]; ok {
					_ = sub.Unsubscribe()
				}
			}
		case <-timer.C:
			return
		case <-req.Context().Done():
			return
		}
	}
}

func isTerminalResponse(payload []byte) bool {
	msg, err := wire.DecodeMessage(payload)
	if err != nil {
		return false
	}
	_, ok := msg.(*wire.Response)
	return ok
}

func awaitResponse(ctx context.Context, sub broker.Subscription, timeout time.Duration) (*wire.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return nil, fmt.Errorf("transport: subscription closed before a response arrived")
			}
			m, err := wire.DecodeMessage(msg.Payload)
			if err != nil {
				msg.Ack()
				continue
			}
			resp, ok := m.(*wire.Response)
			if !ok {
				msg.Ack()
				continue
			}
			msg.Ack()
			return resp, nil
		case <-timer.C:
			return nil, fmt.Errorf("transport: timed out waiting for response")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// handleGet implements the background channel (spec §4.D.4): disabled by
// config, or unless the client negotiates text/event-stream, this is a
// 405/406; otherwise it streams notifications/server-initiated requests
// for the session, honoring Last-Event-ID as a replay cursor.
func (h *Handler) handleGet(w http.ResponseWriter, req *http.Request) {
	if !h.Config.EnableBackgroundChannel {
		http.Error(w, "background channel disabled", http.StatusMethodNotAllowed)
		return
	}
	if !parseAccept(req).sse {
		http.Error(w, "Accept must contain text/event-stream", http.StatusNotAcceptable)
		return
	}
	sessionID := req.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}
	if h.Store != nil {
		if _, err := h.Store.Get(req.Context(), sessionID, h.requestMetadata(req)); err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
	}

	opts := broker.SubscribeOptions{FromEventID: req.Header.Get("Last-Event-ID")}
	outSub, err := h.Broker.Subscribe(req.Context(), topic.BackgroundOutbound(sessionID), opts)
	if err != nil {
		http.Error(w, "failed to open background channel", http.StatusInternalServerError)
		return
	}
	h.trackSub(outSub)
	defer func() { _ = outSub.Unsubscribe() }()

	inSub, err := h.Broker.Subscribe(req.Context(), topic.BackgroundInbound(sessionID), opts)
	if err != nil {
		http.Error(w, "failed to open background channel", http.StatusInternalServerError)
		return
	}
	h.trackSub(inSub)
	defer func() { _ = inSub.Unsubscribe() }()

	setSSEHeaders(w, sessionID)
	if err := writeSSEComment(w, "connected"); err != nil {
		return
	}

	for {
		select {
		case msg, ok := <-outSub.C():
			if !ok {
				return
			}
			h.forwardBackgroundEvent(w, msg)
		case msg, ok := <-inSub.C():
			if !ok {
				return
			}
			h.forwardBackgroundEvent(w, msg)
		case <-req.Context().Done():
			return
		}
	}
}

// forwardBackgroundEvent forwards every decodable message except a bare
// Response (payloads that fail to decode are acked and dropped): the
// background channel only carries notifications and server-initiated
// requests (spec §4.D.4).
func (h *Handler) forwardBackgroundEvent(w http.ResponseWriter, msg broker.Message) {
	defer msg.Ack()
	parsed, err := wire.DecodeMessage(msg.Payload)
	if err != nil {
		return
	}
	if _, isResponse := parsed.(*wire.Response); isResponse {
		return
	}
	_ = writeSSEEvent(w, msg.EventID, msg.Payload)
}

// handleDelete implements idempotent session termination (spec §4.D.5).
func (h *Handler) handleDelete(w http.ResponseWriter, req *http.Request) {
	if !h.Config.EnableSessionTermination {
		http.Error(w, "session termination disabled", http.StatusMethodNotAllowed)
		return
	}
	sessionID := req.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		http.Error(w, "Mcp-Session-Id header is required", http.StatusBadRequest)
		return
	}
	if h.Store != nil {
		if err := h.Store.Delete(req.Context(), sessionID, h.requestMetadata(req)); err != nil && err != session.ErrNotFound {
			h.Logger.Warn("transport: session delete failed", logging.F("sessionId", sessionID), logging.F("err", err.Error()))
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) trackSub(sub broker.Subscription) {
	h.subsMu.Lock()
	h.subs[sub] = struct{}{}
	h.subsMu.Unlock()
}

func (h *Handler) untrackSub(sub broker.Subscription) {
	h.subsMu.Lock()
	delete(h.subs, sub)
	h.subsMu.Unlock()
}

func (h *Handler) unsubscribeAll(subs map[string]broker.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
		h.untrackSub(sub)
	}
}

// Close implements shutdown (spec §4.D.8): every subscription still open
// across in-flight requests is torn down, the engine connection is
// dropped, and OnClose fires exactly once.
func (h *Handler) Close() error {
	var err error
	h.closeOnce.Do(func() {
		h.subsMu.Lock()
		subs := make([]broker.Subscription, 0, len(h.subs))
		for s := range h.subs {
			subs = append(subs, s)
		}
		h.subs = make(map[broker.Subscription]struct{})
		h.subsMu.Unlock()
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		err = h.Engine.Disconnect(h.connID)
		if h.OnClose != nil {
			h.OnClose()
		}
	})
	return err
}
