// Package engine implements the transport-agnostic JSON-RPC protocol core
// (spec §4.E): connection management, request/response correlation keyed by
// (connection, session?, request-id), handler dispatch, cancellation,
// progress, timeouts, and feature installation.
package engine

import (
	"context"
	"time"

	json "github.com/segmentio/encoding/json"

	"github.com/relaymcp/relay/idgen"
	"github.com/relaymcp/relay/logging"
	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/wire"
)

// Route addresses an outgoing message: SessionID is required; RequestID is
// set on a response to a specific correlated request and on an outgoing
// request sent via Engine.Send, and is empty for notifications
// (spec §4.D.7).
type Route struct {
	SessionID string
	RequestID string
}

// Transport is the narrow surface the engine expects a transport to
// provide (spec §4.E.1): a place to install the single incoming-message
// callback, a way to emit outgoing messages, and a disconnect hook.
type Transport interface {
	// Connect installs onMessage as the transport's sole incoming-message
	// callback.
	Connect(onMessage func(msg wire.Message, ctx context.Context, info MessageInfo)) error
	// Send emits msg, routed per route.
	Send(ctx context.Context, msg wire.Message, route Route) error
	// Disconnect tears the transport down.
	Disconnect() error
}

// MessageInfo accompanies a message delivered to the engine's callback.
type MessageInfo struct {
	Session    *session.Session
	InstanceID string
	Metadata   map[string][]string // transport-supplied metadata (e.g. HTTP headers)
}

// HandlerContext is threaded through to a registered handler (spec
// §4.E.3 step 3: "a context (logger, id-generator, session, instanceId)").
type HandlerContext struct {
	Logger     logging.Logger
	IDGen      idgen.Generator
	Session    *session.Session
	InstanceID string
}

// RequestInfo carries per-call metadata and the abort signal for a
// dispatched request or notification.
type RequestInfo struct {
	Method    string
	Timestamp time.Time
	Metadata  map[string][]string
	Aborted   func() bool
}

// Facade is handed to a handler in place of the raw connection, so that
// handlers can send server-initiated messages or ping without touching
// engine internals (spec §4.E.3 step 3: "a protocol facade").
type Facade interface {
	Send(ctx context.Context, method string, params any, opts SendOptions) (*wire.Response, error)
	Notify(ctx context.Context, method string, params any) error
	Ping(ctx context.Context, opts SendOptions) error
}

// HandlerFunc is the shape every registered method handler implements.
// Notification handlers return a nil result, which is never emitted
// (spec §4.E.3: "notification handlers return an empty result and may
// not reply").
type HandlerFunc func(facade Facade, msg *wire.Request, hctx HandlerContext, info RequestInfo) (any, error)

// Registrar is the narrow surface a Feature's Initialize sees (spec
// §4.E.7 / §4.F).
type Registrar interface {
	RegisterHandler(method string, h HandlerFunc) error
}

// Feature is any unit of functionality that registers handlers at
// installation time (spec §4.F).
type Feature interface {
	Initialize(reg Registrar) error
}

// SendOptions configures an outgoing send (spec §4.E.6).
type SendOptions struct {
	SessionID              string
	RequestID              string // present only when this send IS the response to a request
	Timeout                time.Duration
	MaxTotalTimeout        time.Duration
	OnProgress             func(params json.RawMessage)
	ResetTimeoutOnProgress bool
	// Ctx, if non-nil and later cancelled, aborts the pending wait with
	// an "aborted by external signal" internal error (spec §5
	// "Cancellation semantics").
	Ctx context.Context
}

// Hooks are optional lifecycle callbacks invoked around dispatch and
// send (spec §4.E.2, §4.E.6). Any nil hook is skipped.
type Hooks struct {
	OnBeforeReceive        func(msg wire.Message, info MessageInfo)
	OnAfterReceive         func(msg wire.Message, info MessageInfo)
	OnBeforeSendRequest    func(method string, route Route)
	OnAfterSendRequest     func(method string, route Route, err error)
	OnBeforeSendNotif      func(method string, route Route)
	OnAfterSendNotif       func(method string, route Route, err error)
	OnHandlerError         func(method string, route Route, err error)
}
