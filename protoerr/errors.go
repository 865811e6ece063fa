// Package protoerr implements the JSON-RPC error taxonomy consumed by the
// transport and protocol engine: parse errors, invalid-request, method-not-found,
// invalid-params (and its session-not-found/session-expired subkinds), and
// internal errors (and its timeout/connection-closed/handler-error subkinds).
package protoerr

import (
	"errors"
	"fmt"

	"github.com/relaymcp/relay/wire"
)

// JSON-RPC 2.0 reserved error codes (spec.md §6.2).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Kind tags the internal taxonomy beyond the wire code, so that callers can
// branch on "why" without string-matching messages.
type Kind int

const (
	KindUnspecified Kind = iota
	KindParse
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindInternal
	KindTimeout
	KindConnectionClosed
	KindSessionNotFound
	KindSessionExpired
	KindHandlerError
)

// Error is a JSON-RPC protocol error: it carries a wire code/message pair
// and a Kind for internal dispatch, and wraps an optional cause.
type Error struct {
	Kind  Kind
	Code  int64
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Wire renders the error as the JSON-RPC error object placed on the wire.
func (e *Error) Wire() *wire.Error {
	return &wire.Error{Code: e.Code, Message: e.Msg}
}

func newf(kind Kind, code int64, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func ParseError(cause error) *Error {
	return &Error{Kind: KindParse, Code: CodeParseError, Msg: "Parse error", Cause: cause}
}

func InvalidRequest(format string, args ...any) *Error {
	return newf(KindInvalidRequest, CodeInvalidRequest, format, args...)
}

func MethodNotFound(method string) *Error {
	return newf(KindMethodNotFound, CodeMethodNotFound, "Method not found: %s", method)
}

func InvalidParams(format string, args ...any) *Error {
	return newf(KindInvalidParams, CodeInvalidParams, format, args...)
}

func SessionNotFound(id string) *Error {
	return &Error{Kind: KindSessionNotFound, Code: CodeInvalidParams, Msg: fmt.Sprintf("Session Not Found: %s", id)}
}

func SessionExpired(id string) *Error {
	return &Error{Kind: KindSessionExpired, Code: CodeInvalidParams, Msg: fmt.Sprintf("Session expired: %s", id)}
}

func Internal(format string, args ...any) *Error {
	return newf(KindInternal, CodeInternalError, format, args...)
}

func InternalWrap(cause error, format string, args ...any) *Error {
	e := newf(KindInternal, CodeInternalError, format, args...)
	e.Cause = cause
	return e
}

func Timeout(requestID, sessionID string, ms int64) *Error {
	return &Error{
		Kind: KindTimeout, Code: CodeInternalError,
		Msg: "Request timeout",
		Cause: fmt.Errorf("request %s session %s timed out after %dms", requestID, sessionID, ms),
	}
}

func ConnectionClosed() *Error {
	return &Error{Kind: KindConnectionClosed, Code: CodeInternalError, Msg: "connection closed"}
}

// HandlerError wraps an arbitrary error returned by a user handler as an
// internal error, unless it is already a protocol error.
func HandlerError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindHandlerError, Code: CodeInternalError, Msg: err.Error(), Cause: err}
}

// AsError reports whether err is (or wraps) a *Error, returning it if so.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
