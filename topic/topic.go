// Package topic implements the pure subject-naming scheme (spec §4.C)
// mapping (session, request?, direction) tuples to broker subject strings.
//
// Subjects are dot-separated segments. The "bg" infix distinguishes the
// session-scoped background families from the per-request families so
// that no two families can ever collide for the same session id.
package topic

import "fmt"

// RequestInbound names the subject a request-scoped message travels on
// from client to server (session, request id).
func RequestInbound(sessionID, requestID string) string {
	return fmt.Sprintf("mcp.%s.%s.inbound", sessionID, requestID)
}

// RequestOutbound names the subject a request-scoped response travels on
// from server back to client (session, request id).
func RequestOutbound(sessionID, requestID string) string {
	return fmt.Sprintf("mcp.%s.%s.outbound", sessionID, requestID)
}

// BackgroundOutbound names the subject server-initiated notifications
// (and responses to server-initiated requests) travel on for a session.
func BackgroundOutbound(sessionID string) string {
	return fmt.Sprintf("mcp.%s.bg.outbound", sessionID)
}

// BackgroundInbound names the subject server-initiated requests travel on
// for a session.
func BackgroundInbound(sessionID string) string {
	return fmt.Sprintf("mcp.%s.bg.inbound", sessionID)
}

// SessionWildcard matches every subject for a session; debugging only, not
// used in correlation logic.
func SessionWildcard(sessionID string) string {
	return fmt.Sprintf("mcp.%s.>", sessionID)
}
