package transport

import (
	"fmt"
	"net/http"
)

// writeSSEEvent writes a single "message" event per spec.md §6.1:
//
//	id: <broker-event-id>
//	event: message
//	data: <json>
//	<blank line>
//
// and flushes immediately so the client observes it without buffering
// delay.
func writeSSEEvent(w http.ResponseWriter, id string, data []byte) error {
	if _, err := fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", id, data); err != nil {
		return err
	}
	flush(w)
	return nil
}

// writeSSEComment writes a comment line, used as an immediate keep-alive
// on the background channel (spec §4.D.4).
func writeSSEComment(w http.ResponseWriter, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	flush(w)
	return nil
}

func flush(w http.ResponseWriter) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func setSSEHeaders(w http.ResponseWriter, sessionID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if sessionID != "" {
		w.Header().Set("Mcp-Session-Id", sessionID)
	}
}
