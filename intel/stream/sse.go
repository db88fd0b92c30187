package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ServeSSE drains chunks onto w as server-sent events, one
// `data: <json>` frame per chunk, flushing after each. Returns when the
// channel closes or the connection stops accepting writes.
func ServeSSE(w http.ResponseWriter, ch <-chan Chunk) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return fmt.Errorf("stream: response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for c := range ch {
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("stream: marshal chunk: %w", err)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return fmt.Errorf("stream: write chunk: %w", err)
		}
		flusher.Flush()
	}
	return nil
}
