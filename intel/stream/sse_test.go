package stream

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestServeSSE(t *testing.T) {
	ch := make(chan Chunk, 2)
	ch <- Chunk{Type: ChunkPlan, RequestID: "r1", Timestamp: time.Now()}
	ch <- Chunk{Type: ChunkComplete, RequestID: "r1", Timestamp: time.Now()}
	close(ch)

	rec := httptest.NewRecorder()
	if err := ServeSSE(rec, ch); err != nil {
		t.Fatalf("serve: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	body := rec.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2: %q", len(frames), body)
	}
	for _, f := range frames {
		if !strings.HasPrefix(f, "data: {") {
			t.Fatalf("frame not SSE-framed: %q", f)
		}
	}
	if !strings.Contains(frames[0], `"type":"plan"`) || !strings.Contains(frames[1], `"type":"complete"`) {
		t.Fatalf("frame order wrong: %q", body)
	}
}
