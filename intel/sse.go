package intel

import (
	"net/http"

	"github.com/hazyhaar/radar/intel/stream"
)

// ServeSSE writes a chunk stream to w as server-sent events, flushing
// after every chunk. It returns once the channel closes.
func ServeSSE(w http.ResponseWriter, ch <-chan Chunk) error {
	return stream.ServeSSE(w, ch)
}
