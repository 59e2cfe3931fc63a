package apiserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// sseWriter serializes server-sent events onto one response. The mutex
// keeps frames whole if a handler ever writes from more than one
// goroutine.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
	sent    bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: f}, nil
}

// sendJSON writes one data frame with the JSON encoding of v.
func (sw *sseWriter) sendJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return sw.sendRaw(string(b))
}

// sendRaw writes one data frame verbatim.
func (sw *sseWriter) sendRaw(data string) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		return err
	}
	sw.sent = true
	sw.flusher.Flush()
	return nil
}

// wrote reports whether any frame reached the wire. Until the first frame
// is written the response headers are still uncommitted.
func (sw *sseWriter) wrote() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.sent
}
