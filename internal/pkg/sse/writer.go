package sse

import (
	"errors"
	"net/http"

	ginsse "github.com/gin-contrib/sse"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed
var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer emits events on a single text/event-stream response
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for streaming and writes the SSE headers
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Send writes one named event. Struct, map and slice data is JSON encoded.
func (s *Writer) Send(event string, data interface{}) error {
	if err := ginsse.Encode(s.w, ginsse.Event{Event: event, Data: data}); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
