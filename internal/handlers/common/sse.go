package common

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SSEWriter serializes chunks onto one event stream connection.
type SSEWriter struct {
	c       *gin.Context
	flusher http.Flusher
}

// NewSSEWriter sets the stream headers and returns a writer, or false
// when the underlying connection cannot stream.
func NewSSEWriter(c *gin.Context) (*SSEWriter, bool) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		return nil, false
	}
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	return &SSEWriter{c: c, flusher: flusher}, true
}

// Send writes one data frame containing the JSON encoding of v.
func (w *SSEWriter) Send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.c.Writer.WriteString("data: " + string(payload) + "\n\n"); err != nil {
		return err
	}
	w.flusher.Flush()
	return nil
}

// Done writes the stream terminator.
func (w *SSEWriter) Done() {
	w.c.Writer.WriteString("data: [DONE]\n\n")
	w.flusher.Flush()
}
