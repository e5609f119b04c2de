package notify

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

var errConnClosed = errors.New("connection closed")

// SSEConn writes Server-Sent Events to an HTTP response.
type SSEConn struct {
	id      string
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

var _ Conn = (*SSEConn)(nil)

// NewSSEConn writes the event-stream headers. It fails when w cannot flush.
func NewSSEConn(w http.ResponseWriter) (*SSEConn, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming unsupported by response writer")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &SSEConn{id: uuid.NewString(), w: w, flusher: f, done: make(chan struct{})}, nil
}

func (c *SSEConn) ID() string { return c.id }

func (c *SSEConn) Send(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if _, err := fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (c *SSEConn) Close() {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *SSEConn) Done() <-chan struct{} { return c.done }
