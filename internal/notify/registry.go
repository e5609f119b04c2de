// Package notify pushes stage-completion events to the client watching a
// paper. Delivery is best effort: the durable paper, stage log and summary
// rows remain the source of truth.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	EventConnect                = "connect"
	EventExtractionCompleted    = "extraction_completed"
	EventSummarizationCompleted = "summarization_completed"
)

// ErrNotListening is returned by Push when no connection is open for the paper.
var ErrNotListening = errors.New("no live connection for paper")

// Pusher sends one named event to whoever is watching paperID.
type Pusher interface {
	Push(ctx context.Context, paperID int64, event string, data any) error
}

// Conn is a live push connection.
type Conn interface {
	ID() string
	Send(event string, data []byte) error
	Close()
	Done() <-chan struct{}
}

// Registry holds at most one live connection per paper.
type Registry struct {
	mu       sync.Mutex
	conns    map[int64]Conn
	lifetime time.Duration
	logger   *slog.Logger
}

var _ Pusher = (*Registry)(nil)

func NewRegistry(lifetime time.Duration, logger *slog.Logger) *Registry {
	if lifetime <= 0 {
		lifetime = time.Hour
	}
	return &Registry{
		conns:    map[int64]Conn{},
		lifetime: lifetime,
		logger:   logger.With("component", "notify"),
	}
}

// Open registers conn for paperID, closing any connection it replaces, and
// sends the connect handshake.
func (r *Registry) Open(paperID int64, conn Conn) error {
	r.mu.Lock()
	old := r.conns[paperID]
	r.conns[paperID] = conn
	r.mu.Unlock()

	if old != nil {
		r.logger.Debug("evicting previous connection", "paper_id", paperID, "conn_id", old.ID())
		old.Close()
	}
	hello, _ := json.Marshal(map[string]any{"paperId": paperID, "connId": conn.ID()})
	if err := conn.Send(EventConnect, hello); err != nil {
		r.drop(paperID, conn)
		return fmt.Errorf("send handshake: %w", err)
	}
	return nil
}

// Remove unregisters conn if it is still the active connection for paperID.
func (r *Registry) Remove(paperID int64, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[paperID]; ok && cur == conn {
		delete(r.conns, paperID)
	}
}

func (r *Registry) drop(paperID int64, conn Conn) {
	conn.Close()
	r.Remove(paperID, conn)
}

// Serve opens conn and blocks until the client goes away, the lifetime
// elapses, the connection is evicted, or a send fails.
func (r *Registry) Serve(ctx context.Context, paperID int64, conn Conn) error {
	if err := r.Open(paperID, conn); err != nil {
		return err
	}
	timer := time.NewTimer(r.lifetime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-conn.Done():
	case <-timer.C:
		r.logger.Debug("connection lifetime elapsed", "paper_id", paperID, "conn_id", conn.ID())
	}
	r.drop(paperID, conn)
	return nil
}

func (r *Registry) Push(_ context.Context, paperID int64, event string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	return r.pushRaw(paperID, event, body)
}

func (r *Registry) pushRaw(paperID int64, event string, body []byte) error {
	r.mu.Lock()
	conn, ok := r.conns[paperID]
	r.mu.Unlock()
	if !ok {
		return ErrNotListening
	}
	if err := conn.Send(event, body); err != nil {
		r.drop(paperID, conn)
		return fmt.Errorf("push %s to paper %d: %w", event, paperID, err)
	}
	return nil
}

// Len reports the number of open connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
