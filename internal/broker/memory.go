package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"paperflow/internal/events"
)

var ErrClosed = errors.New("broker closed")

// Memory is an in-process broker with the same topology as the AMQP one: a
// direct exchange fanning each routing key out to its bound queues, FIFO per
// queue, ack on nil and drop on error. Used for tests and single-binary mode.
type Memory struct {
	logger *slog.Logger

	mu        sync.RWMutex
	bindings  map[string][]string
	queues    map[string]*memQueue
	listeners []func(ctx context.Context, body []byte) error
	closed    bool
	done      chan struct{}
	wg        sync.WaitGroup
}

type memQueue struct {
	name     string
	ch       chan []byte
	consumed atomic.Bool
	pending  atomic.Int64
	rejected atomic.Int64
}

func NewMemory(logger *slog.Logger) *Memory {
	m := &Memory{
		logger:   logger,
		bindings: map[string][]string{},
		queues:   map[string]*memQueue{},
		done:     make(chan struct{}),
	}
	for _, b := range events.Topology() {
		q := m.queueLocked(b.Queue)
		m.bindings[b.RoutingKey] = append(m.bindings[b.RoutingKey], q.name)
	}
	return m
}

func (m *Memory) queueLocked(name string) *memQueue {
	q, ok := m.queues[name]
	if !ok {
		q = &memQueue{name: name, ch: make(chan []byte, 4096)}
		m.queues[name] = q
	}
	return q
}

func (m *Memory) Publish(ctx context.Context, env events.Envelope) error {
	body, err := events.Marshal(env)
	if err != nil {
		return err
	}
	// The read lock is held across the sends so Close cannot close a queue
	// channel underneath a publisher.
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for _, name := range m.bindings[env.Kind.RoutingKey()] {
		q := m.queues[name]
		q.pending.Add(1)
		select {
		case q.ch <- body:
		case <-ctx.Done():
			q.pending.Add(-1)
			return ctx.Err()
		}
	}
	return nil
}

// Consume starts workers goroutines on queue and returns immediately. They stop
// when ctx is cancelled or the broker is closed.
func (m *Memory) Consume(ctx context.Context, queue string, workers int, h events.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	q, ok := m.queues[queue]
	if !ok {
		return fmt.Errorf("queue %q is not declared", queue)
	}
	if workers <= 0 {
		workers = 1
	}
	q.consumed.Store(true)
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case body, ok := <-q.ch:
					if !ok {
						return
					}
					m.deliver(ctx, q, body, h)
				}
			}
		}()
	}
	return nil
}

func (m *Memory) deliver(ctx context.Context, q *memQueue, body []byte, h events.Handler) {
	defer q.pending.Add(-1)
	env, err := events.Unmarshal(body)
	if err == nil {
		err = runHandler(ctx, h, env)
	}
	if err != nil {
		q.rejected.Add(1)
		m.logger.Warn("message rejected without requeue", "queue", q.name, "error", err)
	}
}

// Broadcast delivers body to every broadcast listener.
func (m *Memory) Broadcast(ctx context.Context, body []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	listeners := append([]func(context.Context, []byte) error(nil), m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		if err := fn(ctx, body); err != nil {
			m.logger.Debug("broadcast listener failed", "error", err)
		}
	}
	return nil
}

func (m *Memory) ListenBroadcast(ctx context.Context, fn func(ctx context.Context, body []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.listeners = append(m.listeners, fn)
	return nil
}

// Rejected reports how many deliveries on queue ended in an error.
func (m *Memory) Rejected(queue string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queue]; ok {
		return q.rejected.Load()
	}
	return 0
}

// Depth reports queued plus in-flight messages on queue.
func (m *Memory) Depth(queue string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[queue]; ok {
		return q.pending.Load()
	}
	return 0
}

// WaitIdle blocks until every consumed queue is empty and no handler runs.
func (m *Memory) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if m.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (m *Memory) idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queues {
		if q.consumed.Load() && q.pending.Load() > 0 {
			return false
		}
	}
	return true
}

// Done is closed by Close. The in-process broker has no connection to lose,
// so Err is always nil.
func (m *Memory) Done() <-chan struct{} { return m.done }

func (m *Memory) Err() error { return nil }

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	for _, q := range m.queues {
		close(q.ch)
	}
	m.mu.Unlock()
	m.wg.Wait()
	return nil
}
