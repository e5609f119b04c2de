package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"paperflow/internal/events"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const deadLetterQueue = "paperflow.dead_letter"

type AMQPOptions struct {
	URL                string
	EventExchange      string
	NotifyExchange     string
	DeadLetterExchange string
}

// AMQP publishes and consumes pipeline events on a RabbitMQ direct exchange.
// Publishing uses publisher confirms; consumers ack on success and nack
// without requeue on error.
type AMQP struct {
	opts   AMQPOptions
	logger *slog.Logger
	conn   *amqp.Connection

	pubMu sync.Mutex
	pubCh *amqp.Channel

	done    chan struct{}
	errMu   sync.Mutex
	lostErr error
}

func DialAMQP(opts AMQPOptions, logger *slog.Logger) (*AMQP, error) {
	conn, err := amqp.Dial(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	b := &AMQP{opts: opts, logger: logger, conn: conn, pubCh: ch, done: make(chan struct{})}
	if err := b.declareTopology(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	go b.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return b, nil
}

// watch waits for the connection to close. A close initiated by Close carries
// no error; anything else is recorded as the connection loss reported by Err.
func (b *AMQP) watch(closed <-chan *amqp.Error) {
	defer close(b.done)
	amqpErr, ok := <-closed
	if !ok || amqpErr == nil {
		return
	}
	b.errMu.Lock()
	b.lostErr = fmt.Errorf("amqp connection lost: %w", amqpErr)
	b.errMu.Unlock()
	b.logger.Error("amqp connection lost", "code", amqpErr.Code, "reason", amqpErr.Reason, "server", amqpErr.Server)
}

// Done is closed once the connection is gone, whether closed or lost.
func (b *AMQP) Done() <-chan struct{} { return b.done }

// Err reports why the connection was lost, or nil after a clean Close.
func (b *AMQP) Err() error {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lostErr
}

func (b *AMQP) declareTopology() error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open topology channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(b.opts.EventExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.opts.EventExchange, err)
	}
	if err := ch.ExchangeDeclare(b.opts.NotifyExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.opts.NotifyExchange, err)
	}

	var queueArgs amqp.Table
	if b.opts.DeadLetterExchange != "" {
		if err := ch.ExchangeDeclare(b.opts.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter exchange: %w", err)
		}
		if _, err := ch.QueueDeclare(deadLetterQueue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter queue: %w", err)
		}
		if err := ch.QueueBind(deadLetterQueue, "", b.opts.DeadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("bind dead-letter queue: %w", err)
		}
		queueArgs = amqp.Table{"x-dead-letter-exchange": b.opts.DeadLetterExchange}
	}

	for _, q := range events.Queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, queueArgs); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	for _, bind := range events.Topology() {
		if err := ch.QueueBind(bind.Queue, bind.RoutingKey, b.opts.EventExchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", bind.Queue, bind.RoutingKey, err)
		}
	}
	return nil
}

func (b *AMQP) Publish(ctx context.Context, env events.Envelope) error {
	body, err := events.Marshal(env)
	if err != nil {
		return err
	}
	return b.publish(ctx, b.opts.EventExchange, env.Kind.RoutingKey(), string(env.Kind), body)
}

func (b *AMQP) Broadcast(ctx context.Context, body []byte) error {
	return b.publish(ctx, b.opts.NotifyExchange, "", "notification", body)
}

func (b *AMQP) publish(ctx context.Context, exchange, key, msgType string, body []byte) error {
	b.pubMu.Lock()
	dc, err := b.pubCh.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         msgType,
		Body:         body,
	})
	b.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
	}
	ok, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for %s/%s: %w", exchange, key, err)
	}
	if !ok {
		return fmt.Errorf("broker nacked message for %s/%s", exchange, key)
	}
	return nil
}

// Consume opens a dedicated channel with prefetch = workers and starts workers
// goroutines. It returns once the subscription is established.
func (b *AMQP) Consume(ctx context.Context, queue string, workers int, h events.Handler) error {
	if workers <= 0 {
		workers = 1
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	if err := ch.Qos(workers, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set qos on %s: %w", queue, err)
	}
	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				b.handle(ctx, queue, d, h)
			}
			if ctx.Err() == nil {
				b.logger.Warn("delivery channel closed", "queue", queue)
			}
		}()
	}
	go func() {
		<-ctx.Done()
		_ = ch.Close()
		wg.Wait()
	}()
	return nil
}

func (b *AMQP) handle(ctx context.Context, queue string, d amqp.Delivery, h events.Handler) {
	env, err := events.Unmarshal(d.Body)
	if err == nil {
		err = runHandler(ctx, h, env)
	}
	if err != nil {
		b.logger.Warn("rejecting message without requeue", "queue", queue, "message_id", d.MessageId, "redelivered", d.Redelivered, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			b.logger.Error("nack failed", "queue", queue, "error", nackErr)
		}
		return
	}
	if ackErr := d.Ack(false); ackErr != nil {
		b.logger.Error("ack failed", "queue", queue, "error", ackErr)
	}
}

// ListenBroadcast binds an exclusive auto-delete queue to the notification
// exchange so this process sees every broadcast.
func (b *AMQP) ListenBroadcast(ctx context.Context, fn func(ctx context.Context, body []byte) error) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("open broadcast channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare broadcast queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.opts.NotifyExchange, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("bind broadcast queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume broadcast queue: %w", err)
	}
	go func() {
		for d := range deliveries {
			if err := fn(ctx, d.Body); err != nil {
				b.logger.Debug("broadcast listener failed", "error", err)
			}
		}
	}()
	go func() {
		<-ctx.Done()
		_ = ch.Close()
	}()
	return nil
}

func (b *AMQP) Close() error {
	var errs []error
	b.pubMu.Lock()
	if err := b.pubCh.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	b.pubMu.Unlock()
	if err := b.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
