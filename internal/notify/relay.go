package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Broadcaster fans a message out to every listening process.
type Broadcaster interface {
	Broadcast(ctx context.Context, body []byte) error
	ListenBroadcast(ctx context.Context, fn func(ctx context.Context, body []byte) error) error
}

type relayMessage struct {
	PaperID int64           `json:"paperId"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// Relay is a Pusher that broadcasts each event so whichever instance holds
// the paper's connection can deliver it from its local Registry.
type Relay struct {
	b      Broadcaster
	local  *Registry
	logger *slog.Logger
}

var _ Pusher = (*Relay)(nil)

func NewRelay(b Broadcaster, local *Registry, logger *slog.Logger) *Relay {
	return &Relay{b: b, local: local, logger: logger.With("component", "notify_relay")}
}

func (r *Relay) Push(ctx context.Context, paperID int64, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	body, err := json.Marshal(relayMessage{PaperID: paperID, Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal relay message: %w", err)
	}
	if err := r.b.Broadcast(ctx, body); err != nil {
		return fmt.Errorf("broadcast %s: %w", event, err)
	}
	return nil
}

// Listen delivers broadcasts to the local registry until ctx is done.
func (r *Relay) Listen(ctx context.Context) error {
	if r.local == nil {
		return errors.New("relay has no local registry")
	}
	return r.b.ListenBroadcast(ctx, r.deliver)
}

func (r *Relay) deliver(_ context.Context, body []byte) error {
	var msg relayMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("decode relay message: %w", err)
	}
	err := r.local.pushRaw(msg.PaperID, msg.Event, msg.Data)
	if errors.Is(err, ErrNotListening) {
		return nil
	}
	if err != nil {
		r.logger.Warn("local push failed", "paper_id", msg.PaperID, "event", msg.Event, "error", err)
	}
	return err
}
