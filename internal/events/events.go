// Package events defines the pipeline's broker envelope, its payload variants
// and the exchange/queue topology every broker implementation follows.
package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind names an event. Its string value doubles as the routing key.
type Kind string

const (
	KindExtractionRequested    Kind = "EXTRACTION_REQUESTED"
	KindSummarizationRequested Kind = "SUMMARIZATION_REQUESTED"
	KindSummarizationCompleted Kind = "SUMMARIZATION_COMPLETED"
)

// AllKinds lists every kind in pipeline order.
var AllKinds = []Kind{KindExtractionRequested, KindSummarizationRequested, KindSummarizationCompleted}

func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) RoutingKey() string { return string(k) }

type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

type ExtractionRequested struct {
	WorkItemID int64  `json:"workItemId"`
	OwnerID    int64  `json:"ownerId"`
	SourceURL  string `json:"sourceUrl"`
}

type SummarizationRequested struct {
	WorkItemID      int64  `json:"workItemId"`
	ExtractedDocURL string `json:"extractedDocUrl"`
	Prompt          string `json:"prompt"`
	Language        string `json:"language"`
}

type SummarizationCompleted struct {
	WorkItemID    int64  `json:"workItemId"`
	ResultLocator string `json:"resultLocator"`
}

// New wraps payload in an envelope of the given kind.
func New(kind Kind, payload any) (Envelope, error) {
	if !kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown event kind %q", kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into T after checking the kind.
func Decode[T any](env Envelope, want Kind) (T, error) {
	var out T
	if env.Kind != want {
		return out, fmt.Errorf("unexpected event kind %q, want %q", env.Kind, want)
	}
	if err := json.Unmarshal(env.Payload, &out); err != nil {
		return out, fmt.Errorf("decode %s payload: %w", want, err)
	}
	return out, nil
}

func Marshal(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

func Unmarshal(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if !env.Kind.Valid() {
		return Envelope{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return env, nil
}

// Publisher sends envelopes to the event exchange. Publish returns once the
// broker has confirmed the message; there is no deduplication.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Handler processes one delivery. A nil return acks the message; an error
// rejects it without requeue.
type Handler func(ctx context.Context, env Envelope) error

// Subscriber attaches handlers to named queues.
type Subscriber interface {
	Consume(ctx context.Context, queue string, workers int, h Handler) error
}

// PublishPayload builds an envelope and publishes it.
func PublishPayload(ctx context.Context, p Publisher, kind Kind, payload any) error {
	env, err := New(kind, payload)
	if err != nil {
		return err
	}
	if err := p.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	return nil
}
