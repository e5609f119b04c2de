// Package extraction sends extraction jobs to the content extraction engine.
// The implementation is picked once at startup by name.
package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"paperflow/internal/blob"
	"paperflow/internal/events"
	"paperflow/internal/models"
)

// Client hands one extraction job to the engine. A nil error means the
// engine accepted the job; the result arrives later through the callback.
type Client interface {
	RequestExtraction(ctx context.Context, req events.ExtractionRequested) error
}

// ResultSink receives finished extraction results. Callback ingestion
// implements it.
type ResultSink interface {
	ReceiveExtractionResult(ctx context.Context, paperID int64, result models.ExtractionResult) error
}

// Deps carries what the client implementations may need.
type Deps struct {
	EngineURL string
	Timeout   time.Duration
	Blobs     blob.Store
	Sink      ResultSink
	Logger    *slog.Logger
}

type factory func(Deps) (Client, error)

var strategies = map[string]factory{
	"fake": func(Deps) (Client, error) { return NewFake(), nil },
	"http": func(d Deps) (Client, error) {
		if strings.TrimSpace(d.EngineURL) == "" {
			return nil, fmt.Errorf("http extraction client needs an engine url")
		}
		return NewHTTP(d.EngineURL, d.Timeout), nil
	},
	"local": func(d Deps) (Client, error) {
		if d.Blobs == nil || d.Sink == nil {
			return nil, fmt.Errorf("local extraction client needs a blob store and a result sink")
		}
		return NewLocal(d.Blobs, d.Sink, d.Logger), nil
	},
}

// Resolve returns the client registered under name.
func Resolve(name string, d Deps) (Client, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	f, ok := strategies[key]
	if !ok {
		return nil, fmt.Errorf("unknown extraction client %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return f(d)
}

func Names() []string {
	out := make([]string, 0, len(strategies))
	for k := range strategies {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
