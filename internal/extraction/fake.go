package extraction

import (
	"context"
	"sync"

	"paperflow/internal/events"
)

// Fake accepts every job and records it. Set Err to simulate an engine outage.
type Fake struct {
	mu    sync.Mutex
	calls []events.ExtractionRequested
	Err   error
}

func NewFake() *Fake { return &Fake{} }

func (f *Fake) RequestExtraction(_ context.Context, req events.ExtractionRequested) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.Err
}

func (f *Fake) Calls() []events.ExtractionRequested {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]events.ExtractionRequested(nil), f.calls...)
}
