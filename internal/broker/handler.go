package broker

import (
	"context"
	"fmt"
	"runtime/debug"

	"paperflow/internal/events"
)

// runHandler turns a handler panic into an error so the delivery is rejected
// without requeue instead of crashing the process and being redelivered.
func runHandler(ctx context.Context, h events.Handler, env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h(ctx, env)
}
