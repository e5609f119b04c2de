package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paperflow/internal/events"
	"paperflow/internal/logging"

	"github.com/stretchr/testify/require"
)

func publishCompleted(t *testing.T, m *Memory, id int64) {
	t.Helper()
	require.NoError(t, events.PublishPayload(context.Background(), m, events.KindSummarizationCompleted,
		events.SummarizationCompleted{WorkItemID: id, ResultLocator: "k"}))
}

func TestMemoryFIFOPerQueue(t *testing.T) {
	m := NewMemory(logging.Discard())
	defer m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu  sync.Mutex
		got []int64
	)
	require.NoError(t, m.Consume(ctx, events.QueueFor(events.KindSummarizationCompleted), 1, func(_ context.Context, env events.Envelope) error {
		p, err := events.Decode[events.SummarizationCompleted](env, events.KindSummarizationCompleted)
		if err != nil {
			return err
		}
		mu.Lock()
		got = append(got, p.WorkItemID)
		mu.Unlock()
		return nil
	}))
	for i := int64(1); i <= 20; i++ {
		publishCompleted(t, m, i)
	}
	require.NoError(t, m.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 20)
	for i, id := range got {
		require.Equal(t, int64(i+1), id)
	}
}

func TestMemoryRoutesToStatsQueueToo(t *testing.T) {
	m := NewMemory(logging.Discard())
	defer m.Close()
	publishCompleted(t, m, 1)
	require.Equal(t, int64(1), m.Depth(events.QueueFor(events.KindSummarizationCompleted)))
	require.Equal(t, int64(1), m.Depth(events.StatsQueue))
	require.Equal(t, int64(0), m.Depth(events.QueueFor(events.KindExtractionRequested)))
}

func TestMemoryRejectsWithoutRequeue(t *testing.T) {
	m := NewMemory(logging.Discard())
	defer m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls := 0
	var mu sync.Mutex
	queue := events.QueueFor(events.KindSummarizationCompleted)
	require.NoError(t, m.Consume(ctx, queue, 2, func(context.Context, events.Envelope) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("engine down")
	}))
	publishCompleted(t, m, 7)
	require.NoError(t, m.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, calls)
	require.Equal(t, int64(1), m.Rejected(queue))
}

func TestMemoryBroadcastReachesEveryListener(t *testing.T) {
	m := NewMemory(logging.Discard())
	defer m.Close()
	ctx := context.Background()
	var a, b []string
	require.NoError(t, m.ListenBroadcast(ctx, func(_ context.Context, body []byte) error { a = append(a, string(body)); return nil }))
	require.NoError(t, m.ListenBroadcast(ctx, func(_ context.Context, body []byte) error { b = append(b, string(body)); return nil }))
	require.NoError(t, m.Broadcast(ctx, []byte("hi")))
	require.Equal(t, []string{"hi"}, a)
	require.Equal(t, []string{"hi"}, b)
}

func TestMemoryClosed(t *testing.T) {
	m := NewMemory(logging.Discard())
	require.NoError(t, m.Close())
	err := events.PublishPayload(context.Background(), m, events.KindSummarizationCompleted, events.SummarizationCompleted{WorkItemID: 1})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, m.Consume(context.Background(), events.StatsQueue, 1, nil), ErrClosed)
}

func TestMemoryRejectsPanickingHandlerAndKeepsConsuming(t *testing.T) {
	m := NewMemory(logging.Discard())
	defer m.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := events.QueueFor(events.KindSummarizationCompleted)
	var handled []int64
	require.NoError(t, m.Consume(ctx, q, 1, func(_ context.Context, env events.Envelope) error {
		p, err := events.Decode[events.SummarizationCompleted](env, events.KindSummarizationCompleted)
		if err != nil {
			return err
		}
		if p.WorkItemID == 1 {
			var missing map[string]int
			missing["boom"]++
		}
		handled = append(handled, p.WorkItemID)
		return nil
	}))
	publishCompleted(t, m, 1)
	publishCompleted(t, m, 2)
	require.NoError(t, m.WaitIdle(ctx))

	require.Equal(t, int64(1), m.Rejected(q))
	require.Equal(t, []int64{2}, handled)
}

func TestRunHandlerReportsPanic(t *testing.T) {
	env, err := events.New(events.KindSummarizationCompleted, events.SummarizationCompleted{WorkItemID: 1})
	require.NoError(t, err)
	err = runHandler(context.Background(), func(context.Context, events.Envelope) error {
		panic("decoder blew up")
	}, env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "handler panic: decoder blew up")
}

func TestMemoryDoneClosesOnClose(t *testing.T) {
	m := NewMemory(logging.Discard())
	select {
	case <-m.Done():
		t.Fatal("done before close")
	default:
	}
	require.NoError(t, m.Close())
	<-m.Done()
	require.NoError(t, m.Err())
}
