package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/chainwatch/netmon/internal/types"
)

func newTestQueue(cfg Config) *Queue {
	return New(cfg, zerolog.Nop())
}

func TestQueue_EnqueueIdempotentSamePriority(t *testing.T) {
	q := newTestQueue(Config{})
	q.Enqueue("a", nil, types.PriorityNormal, func(ctx context.Context) error { return nil })
	q.Enqueue("a", nil, types.PriorityNormal, func(ctx context.Context) error { return nil })
	assert.Equal(t, 1, q.Len())
}

func TestQueue_EnqueueHigherPriorityPromotes(t *testing.T) {
	q := newTestQueue(Config{})
	q.Enqueue("a", nil, types.PriorityLow, func(ctx context.Context) error { return nil })
	q.Enqueue("a", nil, types.PriorityHigh, func(ctx context.Context) error { return nil })
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, types.PriorityHigh, q.byID["a"].priority)
}

func TestQueue_EnqueueLowerPriorityDropped(t *testing.T) {
	q := newTestQueue(Config{})
	q.Enqueue("a", nil, types.PriorityHigh, func(ctx context.Context) error { return nil })
	q.Enqueue("a", nil, types.PriorityLow, func(ctx context.Context) error { return nil })
	assert.Equal(t, types.PriorityHigh, q.byID["a"].priority)
}

func TestQueue_ExecutesEnqueuedTask(t *testing.T) {
	q := newTestQueue(Config{MaxConcurrent: 2})
	var ran int32
	var wg sync.WaitGroup
	wg.Add(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("task-1", nil, types.PriorityHigh, func(ctx context.Context) error {
		atomic.AddInt32(&ran, 1)
		wg.Done()
		return nil
	})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run in time")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestQueue_RetriesOnFailureThenCallsOnMaxRetries(t *testing.T) {
	var attempts int32
	var maxRetriesHit int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(Config{
		MaxConcurrent: 1,
		MaxRetries:    2,
		RetryDelay:    10 * time.Millisecond,
		OnMaxRetries: func(id string, payload any, lastErr error) {
			atomic.AddInt32(&maxRetriesHit, 1)
		},
	})
	q.Start(ctx)
	defer q.Stop()

	q.Enqueue("flaky", nil, types.PriorityHigh, func(ctx context.Context) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("boom")
	})

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&maxRetriesHit) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts)) // initial attempt + 2 retries
}
