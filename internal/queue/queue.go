// Package queue implements the bounded, prioritized, retrying, timeout-
// guarded task executor of spec.md §4.3. The worker-goroutine mechanics and
// panic-recovery wrapper are adapted from the teacher's WorkerPool
// (ws/worker_pool.go); priority ordering is new, built on container/heap
// since the teacher's pool is FIFO-only.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chainwatch/netmon/internal/types"
)

// Task is the work a queue item performs. It returns an error on failure;
// a context deadline exceeded is treated identically to any other failure.
type Task func(ctx context.Context) error

// OnMaxRetries is invoked once an item has exhausted maxRetries; the item
// is not re-enqueued afterward.
type OnMaxRetries func(id string, payload any, lastErr error)

// Config controls queue capacity and retry/timeout behavior.
type Config struct {
	MaxConcurrent int // default 4
	MaxRetries    int // default 3
	RetryDelay    time.Duration
	ItemTimeout   time.Duration // default 30s
	OnMaxRetries  OnMaxRetries
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 30 * time.Second
	}
	return c
}

type item struct {
	id            string
	payload       any
	task          Task
	priority      types.Priority
	createdAt     time.Time
	attempts      int
	lastAttemptAt time.Time
	index         int // heap bookkeeping
}

// priorityHeap orders by priority ascending, then createdAt ascending.
type priorityHeap []*item

func (h priorityHeap) Len() int { return len(h) }
func (h priorityHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}
func (h priorityHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *priorityHeap) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *priorityHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a single bounded priority work queue. One Queue is shared by all
// producers and workers; Start spawns the worker goroutines.
type Queue struct {
	cfg    Config
	logger zerolog.Logger

	mu      sync.Mutex
	heap    priorityHeap
	byID    map[string]*item
	notify  chan struct{}

	sem chan struct{}
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Queue. Call Start to begin processing.
func New(cfg Config, logger zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()
	return &Queue{
		cfg:    cfg,
		logger: logger.With().Str("component", "work_queue").Logger(),
		byID:   make(map[string]*item),
		notify: make(chan struct{}, 1),
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Enqueue adds a task under id with the given priority. Enqueuing an id
// already present is idempotent unless the new priority is higher
// (numerically smaller), in which case the existing item is promoted;
// otherwise the new enqueue is dropped.
func (q *Queue) Enqueue(id string, payload any, priority types.Priority, task Task) {
	if id == "" {
		id = uuid.NewString()
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.byID[id]; ok {
		if priority < existing.priority {
			existing.priority = priority
			existing.createdAt = time.Now()
			// existing.index is -1 while the item is popped for execution or
			// awaiting retry re-push; heap.Fix only applies while it's still
			// queued. The promoted fields take effect on its next push.
			if existing.index >= 0 {
				heap.Fix(&q.heap, existing.index)
			}
		}
		return
	}

	it := &item{
		id:        id,
		payload:   payload,
		task:      task,
		priority:  priority,
		createdAt: time.Now(),
	}
	q.byID[id] = it
	heap.Push(&q.heap, it)
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of items waiting in the queue; items currently
// executing or waiting out a retry delay are not counted.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Start begins dispatching queued items, up to MaxConcurrent in parallel.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(1)
	go q.dispatchLoop()
}

// Stop requests shutdown and waits for in-flight items to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.notify:
		case <-time.After(100 * time.Millisecond):
		}

		for {
			it := q.popReady()
			if it == nil {
				break
			}
			select {
			case q.sem <- struct{}{}:
			case <-q.ctx.Done():
				return
			}
			q.wg.Add(1)
			go q.run(it)
		}
	}
}

func (q *Queue) popReady() *item {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.heap) == 0 {
		return nil
	}
	return heap.Pop(&q.heap).(*item)
}

func (q *Queue) run(it *item) {
	defer q.wg.Done()
	defer func() { <-q.sem }()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error().Str("item_id", it.id).Interface("panic", r).Msg("recovered from panic executing queue item")
			q.handleFailure(it, nil)
		}
	}()

	it.attempts++
	it.lastAttemptAt = time.Now()

	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.ItemTimeout)
	defer cancel()

	err := it.task(ctx)
	if err != nil {
		q.handleFailure(it, err)
		return
	}

	q.mu.Lock()
	delete(q.byID, it.id)
	q.mu.Unlock()
}

func (q *Queue) handleFailure(it *item, err error) {
	if it.attempts > q.cfg.MaxRetries {
		q.mu.Lock()
		delete(q.byID, it.id)
		q.mu.Unlock()
		if q.cfg.OnMaxRetries != nil {
			q.cfg.OnMaxRetries(it.id, it.payload, err)
		}
		return
	}

	delay := q.cfg.RetryDelay
	go func() {
		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
			return
		}
		q.mu.Lock()
		if _, stillTracked := q.byID[it.id]; stillTracked {
			heap.Push(&q.heap, it)
		}
		q.mu.Unlock()
		select {
		case q.notify <- struct{}{}:
		default:
		}
	}()
}
