// Package scheduler sequences startup of the monitoring components
// (spec.md §4.9): metrics sink warm-up, endpoint-state cache warm-up, then
// the endpoint/block/consensus monitors, each on its own named periodic
// loop, and coordinates graceful shutdown. The Start/Shutdown lifecycle
// (context cancellation, sync.WaitGroup, ordered log messages, bounded
// drain) is adapted from the teacher's shared.Server.Start/Shutdown.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chainwatch/netmon/internal/logging"
	"github.com/chainwatch/netmon/internal/metrics"
)

// Runnable is one periodic component the scheduler owns the lifecycle of.
type Runnable interface {
	Run(ctx context.Context)
}

// WarmupFunc performs a one-time blocking startup task before periodic
// loops are registered (e.g. warming a cache from historical data).
type WarmupFunc func(ctx context.Context) error

// Config controls shutdown draining.
type Config struct {
	ShutdownFlushTimeout time.Duration // default 10s, bounds the metrics sink flush
}

func (c Config) withDefaults() Config {
	if c.ShutdownFlushTimeout <= 0 {
		c.ShutdownFlushTimeout = 10 * time.Second
	}
	return c
}

// Scheduler starts warm-up steps in order, then every registered Runnable
// concurrently, and coordinates a single ordered shutdown sequence.
type Scheduler struct {
	cfg    Config
	sink   *metrics.Sink
	logger zerolog.Logger

	mu    sync.Mutex
	tasks []namedRunnable

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type namedRunnable struct {
	name string
	run  Runnable
}

// New builds a Scheduler. sink is flushed (with a bounded deadline) as the
// last shutdown step, after every Runnable's context has been cancelled.
func New(cfg Config, sink *metrics.Sink, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		sink:   sink,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Register adds a named periodic component to run once Start is called.
// Call before Start; registrations after Start are ignored.
func (s *Scheduler) Register(name string, run Runnable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, namedRunnable{name: name, run: run})
}

// Start runs every warm-up step in sequence (aborting on the first error),
// then launches every registered Runnable on its own goroutine.
func (s *Scheduler) Start(ctx context.Context, warmups ...WarmupFunc) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	for i, warmup := range warmups {
		s.logger.Info().Int("step", i+1).Msg("running startup warm-up step")
		if err := warmup(s.ctx); err != nil {
			s.cancel()
			return err
		}
	}

	s.mu.Lock()
	tasks := append([]namedRunnable(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		t := t
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer logging.RecoverPanic(s.logger, t.name)
			s.logger.Info().Str("task", t.name).Msg("starting periodic task")
			t.run.Run(s.ctx)
			s.logger.Info().Str("task", t.name).Msg("periodic task stopped")
		}()
	}

	s.logger.Info().Int("task_count", len(tasks)).Msg("scheduler started")
	return nil
}

// Shutdown cancels every registered task's context, waits for them to
// return, then flushes the metrics sink buffer with a bounded deadline.
func (s *Scheduler) Shutdown() {
	s.logger.Info().Msg("initiating graceful shutdown")

	if s.cancel != nil {
		s.cancel()
	}

	s.logger.Info().Msg("waiting for periodic tasks to stop")
	s.wg.Wait()

	s.logger.Info().Dur("timeout", s.cfg.ShutdownFlushTimeout).Msg("flushing metrics buffer")
	s.sink.Stop(s.cfg.ShutdownFlushTimeout)

	s.logger.Info().Msg("graceful shutdown completed")
}
