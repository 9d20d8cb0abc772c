package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"escrow/offchain/internal/config"
)

// Constants for worker configuration
const (
	DefaultPollInterval = 30 * time.Second
	DefaultRetention    = 30 * time.Minute
	MonitorTimeout      = 30 * time.Second

	abortGrace = 5 * time.Second
)

// WorkerManager owns the action executor and the confirmation monitor
type WorkerManager struct {
	logger *zap.Logger

	executor *Executor
	monitor  *Monitor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorkerManager wires the executor and monitor from cfg. staleAge is how
// long an action may legitimately stay confirming.
func NewWorkerManager(
	cfg config.WorkerConfig,
	engine ActionEngine,
	store UnsettledStore,
	chain SignatureChecker,
	staleAge time.Duration,
	logger *zap.Logger,
) *WorkerManager {
	logger = logger.Named("worker")

	interval := cfg.ReconcileInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerManager{
		logger:   logger,
		executor: NewExecutor(engine, cfg.Concurrency, cfg.QueueSize, DefaultRetention, logger),
		monitor:  NewMonitor(store, chain, interval, staleAge, cfg.ReconcileMaxAge, logger),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Executor returns the action executor the API submits to
func (wm *WorkerManager) Executor() *Executor {
	return wm.executor
}

// Start starts all worker goroutines
func (wm *WorkerManager) Start() {
	wm.logger.Info("Starting worker manager",
		zap.Int("concurrency", wm.executor.concurrency),
		zap.Duration("poll_interval", wm.monitor.interval))

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.monitor.Run(wm.ctx)
	}()

	wm.wg.Add(1)
	go func() {
		defer wm.wg.Done()
		wm.executor.Run(wm.ctx)
	}()

	wm.logger.Info("Worker manager started")
}

// Shutdown stops all workers. Running actions get up to timeout to finish;
// after that they are aborted and given abortGrace to record their outcome.
func (wm *WorkerManager) Shutdown(timeout time.Duration) error {
	wm.logger.Info("Shutting down worker manager")

	wm.cancel()

	done := make(chan struct{})
	go func() {
		wm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		wm.logger.Info("Workers stopped gracefully")
	case <-time.After(timeout):
		wm.logger.Warn("Worker shutdown timed out, aborting running actions")
		wm.executor.Abort()
		select {
		case <-done:
		case <-time.After(abortGrace):
			return fmt.Errorf("workers did not stop within %s", timeout+abortGrace)
		}
	}

	wm.logger.Info("Worker manager shutdown complete")
	return nil
}
