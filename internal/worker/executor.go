package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"escrow/offchain/internal/lifecycle"
	"escrow/offchain/internal/models"
)

var (
	// ErrQueueFull is returned when no more actions can be accepted
	ErrQueueFull = errors.New("action queue is full")
	// ErrUnknownAction is returned for action ids the executor does not hold
	ErrUnknownAction = errors.New("unknown action")
	// ErrStopped is returned after shutdown has begun
	ErrStopped = errors.New("executor is stopped")
)

// ActionEngine runs escrow actions to completion on a tracker
type ActionEngine interface {
	Create(ctx context.Context, t *lifecycle.Tracker, p lifecycle.CreateParams) (solana.Signature, error)
	Take(ctx context.Context, t *lifecycle.Tracker, address solana.PublicKey) (solana.Signature, error)
	Cancel(ctx context.Context, t *lifecycle.Tracker, address solana.PublicKey) (solana.Signature, error)
	Update(ctx context.Context, t *lifecycle.Tracker, p lifecycle.UpdateParams) (solana.Signature, error)
	Abandon(ctx context.Context, t *lifecycle.Tracker, intent models.Intent, escrow *solana.PublicKey, cause error) error
}

// Action is one queued request. Escrow is used by take and cancel; Create
// and Update carry the parameters of their intents.
type Action struct {
	Intent models.Intent
	Escrow solana.PublicKey
	Create *lifecycle.CreateParams
	Update *lifecycle.UpdateParams
}

func (a Action) validate() error {
	switch a.Intent {
	case models.IntentCreate:
		if a.Create == nil {
			return fmt.Errorf("create action without parameters")
		}
	case models.IntentUpdate:
		if a.Update == nil {
			return fmt.Errorf("update action without parameters")
		}
	case models.IntentTake, models.IntentCancel:
		if a.Escrow.IsZero() {
			return fmt.Errorf("%s action without escrow address", a.Intent)
		}
	default:
		return fmt.Errorf("unknown intent %q", a.Intent)
	}
	return nil
}

// escrowAddress is the escrow an action targets, nil for create
func (a Action) escrowAddress() *solana.PublicKey {
	switch {
	case a.Update != nil:
		addr := a.Update.Escrow
		return &addr
	case !a.Escrow.IsZero():
		addr := a.Escrow
		return &addr
	}
	return nil
}

type job struct {
	id      string
	action  Action
	tracker *lifecycle.Tracker
}

// Executor runs submitted actions on a fixed pool of goroutines and keeps
// their trackers for polling until they are reset or pruned.
type Executor struct {
	engine      ActionEngine
	concurrency int
	retention   time.Duration
	logger      *zap.Logger

	queue chan job

	mu       sync.RWMutex
	trackers map[string]*lifecycle.Tracker
	stopped  bool
	abort    context.CancelFunc
}

// NewExecutor creates an executor. Finished trackers are kept for retention.
func NewExecutor(engine ActionEngine, concurrency, queueSize int, retention time.Duration, logger *zap.Logger) *Executor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Executor{
		engine:      engine,
		concurrency: concurrency,
		retention:   retention,
		logger:      logger.Named("executor"),
		queue:       make(chan job, queueSize),
		trackers:    make(map[string]*lifecycle.Tracker),
	}
}

// Submit queues action and returns its id. The action is visible through
// Tracker immediately, idle until a worker picks it up.
func (e *Executor) Submit(action Action) (string, error) {
	if err := action.validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	j := job{id: id, action: action, tracker: lifecycle.NewTrackerWithID(id)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return "", ErrStopped
	}

	select {
	case e.queue <- j:
	default:
		return "", ErrQueueFull
	}
	e.trackers[id] = j.tracker

	e.logger.Info("Action queued",
		zap.String("action_id", id),
		zap.String("intent", string(action.Intent)))

	return id, nil
}

// Tracker returns the tracker of action id
func (e *Executor) Tracker(id string) (*lifecycle.Tracker, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.trackers[id]
	return t, ok
}

// Reset returns a finished action's tracker to idle and forgets it
func (e *Executor) Reset(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, ok := e.trackers[id]
	if !ok {
		return ErrUnknownAction
	}
	status := t.State().Status
	if status == models.TransactionStatusIdle {
		// still queued
		return lifecycle.ErrActionInFlight
	}
	if err := t.Reset(); err != nil {
		return err
	}
	delete(e.trackers, id)
	return nil
}

// Run processes the queue until ctx is cancelled. Cancellation stops new
// actions from starting; actions already running continue until they finish
// or Abort is called. Actions still queued are then abandoned.
func (e *Executor) Run(ctx context.Context) {
	e.logger.Info("Executor started", zap.Int("concurrency", e.concurrency))

	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()
	e.mu.Lock()
	e.abort = abort
	e.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < e.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-e.queue:
					if ctx.Err() != nil {
						e.abandon(jobCtx, j)
						return
					}
					e.execute(jobCtx, j)
				}
			}
		}()
	}

	ticker := time.NewTicker(pruneInterval(e.retention))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.mu.Lock()
			e.stopped = true
			e.mu.Unlock()
			e.logger.Info("Executor stopping, waiting for running actions")
			wg.Wait()
			e.drain(jobCtx)
			e.logger.Info("Executor stopped")
			return
		case <-ticker.C:
			e.prune(time.Now())
		}
	}
}

// Abort cancels the context of running actions. Actions interrupted after
// signing keep their signature for reconciliation.
func (e *Executor) Abort() {
	e.mu.RLock()
	abort := e.abort
	e.mu.RUnlock()
	if abort != nil {
		abort()
	}
}

// drain abandons every action still queued. Submit is closed by then.
func (e *Executor) drain(ctx context.Context) {
	for {
		select {
		case j := <-e.queue:
			e.abandon(ctx, j)
		default:
			return
		}
	}
}

func (e *Executor) abandon(ctx context.Context, j job) {
	escrow := j.action.escrowAddress()
	if err := e.engine.Abandon(context.WithoutCancel(ctx), j.tracker, j.action.Intent, escrow, ErrStopped); err != nil {
		e.logger.Error("Failed to abandon action",
			zap.String("action_id", j.id),
			zap.Error(err))
	}
}

func (e *Executor) execute(ctx context.Context, j job) {
	logger := e.logger.With(
		zap.String("action_id", j.id),
		zap.String("intent", string(j.action.Intent)))
	logger.Debug("Executing action")

	var (
		sig solana.Signature
		err error
	)
	switch j.action.Intent {
	case models.IntentCreate:
		sig, err = e.engine.Create(ctx, j.tracker, *j.action.Create)
	case models.IntentTake:
		sig, err = e.engine.Take(ctx, j.tracker, j.action.Escrow)
	case models.IntentCancel:
		sig, err = e.engine.Cancel(ctx, j.tracker, j.action.Escrow)
	case models.IntentUpdate:
		sig, err = e.engine.Update(ctx, j.tracker, *j.action.Update)
	}

	if err != nil {
		logger.Debug("Action finished with error", zap.Error(err))
		return
	}
	logger.Debug("Action finished", zap.String("signature", sig.String()))
}

// prune forgets finished actions last updated before now minus retention
func (e *Executor) prune(now time.Time) int {
	cutoff := now.Add(-e.retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for id, t := range e.trackers {
		if t.State().Status.IsTerminal() && t.UpdatedAt().Before(cutoff) {
			delete(e.trackers, id)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("Pruned finished actions", zap.Int("count", removed))
	}
	return removed
}

func pruneInterval(retention time.Duration) time.Duration {
	interval := retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}
