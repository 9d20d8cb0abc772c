package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/config"
	"escrow/offchain/internal/lifecycle"
	"escrow/offchain/internal/models"
	"escrow/offchain/internal/tokens"
)

var (
	testProgramID = solana.MustPublicKeyFromBase58("11111111111111111111111111111112")
	testEscrow    = solana.MustPublicKeyFromBase58("HN7cABqLq46Es1jh92dQQisAq662SmxELLLsHHe4YWrH")
	testUSDC      = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	testSOL       = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// closedChain reports every escrow as already taken
type closedChain struct{}

func (closedChain) GetEscrow(context.Context, solana.PublicKey) (*models.EscrowRecord, error) {
	return nil, models.NewTxError(models.ErrorKindAlreadyTaken, svm.ErrEscrowNotFound)
}

func (closedChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{}, nil
}

func (closedChain) SendTransaction(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func (closedChain) WaitForConfirmation(context.Context, solana.Signature, time.Duration) error {
	return nil
}

func (closedChain) AccountExists(context.Context, solana.PublicKey) (bool, error) {
	return false, nil
}

// slowChain broadcasts every transaction and confirms it after delay
type slowChain struct {
	closedChain
	delay time.Duration
}

func (slowChain) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return tx.Signatures[0], nil
}

func (c slowChain) WaitForConfirmation(ctx context.Context, _ solana.Signature, _ time.Duration) error {
	select {
	case <-time.After(c.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type memoryHistory struct {
	mu      sync.Mutex
	records map[string]models.ActionRecord
}

func (h *memoryHistory) SaveAction(_ context.Context, rec *models.ActionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.records == nil {
		h.records = make(map[string]models.ActionRecord)
	}
	h.records[rec.ID] = *rec
	return nil
}

func (h *memoryHistory) get(id string) (models.ActionRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	return rec, ok
}

var testCreate = &lifecycle.CreateParams{
	MakerTokenMint: testUSDC, MakerTokenAmount: "1",
	TakerTokenMint: testSOL, TakerTokenAmount: "1",
	DurationHours: 1,
}

func newTestEngine(t *testing.T) *lifecycle.Engine {
	return newEngineWith(t, closedChain{}, lifecycle.Options{})
}

func newEngineWith(t *testing.T, chain lifecycle.Chain, opts lifecycle.Options) *lifecycle.Engine {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	wallet, err := svm.NewKeypairWallet(key, nil)
	require.NoError(t, err)
	registry, err := tokens.NewRegistry(config.NetworkDevnet, nil)
	require.NoError(t, err)

	engine, err := lifecycle.NewEngine(chain, wallet, registry, testProgramID, opts, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func waitTerminal(t *testing.T, tracker *lifecycle.Tracker) models.TransactionState {
	t.Helper()
	require.Eventually(t, func() bool {
		return tracker.State().Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return tracker.State()
}

func TestExecutor_RunsActions(t *testing.T) {
	exec := NewExecutor(newTestEngine(t), 2, 4, time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		exec.Run(ctx)
		close(done)
	}()

	id, err := exec.Submit(Action{Intent: models.IntentTake, Escrow: testEscrow})
	require.NoError(t, err)

	tracker, ok := exec.Tracker(id)
	require.True(t, ok)

	state := waitTerminal(t, tracker)
	assert.Equal(t, models.TransactionStatusError, state.Status)
	assert.Equal(t, "Escrow has already been taken", state.Message)
	assert.Equal(t, id, tracker.ActionID())

	// finished actions can be reset once, then are forgotten
	require.NoError(t, exec.Reset(id))
	_, ok = exec.Tracker(id)
	assert.False(t, ok)
	assert.ErrorIs(t, exec.Reset(id), ErrUnknownAction)

	// finished actions are pruned after the retention period
	id, err = exec.Submit(Action{Intent: models.IntentCancel, Escrow: testEscrow})
	require.NoError(t, err)
	tracker, _ = exec.Tracker(id)
	waitTerminal(t, tracker)

	assert.Equal(t, 0, exec.prune(time.Now()))
	assert.Equal(t, 1, exec.prune(time.Now().Add(2*time.Minute)))
	_, ok = exec.Tracker(id)
	assert.False(t, ok)

	cancel()
	<-done
	_, err = exec.Submit(Action{Intent: models.IntentTake, Escrow: testEscrow})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestExecutor_QueueFull(t *testing.T) {
	exec := NewExecutor(newTestEngine(t), 1, 1, time.Minute, zap.NewNop())

	first, err := exec.Submit(Action{Intent: models.IntentTake, Escrow: testEscrow})
	require.NoError(t, err)

	_, err = exec.Submit(Action{Intent: models.IntentTake, Escrow: testEscrow})
	assert.ErrorIs(t, err, ErrQueueFull)

	// queued but not started
	tracker, ok := exec.Tracker(first)
	require.True(t, ok)
	assert.Equal(t, models.TransactionStatusIdle, tracker.State().Status)
	assert.ErrorIs(t, exec.Reset(first), lifecycle.ErrActionInFlight)
}

func TestWorkerManager_ShutdownFinishesRunningActions(t *testing.T) {
	history := &memoryHistory{}
	engine := newEngineWith(t, slowChain{delay: 200 * time.Millisecond}, lifecycle.Options{History: history})
	wm := NewWorkerManager(config.WorkerConfig{Concurrency: 1, QueueSize: 4}, engine, &fakeStore{}, fakeChecker{}, time.Minute, zap.NewNop())
	exec := wm.Executor()
	wm.Start()

	running, err := exec.Submit(Action{Intent: models.IntentCreate, Create: testCreate})
	require.NoError(t, err)
	queued, err := exec.Submit(Action{Intent: models.IntentCreate, Create: testCreate})
	require.NoError(t, err)

	runningTracker, _ := exec.Tracker(running)
	queuedTracker, _ := exec.Tracker(queued)
	require.Eventually(t, func() bool {
		return runningTracker.State().Status == models.TransactionStatusConfirming
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, wm.Shutdown(5*time.Second))

	state := runningTracker.State()
	assert.Equal(t, models.TransactionStatusSuccess, state.Status)
	require.NotNil(t, state.Signature)
	rec, ok := history.get(running)
	require.True(t, ok)
	assert.Equal(t, models.TransactionStatusSuccess, rec.Status)

	// never started, but still recorded
	assert.Equal(t, models.TransactionStatusError, queuedTracker.State().Status)
	rec, ok = history.get(queued)
	require.True(t, ok)
	assert.Equal(t, models.TransactionStatusError, rec.Status)
	assert.Equal(t, models.IntentCreate, rec.Intent)

	_, err = exec.Submit(Action{Intent: models.IntentCreate, Create: testCreate})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWorkerManager_ShutdownAbortsAfterTimeout(t *testing.T) {
	history := &memoryHistory{}
	engine := newEngineWith(t, slowChain{delay: time.Hour}, lifecycle.Options{History: history})
	wm := NewWorkerManager(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, engine, &fakeStore{}, fakeChecker{}, time.Minute, zap.NewNop())
	exec := wm.Executor()
	wm.Start()

	id, err := exec.Submit(Action{Intent: models.IntentCreate, Create: testCreate})
	require.NoError(t, err)
	tracker, _ := exec.Tracker(id)
	require.Eventually(t, func() bool {
		return tracker.State().Status == models.TransactionStatusConfirming
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, wm.Shutdown(50*time.Millisecond))

	state := tracker.State()
	assert.Equal(t, models.TransactionStatusError, state.Status)
	require.NotNil(t, state.Error)
	assert.Equal(t, models.ErrorKindConfirmationTimeout, state.Error.Kind)

	// left for the monitor to reconcile
	rec, ok := history.get(id)
	require.True(t, ok)
	require.NotNil(t, rec.Signature)
	require.NotNil(t, rec.ErrorKind)
	assert.Equal(t, string(models.ErrorKindConfirmationTimeout), *rec.ErrorKind)
}

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{name: "take", action: Action{Intent: models.IntentTake, Escrow: testEscrow}},
		{name: "take without escrow", action: Action{Intent: models.IntentTake}, wantErr: true},
		{name: "create", action: Action{Intent: models.IntentCreate, Create: &lifecycle.CreateParams{}}},
		{name: "create without params", action: Action{Intent: models.IntentCreate}, wantErr: true},
		{name: "update without params", action: Action{Intent: models.IntentUpdate}, wantErr: true},
		{name: "unknown intent", action: Action{Intent: "refund"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
