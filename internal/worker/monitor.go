package worker

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/models"
)

// UnsettledStore lists and settles actions whose outcome is unknown
type UnsettledStore interface {
	ListUnsettledActions(ctx context.Context, staleBefore, since time.Time) ([]models.ActionRecord, error)
	UpdateActionOutcome(ctx context.Context, id string, status models.TransactionStatus, txErr *models.TxError) error
}

// SignatureChecker looks up a transaction signature on the cluster
type SignatureChecker interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (svm.SignatureState, error)
}

// Monitor settles actions whose confirmation was never observed: actions
// that timed out while confirming, or were left confirming by a restart.
type Monitor struct {
	store    UnsettledStore
	chain    SignatureChecker
	interval time.Duration
	staleAge time.Duration
	maxAge   time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewMonitor creates a monitor polling every interval. A confirming action
// is stale after staleAge; actions older than maxAge are left alone.
func NewMonitor(store UnsettledStore, chain SignatureChecker, interval, staleAge, maxAge time.Duration, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:    store,
		chain:    chain,
		interval: interval,
		staleAge: staleAge,
		maxAge:   maxAge,
		now:      time.Now,
		logger:   logger.Named("monitor"),
	}
}

// Run starts the monitor polling loop
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("Monitor started",
		zap.Duration("poll_interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Monitor stopping")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

// poll executes one reconcile cycle and returns how many actions it settled
func (m *Monitor) poll(ctx context.Context) int {
	pollCtx, cancel := context.WithTimeout(ctx, MonitorTimeout)
	defer cancel()

	now := m.now()
	actions, err := m.store.ListUnsettledActions(pollCtx, now.Add(-m.staleAge), now.Add(-m.maxAge))
	if err != nil {
		m.logger.Error("Failed to list unsettled actions", zap.Error(err))
		return 0
	}
	if len(actions) == 0 {
		return 0
	}

	m.logger.Debug("Reconciling actions", zap.Int("count", len(actions)))

	settled := 0
	for i := range actions {
		select {
		case <-pollCtx.Done():
			return settled
		default:
		}
		if m.reconcile(pollCtx, &actions[i]) {
			settled++
		}
	}
	return settled
}

// reconcile checks one action's signature and records its outcome
func (m *Monitor) reconcile(ctx context.Context, action *models.ActionRecord) bool {
	if action.Signature == nil {
		return false
	}
	logger := m.logger.With(
		zap.String("action_id", action.ID),
		zap.String("signature", *action.Signature))

	sig, err := solana.SignatureFromBase58(*action.Signature)
	if err != nil {
		logger.Error("Stored signature is invalid", zap.Error(err))
		return false
	}

	state, err := m.chain.SignatureStatus(ctx, sig)
	if err != nil {
		logger.Warn("Failed to check signature", zap.Error(err))
		return false
	}

	var (
		status models.TransactionStatus
		txErr  *models.TxError
	)
	switch {
	case state.Err != nil:
		status, txErr = models.TransactionStatusError, state.Err
	case state.Confirmed:
		status = models.TransactionStatusSuccess
	case !state.Found && action.Status == models.TransactionStatusConfirming:
		// never landed; its blockhash has long expired
		status, txErr = models.TransactionStatusError, models.NewTxError(models.ErrorKindConfirmationTimeout, nil)
	default:
		return false
	}

	if status == action.Status && txErr != nil && action.ErrorKind != nil && *action.ErrorKind == string(txErr.Kind) {
		return false
	}

	if err := m.store.UpdateActionOutcome(ctx, action.ID, status, txErr); err != nil {
		logger.Error("Failed to record reconciled outcome", zap.Error(err))
		return false
	}

	logger.Info("Action reconciled",
		zap.String("previous_status", string(action.Status)),
		zap.String("status", string(status)))
	return true
}
