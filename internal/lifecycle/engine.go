// Package lifecycle drives escrow actions through
// preparing -> signing -> sending -> confirming -> success, or to error
// from any of those phases, reporting progress on a caller-owned Tracker.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"escrow/offchain/internal/models"
	"escrow/offchain/internal/tokens"
)

// DefaultConfirmTimeout bounds the wait for confirmed commitment
const DefaultConfirmTimeout = 90 * time.Second

// ErrProgramNotDeployed is returned for the placeholder program id
var ErrProgramNotDeployed = errors.New("escrow program not deployed: program id is the system program")

// Chain is the cluster access the engine needs
type Chain interface {
	GetEscrow(ctx context.Context, address solana.PublicKey) (*models.EscrowRecord, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error
	AccountExists(ctx context.Context, address solana.PublicKey) (bool, error)
}

// Wallet signs transactions for one public key
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// History persists action records. Failures are logged and never fail the
// action.
type History interface {
	SaveAction(ctx context.Context, rec *models.ActionRecord) error
}

// Options tune an Engine. Zero values select defaults.
type Options struct {
	ConfirmTimeout time.Duration
	History        History
	Metrics        *Metrics
	Clock          func() time.Time
}

// Engine assembles, signs, sends and confirms escrow transactions. It holds
// no per-action state and is safe for concurrent use with distinct trackers.
type Engine struct {
	chain          Chain
	wallet         Wallet
	registry       *tokens.Registry
	programID      solana.PublicKey
	confirmTimeout time.Duration
	history        History
	metrics        *Metrics
	now            func() time.Time
	logger         *zap.Logger
}

// NewEngine creates an engine for programID
func NewEngine(chain Chain, wallet Wallet, registry *tokens.Registry, programID solana.PublicKey, opts Options, logger *zap.Logger) (*Engine, error) {
	if programID.IsZero() || programID.Equals(solana.SystemProgramID) {
		return nil, ErrProgramNotDeployed
	}
	if chain == nil || registry == nil {
		return nil, fmt.Errorf("chain and registry are required")
	}

	e := &Engine{
		chain:          chain,
		wallet:         wallet,
		registry:       registry,
		programID:      programID,
		confirmTimeout: opts.ConfirmTimeout,
		history:        opts.History,
		metrics:        opts.Metrics,
		now:            opts.Clock,
		logger:         logger.Named("lifecycle"),
	}
	if e.confirmTimeout <= 0 {
		e.confirmTimeout = DefaultConfirmTimeout
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// ProgramID returns the escrow program the engine targets
func (e *Engine) ProgramID() solana.PublicKey {
	return e.programID
}

// Signer returns the wallet's public key, zero if no wallet is ready
func (e *Engine) Signer() solana.PublicKey {
	if e.wallet == nil {
		return solana.PublicKey{}
	}
	return e.wallet.PublicKey()
}

// Create opens a new escrow
func (e *Engine) Create(ctx context.Context, t *Tracker, p CreateParams) (solana.Signature, error) {
	return e.run(ctx, t, models.IntentCreate, nil, func(ctx context.Context) (*Prepared, error) {
		return e.PrepareCreate(ctx, p)
	})
}

// Take accepts the escrow at address
func (e *Engine) Take(ctx context.Context, t *Tracker, address solana.PublicKey) (solana.Signature, error) {
	return e.run(ctx, t, models.IntentTake, &address, func(ctx context.Context) (*Prepared, error) {
		return e.PrepareTake(ctx, address)
	})
}

// Cancel closes the escrow at address and refunds the maker
func (e *Engine) Cancel(ctx context.Context, t *Tracker, address solana.PublicKey) (solana.Signature, error) {
	return e.run(ctx, t, models.IntentCancel, &address, func(ctx context.Context) (*Prepared, error) {
		return e.PrepareCancel(ctx, address)
	})
}

// Update changes the terms of a mutable escrow
func (e *Engine) Update(ctx context.Context, t *Tracker, p UpdateParams) (solana.Signature, error) {
	return e.run(ctx, t, models.IntentUpdate, &p.Escrow, func(ctx context.Context) (*Prepared, error) {
		return e.PrepareUpdate(ctx, p)
	})
}

// phaseMessages are the user-facing messages of one intent
type phaseMessages struct {
	preparing, signing, sending, confirming, success string
}

var messages = map[models.Intent]phaseMessages{
	models.IntentCreate: {
		preparing:  "Preparing escrow creation...",
		signing:    "Awaiting wallet approval...",
		sending:    "Sending transaction to network...",
		confirming: "Confirming transaction...",
		success:    "Escrow created successfully!",
	},
	models.IntentTake: {
		preparing:  "Preparing to accept escrow...",
		signing:    "Awaiting wallet approval...",
		sending:    "Executing trade...",
		confirming: "Confirming trade...",
		success:    "Trade completed successfully!",
	},
	models.IntentCancel: {
		preparing:  "Preparing to cancel escrow...",
		signing:    "Awaiting wallet approval...",
		sending:    "Cancelling escrow...",
		confirming: "Confirming cancellation...",
		success:    "Escrow cancelled successfully!",
	},
	models.IntentUpdate: {
		preparing:  "Preparing to update escrow...",
		signing:    "Awaiting wallet approval...",
		sending:    "Updating escrow...",
		confirming: "Confirming update...",
		success:    "Escrow updated successfully!",
	},
}

// run drives one action. Every failure lands in the tracker as a classified
// error and is returned with a zero signature.
func (e *Engine) run(
	ctx context.Context,
	t *Tracker,
	intent models.Intent,
	escrow *solana.PublicKey,
	prepare func(ctx context.Context) (*Prepared, error),
) (sig solana.Signature, err error) {
	msgs := messages[intent]

	actionID, err := t.begin(msgs.preparing)
	if err != nil {
		return solana.Signature{}, err
	}

	logger := e.logger.With(zap.String("action_id", actionID), zap.String("intent", string(intent)))
	e.metrics.started(intent)

	rec := &models.ActionRecord{
		ID:        actionID,
		Intent:    intent,
		Actor:     e.Signer().String(),
		Status:    models.TransactionStatusPreparing,
		CreatedAt: e.now(),
	}
	if escrow != nil {
		addr := escrow.String()
		rec.EscrowAddress = &addr
	}
	e.save(ctx, rec, t.State())

	phaseStart := time.Now()
	enter := func(status models.TransactionStatus, message string, s *solana.Signature) error {
		e.metrics.phase(intent, t.State().Status, time.Since(phaseStart))
		phaseStart = time.Now()
		return t.advance(status, message, s)
	}

	fail := func(cause error) (solana.Signature, error) {
		if rec.Signature != nil && models.KindOf(cause) == models.ErrorKindUnclassified && aborted(ctx, cause) {
			// the transaction may still land; leave it for reconciliation
			cause = models.NewTxError(models.ErrorKindConfirmationTimeout, cause)
		}
		txErr := models.AsTxError(cause)
		e.metrics.phase(intent, t.State().Status, time.Since(phaseStart))
		t.fail(txErr)
		e.metrics.finished(intent, string(txErr.Kind))
		e.save(context.WithoutCancel(ctx), rec, t.State())
		logger.Warn("Escrow action failed",
			zap.String("kind", string(txErr.Kind)),
			zap.String("message", txErr.Message),
			zap.Error(txErr.Err))
		return solana.Signature{}, txErr
	}

	defer func() {
		if r := recover(); r != nil {
			sig, err = fail(fmt.Errorf("internal error: %v", r))
		}
	}()

	if e.wallet == nil || e.wallet.PublicKey().IsZero() {
		return fail(models.NewTxError(models.ErrorKindWalletNotReady, nil))
	}

	prepared, err := prepare(ctx)
	if err != nil {
		return fail(err)
	}
	if rec.EscrowAddress == nil {
		addr := prepared.Escrow.String()
		rec.EscrowAddress = &addr
	}

	if err := enter(models.TransactionStatusSigning, msgs.signing, nil); err != nil {
		return fail(err)
	}
	if err := e.wallet.SignTransaction(ctx, prepared.Transaction); err != nil {
		return fail(err)
	}

	// The fee payer's signature is recorded before broadcast so that an
	// interrupted send can be reconciled. The tracker shows it only once
	// the send returns.
	if len(prepared.Transaction.Signatures) > 0 {
		signed := prepared.Transaction.Signatures[0].String()
		rec.Signature = &signed
	}

	if err := enter(models.TransactionStatusSending, msgs.sending, nil); err != nil {
		return fail(err)
	}
	e.save(ctx, rec, t.State())
	sig, err = e.chain.SendTransaction(ctx, prepared.Transaction)
	if err != nil {
		if !aborted(ctx, err) {
			// rejected before reaching the cluster
			rec.Signature = nil
		}
		return fail(err)
	}

	if err := enter(models.TransactionStatusConfirming, msgs.confirming, &sig); err != nil {
		return fail(err)
	}
	e.save(ctx, rec, t.State())
	logger.Info("Escrow transaction submitted",
		zap.String("signature", sig.String()),
		zap.String("escrow", prepared.Escrow.String()))

	if err := e.chain.WaitForConfirmation(ctx, sig, e.confirmTimeout); err != nil {
		return fail(err)
	}

	if err := enter(models.TransactionStatusSuccess, msgs.success, &sig); err != nil {
		return fail(err)
	}
	e.metrics.finished(intent, string(models.TransactionStatusSuccess))
	e.save(context.WithoutCancel(ctx), rec, t.State())
	logger.Info("Escrow action confirmed", zap.String("signature", sig.String()))

	return sig, nil
}

// Abandon fails an action that was accepted but never started, so that it
// still reaches a terminal state and is recorded. t must be idle.
func (e *Engine) Abandon(ctx context.Context, t *Tracker, intent models.Intent, escrow *solana.PublicKey, cause error) error {
	txErr := models.AsTxError(cause)
	actionID, err := t.abandon(txErr)
	if err != nil {
		return err
	}

	rec := &models.ActionRecord{
		ID:        actionID,
		Intent:    intent,
		Actor:     e.Signer().String(),
		CreatedAt: e.now(),
	}
	if escrow != nil {
		addr := escrow.String()
		rec.EscrowAddress = &addr
	}
	e.metrics.abandoned(intent)
	e.save(ctx, rec, t.State())

	e.logger.Warn("Escrow action abandoned",
		zap.String("action_id", actionID),
		zap.String("intent", string(intent)),
		zap.String("message", txErr.Message))
	return nil
}

// aborted reports whether err comes from ctx being cancelled or timing out
// rather than from the cluster
func aborted(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// save copies state into rec and hands it to the history sink
func (e *Engine) save(ctx context.Context, rec *models.ActionRecord, state models.TransactionState) {
	if e.history == nil {
		return
	}
	rec.Status = state.Status
	rec.UpdatedAt = e.now()
	if state.Signature != nil {
		s := state.Signature.String()
		rec.Signature = &s
	}
	if state.Error != nil {
		kind := string(state.Error.Kind)
		msg := state.Error.Message
		rec.ErrorKind = &kind
		rec.ErrorMessage = &msg
	}
	if err := e.history.SaveAction(ctx, rec); err != nil {
		e.logger.Error("Failed to record action",
			zap.String("action_id", rec.ID),
			zap.Error(err))
	}
}
