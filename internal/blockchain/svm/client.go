package svm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"escrow/offchain/internal/config"
	"escrow/offchain/internal/models"
)

// ErrEscrowNotFound means no escrow account exists at the address, either
// because it never existed or because it was taken or cancelled.
var ErrEscrowNotFound = errors.New("escrow account not found")

const defaultPollInterval = 700 * time.Millisecond

// KeyedEscrow is an escrow record together with its account address
type KeyedEscrow struct {
	Address solana.PublicKey
	Record  *models.EscrowRecord
}

// SignatureState is what the cluster currently knows about a signature
type SignatureState struct {
	Found     bool
	Confirmed bool
	Err       *models.TxError
}

// Client wraps the Solana RPC client for the escrow program
type Client struct {
	rpc           *rpc.Client
	programID     solana.PublicKey
	commitment    rpc.CommitmentType
	skipPreflight bool
	pollInterval  time.Duration
	logger        *zap.Logger
}

// NewClient creates a client for the configured network and program
func NewClient(cfg *config.SolanaConfig, logger *zap.Logger) (*Client, error) {
	programID, err := solana.PublicKeyFromBase58(cfg.ProgramID())
	if err != nil {
		return nil, fmt.Errorf("invalid escrow program id %q: %w", cfg.ProgramID(), err)
	}

	logger.Info("Solana client initialized",
		zap.String("network", string(cfg.Network)),
		zap.String("rpc_endpoint", cfg.RPCEndpoint()),
		zap.String("program_id", programID.String()))

	return &Client{
		rpc:           rpc.New(cfg.RPCEndpoint()),
		programID:     programID,
		commitment:    rpc.CommitmentConfirmed,
		skipPreflight: cfg.SkipPreflight,
		pollInterval:  defaultPollInterval,
		logger:        logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() error {
	return c.rpc.Close()
}

// ProgramID returns the escrow program id
func (c *Client) ProgramID() solana.PublicKey {
	return c.programID
}

// GetEscrow fetches and decodes one escrow account. A missing account is
// reported as an AlreadyTaken error wrapping ErrEscrowNotFound.
func (c *Client) GetEscrow(ctx context.Context, address solana.PublicKey) (*models.EscrowRecord, error) {
	resp, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, models.NewTxError(models.ErrorKindAlreadyTaken, fmt.Errorf("%w: %s", ErrEscrowNotFound, address))
		}
		return nil, fmt.Errorf("failed to fetch escrow %s: %w", address, err)
	}

	if !resp.Value.Owner.Equals(c.programID) {
		return nil, fmt.Errorf("account %s is owned by %s, not the escrow program", address, resp.Value.Owner)
	}

	record, err := DecodeEscrowAccount(resp.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("escrow %s: %w", address, err)
	}
	return record, nil
}

// ListEscrowsByMaker returns every escrow account whose maker is maker.
// Accounts that fail to decode are skipped.
func (c *Client) ListEscrowsByMaker(ctx context.Context, maker solana.PublicKey) ([]KeyedEscrow, error) {
	accounts, err := c.rpc.GetProgramAccountsWithOpts(ctx, c.programID, &rpc.GetProgramAccountsOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
		Filters: []rpc.RPCFilter{
			{DataSize: EscrowAccountSize},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: 0, Bytes: solana.Base58(EscrowAccountDiscriminator[:])}},
			{Memcmp: &rpc.RPCFilterMemcmp{Offset: EscrowMakerOffset, Bytes: solana.Base58(maker.Bytes())}},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list escrows for %s: %w", maker, err)
	}

	escrows := make([]KeyedEscrow, 0, len(accounts))
	for _, acct := range accounts {
		if acct == nil || acct.Account == nil {
			continue
		}
		record, err := DecodeEscrowAccount(acct.Account.Data.GetBinary())
		if err != nil {
			c.logger.Warn("Skipping undecodable escrow account",
				zap.String("address", acct.Pubkey.String()),
				zap.Error(err))
			continue
		}
		escrows = append(escrows, KeyedEscrow{Address: acct.Pubkey, Record: record})
	}
	return escrows, nil
}

// LatestBlockhash returns a recent blockhash at confirmed commitment
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	resp, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}
	return resp.Value.Blockhash, nil
}

// AccountExists reports whether any account lives at address
func (c *Client) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	_, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to fetch account %s: %w", address, err)
	}
	return true, nil
}

// GetBalance returns the lamport balance of address
func (c *Client) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	resp, err := c.rpc.GetBalance(ctx, address, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", address, err)
	}
	return resp.Value, nil
}

// SendTransaction submits a signed transaction. Rejections are returned as
// classified *models.TxError values.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       c.skipPreflight,
		PreflightCommitment: c.commitment,
	})
	if err != nil {
		txErr := classifyRPCError(err, c.escrowInstructionIndex(tx))
		c.logger.Warn("Transaction rejected",
			zap.String("kind", string(txErr.Kind)),
			zap.Error(err))
		return solana.Signature{}, txErr
	}

	c.logger.Info("Transaction sent",
		zap.String("signature", sig.String()),
		zap.Int("instructions", len(tx.Message.Instructions)))

	return sig, nil
}

// escrowInstructionIndex reports which instructions of tx target the
// escrow program
func (c *Client) escrowInstructionIndex(tx *solana.Transaction) func(int) bool {
	return func(i int) bool {
		if i < 0 || i >= len(tx.Message.Instructions) {
			return false
		}
		programID, err := tx.Message.ResolveProgramIDIndex(tx.Message.Instructions[i].ProgramIDIndex)
		return err == nil && programID.Equals(c.programID)
	}
}

// WaitForConfirmation polls until sig reaches confirmed commitment, the
// transaction fails, timeout elapses or ctx is cancelled. A timeout yields a
// ConfirmationTimeout error.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return models.NewTxError(models.ErrorKindUnclassified, fmt.Errorf("confirmation of %s aborted: %w", sig, ctx.Err()))
			}
			return models.NewTxError(models.ErrorKindConfirmationTimeout, fmt.Errorf("timeout waiting for transaction %s", sig))
		case <-ticker.C:
			state, err := c.SignatureStatus(waitCtx, sig)
			if err != nil {
				if !isContextError(err) {
					c.logger.Debug("Signature status poll failed", zap.String("signature", sig.String()), zap.Error(err))
				}
				continue
			}
			if state.Err != nil {
				return state.Err
			}
			if state.Confirmed {
				return nil
			}
		}
	}
}

// SignatureStatus queries the cluster once for sig, searching transaction
// history so that older signatures are found too.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error) {
	result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return SignatureState{}, fmt.Errorf("failed to get signature status: %w", err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return SignatureState{}, nil
	}

	status := result.Value[0]
	state := SignatureState{Found: true}
	if status.Err != nil {
		kind := ClassifyTransactionError(status.Err, nil)
		state.Err = models.NewTxError(kind, fmt.Errorf("transaction failed: %v", status.Err))
		return state, nil
	}
	state.Confirmed = status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
		status.ConfirmationStatus == rpc.ConfirmationStatusFinalized
	return state, nil
}
