package svm

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
	"github.com/gagliardetto/solana-go"

	"escrow/offchain/internal/config"
	"escrow/offchain/internal/models"
)

// Approver decides whether a transaction may be signed. Returning an error
// rejects it.
type Approver func(ctx context.Context, tx *solana.Transaction) error

// KeypairWallet signs transactions with a local ed25519 keypair
type KeypairWallet struct {
	key     solana.PrivateKey
	approve Approver
}

// NewKeypairWallet wraps a 64-byte secret key
func NewKeypairWallet(key solana.PrivateKey, approve Approver) (*KeypairWallet, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid secret key length: %d", len(key))
	}
	return &KeypairWallet{key: key, approve: approve}, nil
}

// LoadKeypairWallet reads the signer from a solana-keygen file, or from a
// base58-encoded secret key when no file is configured.
func LoadKeypairWallet(cfg config.SignerConfig, approve Approver) (*KeypairWallet, error) {
	if cfg.KeypairPath != "" {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read keypair file: %w", err)
		}
		return NewKeypairWallet(key, approve)
	}

	raw := base58.Decode(cfg.PrivateKey)
	if len(raw) == 0 {
		return nil, fmt.Errorf("signer private key is not valid base58")
	}
	return NewKeypairWallet(solana.PrivateKey(raw), approve)
}

// PublicKey returns the wallet address, or the zero key if the wallet has
// no keypair
func (w *KeypairWallet) PublicKey() solana.PublicKey {
	if w == nil || len(w.key) == 0 {
		return solana.PublicKey{}
	}
	return w.key.PublicKey()
}

// SignTransaction adds the wallet's signature to tx in place
func (w *KeypairWallet) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if w == nil || len(w.key) == 0 {
		return models.NewTxError(models.ErrorKindWalletNotReady, nil)
	}
	if err := ctx.Err(); err != nil {
		return models.NewTxError(models.ErrorKindUnclassified, err)
	}

	if w.approve != nil {
		if err := w.approve(ctx, tx); err != nil {
			return models.NewTxError(models.ErrorKindUserRejected, err)
		}
	}

	pub := w.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &w.key
		}
		return nil
	})
	if err != nil {
		return models.NewTxError(models.ErrorKindUnclassified, fmt.Errorf("failed to sign transaction: %w", err))
	}
	return nil
}

// AllowPrograms returns an Approver that rejects transactions invoking any
// program outside allowed
func AllowPrograms(allowed ...solana.PublicKey) Approver {
	return func(_ context.Context, tx *solana.Transaction) error {
		for i, ix := range tx.Message.Instructions {
			programID, err := tx.Message.ResolveProgramIDIndex(ix.ProgramIDIndex)
			if err != nil {
				return fmt.Errorf("instruction %d: %w", i, err)
			}
			if !containsKey(allowed, programID) {
				return fmt.Errorf("instruction %d invokes unapproved program %s", i, programID)
			}
		}
		return nil
	}
}

func containsKey(keys []solana.PublicKey, k solana.PublicKey) bool {
	for _, candidate := range keys {
		if candidate.Equals(k) {
			return true
		}
	}
	return false
}
