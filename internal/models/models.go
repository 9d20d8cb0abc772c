package models

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// EscrowStatus is the display status of an escrow
type EscrowStatus string

const (
	EscrowStatusActive    EscrowStatus = "Active"
	EscrowStatusExpired   EscrowStatus = "Expired"
	EscrowStatusCancelled EscrowStatus = "Cancelled"
)

// TransactionStatus is the phase of a user-initiated action
type TransactionStatus string

const (
	TransactionStatusIdle       TransactionStatus = "idle"
	TransactionStatusPreparing  TransactionStatus = "preparing"
	TransactionStatusSigning    TransactionStatus = "signing"
	TransactionStatusSending    TransactionStatus = "sending"
	TransactionStatusConfirming TransactionStatus = "confirming"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusError      TransactionStatus = "error"
)

// IsTerminal reports whether the status ends an action
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess || s == TransactionStatusError
}

// InFlight reports whether an action is currently running
func (s TransactionStatus) InFlight() bool {
	return s != TransactionStatusIdle && !s.IsTerminal()
}

// Intent names the kind of action driven through the lifecycle
type Intent string

const (
	IntentCreate Intent = "create"
	IntentTake   Intent = "take"
	IntentCancel Intent = "cancel"
	IntentUpdate Intent = "update"
)

// EscrowRecord is the decoded on-chain Escrow account
type EscrowRecord struct {
	Maker            solana.PublicKey `json:"maker"`
	Seed             uint64           `json:"seed"`
	MakerTokenMint   solana.PublicKey `json:"maker_token_mint"`
	TakerTokenMint   solana.PublicKey `json:"taker_token_mint"`
	MakerTokenAmount uint64           `json:"maker_token_amount"`
	TakerTokenAmount uint64           `json:"taker_token_amount"`
	Expiry           int64            `json:"expiry"` // unix seconds
	IsMutable        bool             `json:"is_mutable"`
	Bump             uint8            `json:"bump"`
	VaultBump        uint8            `json:"vault_bump"`
}

// TokenDescriptor describes an SPL token mint
type TokenDescriptor struct {
	Mint     solana.PublicKey `json:"mint" yaml:"mint"`
	Symbol   string           `json:"symbol" yaml:"symbol"`
	Name     string           `json:"name" yaml:"name"`
	Decimals uint8            `json:"decimals" yaml:"decimals"`
}

// TokenAmountView is one side of an escrow, formatted for display
type TokenAmountView struct {
	Mint     solana.PublicKey `json:"mint"`
	Amount   string           `json:"amount"`
	Symbol   string           `json:"symbol"`
	Decimals uint8            `json:"decimals"`
}

// TimeRemaining describes how long an escrow has left
type TimeRemaining struct {
	Expired      bool   `json:"expired"`
	TotalSeconds int64  `json:"total_seconds"`
	Hours        int64  `json:"hours"`
	Minutes      int64  `json:"minutes"`
	Formatted    string `json:"formatted"`
}

// EscrowView is an escrow record projected for a particular viewer
type EscrowView struct {
	Address       solana.PublicKey `json:"address"`
	Record        EscrowRecord     `json:"account"`
	Vault         solana.PublicKey `json:"vault"`
	ID            string           `json:"id"`
	Status        EscrowStatus     `json:"status"`
	MakerToken    TokenAmountView  `json:"maker_token"`
	TakerToken    TokenAmountView  `json:"taker_token"`
	ExchangeRate  float64          `json:"exchange_rate"`
	TimeRemaining TimeRemaining    `json:"time_remaining"`
	IsMaker       bool             `json:"is_maker"`
	CanUpdate     bool             `json:"can_update"`
	CanCancel     bool             `json:"can_cancel"`
	CanTake       bool             `json:"can_take"`
}

// TransactionState is the observable progress of one action
type TransactionState struct {
	Status    TransactionStatus `json:"status"`
	Message   string            `json:"message"`
	Signature *solana.Signature `json:"signature,omitempty"`
	Error     *TxError          `json:"error,omitempty"`
}

// ActionRecord is the persisted history entry of an action
type ActionRecord struct {
	ID            string            `db:"id"`
	Intent        Intent            `db:"intent"`
	Actor         string            `db:"actor"`
	EscrowAddress *string           `db:"escrow_address"`
	Signature     *string           `db:"signature"`
	Status        TransactionStatus `db:"status"`
	ErrorKind     *string           `db:"error_kind"`
	ErrorMessage  *string           `db:"error_message"`
	CreatedAt     time.Time         `db:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"`
}
