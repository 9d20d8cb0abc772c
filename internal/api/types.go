package api

import (
	"time"

	"escrow/offchain/internal/models"
)

// ==================== Escrow Actions ====================

// CreateEscrowRequest represents a request to open an escrow. Tokens are
// given as mint addresses or registry symbols; amounts in display units.
type CreateEscrowRequest struct {
	MakerToken       string `json:"maker_token"`
	MakerTokenAmount string `json:"maker_token_amount"`
	TakerToken       string `json:"taker_token"`
	TakerTokenAmount string `json:"taker_token_amount"`
	DurationHours    int64  `json:"duration_hours"`
	IsMutable        bool   `json:"is_mutable"`
}

// UpdateEscrowRequest represents a request to change an escrow. Omitted
// fields are left unchanged.
type UpdateEscrowRequest struct {
	TakerToken       *string `json:"taker_token,omitempty"`
	TakerTokenAmount *string `json:"taker_token_amount,omitempty"`
	DurationHours    *int64  `json:"duration_hours,omitempty"`
}

// ActionAcceptedResponse is returned when an action has been queued
type ActionAcceptedResponse struct {
	ActionID string `json:"action_id"`
	Status   string `json:"status"`
}

// ActionStateResponse represents the live state of an action
type ActionStateResponse struct {
	ActionID    string                   `json:"action_id"`
	Status      models.TransactionStatus `json:"status"`
	Message     string                   `json:"message"`
	Signature   *string                  `json:"signature,omitempty"`
	ExplorerURL *string                  `json:"explorer_url,omitempty"`
	Error       *models.TxError          `json:"error,omitempty"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// ==================== Escrow Views ====================

// ListEscrowsResponse represents a maker's open escrows
type ListEscrowsResponse struct {
	Maker   string              `json:"maker"`
	Escrows []models.EscrowView `json:"escrows"`
}

// ==================== Addresses ====================

// DeriveAddressRequest represents a request to derive escrow addresses
type DeriveAddressRequest struct {
	Maker string `json:"maker"`
	Seed  uint64 `json:"seed"`
}

// DeriveAddressResponse holds the derived escrow and vault addresses
type DeriveAddressResponse struct {
	Escrow     string `json:"escrow"`
	EscrowBump uint8  `json:"escrow_bump"`
	Vault      string `json:"vault"`
	VaultBump  uint8  `json:"vault_bump"`
}

// ==================== Tokens ====================

// ListTokensResponse represents the token registry of the active network
type ListTokensResponse struct {
	Network string                   `json:"network"`
	Tokens  []models.TokenDescriptor `json:"tokens"`
}

// ==================== History ====================

// ActionSummary represents one persisted action
type ActionSummary struct {
	ActionID      string                   `json:"action_id"`
	Intent        models.Intent            `json:"intent"`
	EscrowAddress *string                  `json:"escrow_address"`
	Signature     *string                  `json:"signature"`
	Status        models.TransactionStatus `json:"status"`
	ErrorKind     *string                  `json:"error_kind,omitempty"`
	Error         *string                  `json:"error,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
	UpdatedAt     time.Time                `json:"updated_at"`
}

// GetHistoryResponse represents an actor's action history
type GetHistoryResponse struct {
	Actor   string          `json:"actor"`
	Actions []ActionSummary `json:"actions"`
}

// ==================== Wallet ====================

// WalletResponse describes the service's signing wallet
type WalletResponse struct {
	Address     string `json:"address"`
	Truncated   string `json:"truncated"`
	BalanceSOL  string `json:"balance_sol"`
	ExplorerURL string `json:"explorer_url"`
}

// ==================== Error Response ====================

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// ==================== Health Check ====================

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	Network   string `json:"network,omitempty"`
	ProgramID string `json:"program_id,omitempty"`
}
