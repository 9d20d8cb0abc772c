package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"escrow/offchain/internal/amount"
	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/lifecycle"
	"escrow/offchain/internal/models"
	"escrow/offchain/internal/tokens"
	"escrow/offchain/internal/worker"
)

// EscrowQuerier projects escrows for an actor
type EscrowQuerier interface {
	Get(ctx context.Context, address, actor solana.PublicKey) (*models.EscrowView, error)
	ListByMaker(ctx context.Context, maker, actor solana.PublicKey) ([]models.EscrowView, error)
}

// ActionRunner queues actions and exposes their trackers
type ActionRunner interface {
	Submit(action worker.Action) (string, error)
	Tracker(id string) (*lifecycle.Tracker, bool)
	Reset(id string) error
}

// HistoryLister reads persisted actions
type HistoryLister interface {
	Get(ctx context.Context, id string) (*models.ActionRecord, error)
	List(ctx context.Context, actor string, limit, offset int) ([]models.ActionRecord, error)
}

// BalanceReader returns an account's lamport balance
type BalanceReader interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

// Deps are the collaborators of Handler. History and Balances are optional.
type Deps struct {
	Escrows   EscrowQuerier
	Actions   ActionRunner
	History   HistoryLister
	Balances  BalanceReader
	Registry  *tokens.Registry
	ProgramID solana.PublicKey
	Signer    solana.PublicKey
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a new API handler
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// ==================== Health Check ====================

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Version:   "1.0.0",
		ProgramID: h.deps.ProgramID.String(),
	}
	if h.deps.Registry != nil {
		response.Network = string(h.deps.Registry.Network())
	}
	respondJSON(w, http.StatusOK, response)
}

// ==================== Tokens ====================

// HandleListTokens handles GET /api/v1/tokens
func (h *Handler) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ListTokensResponse{
		Network: string(h.deps.Registry.Network()),
		Tokens:  h.deps.Registry.All(),
	})
}

// HandleGetToken handles GET /api/v1/tokens/{mint}
// Accepts a mint address or a known symbol. Unknown mints are described
// with default decimals.
func (h *Handler) HandleGetToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.deps.Registry.Resolve(mux.Vars(r)["mint"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid token", err)
		return
	}
	respondJSON(w, http.StatusOK, token)
}

// ==================== Escrow Views ====================

// HandleListEscrowsByMaker handles GET /api/v1/escrows/maker/{maker}
// Views are computed for ?actor=, defaulting to the service wallet.
func (h *Handler) HandleListEscrowsByMaker(w http.ResponseWriter, r *http.Request) {
	maker, err := solana.PublicKeyFromBase58(mux.Vars(r)["maker"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid maker address", err)
		return
	}
	actor, err := h.actor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid actor address", err)
		return
	}

	views, err := h.deps.Escrows.ListByMaker(r.Context(), maker, actor)
	if err != nil {
		h.logger.Error("Failed to list escrows",
			zap.String("maker", maker.String()),
			zap.Error(err))
		respondError(w, http.StatusBadGateway, "Failed to list escrows", err)
		return
	}

	respondJSON(w, http.StatusOK, ListEscrowsResponse{
		Maker:   maker.String(),
		Escrows: views,
	})
}

// HandleGetEscrow handles GET /api/v1/escrows/{address}
func (h *Handler) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	address, ok := h.escrowAddress(w, r)
	if !ok {
		return
	}
	actor, err := h.actor(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid actor address", err)
		return
	}

	view, err := h.deps.Escrows.Get(r.Context(), address, actor)
	if err != nil {
		if errors.Is(err, svm.ErrEscrowNotFound) {
			respondTxError(w, http.StatusNotFound, "Escrow not found", err)
			return
		}
		h.logger.Error("Failed to get escrow",
			zap.String("address", address.String()),
			zap.Error(err))
		respondTxError(w, http.StatusBadGateway, "Failed to get escrow", err)
		return
	}

	respondJSON(w, http.StatusOK, view)
}

// ==================== Escrow Actions ====================

// HandleCreateEscrow handles POST /api/v1/escrows
func (h *Handler) HandleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req CreateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	makerToken, err := h.deps.Registry.Resolve(req.MakerToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid maker_token", err)
		return
	}
	takerToken, err := h.deps.Registry.Resolve(req.TakerToken)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid taker_token", err)
		return
	}
	if makerToken.Mint.Equals(takerToken.Mint) {
		respondError(w, http.StatusBadRequest, "maker_token and taker_token must differ", nil)
		return
	}
	if err := amount.Validate(req.MakerTokenAmount, makerToken.Decimals); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid maker_token_amount", err)
		return
	}
	if err := amount.Validate(req.TakerTokenAmount, takerToken.Decimals); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid taker_token_amount", err)
		return
	}
	if req.DurationHours <= 0 {
		respondError(w, http.StatusBadRequest, "duration_hours must be positive", nil)
		return
	}

	h.submit(w, worker.Action{
		Intent: models.IntentCreate,
		Create: &lifecycle.CreateParams{
			MakerTokenMint:   makerToken.Mint,
			MakerTokenAmount: req.MakerTokenAmount,
			TakerTokenMint:   takerToken.Mint,
			TakerTokenAmount: req.TakerTokenAmount,
			DurationHours:    req.DurationHours,
			IsMutable:        req.IsMutable,
		},
	})
}

// HandleTakeEscrow handles POST /api/v1/escrows/{address}/take
func (h *Handler) HandleTakeEscrow(w http.ResponseWriter, r *http.Request) {
	address, ok := h.escrowAddress(w, r)
	if !ok {
		return
	}
	h.submit(w, worker.Action{Intent: models.IntentTake, Escrow: address})
}

// HandleCancelEscrow handles POST /api/v1/escrows/{address}/cancel
func (h *Handler) HandleCancelEscrow(w http.ResponseWriter, r *http.Request) {
	address, ok := h.escrowAddress(w, r)
	if !ok {
		return
	}
	h.submit(w, worker.Action{Intent: models.IntentCancel, Escrow: address})
}

// HandleUpdateEscrow handles PATCH /api/v1/escrows/{address}
func (h *Handler) HandleUpdateEscrow(w http.ResponseWriter, r *http.Request) {
	address, ok := h.escrowAddress(w, r)
	if !ok {
		return
	}

	var req UpdateEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	params := lifecycle.UpdateParams{Escrow: address}

	var decimals *uint8
	if req.TakerToken != nil {
		token, err := h.deps.Registry.Resolve(*req.TakerToken)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid taker_token", err)
			return
		}
		params.TakerTokenMint = &token.Mint
		decimals = &token.Decimals
	}

	if req.TakerTokenAmount != nil && *req.TakerTokenAmount != "" {
		if decimals == nil {
			view, err := h.deps.Escrows.Get(r.Context(), address, h.deps.Signer)
			if err != nil {
				respondTxError(w, statusForTxError(err), "Failed to get escrow", err)
				return
			}
			decimals = &view.TakerToken.Decimals
		}
		if err := amount.Validate(*req.TakerTokenAmount, *decimals); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid taker_token_amount", err)
			return
		}
		params.TakerTokenAmount = req.TakerTokenAmount
	}

	if req.DurationHours != nil {
		if *req.DurationHours < 0 {
			respondError(w, http.StatusBadRequest, "duration_hours must not be negative", nil)
			return
		}
		params.DurationHours = req.DurationHours
	}

	h.submit(w, worker.Action{Intent: models.IntentUpdate, Update: &params})
}

// ==================== Action State ====================

// HandleGetAction handles GET /api/v1/actions/{id}
// Actions no longer held in memory are answered from history.
func (h *Handler) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	tracker, ok := h.deps.Actions.Tracker(id)
	if !ok {
		h.respondStoredAction(w, r, id)
		return
	}

	state := tracker.State()
	if state.Error != nil && state.Error.Kind == models.ErrorKindConfirmationTimeout {
		// the monitor may have settled it since
		if rec := h.settledAction(r, id); rec != nil {
			respondJSON(w, http.StatusOK, h.storedActionResponse(rec))
			return
		}
	}

	response := ActionStateResponse{
		ActionID:  id,
		Status:    state.Status,
		Message:   state.Message,
		Error:     state.Error,
		UpdatedAt: tracker.UpdatedAt(),
	}
	if state.Signature != nil {
		sig := state.Signature.String()
		url := svm.ExplorerTxURL(h.deps.Registry.Network(), sig)
		response.Signature = &sig
		response.ExplorerURL = &url
	}

	respondJSON(w, http.StatusOK, response)
}

// settledAction returns the stored record of id if it no longer shows a
// confirmation timeout
func (h *Handler) settledAction(r *http.Request, id string) *models.ActionRecord {
	if h.deps.History == nil {
		return nil
	}
	rec, err := h.deps.History.Get(r.Context(), id)
	if err != nil {
		h.logger.Warn("Failed to get stored action",
			zap.String("action_id", id),
			zap.Error(err))
		return nil
	}
	if rec == nil {
		return nil
	}
	if rec.Status == models.TransactionStatusError &&
		(rec.ErrorKind == nil || *rec.ErrorKind == string(models.ErrorKindConfirmationTimeout)) {
		return nil
	}
	return rec
}

func (h *Handler) respondStoredAction(w http.ResponseWriter, r *http.Request, id string) {
	if h.deps.History == nil {
		respondError(w, http.StatusNotFound, "Action not found", nil)
		return
	}

	rec, err := h.deps.History.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get action",
			zap.String("action_id", id),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get action", err)
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "Action not found", nil)
		return
	}

	respondJSON(w, http.StatusOK, h.storedActionResponse(rec))
}

func (h *Handler) storedActionResponse(rec *models.ActionRecord) ActionStateResponse {
	response := ActionStateResponse{
		ActionID:  rec.ID,
		Status:    rec.Status,
		Signature: rec.Signature,
		UpdatedAt: rec.UpdatedAt,
	}
	if rec.ErrorKind != nil {
		txErr := models.NewTxError(models.ErrorKind(*rec.ErrorKind), nil)
		if rec.ErrorMessage != nil {
			txErr.Message = *rec.ErrorMessage
		}
		response.Error = txErr
		response.Message = txErr.Message
	}
	if rec.Signature != nil {
		url := svm.ExplorerTxURL(h.deps.Registry.Network(), *rec.Signature)
		response.ExplorerURL = &url
	}
	return response
}

// HandleResetAction handles DELETE /api/v1/actions/{id}
// Only finished actions can be reset.
func (h *Handler) HandleResetAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	err := h.deps.Actions.Reset(id)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, worker.ErrUnknownAction):
		respondError(w, http.StatusNotFound, "Action not found", nil)
	case errors.Is(err, lifecycle.ErrActionInFlight):
		respondError(w, http.StatusConflict, "Action is still in progress", nil)
	default:
		respondError(w, http.StatusInternalServerError, "Failed to reset action", err)
	}
}

// ==================== History ====================

// HandleGetHistory handles GET /api/v1/history/{actor}
func (h *Handler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		respondError(w, http.StatusServiceUnavailable, "History is not available", nil)
		return
	}

	actor := mux.Vars(r)["actor"]
	if _, err := solana.PublicKeyFromBase58(actor); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid actor address", err)
		return
	}

	limit := 50
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if parsedOffset, err := strconv.Atoi(offsetStr); err == nil && parsedOffset >= 0 {
			offset = parsedOffset
		}
	}

	records, err := h.deps.History.List(r.Context(), actor, limit, offset)
	if err != nil {
		h.logger.Error("Failed to get history",
			zap.String("actor", actor),
			zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to get history", err)
		return
	}

	summaries := make([]ActionSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, ActionSummary{
			ActionID:      rec.ID,
			Intent:        rec.Intent,
			EscrowAddress: rec.EscrowAddress,
			Signature:     rec.Signature,
			Status:        rec.Status,
			ErrorKind:     rec.ErrorKind,
			Error:         rec.ErrorMessage,
			CreatedAt:     rec.CreatedAt,
			UpdatedAt:     rec.UpdatedAt,
		})
	}

	respondJSON(w, http.StatusOK, GetHistoryResponse{
		Actor:   actor,
		Actions: summaries,
	})
}

// ==================== Addresses ====================

// HandleDeriveEscrowAddress handles POST /api/v1/addresses/escrow
func (h *Handler) HandleDeriveEscrowAddress(w http.ResponseWriter, r *http.Request) {
	var req DeriveAddressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	maker, err := solana.PublicKeyFromBase58(req.Maker)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid maker address", err)
		return
	}

	escrow, escrowBump, err := svm.DeriveEscrowAddress(h.deps.ProgramID, maker, req.Seed)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to derive escrow address", err)
		return
	}
	vault, vaultBump, err := svm.DeriveVaultAddress(h.deps.ProgramID, escrow)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to derive vault address", err)
		return
	}

	respondJSON(w, http.StatusOK, DeriveAddressResponse{
		Escrow:     escrow.String(),
		EscrowBump: escrowBump,
		Vault:      vault.String(),
		VaultBump:  vaultBump,
	})
}

// ==================== Wallet ====================

// HandleGetWallet handles GET /api/v1/wallet
func (h *Handler) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	if h.deps.Signer.IsZero() {
		respondTxError(w, http.StatusServiceUnavailable, "Wallet not connected", models.NewTxError(models.ErrorKindWalletNotReady, nil))
		return
	}

	address := h.deps.Signer.String()
	response := WalletResponse{
		Address:     address,
		Truncated:   svm.TruncateAddress(address, 4),
		BalanceSOL:  "0",
		ExplorerURL: svm.ExplorerAddressURL(h.deps.Registry.Network(), address),
	}

	if h.deps.Balances != nil {
		lamports, err := h.deps.Balances.GetBalance(r.Context(), h.deps.Signer)
		if err != nil {
			h.logger.Warn("Failed to fetch wallet balance", zap.Error(err))
		} else {
			response.BalanceSOL = amount.FromBaseUnits(lamports, 9)
		}
	}

	respondJSON(w, http.StatusOK, response)
}

// ==================== Helper Functions ====================

func (h *Handler) submit(w http.ResponseWriter, action worker.Action) {
	id, err := h.deps.Actions.Submit(action)
	switch {
	case err == nil:
		respondJSON(w, http.StatusAccepted, ActionAcceptedResponse{ActionID: id, Status: "queued"})
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "Service is busy", err)
	default:
		respondError(w, http.StatusBadRequest, "Invalid action", err)
	}
}

func (h *Handler) escrowAddress(w http.ResponseWriter, r *http.Request) (solana.PublicKey, bool) {
	address, err := solana.PublicKeyFromBase58(mux.Vars(r)["address"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid escrow address", err)
		return solana.PublicKey{}, false
	}
	return address, true
}

// actor reads ?actor=, defaulting to the service wallet
func (h *Handler) actor(r *http.Request) (solana.PublicKey, error) {
	raw := r.URL.Query().Get("actor")
	if raw == "" {
		return h.deps.Signer, nil
	}
	return solana.PublicKeyFromBase58(raw)
}

func statusForTxError(err error) int {
	if errors.Is(err, svm.ErrEscrowNotFound) {
		return http.StatusNotFound
	}
	return http.StatusBadGateway
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Log error but can't send response since headers already written
		fmt.Printf("Failed to encode JSON response: %v\n", err)
	}
}

// respondError sends an error response
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errorMsg := message
	if err != nil {
		errorMsg = fmt.Sprintf("%s: %v", message, err)
	}

	response := ErrorResponse{
		Error:   message,
		Message: errorMsg,
	}

	respondJSON(w, statusCode, response)
}

// respondTxError sends an error response carrying the classified kind and
// its user-facing message
func respondTxError(w http.ResponseWriter, statusCode int, message string, err error) {
	txErr := models.AsTxError(err)
	respondJSON(w, statusCode, ErrorResponse{
		Error:   message,
		Message: txErr.Message,
		Kind:    string(txErr.Kind),
	})
}
