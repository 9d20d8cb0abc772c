package service

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"escrow/offchain/internal/amount"
	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/models"
	"escrow/offchain/internal/tokens"
)

// shortIDLength is the number of address characters used as a display id
const shortIDLength = 8

// Projector turns raw escrow records into views for a given actor
type Projector struct {
	registry  *tokens.Registry
	programID solana.PublicKey
	now       func() time.Time
	logger    *zap.Logger
}

// NewProjector creates a projector. A nil clock uses time.Now.
func NewProjector(registry *tokens.Registry, programID solana.PublicKey, clock func() time.Time, logger *zap.Logger) *Projector {
	if clock == nil {
		clock = time.Now
	}
	return &Projector{
		registry:  registry,
		programID: programID,
		now:       clock,
		logger:    logger,
	}
}

// Project builds the view of the escrow at address as seen by actor. A zero
// actor is never the maker.
func (p *Projector) Project(address solana.PublicKey, rec *models.EscrowRecord, actor solana.PublicKey) (*models.EscrowView, error) {
	vault, _, err := svm.DeriveVaultAddress(p.programID, address)
	if err != nil {
		return nil, fmt.Errorf("failed to derive vault for %s: %w", address, err)
	}

	makerToken := p.registry.Lookup(rec.MakerTokenMint)
	takerToken := p.registry.Lookup(rec.TakerTokenMint)

	remaining := TimeUntil(rec.Expiry, p.now())

	status := models.EscrowStatusActive
	if remaining.Expired {
		status = models.EscrowStatusExpired
	}

	isMaker := !actor.IsZero() && rec.Maker.Equals(actor)

	id := address.String()
	if len(id) > shortIDLength {
		id = id[:shortIDLength]
	}

	return &models.EscrowView{
		Address: address,
		Record:  *rec,
		Vault:   vault,
		ID:      id,
		Status:  status,
		MakerToken: models.TokenAmountView{
			Mint:     rec.MakerTokenMint,
			Amount:   amount.FromBaseUnits(rec.MakerTokenAmount, makerToken.Decimals),
			Symbol:   makerToken.Symbol,
			Decimals: makerToken.Decimals,
		},
		TakerToken: models.TokenAmountView{
			Mint:     rec.TakerTokenMint,
			Amount:   amount.FromBaseUnits(rec.TakerTokenAmount, takerToken.Decimals),
			Symbol:   takerToken.Symbol,
			Decimals: takerToken.Decimals,
		},
		ExchangeRate: amount.ExchangeRate(
			rec.MakerTokenAmount, makerToken.Decimals,
			rec.TakerTokenAmount, takerToken.Decimals,
		),
		TimeRemaining: remaining,
		IsMaker:       isMaker,
		CanUpdate:     isMaker && rec.IsMutable && !remaining.Expired,
		CanCancel:     isMaker && !remaining.Expired,
		CanTake:       !isMaker && !remaining.Expired,
	}, nil
}

// TimeUntil describes the time left until expiry (unix seconds) at now
func TimeUntil(expiry int64, now time.Time) models.TimeRemaining {
	total := expiry - now.Unix()
	if total < 0 {
		total = 0
	}

	tr := models.TimeRemaining{
		Expired:      total <= 0,
		TotalSeconds: total,
		Hours:        total / 3600,
		Minutes:      (total % 3600) / 60,
	}

	switch {
	case tr.Expired:
		tr.Formatted = "Expired"
	case tr.Hours > 0:
		tr.Formatted = fmt.Sprintf("%dh %dm remaining", tr.Hours, tr.Minutes)
	default:
		tr.Formatted = fmt.Sprintf("%dm remaining", tr.Minutes)
	}
	return tr
}
