package service

import (
	"context"
	"sort"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"escrow/offchain/internal/blockchain/svm"
	"escrow/offchain/internal/models"
)

// EscrowReader fetches escrow accounts from the cluster
type EscrowReader interface {
	GetEscrow(ctx context.Context, address solana.PublicKey) (*models.EscrowRecord, error)
	ListEscrowsByMaker(ctx context.Context, maker solana.PublicKey) ([]svm.KeyedEscrow, error)
}

// EscrowService looks up escrows and projects them for an actor
type EscrowService struct {
	reader    EscrowReader
	projector *Projector
	logger    *zap.Logger
}

// NewEscrowService creates a new escrow service
func NewEscrowService(reader EscrowReader, projector *Projector, logger *zap.Logger) *EscrowService {
	return &EscrowService{
		reader:    reader,
		projector: projector,
		logger:    logger,
	}
}

// Get returns the view of a single escrow. A closed escrow yields an
// AlreadyTaken error.
func (s *EscrowService) Get(ctx context.Context, address, actor solana.PublicKey) (*models.EscrowView, error) {
	rec, err := s.reader.GetEscrow(ctx, address)
	if err != nil {
		return nil, err
	}
	return s.projector.Project(address, rec, actor)
}

// ListByMaker returns views of every open escrow created by maker, soonest
// expiry first
func (s *EscrowService) ListByMaker(ctx context.Context, maker, actor solana.PublicKey) ([]models.EscrowView, error) {
	escrows, err := s.reader.ListEscrowsByMaker(ctx, maker)
	if err != nil {
		return nil, err
	}

	views := make([]models.EscrowView, 0, len(escrows))
	for _, e := range escrows {
		view, err := s.projector.Project(e.Address, e.Record, actor)
		if err != nil {
			s.logger.Warn("Skipping escrow that cannot be projected",
				zap.String("address", e.Address.String()),
				zap.Error(err))
			continue
		}
		views = append(views, *view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Record.Expiry < views[j].Record.Expiry
	})

	s.logger.Debug("Listed escrows",
		zap.String("maker", maker.String()),
		zap.Int("count", len(views)))

	return views, nil
}
