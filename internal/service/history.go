package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"escrow/offchain/internal/models"
)

// DefaultHistoryLimit caps history pages when the caller gives no limit
const DefaultHistoryLimit = 50

// ActionStore persists action records
type ActionStore interface {
	SaveAction(ctx context.Context, rec *models.ActionRecord) error
	GetAction(ctx context.Context, id string) (*models.ActionRecord, error)
	ListActionsByActor(ctx context.Context, actor string, limit, offset int) ([]models.ActionRecord, error)
}

// HistoryService records and lists escrow actions
type HistoryService struct {
	store  ActionStore
	logger *zap.Logger
}

// NewHistoryService creates a new history service
func NewHistoryService(store ActionStore, logger *zap.Logger) *HistoryService {
	return &HistoryService{
		store:  store,
		logger: logger,
	}
}

// SaveAction upserts rec
func (s *HistoryService) SaveAction(ctx context.Context, rec *models.ActionRecord) error {
	if err := s.store.SaveAction(ctx, rec); err != nil {
		return fmt.Errorf("failed to save action %s: %w", rec.ID, err)
	}

	s.logger.Debug("Action recorded",
		zap.String("action_id", rec.ID),
		zap.String("intent", string(rec.Intent)),
		zap.String("status", string(rec.Status)))

	return nil
}

// Get returns one action, nil if unknown
func (s *HistoryService) Get(ctx context.Context, id string) (*models.ActionRecord, error) {
	rec, err := s.store.GetAction(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get action %s: %w", id, err)
	}
	return rec, nil
}

// List returns a page of actor's actions, newest first
func (s *HistoryService) List(ctx context.Context, actor string, limit, offset int) ([]models.ActionRecord, error) {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	recs, err := s.store.ListActionsByActor(ctx, actor, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions for %s: %w", actor, err)
	}
	if recs == nil {
		recs = []models.ActionRecord{}
	}
	return recs, nil
}
