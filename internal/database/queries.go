package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"escrow/offchain/internal/models"
)

const actionColumns = `id, intent, actor, escrow_address, signature, status,
		       error_kind, error_message, created_at, updated_at`

// ==================== Action Queries ====================

// SaveAction inserts an action or overwrites the mutable fields of an
// existing one
func (db *DB) SaveAction(ctx context.Context, rec *models.ActionRecord) error {
	query := `
		INSERT INTO actions (id, intent, actor, escrow_address, signature, status,
		                     error_kind, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			escrow_address = EXCLUDED.escrow_address,
			signature = EXCLUDED.signature,
			status = EXCLUDED.status,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			updated_at = EXCLUDED.updated_at
	`
	_, err := db.ExecContext(
		ctx, query,
		rec.ID,
		rec.Intent,
		rec.Actor,
		rec.EscrowAddress,
		rec.Signature,
		rec.Status,
		rec.ErrorKind,
		rec.ErrorMessage,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	return err
}

// GetAction retrieves an action by id, nil if there is none
func (db *DB) GetAction(ctx context.Context, id string) (*models.ActionRecord, error) {
	var rec models.ActionRecord
	query := `SELECT ` + actionColumns + ` FROM actions WHERE id = $1`
	err := db.GetContext(ctx, &rec, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListActionsByActor retrieves an actor's actions, newest first
func (db *DB) ListActionsByActor(ctx context.Context, actor string, limit, offset int) ([]models.ActionRecord, error) {
	var recs []models.ActionRecord
	query := `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE actor = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	err := db.SelectContext(ctx, &recs, query, actor, limit, offset)
	return recs, err
}

// ListUnsettledActions retrieves actions that have a signature but no
// confirmed outcome: still confirming and last touched before staleBefore,
// or failed with a confirmation timeout. Interrupted sends and waits are
// recorded as timeouts too; other failures are final.
func (db *DB) ListUnsettledActions(ctx context.Context, staleBefore, since time.Time) ([]models.ActionRecord, error) {
	var recs []models.ActionRecord
	query := `
		SELECT ` + actionColumns + `
		FROM actions
		WHERE signature IS NOT NULL
		  AND created_at >= $3
		  AND (
		        (status = $1 AND updated_at < $2)
		     OR (status = $4 AND error_kind = $5)
		  )
		ORDER BY created_at ASC
	`
	err := db.SelectContext(ctx, &recs, query,
		models.TransactionStatusConfirming,
		staleBefore,
		since,
		models.TransactionStatusError,
		string(models.ErrorKindConfirmationTimeout),
	)
	return recs, err
}

// UpdateActionOutcome records the settled outcome of an action. A nil
// txErr marks it successful.
func (db *DB) UpdateActionOutcome(ctx context.Context, id string, status models.TransactionStatus, txErr *models.TxError) error {
	var kind, message *string
	if txErr != nil {
		k := string(txErr.Kind)
		kind, message = &k, &txErr.Message
	}
	query := `
		UPDATE actions
		SET status = $1, error_kind = $2, error_message = $3, updated_at = NOW()
		WHERE id = $4
	`
	_, err := db.ExecContext(ctx, query, status, kind, message, id)
	return err
}
