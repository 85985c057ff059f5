package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/schoolways/bus-tracker-backend/internal/models"
)

// ReceiptStore records which notifications were delivered per service day
type ReceiptStore interface {
	// Claim inserts the receipts in one transaction. The first receipt is the
	// primary one: if it already exists nothing is claimed. Later receipts are
	// claimed only when free. It returns the keys this call inserted.
	Claim(ctx context.Context, receipts ...models.NotificationReceipt) ([]string, error)
	// Release deletes claimed receipts after a failed delivery
	Release(ctx context.Context, keys ...string) error
	// States derives the push state of each uid for one day and route
	States(ctx context.Context, dateKey, routeID string, uids []string) (map[string]models.PushState, error)
	// PurgeBefore deletes receipts of service days before dateKey
	PurgeBefore(ctx context.Context, dateKey string) (int64, error)
}

// ReceiptRepository handles notification_receipts operations
type ReceiptRepository struct {
	db DB
}

// NewReceiptRepository creates a new ReceiptRepository
func NewReceiptRepository(db DB) *ReceiptRepository {
	return &ReceiptRepository{db: db}
}

// Claim inserts receipts with ON CONFLICT DO NOTHING
func (r *ReceiptRepository) Claim(ctx context.Context, receipts ...models.NotificationReceipt) ([]string, error) {
	if len(receipts) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin receipt transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO notification_receipts (
			idempotency_key, id, date_key, route_id, uid, kind,
			stops_remaining, monitor_uid, institution_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	claimed := make([]string, 0, len(receipts))
	for i, receipt := range receipts {
		if receipt.ID == "" {
			receipt.ID = uuid.New().String()
		}
		result, err := tx.ExecContext(ctx, query,
			receipt.IdempotencyKey,
			receipt.ID,
			receipt.DateKey,
			receipt.RouteID,
			receipt.UID,
			receipt.Kind,
			receipt.StopsRemaining,
			receipt.MonitorUID,
			receipt.InstitutionCode,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to claim receipt %s: %w", receipt.IdempotencyKey, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read claim result: %w", err)
		}
		if affected == 0 {
			if i == 0 {
				return nil, nil
			}
			continue
		}
		claimed = append(claimed, receipt.IdempotencyKey)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit receipts: %w", err)
	}
	return claimed, nil
}

// Release deletes receipts by key
func (r *ReceiptRepository) Release(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	query := `DELETE FROM notification_receipts WHERE idempotency_key = ANY($1)`
	if _, err := r.db.ExecContext(ctx, query, models.StringArray(keys)); err != nil {
		return fmt.Errorf("failed to release receipts: %w", err)
	}
	return nil
}

type pushStateRow struct {
	UID string `db:"uid"`
	models.PushState
}

// States aggregates receipts into one PushState per uid
func (r *ReceiptRepository) States(ctx context.Context, dateKey, routeID string, uids []string) (map[string]models.PushState, error) {
	states := make(map[string]models.PushState, len(uids))
	if len(uids) == 0 {
		return states, nil
	}

	query := `
		SELECT
			uid,
			bool_or(kind = 'eta15') AS eta15_sent,
			bool_or(kind = 'eta5') AS eta5_sent,
			bool_or(kind = 'picked_up') AS picked_up_sent,
			MIN(stops_remaining) FILTER (WHERE kind = 'stops_remaining') AS last_stops_remaining
		FROM notification_receipts
		WHERE date_key = $1 AND route_id = $2 AND uid = ANY($3)
		GROUP BY uid
	`

	var rows []pushStateRow
	if err := r.db.SelectContext(ctx, &rows, query, dateKey, routeID, models.StringArray(uids)); err != nil {
		return nil, fmt.Errorf("failed to load push states: %w", err)
	}

	for _, row := range rows {
		states[row.UID] = row.PushState
	}
	return states, nil
}

// PurgeBefore deletes receipts older than the given service day
func (r *ReceiptRepository) PurgeBefore(ctx context.Context, dateKey string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM notification_receipts WHERE date_key < $1`, dateKey)
	if err != nil {
		return 0, fmt.Errorf("failed to purge receipts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged receipts: %w", err)
	}
	return affected, nil
}
