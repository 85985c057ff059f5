package database

import (
	"context"
	"fmt"
)

// schemaStatements create the tables this service owns. They are idempotent.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		path       TEXT PRIMARY KEY,
		parent     TEXT NOT NULL,
		doc_id     TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_parent ON documents (parent, doc_id)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_data ON documents USING GIN (data jsonb_path_ops)`,
	`CREATE TABLE IF NOT EXISTS notification_receipts (
		idempotency_key  TEXT PRIMARY KEY,
		id               UUID NOT NULL,
		date_key         TEXT NOT NULL,
		route_id         TEXT NOT NULL,
		uid              TEXT NOT NULL,
		kind             TEXT NOT NULL,
		stops_remaining  INTEGER,
		monitor_uid      TEXT,
		institution_code TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_receipts_day_route ON notification_receipts (date_key, route_id, uid)`,
}

// EnsureSchema creates missing tables and indexes
func EnsureSchema(ctx context.Context, db DB) error {
	for i, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
