package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var groupName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// documentRow mirrors the documents table
type documentRow struct {
	Path      string    `db:"path"`
	DocID     string    `db:"doc_id"`
	Data      []byte    `db:"data"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r documentRow) toDocument() (Document, error) {
	doc := Document{Path: r.Path, ID: r.DocID, UpdatedAt: r.UpdatedAt}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &doc.Data); err != nil {
			return Document{}, fmt.Errorf("failed to decode document %s: %w", r.Path, err)
		}
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return doc, nil
}

// PostgresDocumentStore stores documents as JSONB rows keyed by path
type PostgresDocumentStore struct {
	db  DB
	now func() time.Time
}

// NewPostgresDocumentStore creates a new PostgresDocumentStore
func NewPostgresDocumentStore(db DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db, now: time.Now}
}

// Get retrieves a document by path
func (s *PostgresDocumentStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validDocumentPath(path); err != nil {
		return nil, err
	}

	var row documentRow
	query := `SELECT path, doc_id, data, updated_at FROM documents WHERE path = $1`
	err := s.db.GetContext(ctx, &row, query, path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document %s: %w", path, err)
	}

	doc, err := row.toDocument()
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// List retrieves the documents of a collection ordered by id
func (s *PostgresDocumentStore) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	var rows []documentRow
	var err error
	if limit > 0 {
		query := `SELECT path, doc_id, data, updated_at FROM documents WHERE parent = $1 ORDER BY doc_id LIMIT $2`
		err = s.db.SelectContext(ctx, &rows, query, collection, limit)
	} else {
		query := `SELECT path, doc_id, data, updated_at FROM documents WHERE parent = $1 ORDER BY doc_id`
		err = s.db.SelectContext(ctx, &rows, query, collection)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}
	return toDocuments(rows)
}

// Where retrieves the documents of a collection whose field equals value
func (s *PostgresDocumentStore) Where(ctx context.Context, collection, field string, value any) ([]Document, error) {
	filter, err := json.Marshal(map[string]any{field: value})
	if err != nil {
		return nil, fmt.Errorf("failed to encode filter: %w", err)
	}

	var rows []documentRow
	query := `
		SELECT path, doc_id, data, updated_at
		FROM documents
		WHERE parent = $1 AND data @> $2::jsonb
		ORDER BY doc_id
	`
	if err := s.db.SelectContext(ctx, &rows, query, collection, string(filter)); err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", collection, err)
	}
	return toDocuments(rows)
}

// Set writes a document, merging into the existing data when merge is true
func (s *PostgresDocumentStore) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	if !merge {
		if err := validDocumentPath(path); err != nil {
			return err
		}
		return s.upsert(ctx, s.db, path, ResolveTransforms(data, s.now()))
	}
	return s.Update(ctx, path, func(current map[string]any) (map[string]any, error) {
		return MergeData(current, data, s.now()), nil
	})
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *PostgresDocumentStore) upsert(ctx context.Context, ex execer, path string, data map[string]any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", path, err)
	}
	parent, id := SplitPath(path)

	query := `
		INSERT INTO documents (path, parent, doc_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, NOW(), NOW())
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`
	if _, err := ex.ExecContext(ctx, query, path, parent, id, string(encoded)); err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return nil
}

// Update runs a read-modify-write cycle inside a transaction holding a row lock
func (s *PostgresDocumentStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := validDocumentPath(path); err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// A missing row is not locked; concurrent creators meet in the upsert's ON CONFLICT
	var raw []byte
	query := `SELECT data FROM documents WHERE path = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &raw, query, path)
	var current map[string]any
	switch {
	case errors.Is(err, sql.ErrNoRows):
		current = nil
	case err != nil:
		return fmt.Errorf("failed to lock document %s: %w", path, err)
	default:
		if err := json.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("failed to decode document %s: %w", path, err)
		}
	}

	next, err := fn(current)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	if next == nil {
		if current != nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
				return fmt.Errorf("failed to delete document %s: %w", path, err)
			}
		}
	} else if err := s.upsert(ctx, tx, path, next); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit document %s: %w", path, err)
	}
	return nil
}

// Delete removes a document; deleting a missing document is not an error
func (s *PostgresDocumentStore) Delete(ctx context.Context, path string) error {
	if err := validDocumentPath(path); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	return nil
}

// PurgeGroup deletes every document at or below "<group>/<key>" with key < keyBefore
func (s *PostgresDocumentStore) PurgeGroup(ctx context.Context, group, keyBefore string) (int64, error) {
	if !groupName.MatchString(group) {
		return 0, fmt.Errorf("invalid group name %q", group)
	}

	query := `
		DELETE FROM documents
		WHERE path LIKE '%/' || $1 || '/%'
		  AND substring(path from '/' || $1 || '/([^/]+)') < $2
	`
	result, err := s.db.ExecContext(ctx, query, group, keyBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to purge %s documents: %w", group, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged documents: %w", err)
	}
	return affected, nil
}

func toDocuments(rows []documentRow) ([]Document, error) {
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		doc, err := r.toDocument()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
