package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryDocumentStore is an in-process DocumentStore used for local
// development (DATABASE_MODE=memory) and tests.
type MemoryDocumentStore struct {
	mu   sync.Mutex
	docs map[string]Document
	now  func() time.Time

	// FailPaths makes reads and writes of the listed paths fail
	FailPaths map[string]error
}

// NewMemoryStore creates an empty MemoryDocumentStore
func NewMemoryStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		docs:      make(map[string]Document),
		now:       time.Now,
		FailPaths: make(map[string]error),
	}
}

func (s *MemoryDocumentStore) failure(path string) error {
	for prefix, err := range s.FailPaths {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return err
		}
	}
	return nil
}

// Get retrieves a document by path
func (s *MemoryDocumentStore) Get(ctx context.Context, path string) (*Document, error) {
	if err := validDocumentPath(path); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(path); err != nil {
		return nil, err
	}
	doc, ok := s.docs[path]
	if !ok {
		return nil, nil
	}
	copied := doc
	copied.Data = cloneMap(doc.Data)
	return &copied, nil
}

// List retrieves the documents of a collection ordered by id
func (s *MemoryDocumentStore) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	return s.filter(collection, limit, func(Document) bool { return true })
}

// Where retrieves the documents of a collection whose field equals value
func (s *MemoryDocumentStore) Where(ctx context.Context, collection, field string, value any) ([]Document, error) {
	want := fmt.Sprint(value)
	return s.filter(collection, 0, func(doc Document) bool {
		got, ok := doc.Data[field]
		return ok && got != nil && fmt.Sprint(got) == want
	})
}

func (s *MemoryDocumentStore) filter(collection string, limit int, keep func(Document) bool) ([]Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(collection); err != nil {
		return nil, err
	}

	var result []Document
	for path, doc := range s.docs {
		parent, _ := SplitPath(path)
		if parent != collection || !keep(doc) {
			continue
		}
		copied := doc
		copied.Data = cloneMap(doc.Data)
		result = append(result, copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Set writes a document, merging into the existing data when merge is true
func (s *MemoryDocumentStore) Set(ctx context.Context, path string, data map[string]any, merge bool) error {
	return s.Update(ctx, path, func(current map[string]any) (map[string]any, error) {
		if merge {
			return MergeData(current, data, s.now()), nil
		}
		return ResolveTransforms(data, s.now()), nil
	})
}

// Update runs fn while holding the store lock
func (s *MemoryDocumentStore) Update(ctx context.Context, path string, fn UpdateFunc) error {
	if err := validDocumentPath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(path); err != nil {
		return err
	}

	var current map[string]any
	if doc, ok := s.docs[path]; ok {
		current = cloneMap(doc.Data)
	}

	next, err := fn(current)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}

	if next == nil {
		delete(s.docs, path)
		return nil
	}

	normalized, err := roundTrip(next)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", path, err)
	}
	_, id := SplitPath(path)
	s.docs[path] = Document{Path: path, ID: id, Data: normalized, UpdatedAt: s.now()}
	return nil
}

// Delete removes a document
func (s *MemoryDocumentStore) Delete(ctx context.Context, path string) error {
	if err := validDocumentPath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(path); err != nil {
		return err
	}
	delete(s.docs, path)
	return nil
}

// PurgeGroup deletes every document at or below "<group>/<key>" with key < keyBefore
func (s *MemoryDocumentStore) PurgeGroup(ctx context.Context, group, keyBefore string) (int64, error) {
	if !groupName.MatchString(group) {
		return 0, fmt.Errorf("invalid group name %q", group)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	marker := "/" + group + "/"
	for path := range s.docs {
		idx := strings.Index(path, marker)
		if idx < 0 {
			continue
		}
		rest := path[idx+len(marker):]
		key, _, _ := strings.Cut(rest, "/")
		if key == "" {
			continue
		}
		if key < keyBefore {
			delete(s.docs, path)
			purged++
		}
	}
	return purged, nil
}

// Len returns the number of stored documents
func (s *MemoryDocumentStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// roundTrip normalizes values the way a JSONB column would (numbers become float64)
func roundTrip(data map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
