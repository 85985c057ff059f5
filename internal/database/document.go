package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrSkipWrite returned from an UpdateFunc leaves the document untouched
var ErrSkipWrite = errors.New("skip write")

// Document is one JSON document addressed by a slash separated path
// such as "routes/ruta-3/daily/2026-03-14/stops/calle-10".
type Document struct {
	Path      string         `db:"path"`
	ID        string         `db:"doc_id"`
	Data      map[string]any `db:"-"`
	UpdatedAt time.Time      `db:"updated_at"`
}

// Decode converts the document data into v using its json tags
func (d *Document) Decode(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", d.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document %s: %w", d.Path, err)
	}
	return nil
}

// UpdateFunc receives the current data (nil when missing) and returns the
// replacement. Returning a nil map deletes the document.
type UpdateFunc func(current map[string]any) (map[string]any, error)

// DocumentStore is the document database the tracking engine reads and writes
type DocumentStore interface {
	// Get returns nil, nil when the document does not exist
	Get(ctx context.Context, path string) (*Document, error)
	// List returns up to limit documents of a collection ordered by id; limit <= 0 means all
	List(ctx context.Context, collection string, limit int) ([]Document, error)
	// Where returns the documents of a collection whose top-level field equals value
	Where(ctx context.Context, collection, field string, value any) ([]Document, error)
	// Set writes data; with merge the patch is deep-merged and field transforms applied
	Set(ctx context.Context, path string, data map[string]any, merge bool) error
	// Update runs fn under a per-document lock
	Update(ctx context.Context, path string, fn UpdateFunc) error
	Delete(ctx context.Context, path string) error
	// PurgeGroup deletes documents at or under "<group>/<key>" where key sorts before keyBefore
	PurgeGroup(ctx context.Context, group, keyBefore string) (int64, error)
}

// JoinPath builds a document or collection path from segments.
// Slashes inside a segment would change the path depth and are replaced.
func JoinPath(segments ...string) string {
	cleaned := make([]string, 0, len(segments))
	for _, s := range segments {
		cleaned = append(cleaned, strings.ReplaceAll(strings.TrimSpace(s), "/", "-"))
	}
	return strings.Join(cleaned, "/")
}

// SplitPath returns the parent collection and the document id
func SplitPath(path string) (parent, id string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}

func validDocumentPath(path string) error {
	if path == "" {
		return fmt.Errorf("empty document path")
	}
	parts := strings.Split(path, "/")
	if len(parts)%2 != 0 {
		return fmt.Errorf("invalid document path %q: expected an even number of segments", path)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("invalid document path %q: empty segment", path)
		}
	}
	return nil
}

type deleteField struct{}

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

type serverTimestamp struct{}

// DeleteField removes the field when used as a merge value
func DeleteField() any { return deleteField{} }

// ArrayUnion appends the values not already present in the array field
func ArrayUnion(values ...any) any { return arrayUnion{values: values} }

// ArrayRemove drops every occurrence of the values from the array field
func ArrayRemove(values ...any) any { return arrayRemove{values: values} }

// ServerTimestamp is replaced by the write time
func ServerTimestamp() any { return serverTimestamp{} }

// MergeData deep-merges patch into current and applies field transforms.
// current is not modified.
func MergeData(current, patch map[string]any, now time.Time) map[string]any {
	result := cloneMap(current)
	for key, value := range patch {
		switch v := value.(type) {
		case deleteField:
			delete(result, key)
		case serverTimestamp:
			result[key] = now.UTC().Format(time.RFC3339Nano)
		case arrayUnion:
			existing := toSlice(result[key])
			for _, item := range v.values {
				if !containsValue(existing, item) {
					existing = append(existing, item)
				}
			}
			result[key] = existing
		case arrayRemove:
			existing := toSlice(result[key])
			kept := make([]any, 0, len(existing))
			for _, item := range existing {
				if !containsValue(v.values, item) {
					kept = append(kept, item)
				}
			}
			result[key] = kept
		case map[string]any:
			nested, _ := result[key].(map[string]any)
			result[key] = MergeData(nested, v, now)
		default:
			result[key] = value
		}
	}
	return result
}

// ResolveTransforms applies field transforms to a full (non-merge) write
func ResolveTransforms(data map[string]any, now time.Time) map[string]any {
	return MergeData(nil, data, now)
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		copy(out, v)
		return out
	case []string:
		out := make([]any, 0, len(v))
		for _, s := range v {
			out = append(out, s)
		}
		return out
	default:
		return []any{}
	}
}

func containsValue(list []any, value any) bool {
	for _, item := range list {
		if fmt.Sprint(item) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
