// Package docstore provides a small schemaless document store keyed by
// collection name. Resource controllers operate on Document values and
// Filter predicates; the backing implementation is either an in-memory
// map (dev, tests) or PostgreSQL JSONB.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no document matches.
	ErrNotFound = errors.New("docstore: not found")
	// ErrDuplicate is returned when a unique field constraint is violated.
	ErrDuplicate = errors.New("docstore: duplicate value")
)

// Document is a schemaless record. Timestamps are stored inside the
// document as RFC 3339 strings so documents survive JSON round trips
// without type drift.
type Document map[string]any

// ID returns the document identifier, empty when unset.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case Document:
		return map[string]any(t.Clone())
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	default:
		return v
	}
}

// SortField is one ordered sort criterion.
type SortField struct {
	Field string
	Desc  bool
}

// FindOptions carries pagination and ordering for Find calls.
// Limit zero means no limit.
type FindOptions struct {
	Skip  int
	Limit int
	Sort  []SortField
}

// Store provides named collections. It is the sole synchronization point
// between concurrent request handlers.
type Store interface {
	Collection(name string) Collection
	// Ping reports backend health for readiness probes.
	Ping(ctx context.Context) error
}

// Collection exposes document operations over one named collection.
type Collection interface {
	// Insert stores doc, assigning id/createdAt/updatedAt when missing,
	// and returns the stored form.
	Insert(ctx context.Context, doc Document) (Document, error)
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)
	FindOne(ctx context.Context, filter Filter) (Document, error)
	FindByID(ctx context.Context, id string) (Document, error)
	// Update applies a shallow field merge onto the stored document and
	// returns the updated form.
	Update(ctx context.Context, id string, changes Document) (Document, error)
	Delete(ctx context.Context, id string) (Document, error)
	DeleteMany(ctx context.Context, filter Filter) (int, error)
	Count(ctx context.Context, filter Filter) (int, error)
}

// Timestamp formats t the way documents store time values.
func Timestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Now returns the current time in document timestamp form.
func Now() string {
	return Timestamp(time.Now())
}
