package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/atelierhq/atelier/internal/ids"
)

// Memory is an in-process Store used for development and tests.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{collections: make(map[string]*memoryCollection)}
}

func (m *Memory) Collection(name string) Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[name]
	if !ok {
		coll = &memoryCollection{docs: make(map[string]Document)}
		m.collections[name] = coll
	}
	return coll
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

type memoryCollection struct {
	mu   sync.RWMutex
	docs map[string]Document
	// order preserves insertion order for stable unsorted reads
	order []string
}

func (c *memoryCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	stored := doc.Clone()
	if stored == nil {
		stored = Document{}
	}
	if stored.ID() == "" {
		stored["id"] = ids.New()
	}
	now := Now()
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = now
	}
	stored["updatedAt"] = now

	c.mu.Lock()
	defer c.mu.Unlock()
	id := stored.ID()
	if _, exists := c.docs[id]; exists {
		return nil, ErrDuplicate
	}
	c.docs[id] = stored
	c.order = append(c.order, id)
	return stored.Clone(), nil
}

func (c *memoryCollection) Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error) {
	c.mu.RLock()
	matched := make([]Document, 0)
	for _, id := range c.order {
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		if filter.Matches(doc) {
			matched = append(matched, doc.Clone())
		}
	}
	c.mu.RUnlock()

	sortDocuments(matched, opts.Sort)

	if opts.Skip > 0 {
		if opts.Skip >= len(matched) {
			return []Document{}, nil
		}
		matched = matched[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

func (c *memoryCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.order {
		doc, ok := c.docs[id]
		if !ok {
			continue
		}
		if filter.Matches(doc) {
			return doc.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (c *memoryCollection) FindByID(ctx context.Context, id string) (Document, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (c *memoryCollection) Update(ctx context.Context, id string, changes Document) (Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	updated := doc.Clone()
	for k, v := range changes.Clone() {
		if k == "id" || k == "createdAt" {
			continue
		}
		updated[k] = v
	}
	updated["updatedAt"] = Now()
	c.docs[id] = updated
	return updated.Clone(), nil
}

func (c *memoryCollection) Delete(ctx context.Context, id string) (Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(c.docs, id)
	for i, oid := range c.order {
		if oid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return doc, nil
}

func (c *memoryCollection) DeleteMany(ctx context.Context, filter Filter) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	kept := c.order[:0]
	for _, id := range c.order {
		doc, ok := c.docs[id]
		if ok && filter.Matches(doc) {
			delete(c.docs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
	return removed, nil
}

func (c *memoryCollection) Count(ctx context.Context, filter Filter) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, doc := range c.docs {
		if filter.Matches(doc) {
			count++
		}
	}
	return count, nil
}

func sortDocuments(docs []Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			a, _ := Lookup(docs[i], field.Field)
			b, _ := Lookup(docs[j], field.Field)
			ord, ok := compareValues(a, b)
			if !ok {
				// Missing or incomparable values sort last.
				aOK := a != nil
				bOK := b != nil
				if aOK == bOK {
					continue
				}
				return aOK
			}
			if ord == 0 {
				continue
			}
			if field.Desc {
				return ord > 0
			}
			return ord < 0
		}
		return false
	})
}
