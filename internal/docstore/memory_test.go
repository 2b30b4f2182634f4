package docstore

import (
	"context"
	"testing"
)

func TestMemoryInsertAssignsIdentity(t *testing.T) {
	coll := NewMemory().Collection("things")

	doc, err := coll.Insert(context.Background(), Document{"name": "first"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if doc.ID() == "" {
		t.Fatal("expected assigned id")
	}
	if doc["createdAt"] == nil || doc["updatedAt"] == nil {
		t.Fatal("expected timestamps")
	}
}

func TestMemoryFindSortSkipLimit(t *testing.T) {
	ctx := context.Background()
	coll := NewMemory().Collection("things")

	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := coll.Insert(ctx, Document{"name": name}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	docs, err := coll.Find(ctx, Filter{}, FindOptions{
		Sort: []SortField{{Field: "name"}},
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 3 || docs[0]["name"] != "alpha" || docs[2]["name"] != "charlie" {
		t.Fatalf("unexpected sort order: %v", docs)
	}

	docs, err = coll.Find(ctx, Filter{}, FindOptions{
		Sort:  []SortField{{Field: "name"}},
		Skip:  1,
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(docs) != 1 || docs[0]["name"] != "bravo" {
		t.Fatalf("unexpected page: %v", docs)
	}
}

func TestMemoryUpdatePreservesIdentity(t *testing.T) {
	ctx := context.Background()
	coll := NewMemory().Collection("things")

	doc, err := coll.Insert(ctx, Document{"name": "before", "kept": "yes"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	updated, err := coll.Update(ctx, doc.ID(), Document{"name": "after", "id": "hijack"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID() != doc.ID() {
		t.Fatalf("id changed: %s -> %s", doc.ID(), updated.ID())
	}
	if updated["name"] != "after" || updated["kept"] != "yes" {
		t.Fatalf("unexpected merge result: %v", updated)
	}
	if updated["createdAt"] != doc["createdAt"] {
		t.Fatal("createdAt must not change on update")
	}
}

func TestMemoryDeleteManyAndCount(t *testing.T) {
	ctx := context.Background()
	coll := NewMemory().Collection("things")

	for i := 0; i < 3; i++ {
		if _, err := coll.Insert(ctx, Document{"group": "a"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := coll.Insert(ctx, Document{"group": "b"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	removed, err := coll.DeleteMany(ctx, Filter{}.Where("group", "a"))
	if err != nil {
		t.Fatalf("delete many: %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed=%d, want 3", removed)
	}

	count, err := coll.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count=%d, want 1", count)
	}
}

func TestMemoryNotFound(t *testing.T) {
	ctx := context.Background()
	coll := NewMemory().Collection("things")

	if _, err := coll.FindByID(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := coll.Update(ctx, "missing", Document{"a": 1}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := coll.Delete(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
