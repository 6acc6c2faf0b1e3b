package memory

import (
	"context"
	"testing"

	"github.com/wilhg/agentsim/pkg/adapters/vectorstore"
)

func TestUpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	items := []vectorstore.Item{
		{ID: "a1", Namespace: "user-1", Vector: vectorstore.Vector{1, 0}, Metadata: map[string]any{"type": "interaction"}},
		{ID: "a2", Namespace: "user-1", Vector: vectorstore.Vector{0.8, 0.2}, Metadata: map[string]any{"type": "goal"}},
		{ID: "b1", Namespace: "user-2", Vector: vectorstore.Vector{0, 1}, Metadata: map[string]any{"type": "interaction"}},
	}
	if err := s.Upsert(ctx, items); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	matches, err := s.Query(ctx, vectorstore.Vector{1, 0}, 2, vectorstore.Filter{Namespace: "user-1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(matches) != 2 || matches[0].Item.ID != "a1" {
		t.Fatalf("unexpected ranking: %+v", matches)
	}
	if matches[0].Score < 0.999 {
		t.Fatalf("identical vector should score ~1, got %f", matches[0].Score)
	}

	matches, _ = s.Query(ctx, vectorstore.Vector{1, 0}, 2, vectorstore.Filter{Namespace: "user-1", Equals: map[string]any{"type": "goal"}})
	if len(matches) != 1 || matches[0].Item.ID != "a2" {
		t.Fatalf("filtered result unexpected: %+v", matches)
	}

	matches, _ = s.Query(ctx, vectorstore.Vector{0, 1}, 10, vectorstore.Filter{Namespace: "user-2"})
	if len(matches) != 1 || matches[0].Item.ID != "b1" {
		t.Fatalf("namespace isolation broken: %+v", matches)
	}

	if err := s.Delete(ctx, "user-1", []string{"a1", "nope"}); err != nil {
		t.Fatal(err)
	}
	if s.Len("user-1") != 1 {
		t.Fatalf("len=%d want 1", s.Len("user-1"))
	}

	if _, err := s.Query(ctx, vectorstore.Vector{0, 0}, 1, vectorstore.Filter{}); err == nil {
		t.Fatalf("zero query vector should error")
	}
	if err := s.Upsert(ctx, []vectorstore.Item{{ID: "", Vector: vectorstore.Vector{1}}}); err == nil {
		t.Fatalf("empty id should error")
	}
}
