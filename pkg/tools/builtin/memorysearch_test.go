package builtin

import (
	"context"
	"testing"

	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/tools"
)

type fakeRetriever struct {
	gotUser, gotQuery string
	gotLimit          int
}

func (f *fakeRetriever) RetrieveMemories(_ context.Context, userID, query string, limit int, _ float32) ([]store.MemoryRecord, error) {
	f.gotUser, f.gotQuery, f.gotLimit = userID, query, limit
	return []store.MemoryRecord{{ID: "m1", Content: "likes tea", Type: store.MemoryObservation, Importance: 0.7}}, nil
}

func TestMemorySearch(t *testing.T) {
	fr := &fakeRetriever{}
	reg := tools.NewRegistry()
	if err := reg.Register(MemorySearch{Memories: fr}); err != nil {
		t.Fatal(err)
	}
	res := tools.NewExecutor(reg).Execute(context.Background(), tools.Call{
		Name: "memory.search",
		Args: map[string]any{"agent_id": "a1", "query": "drinks", "limit": 3.0},
	})
	if !res.Success {
		t.Fatalf("unexpected failure: %+v", res)
	}
	if fr.gotUser != "a1" || fr.gotQuery != "drinks" || fr.gotLimit != 3 {
		t.Fatalf("unexpected call: %+v", fr)
	}
	mems, _ := res.Data["memories"].([]any)
	if len(mems) != 1 {
		t.Fatalf("memories = %v", res.Data["memories"])
	}

	res = tools.NewExecutor(reg).Execute(context.Background(), tools.Call{Name: "memory.search", Args: map[string]any{"query": "x"}})
	if res.Success {
		t.Fatal("expected missing agent_id to fail validation")
	}
}
