package entstore

import (
	"context"
	"testing"
	"time"

	"github.com/wilhg/agentsim/pkg/store"
)

func openSQLite(t *testing.T, name string, migrate bool) *Store {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, "sqlite:file:"+name+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_fk=1")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	if migrate {
		if err := st.Migrate(ctx); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestSQLiteMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t, "memrt", true)

	caps, err := st.Capabilities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if caps != store.Full() {
		t.Fatalf("caps=%+v want full", caps)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	recs := []store.MemoryRecord{
		{ID: "m1", UserID: "u1", Content: "first", Type: store.MemoryObservation, CreatedAt: base, Importance: 0.2,
			Embedding: []float32{1, 0}, Metadata: map[string]any{"category": "battle"}},
		{ID: "m2", UserID: "u1", Content: "second", Type: store.MemoryInteraction, CreatedAt: base.Add(time.Hour), Importance: 0.9},
		{ID: "m3", UserID: "u2", Content: "other", Type: store.MemoryGoal, CreatedAt: base},
	}
	for _, r := range recs {
		if err := st.InsertMemory(ctx, r, caps); err != nil {
			t.Fatal(err)
		}
	}

	got, err := st.ListMemories(ctx, store.ListQuery{UserID: "u1", Limit: 10}, caps)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m1" {
		t.Fatalf("want newest first [m2 m1], got %+v", got)
	}
	if got[1].Metadata["category"] != "battle" || len(got[1].Embedding) != 2 {
		t.Fatalf("json columns not decoded: %+v", got[1])
	}
	if got[0].Embedding != nil {
		t.Fatalf("m2 stored without embedding, got %v", got[0].Embedding)
	}

	embedded, err := st.ListMemories(ctx, store.ListQuery{UserID: "u1", Limit: 10, EmbeddedOnly: true}, caps)
	if err != nil {
		t.Fatal(err)
	}
	if len(embedded) != 1 || embedded[0].ID != "m1" {
		t.Fatalf("embedded only: %+v", embedded)
	}

	if err := st.RecordAccess(ctx, "m1", base.Add(2*time.Hour), caps); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordAccess(ctx, "m1", base.Add(3*time.Hour), caps); err != nil {
		t.Fatal(err)
	}
	if err := st.UpdateImportance(ctx, "m1", 0.75); err != nil {
		t.Fatal(err)
	}
	one, err := st.GetMemories(ctx, "u1", []string{"m1", "m3"}, caps)
	if err != nil {
		t.Fatal(err)
	}
	if len(one) != 1 {
		t.Fatalf("other user's id leaked: %+v", one)
	}
	if one[0].AccessCount != 2 || one[0].LastAccessedAt == nil || one[0].Importance != 0.75 {
		t.Fatalf("bookkeeping not persisted: %+v", one[0])
	}

	if err := st.UpdateImportance(ctx, "missing", 0.1); err != store.ErrNotFound {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestSQLiteDeleteBefore(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t, "memdel", true)
	caps := store.Full()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	_ = st.InsertMemory(ctx, store.MemoryRecord{ID: "old", UserID: "u", Content: "a", Type: store.MemoryLearned, CreatedAt: now.AddDate(0, 0, -10)}, caps)
	_ = st.InsertMemory(ctx, store.MemoryRecord{ID: "new", UserID: "u", Content: "b", Type: store.MemoryLearned, CreatedAt: now.AddDate(0, 0, -1)}, caps)
	_ = st.InsertMemory(ctx, store.MemoryRecord{ID: "other", UserID: "v", Content: "c", Type: store.MemoryLearned, CreatedAt: now.AddDate(0, 0, -30)}, caps)

	ids, err := st.DeleteMemoriesBefore(ctx, "u", now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "old" {
		t.Fatalf("deleted=%v want [old]", ids)
	}
	left, _ := st.ListMemories(ctx, store.ListQuery{UserID: "v", Limit: 10}, caps)
	if len(left) != 1 {
		t.Fatalf("other user's memory must survive")
	}
}

func TestSQLiteLegacySchema(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t, "legacy", false)
	_, err := st.DB().ExecContext(ctx, `CREATE TABLE memories (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		content TEXT NOT NULL,
		type TEXT NOT NULL,
		embedding JSON,
		metadata JSON,
		created_at DATETIME NOT NULL
	)`)
	if err != nil {
		t.Fatal(err)
	}
	caps, err := st.Capabilities(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if caps != (store.SchemaCapabilities{}) {
		t.Fatalf("legacy table should report no optional columns, got %+v", caps)
	}
	rec := store.MemoryRecord{ID: "l1", UserID: "u", Content: "x", Type: store.MemoryReflection,
		CreatedAt: time.Now().UTC(), Importance: 0.9, AccessCount: 3}
	if err := st.InsertMemory(ctx, rec, caps); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordAccess(ctx, "l1", time.Now(), caps); err != nil {
		t.Fatal(err)
	}
	got, err := st.ListMemories(ctx, store.ListQuery{UserID: "u", Limit: 5}, caps)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Importance != store.DefaultImportance || got[0].AccessCount != 0 {
		t.Fatalf("legacy read: %+v", got)
	}
}

func TestSQLiteConversationLog(t *testing.T) {
	ctx := context.Background()
	st := openSQLite(t, "convlog", true)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, c := range []string{"a", "b", "c", "d"} {
		row := store.ConversationRow{AgentID: "ag", ConversationKey: "ag:c1", Role: "user", Content: c, CreatedAt: at.Add(time.Duration(i) * time.Second)}
		if i%2 == 1 {
			row.SenderID = "human-1"
		}
		if err := st.AppendMessage(ctx, row); err != nil {
			t.Fatal(err)
		}
	}
	_ = st.AppendMessage(ctx, store.ConversationRow{AgentID: "ag", ConversationKey: "ag:c2", Role: "user", Content: "z", CreatedAt: at})

	got, err := st.RecentMessages(ctx, "ag", "ag:c1", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Content != "b" || got[2].Content != "d" {
		t.Fatalf("want [b c d] oldest first, got %+v", got)
	}
	if got[0].SenderID != "human-1" || got[1].SenderID != "" {
		t.Fatalf("sender ids: %+v", got)
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in      string
		drv     string
		wantErr bool
	}{
		{"sqlite:file:x?mode=memory", "sqlite3", false},
		{"postgres://u:p@localhost:5432/db", "pgx", false},
		{"host=localhost user=u dbname=db", "pgx", false},
		{"mysql://u@h/db", "", true},
		{"garbage", "", true},
	}
	for _, c := range cases {
		drv, _, _, err := parseDSN(c.in)
		if (err != nil) != c.wantErr || drv != c.drv {
			t.Fatalf("%q: drv=%q err=%v", c.in, drv, err)
		}
	}
}
