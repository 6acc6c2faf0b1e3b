package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	fakeembed "github.com/wilhg/agentsim/pkg/adapters/embedding/fake"
	"github.com/wilhg/agentsim/pkg/memory/vector"
	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/store/entstore"
)

// stubVectors serves canned records and records every call.
type stubVectors struct {
	mu          sync.Mutex
	records     []store.MemoryRecord
	stored      []store.MemoryRecord
	accessed    []string
	importance  map[string]float64
	lastFetch   int
	deletedDays int
	failStore   error
}

func (s *stubVectors) StoreMemory(_ context.Context, userID, content string, typ store.MemoryType, md map[string]any, imp float64) (store.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStore != nil {
		return store.MemoryRecord{}, s.failStore
	}
	r := store.MemoryRecord{ID: fmt.Sprintf("s%d", len(s.stored)), UserID: userID, Content: content, Type: typ, Metadata: md, Importance: imp}
	s.stored = append(s.stored, r)
	return r, nil
}

func (s *stubVectors) RetrieveMemories(_ context.Context, _, _ string, limit int, _ float32) ([]store.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFetch = limit
	return s.take(limit), nil
}

func (s *stubVectors) GetRecentMemories(_ context.Context, _ string, limit int) ([]store.MemoryRecord, error) {
	return s.RetrieveMemories(context.Background(), "", "", limit, 0)
}

func (s *stubVectors) take(limit int) []store.MemoryRecord {
	if limit > len(s.records) {
		limit = len(s.records)
	}
	return append([]store.MemoryRecord(nil), s.records[:limit]...)
}

func (s *stubVectors) GetAllMemories(_ context.Context, _ string, page, pageSize int) ([]store.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := (page - 1) * pageSize
	if from >= len(s.records) {
		return nil, nil
	}
	to := min(from+pageSize, len(s.records))
	return append([]store.MemoryRecord(nil), s.records[from:to]...), nil
}

func (s *stubVectors) UpdateMemoryImportance(_ context.Context, id string, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.importance == nil {
		s.importance = map[string]float64{}
	}
	s.importance[id] = v
	return nil
}

func (s *stubVectors) RecordMemoryAccess(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessed = append(s.accessed, id)
	return nil
}

func (s *stubVectors) DeleteOldMemories(_ context.Context, _ string, days int) (int, error) {
	s.deletedDays = days
	return 3, nil
}

func openRepo(t *testing.T, name string) *entstore.Store {
	t.Helper()
	st, err := entstore.Open(context.Background(), "sqlite:file:"+name+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func rec(id string, typ store.MemoryType, md map[string]any) store.MemoryRecord {
	return store.MemoryRecord{ID: id, Type: typ, Content: id, Metadata: md}
}

func TestStoreMessagePersistsAndBuffers(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "mgr_persist")
	vs, err := vector.New(repo, vector.WithEmbedder(fakeembed.NewBagOfWords(32)))
	require.NoError(t, err)
	m, err := NewManager(vs, WithConversationLog(repo))
	require.NoError(t, err)

	sc := Scope{ConversationID: "c1"}
	require.NoError(t, m.StoreMessage(ctx, "agent", Message{Content: "hello there", SenderID: "h1"}, sc))
	require.NoError(t, m.StoreMessage(ctx, "agent", Message{Role: RoleAssistant, Content: "greetings traveler"}, sc))
	require.NoError(t, m.Flush(ctx))

	rows, err := repo.RecentMessages(ctx, "agent", ConversationKey("agent", sc), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "hello there", rows[0].Content)
	require.Equal(t, "h1", rows[0].SenderID)

	got, err := m.GetConversationContext(ctx, "agent", "", 5, sc)
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, RoleAssistant, got.Messages[1].Role)
	require.Len(t, got.Memories, 2)
	for _, r := range got.Memories {
		require.Equal(t, "c1", r.Metadata[MetaConversationID])
		want := store.MemoryObservation
		if r.Metadata[MetaRole] == RoleAssistant {
			want = store.MemoryInteraction
		}
		require.Equal(t, want, r.Type, r.Content)
	}
	require.Equal(t, 1, got.RelevantContext.CountsByType[store.MemoryInteraction])
	require.Equal(t, 1, got.RelevantContext.CountsByType[store.MemoryObservation])

	// access was recorded for every returned memory
	again, err := vs.GetAllMemories(ctx, "agent", 1, 10)
	require.NoError(t, err)
	for _, r := range again {
		require.Equal(t, 1, r.AccessCount)
	}
}

func TestRehydrationAfterRestart(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "mgr_rehydrate")
	vs, err := vector.New(repo)
	require.NoError(t, err)

	first, err := NewManager(vs, WithConversationLog(repo))
	require.NoError(t, err)
	for _, c := range []string{"one", "two", "three"} {
		require.NoError(t, first.StoreMessage(ctx, "a", Message{Content: c}, Scope{}))
	}
	require.NoError(t, first.Flush(ctx))

	second, err := NewManager(vs, WithConversationLog(repo))
	require.NoError(t, err)
	require.NoError(t, second.StoreMessage(ctx, "a", Message{Content: "four"}, Scope{}))
	got, err := second.GetConversationContext(ctx, "a", "", 1, Scope{})
	require.NoError(t, err)
	var contents []string
	for _, msg := range got.Messages {
		contents = append(contents, msg.Content)
	}
	require.Equal(t, []string{"one", "two", "three", "four"}, contents)
	require.NoError(t, second.Flush(ctx))
}

func TestDiscardConversationRehydrates(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "mgr_discard")
	vs, err := vector.New(repo)
	require.NoError(t, err)
	m, err := NewManager(vs, WithConversationLog(repo))
	require.NoError(t, err)

	require.NoError(t, m.StoreMessage(ctx, "a", Message{Content: "kept"}, Scope{HumanProfileID: "h"}))
	require.NoError(t, m.DiscardConversation(ctx, "a", Scope{HumanProfileID: "h"}))
	got, err := m.GetConversationContext(ctx, "a", "", 1, Scope{HumanProfileID: "h"})
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	require.Equal(t, "kept", got.Messages[0].Content)
}

func TestHumanProfilePrivacyFilter(t *testing.T) {
	ctx := context.Background()
	sv := &stubVectors{records: []store.MemoryRecord{
		rec("private-mine", store.MemoryInteraction, map[string]any{MetaHumanProfileID: "h1", MetaVisibility: VisibilityPrivate}),
		rec("mine", store.MemoryInteraction, map[string]any{MetaHumanProfileID: "h1"}),
		rec("theirs", store.MemoryReflection, map[string]any{MetaHumanProfileID: "h2"}),
		rec("untagged-chat", store.MemoryInteraction, nil),
		rec("untagged-seen", store.MemoryObservation, nil),
		rec("general", store.MemoryReflection, map[string]any{MetaCategory: "lore"}),
		rec("private-general", store.MemoryGoal, map[string]any{MetaVisibility: VisibilityPrivate}),
	}}
	m, err := NewManager(sv)
	require.NoError(t, err)

	got, err := m.GetConversationContext(ctx, "a", "what happened", 2, Scope{HumanProfileID: "h1"})
	require.NoError(t, err)
	require.Equal(t, 15, sv.lastFetch, "over-fetch max(5*limit, 15)")
	var ids []string
	for _, r := range got.Memories {
		ids = append(ids, r.ID)
	}
	require.Equal(t, []string{"mine", "general"}, ids)
	require.Equal(t, []string{"mine", "general"}, sv.accessed)
	require.Len(t, got.RelevantContext.Categories["lore"], 1)

	_, err = m.GetConversationContext(ctx, "a", "q", 4, Scope{HumanProfileID: "h1"})
	require.NoError(t, err)
	require.Equal(t, 20, sv.lastFetch)
}

func TestConversationFilter(t *testing.T) {
	ctx := context.Background()
	sv := &stubVectors{records: []store.MemoryRecord{
		rec("c1-a", store.MemoryInteraction, map[string]any{MetaConversationID: "c1"}),
		rec("c2-a", store.MemoryInteraction, map[string]any{MetaConversationID: "c2"}),
		rec("none", store.MemoryReflection, nil),
		rec("c1-b", store.MemoryObservation, map[string]any{MetaConversationID: "c1"}),
	}}
	m, err := NewManager(sv)
	require.NoError(t, err)
	got, err := m.GetConversationContext(ctx, "a", "", 5, Scope{ConversationID: "c1"})
	require.NoError(t, err)
	require.Equal(t, 5, sv.lastFetch)
	require.Len(t, got.Memories, 2)
	require.Equal(t, "c1-a", got.Memories[0].ID)
	require.Equal(t, "c1-b", got.Memories[1].ID)
}

func TestFlushReportsPersistenceErrors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	sv := &stubVectors{failStore: boom}

	async, err := NewManager(sv)
	require.NoError(t, err)
	require.NoError(t, async.StoreMessage(ctx, "a", Message{Content: "x"}, Scope{}))
	require.ErrorIs(t, async.Flush(ctx), boom)
	require.NoError(t, async.Flush(ctx), "errors are reported once")

	blocking, err := NewManager(sv, WithSynchronousPersistence())
	require.NoError(t, err)
	require.ErrorIs(t, blocking.StoreMessage(ctx, "a", Message{Content: "x"}, Scope{}), boom)

	require.Error(t, async.StoreMessage(ctx, "", Message{Content: "x"}, Scope{}))
	require.Error(t, async.StoreMessage(ctx, "a", Message{}, Scope{}))
}

func TestConcurrentWritersSameKey(t *testing.T) {
	ctx := context.Background()
	sv := &stubVectors{}
	m, err := NewManager(sv)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = m.StoreMessage(ctx, "a", Message{Content: fmt.Sprintf("m%d", i)}, Scope{})
		}(i)
	}
	wg.Wait()
	require.NoError(t, m.Flush(ctx))
	require.Len(t, sv.stored, 20)

	c := m.conversation("a", Scope{})
	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.messages, 20)
	require.False(t, c.draining)
	for i, msg := range c.messages {
		require.Equal(t, msg.Content, sv.stored[i].Content, "persisted order differs from buffer order at %d", i)
	}
}

func TestStoredMemoryTypeFollowsRole(t *testing.T) {
	ctx := context.Background()
	sv := &stubVectors{}
	m, err := NewManager(sv, WithSynchronousPersistence())
	require.NoError(t, err)
	require.NoError(t, m.StoreMessage(ctx, "a", Message{Role: RoleUser, Content: "the bridge is out"}, Scope{}))
	require.NoError(t, m.StoreMessage(ctx, "a", Message{Role: RoleAssistant, Content: "I will take the ford"}, Scope{}))
	require.NoError(t, m.StoreMessage(ctx, "a", Message{Role: RoleSystem, Content: "night falls"}, Scope{}))
	require.NoError(t, m.StoreMessage(ctx, "a", Message{Content: "anyone there?"}, Scope{}))

	require.Len(t, sv.stored, 4)
	require.Equal(t, store.MemoryObservation, sv.stored[0].Type)
	require.Equal(t, store.MemoryInteraction, sv.stored[1].Type)
	require.Equal(t, store.MemoryObservation, sv.stored[2].Type)
	require.Equal(t, store.MemoryObservation, sv.stored[3].Type)
}

// countingLog counts hydration reads on the wrapped log.
type countingLog struct {
	store.ConversationLog
	mu    sync.Mutex
	reads int
}

func (l *countingLog) RecentMessages(ctx context.Context, agentID, key string, limit int) ([]store.ConversationRow, error) {
	l.mu.Lock()
	l.reads++
	l.mu.Unlock()
	return l.ConversationLog.RecentMessages(ctx, agentID, key, limit)
}

func TestConversationContextIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "mgr_idempotent")
	sc := Scope{ConversationID: "c9"}
	key := ConversationKey("agent", sc)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"is the well dry?", "not yet"} {
		role := RoleUser
		if i == 1 {
			role = RoleAssistant
		}
		require.NoError(t, repo.AppendMessage(ctx, store.ConversationRow{AgentID: "agent", ConversationKey: key,
			Role: role, Content: content, CreatedAt: start.Add(time.Duration(i) * time.Minute)}))
	}

	counted := &countingLog{ConversationLog: repo}
	m, err := NewManager(&stubVectors{}, WithConversationLog(counted), WithSynchronousPersistence())
	require.NoError(t, err)

	first, err := m.GetConversationContext(ctx, "agent", "", 3, sc)
	require.NoError(t, err)
	second, err := m.GetConversationContext(ctx, "agent", "", 3, sc)
	require.NoError(t, err)
	require.Len(t, first.Messages, 2)
	require.Equal(t, first.Messages, second.Messages)

	require.NoError(t, m.StoreMessage(ctx, "agent", Message{Content: "then fetch water"}, sc))
	third, err := m.GetConversationContext(ctx, "agent", "", 3, sc)
	require.NoError(t, err)
	require.Len(t, third.Messages, 3)
	require.Equal(t, first.Messages, third.Messages[:2])

	counted.mu.Lock()
	defer counted.mu.Unlock()
	require.Equal(t, 1, counted.reads, "conversation hydrated more than once")
}

func TestBufferLimit(t *testing.T) {
	ctx := context.Background()
	m, err := NewManager(&stubVectors{}, WithBufferLimit(3), WithHistoryLimit(2), WithSynchronousPersistence())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, m.StoreMessage(ctx, "a", Message{Content: fmt.Sprintf("m%d", i)}, Scope{}))
	}
	got, err := m.GetConversationContext(ctx, "a", "", 1, Scope{})
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "m4", got.Messages[1].Content)
	require.Len(t, m.conversation("a", Scope{}).messages, 3)
}

func TestOptimizeImportanceAndSummary(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	sv := &stubVectors{}
	for i := 0; i < 130; i++ {
		r := rec(fmt.Sprintf("r%d", i), store.MemoryLearned, nil)
		r.CreatedAt = now.AddDate(0, 0, -i)
		r.AccessCount = i % 4
		r.Importance = 0.5
		sv.records = append(sv.records, r)
	}
	m, err := NewManager(sv, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	n, err := m.OptimizeMemoryImportance(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 130, n)
	require.InDelta(t, 0.5, sv.importance["r0"], 1e-9)
	want := (math.Exp(-30.0/30) + math.Log(3)/10) / 2
	require.InDelta(t, want, sv.importance["r30"], 1e-9)

	sum, err := m.GetMemorySummary(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 130, sum.Total)
	require.Equal(t, 130, sum.ByType[store.MemoryLearned])
	require.InDelta(t, 0.5, sum.AverageImportance, 1e-9)
	require.True(t, sum.Oldest.Before(*sum.Newest))

	deleted, err := m.ClearOldMemories(ctx, "a", 0)
	require.NoError(t, err)
	require.Equal(t, 3, deleted)
	require.Equal(t, 7, sv.deletedDays)
}

func TestImportanceScoreProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("score stays within [0,1]", prop.ForAll(
		func(age float64, access int) bool {
			v := ImportanceScore(age, access)
			return v >= 0 && v <= 1
		},
		gen.Float64Range(-10, 10000), gen.IntRange(0, 1_000_000),
	))
	properties.Property("older memories never score higher", prop.ForAll(
		func(age float64, extra float64, access int) bool {
			return ImportanceScore(age+extra, access) <= ImportanceScore(age, access)
		},
		gen.Float64Range(0, 365), gen.Float64Range(0, 365), gen.IntRange(0, 1000),
	))
	properties.Property("more access never scores lower", prop.ForAll(
		func(age float64, access, extra int) bool {
			return ImportanceScore(age, access+extra) >= ImportanceScore(age, access)
		},
		gen.Float64Range(0, 365), gen.IntRange(0, 1000), gen.IntRange(0, 1000),
	))
	properties.TestingRun(t)
}
