package vector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wilhg/agentsim/pkg/adapters/embedding"
	fakeembed "github.com/wilhg/agentsim/pkg/adapters/embedding/fake"
	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/store/entstore"
)

func openRepo(t *testing.T, name string, migrate bool) *entstore.Store {
	t.Helper()
	ctx := context.Background()
	st, err := entstore.Open(ctx, "sqlite:file:"+name+"?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_fk=1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	if migrate {
		require.NoError(t, st.Migrate(ctx))
	}
	return st
}

type countingRepo struct {
	store.MemoryRepository
	probes atomic.Int32
}

func (c *countingRepo) Capabilities(ctx context.Context) (store.SchemaCapabilities, error) {
	c.probes.Add(1)
	return c.MemoryRepository.Capabilities(ctx)
}

func TestStoreAndRetrieveSemantic(t *testing.T) {
	ctx := context.Background()
	s, err := New(openRepo(t, "vec_semantic", true), WithEmbedder(fakeembed.NewBagOfWords(64)), WithQueryCache(100))
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.StoreMemory(ctx, "agent-1", "the dragon attacked the northern village", store.MemoryObservation, map[string]any{"category": "battle"}, 0.8)
	require.NoError(t, err)
	require.NotEmpty(t, rec.Embedding)
	require.Equal(t, 0.8, rec.Importance)

	_, err = s.StoreMemory(ctx, "agent-1", "bought bread at the market", store.MemoryInteraction, nil, 0.5)
	require.NoError(t, err)
	_, err = s.StoreMemory(ctx, "agent-2", "the dragon attacked the northern village", store.MemoryObservation, nil, 0.5)
	require.NoError(t, err)

	got, err := s.RetrieveMemories(ctx, "agent-1", "dragon attacked village", 5, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.ID, got[0].ID)
	require.Equal(t, "battle", got[0].Metadata["category"])

	none, err := s.RetrieveMemories(ctx, "agent-1", "quantum chromodynamics", 5, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestRetrieveFallsBackToRecentWhenEmbeddingFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { now = now.Add(time.Minute); return now }

	for name, e := range map[string]embedding.Embedder{
		"rate_limited": fakeembed.Failing(&embedding.RateLimitError{Provider: "fake"}),
		"failed":       fakeembed.Failing(errors.New("provider down")),
	} {
		t.Run(name, func(t *testing.T) {
			s, err := New(openRepo(t, "vec_fallback_"+name, true), WithEmbedder(e), WithClock(clock))
			require.NoError(t, err)

			for _, c := range []string{"first", "second", "third"} {
				rec, err := s.StoreMemory(ctx, "u", c, store.MemoryLearned, nil, 0.5)
				require.NoError(t, err)
				require.Nil(t, rec.Embedding)
			}
			got, err := s.RetrieveMemories(ctx, "u", "anything", 2, 0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "third", got[0].Content)
			require.Equal(t, "second", got[1].Content)
		})
	}
}

func TestLegacySchemaIsTolerated(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "vec_legacy", false)
	_, err := repo.DB().ExecContext(ctx, `CREATE TABLE memories (
		id TEXT PRIMARY KEY, user_id TEXT NOT NULL, content TEXT NOT NULL, type TEXT NOT NULL,
		embedding JSON, metadata JSON, created_at DATETIME NOT NULL)`)
	require.NoError(t, err)

	counting := &countingRepo{MemoryRepository: repo}
	s, err := New(counting, WithEmbedder(fakeembed.New(8)))
	require.NoError(t, err)

	rec, err := s.StoreMemory(ctx, "u", "legacy memory", store.MemoryReflection, nil, 0.9)
	require.NoError(t, err)
	require.Equal(t, store.DefaultImportance, rec.Importance)

	require.NoError(t, s.UpdateMemoryImportance(ctx, rec.ID, 0.1))
	require.NoError(t, s.RecordMemoryAccess(ctx, rec.ID))
	got, err := s.GetRecentMemories(ctx, "u", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, 0, got[0].AccessCount)

	require.Equal(t, int32(1), counting.probes.Load(), "capabilities must be probed once")
}

func TestWarmUpLoadsPersistedEmbeddings(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t, "vec_warm", true)
	e := fakeembed.NewBagOfWords(64)

	first, err := New(repo, WithEmbedder(e))
	require.NoError(t, err)
	rec, err := first.StoreMemory(ctx, "u", "sword training at dawn", store.MemoryGoal, nil, 0.5)
	require.NoError(t, err)

	// A fresh process has an empty index and must rebuild it from the repository.
	second, err := New(repo, WithEmbedder(e))
	require.NoError(t, err)
	got, err := second.RetrieveMemories(ctx, "u", "sword training", 3, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, rec.ID, got[0].ID)
}

func TestAccessImportanceAndCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	s, err := New(openRepo(t, "vec_cleanup", true), WithEmbedder(fakeembed.New(8)), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	old, err := s.StoreMemory(ctx, "u", "old", store.MemoryLearned, nil, 7)
	require.NoError(t, err)
	require.Equal(t, 1.0, old.Importance, "importance is clamped")

	require.NoError(t, s.RecordMemoryAccess(ctx, old.ID))
	require.NoError(t, s.UpdateMemoryImportance(ctx, old.ID, -3))
	page, err := s.GetAllMemories(ctx, "u", 1, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, 1, page[0].AccessCount)
	require.Equal(t, 0.0, page[0].Importance)

	now = now.AddDate(0, 0, 10)
	_, err = s.StoreMemory(ctx, "u", "fresh", store.MemoryLearned, nil, 0.5)
	require.NoError(t, err)

	n, err := s.DeleteOldMemories(ctx, "u", 7)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	left, err := s.GetAllMemories(ctx, "u", 1, 10)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "fresh", left[0].Content)

	empty, err := s.GetAllMemories(ctx, "u", 2, 10)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestStoreMemoryValidates(t *testing.T) {
	s, err := New(openRepo(t, "vec_validate", true))
	require.NoError(t, err)
	_, err = s.StoreMemory(context.Background(), "", "x", store.MemoryGoal, nil, 0.5)
	require.Error(t, err)
	_, err = s.StoreMemory(context.Background(), "u", "x", store.MemoryType("dream"), nil, 0.5)
	require.Error(t, err)
	_, err = New(nil)
	require.Error(t, err)
}
