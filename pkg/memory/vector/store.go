// Package vector is the semantic memory service. It writes memory records to
// the relational repository, keeps a similarity index in step with it and
// degrades to recency ordering whenever a query cannot be embedded.
package vector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/adapters/embedding"
	"github.com/wilhg/agentsim/pkg/adapters/vectorstore"
	vsmemory "github.com/wilhg/agentsim/pkg/adapters/vectorstore/memory"
	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/store"
)

// DefaultThreshold is the minimum cosine similarity for a semantic match.
const DefaultThreshold float32 = 0.5

// Store is safe for concurrent use. Construct one per process and pass it
// to consumers explicitly.
type Store struct {
	repo      store.MemoryRepository
	embedder  embedding.Embedder
	index     vectorstore.VectorStore
	cache     *ristretto.Cache
	threshold float32
	now       func() time.Time

	capsMu    sync.Mutex
	caps      store.SchemaCapabilities
	capsReady bool

	warmMu sync.Mutex
	warmed map[string]bool
}

// Option configures a Store.
type Option func(*Store)

// WithEmbedder sets the embedder. Without one every record is stored
// unembedded and every query takes the recency fallback.
func WithEmbedder(e embedding.Embedder) Option { return func(s *Store) { s.embedder = e } }

// WithIndex replaces the default in-process index.
func WithIndex(ix vectorstore.VectorStore) Option { return func(s *Store) { s.index = ix } }

// WithDefaultThreshold overrides DefaultThreshold.
func WithDefaultThreshold(t float32) Option { return func(s *Store) { s.threshold = t } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithQueryCache caches query embeddings for up to maxEntries distinct texts.
func WithQueryCache(maxEntries int64) Option {
	return func(s *Store) {
		if maxEntries <= 0 {
			return
		}
		c, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: maxEntries * 10,
			MaxCost:     maxEntries,
			BufferItems: 64,
		})
		if err == nil {
			s.cache = c
		}
	}
}

// New builds a Store over repo.
func New(repo store.MemoryRepository, opts ...Option) (*Store, error) {
	if repo == nil {
		return nil, fmt.Errorf("vector: nil repository")
	}
	s := &Store{repo: repo, threshold: DefaultThreshold, now: time.Now, warmed: map[string]bool{}}
	for _, o := range opts {
		o(s)
	}
	if s.index == nil {
		s.index = vsmemory.New()
	}
	return s, nil
}

// Close releases the query cache.
func (s *Store) Close() {
	if s.cache != nil {
		s.cache.Close()
	}
}

// Capabilities returns the probed schema capabilities. A successful probe is
// cached for the life of the Store; a failed probe reports none and is retried.
func (s *Store) Capabilities(ctx context.Context) store.SchemaCapabilities {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	if s.capsReady {
		return s.caps
	}
	caps, err := s.repo.Capabilities(ctx)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "schema capability probe failed"}, log.KV{K: "err", V: err.Error()})
		return store.SchemaCapabilities{}
	}
	s.caps, s.capsReady = caps, true
	log.Debug(ctx, log.KV{K: "msg", V: "memory schema probed"},
		log.KV{K: "importance", V: caps.HasImportance},
		log.KV{K: "access_count", V: caps.HasAccessCount},
		log.KV{K: "last_accessed", V: caps.HasLastAccessed})
	return caps
}

// StoreMemory persists a memory. Embedding failures never fail the write:
// the record is stored without an embedding instead. importance is clamped
// to [0,1].
func (s *Store) StoreMemory(ctx context.Context, userID, content string, typ store.MemoryType, metadata map[string]any, importance float64) (store.MemoryRecord, error) {
	if userID == "" {
		return store.MemoryRecord{}, errmodel.Validation("missing_user", "userId is required", nil)
	}
	if !typ.Valid() {
		return store.MemoryRecord{}, errmodel.Validation("bad_type", "unknown memory type", map[string]any{"type": string(typ)})
	}
	rec := store.MemoryRecord{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    content,
		Type:       typ,
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
		Importance: clamp01(importance),
	}
	if out := s.embed(ctx, content, false); out.OK() {
		rec.Embedding = out.Vector
	} else {
		logEmbedFallback(ctx, "store", out)
	}

	caps := s.Capabilities(ctx)
	if err := s.repo.InsertMemory(ctx, rec, caps); err != nil {
		return store.MemoryRecord{}, errmodel.Storage("insert_memory", "could not persist memory", map[string]any{"user": userID}, err)
	}
	if !caps.HasImportance {
		rec.Importance = store.DefaultImportance
	}
	if len(rec.Embedding) > 0 {
		item := vectorstore.Item{ID: rec.ID, Namespace: userID, Vector: vectorstore.Vector(rec.Embedding),
			Metadata: map[string]any{"type": string(rec.Type)}}
		if err := s.index.Upsert(ctx, []vectorstore.Item{item}); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "index upsert failed"}, log.KV{K: "id", V: rec.ID}, log.KV{K: "err", V: err.Error()})
		}
	}
	return rec, nil
}

// RetrieveMemories returns memories semantically related to query. When the
// query cannot be embedded, for any reason, it returns the most recent
// memories instead.
func (s *Store) RetrieveMemories(ctx context.Context, userID, query string, limit int, threshold float32) ([]store.MemoryRecord, error) {
	out := s.embed(ctx, query, true)
	switch out.Status {
	case embedding.StatusOK:
		return s.SemanticSearch(ctx, userID, out.Vector, limit, threshold)
	default:
		logEmbedFallback(ctx, "retrieve", out)
		return s.GetRecentMemories(ctx, userID, limit)
	}
}

// SemanticSearch ranks the user's embedded memories against vec and keeps
// those scoring at least threshold (DefaultThreshold when threshold <= 0).
func (s *Store) SemanticSearch(ctx context.Context, userID string, vec embedding.Vector, limit int, threshold float32) ([]store.MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	if threshold <= 0 {
		threshold = s.threshold
	}
	if err := s.warm(ctx, userID); err != nil {
		return nil, err
	}
	matches, err := s.index.Query(ctx, vectorstore.Vector(vec), limit, vectorstore.Filter{Namespace: userID})
	if err != nil {
		return nil, errmodel.Storage("index_query", "similarity query failed", map[string]any{"user": userID}, err)
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.Score >= threshold {
			ids = append(ids, m.Item.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.repo.GetMemories(ctx, userID, ids, s.Capabilities(ctx))
	if err != nil {
		return nil, errmodel.Storage("load_memories", "could not load matched memories", nil, err)
	}
	byID := make(map[string]store.MemoryRecord, len(rows))
	for _, r := range rows {
		byID[r.ID] = r
	}
	out := make([]store.MemoryRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetRecentMemories returns the newest memories for a user.
func (s *Store) GetRecentMemories(ctx context.Context, userID string, limit int) ([]store.MemoryRecord, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.repo.ListMemories(ctx, store.ListQuery{UserID: userID, Limit: limit}, s.Capabilities(ctx))
	if err != nil {
		return nil, errmodel.Storage("list_memories", "could not list memories", map[string]any{"user": userID}, err)
	}
	return rows, nil
}

// GetAllMemories returns one page (1-based) of a user's memories, newest first.
func (s *Store) GetAllMemories(ctx context.Context, userID string, page, pageSize int) ([]store.MemoryRecord, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	rows, err := s.repo.ListMemories(ctx, store.ListQuery{UserID: userID, Limit: pageSize, Offset: (page - 1) * pageSize}, s.Capabilities(ctx))
	if err != nil {
		return nil, errmodel.Storage("list_memories", "could not list memories", map[string]any{"user": userID, "page": page}, err)
	}
	return rows, nil
}

// UpdateMemoryImportance sets importance (clamped) when the schema has the
// column and is a no-op otherwise.
func (s *Store) UpdateMemoryImportance(ctx context.Context, id string, importance float64) error {
	if !s.Capabilities(ctx).HasImportance {
		return nil
	}
	if err := s.repo.UpdateImportance(ctx, id, clamp01(importance)); err != nil {
		return errmodel.Storage("update_importance", "could not update importance", map[string]any{"id": id}, err)
	}
	return nil
}

// RecordMemoryAccess bumps access bookkeeping where the schema supports it.
func (s *Store) RecordMemoryAccess(ctx context.Context, id string) error {
	caps := s.Capabilities(ctx)
	if !caps.TracksAccess() {
		return nil
	}
	if err := s.repo.RecordAccess(ctx, id, s.now().UTC(), caps); err != nil {
		return errmodel.Storage("record_access", "could not record access", map[string]any{"id": id}, err)
	}
	return nil
}

// DeleteOldMemories removes memories older than daysOld days and returns
// how many were deleted.
func (s *Store) DeleteOldMemories(ctx context.Context, userID string, daysOld int) (int, error) {
	cutoff := s.now().Add(-time.Duration(daysOld) * 24 * time.Hour)
	ids, err := s.repo.DeleteMemoriesBefore(ctx, userID, cutoff)
	if err != nil {
		return 0, errmodel.Storage("delete_memories", "could not delete old memories", map[string]any{"user": userID}, err)
	}
	if len(ids) > 0 {
		if err := s.index.Delete(ctx, userID, ids); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "index delete failed"}, log.KV{K: "user", V: userID}, log.KV{K: "err", V: err.Error()})
		}
	}
	return len(ids), nil
}

// warm loads a user's embedded memories into the index once per Store.
func (s *Store) warm(ctx context.Context, userID string) error {
	s.warmMu.Lock()
	defer s.warmMu.Unlock()
	if s.warmed[userID] {
		return nil
	}
	caps := s.Capabilities(ctx)
	const page = 200
	loaded := 0
	for offset := 0; ; offset += page {
		rows, err := s.repo.ListMemories(ctx, store.ListQuery{UserID: userID, Limit: page, Offset: offset, EmbeddedOnly: true}, caps)
		if err != nil {
			return errmodel.Storage("warm_index", "could not load memories into index", map[string]any{"user": userID}, err)
		}
		items := make([]vectorstore.Item, 0, len(rows))
		for _, r := range rows {
			if len(r.Embedding) == 0 {
				continue
			}
			items = append(items, vectorstore.Item{ID: r.ID, Namespace: userID, Vector: vectorstore.Vector(r.Embedding),
				Metadata: map[string]any{"type": string(r.Type)}})
		}
		if err := s.index.Upsert(ctx, items); err != nil {
			return errmodel.Storage("warm_index", "index upsert failed", map[string]any{"user": userID}, err)
		}
		loaded += len(items)
		if len(rows) < page {
			break
		}
	}
	s.warmed[userID] = true
	log.Debug(ctx, log.KV{K: "msg", V: "index warmed"}, log.KV{K: "user", V: userID}, log.KV{K: "items", V: loaded})
	return nil
}

// embed embeds text, consulting the query cache when cacheable is set.
func (s *Store) embed(ctx context.Context, text string, cacheable bool) embedding.Outcome {
	if cacheable && s.cache != nil {
		if v, ok := s.cache.Get(text); ok {
			return embedding.Outcome{Status: embedding.StatusOK, Vector: v.(embedding.Vector)}
		}
	}
	out := embedding.EmbedOne(ctx, s.embedder, text)
	if out.OK() && cacheable && s.cache != nil {
		s.cache.Set(text, out.Vector, 1)
	}
	return out
}

func logEmbedFallback(ctx context.Context, op string, out embedding.Outcome) {
	log.Warn(ctx,
		log.KV{K: "msg", V: "embedding unavailable, using fallback"},
		log.KV{K: "op", V: op},
		log.KV{K: "status", V: out.Status.String()},
		log.KV{K: "err", V: fmt.Sprint(out.Err)})
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
