package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/store"
)

const (
	defaultBufferLimit  = 100
	defaultHydrateLimit = 50
	defaultHistoryLimit = 10
	defaultMemoryLimit  = 5
	defaultCleanupDays  = 7
	maxPendingErrors    = 64
	summaryPageSize     = 100
)

// Manager owns the per-conversation buffers. Buffers for different keys are
// independent; all mutation of one key happens under that key's lock and
// persistence for one key runs on a single drain goroutine, in order.
type Manager struct {
	vectors      VectorStore
	log          store.ConversationLog
	bufferLimit  int
	hydrateLimit int
	historyLimit int
	synchronous  bool
	now          func() time.Time

	mu    sync.Mutex
	convs map[string]*conversation

	pending sync.WaitGroup
	errMu   sync.Mutex
	errs    []error
}

type conversation struct {
	mu       sync.Mutex
	agentID  string
	key      string
	scope    Scope
	hydrated bool
	messages []Message
	queue    []Message
	draining bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithConversationLog enables durable rehydration of conversation buffers.
func WithConversationLog(l store.ConversationLog) Option { return func(m *Manager) { m.log = l } }

// WithBufferLimit caps the in-process messages kept per conversation.
func WithBufferLimit(n int) Option { return func(m *Manager) { m.bufferLimit = n } }

// WithHistoryLimit sets how many recent messages a context bundle carries.
func WithHistoryLimit(n int) Option { return func(m *Manager) { m.historyLimit = n } }

// WithSynchronousPersistence makes StoreMessage persist before returning
// and report persistence errors directly.
func WithSynchronousPersistence() Option { return func(m *Manager) { m.synchronous = true } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager builds a Manager over a semantic memory service.
func NewManager(vectors VectorStore, opts ...Option) (*Manager, error) {
	if vectors == nil {
		return nil, fmt.Errorf("memory: nil vector store")
	}
	m := &Manager{
		vectors:      vectors,
		bufferLimit:  defaultBufferLimit,
		hydrateLimit: defaultHydrateLimit,
		historyLimit: defaultHistoryLimit,
		now:          time.Now,
		convs:        map[string]*conversation{},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func (m *Manager) conversation(agentID string, sc Scope) *conversation {
	key := ConversationKey(agentID, sc)
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok {
		c = &conversation{agentID: agentID, key: key, scope: sc}
		m.convs[key] = c
	}
	return c
}

// hydrateLocked loads the durable tail of a conversation once. c.mu must be held.
func (m *Manager) hydrateLocked(ctx context.Context, c *conversation) {
	if c.hydrated {
		return
	}
	if m.log == nil {
		c.hydrated = true
		return
	}
	rows, err := m.log.RecentMessages(ctx, c.agentID, c.key, m.hydrateLimit)
	if err != nil {
		log.Warn(ctx, log.KV{K: "msg", V: "conversation hydration failed"}, log.KV{K: "key", V: c.key}, log.KV{K: "err", V: err.Error()})
		return
	}
	restored := make([]Message, 0, len(rows)+len(c.messages))
	var last time.Time
	for _, r := range rows {
		restored = append(restored, Message{Role: r.Role, Content: r.Content, SenderID: r.SenderID, CreatedAt: r.CreatedAt})
		last = r.CreatedAt
	}
	for _, msg := range c.messages {
		if msg.CreatedAt.After(last) {
			restored = append(restored, msg)
		}
	}
	c.messages = restored
	c.hydrated = true
	log.Debug(ctx, log.KV{K: "msg", V: "conversation hydrated"}, log.KV{K: "key", V: c.key}, log.KV{K: "rows", V: len(rows)})
}

// StoreMessage appends msg to the conversation buffer and schedules its
// persistence to the conversation log and semantic memory. Persistence is
// asynchronous unless WithSynchronousPersistence is set; use Flush to wait.
func (m *Manager) StoreMessage(ctx context.Context, agentID string, msg Message, sc Scope) error {
	if agentID == "" {
		return errmodel.Validation("missing_agent", "agentId is required", nil)
	}
	if msg.Content == "" {
		return errmodel.Validation("empty_message", "message content is required", nil)
	}
	if msg.Role == "" {
		msg.Role = RoleUser
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = m.now().UTC()
	}

	c := m.conversation(agentID, sc)
	c.mu.Lock()
	m.hydrateLocked(ctx, c)
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - m.bufferLimit; m.bufferLimit > 0 && over > 0 {
		c.messages = append([]Message(nil), c.messages[over:]...)
	}
	if m.synchronous {
		c.mu.Unlock()
		return m.persist(ctx, c, msg)
	}
	c.queue = append(c.queue, msg)
	start := !c.draining
	c.draining = true
	c.mu.Unlock()

	if start {
		m.pending.Add(1)
		go m.drain(context.WithoutCancel(ctx), c)
	}
	return nil
}

// drain persists queued messages for one conversation in arrival order.
func (m *Manager) drain(ctx context.Context, c *conversation) {
	defer m.pending.Done()
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		if err := m.persist(ctx, c, msg); err != nil {
			m.recordError(err)
			log.Error(ctx, err, log.KV{K: "msg", V: "message persistence failed"}, log.KV{K: "key", V: c.key})
		}
	}
}

func (m *Manager) persist(ctx context.Context, c *conversation, msg Message) error {
	var errs []error
	if m.log != nil {
		row := store.ConversationRow{AgentID: c.agentID, ConversationKey: c.key, SenderID: msg.SenderID,
			Role: msg.Role, Content: msg.Content, CreatedAt: msg.CreatedAt}
		if err := m.log.AppendMessage(ctx, row); err != nil {
			errs = append(errs, errmodel.Storage("append_message", "conversation log write failed", map[string]any{"key": c.key}, err))
		}
	}
	meta := make(map[string]any, len(msg.Metadata)+4)
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	meta[MetaRole] = msg.Role
	if c.scope.ConversationID != "" {
		meta[MetaConversationID] = c.scope.ConversationID
	}
	if c.scope.HumanProfileID != "" {
		meta[MetaHumanProfileID] = c.scope.HumanProfileID
	}
	if msg.SenderID != "" {
		meta[MetaSenderID] = msg.SenderID
	}
	if _, err := m.vectors.StoreMemory(ctx, c.agentID, msg.Content, memoryTypeOf(msg.Role), meta, store.DefaultImportance); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// memoryTypeOf maps a turn to its semantic memory type: the agent's own
// turns are interactions, everything it hears is an observation.
func memoryTypeOf(role string) store.MemoryType {
	if role == RoleAssistant {
		return store.MemoryInteraction
	}
	return store.MemoryObservation
}

func (m *Manager) recordError(err error) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if len(m.errs) < maxPendingErrors {
		m.errs = append(m.errs, err)
	}
}

// Flush waits for all scheduled persistence and returns the errors collected
// since the previous Flush.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	m.errMu.Lock()
	errs := m.errs
	m.errs = nil
	m.errMu.Unlock()
	return errors.Join(errs...)
}

// DiscardConversation flushes pending writes and drops the buffer for a
// conversation. The next access rehydrates from the conversation log.
func (m *Manager) DiscardConversation(ctx context.Context, agentID string, sc Scope) error {
	err := m.Flush(ctx)
	m.mu.Lock()
	delete(m.convs, ConversationKey(agentID, sc))
	m.mu.Unlock()
	return err
}

// GetConversationContext returns the recent messages of the scoped
// conversation plus up to limit memories relevant to query (recent memories
// when query is empty). Returned memories have their access recorded.
func (m *Manager) GetConversationContext(ctx context.Context, agentID, query string, limit int, sc Scope) (ConversationContext, error) {
	if agentID == "" {
		return ConversationContext{}, errmodel.Validation("missing_agent", "agentId is required", nil)
	}
	if limit <= 0 {
		limit = defaultMemoryLimit
	}

	c := m.conversation(agentID, sc)
	c.mu.Lock()
	m.hydrateLocked(ctx, c)
	from := max(0, len(c.messages)-m.historyLimit)
	messages := append([]Message(nil), c.messages[from:]...)
	c.mu.Unlock()

	fetch := limit
	if sc.HumanProfileID != "" {
		fetch = max(5*limit, 15)
	}
	var (
		records []store.MemoryRecord
		err     error
	)
	if query != "" {
		records, err = m.vectors.RetrieveMemories(ctx, agentID, query, fetch, 0)
	} else {
		records, err = m.vectors.GetRecentMemories(ctx, agentID, fetch)
	}
	if err != nil {
		return ConversationContext{}, err
	}

	records = filterScope(records, sc)
	if len(records) > limit {
		records = records[:limit]
	}
	for _, r := range records {
		if err := m.vectors.RecordMemoryAccess(ctx, r.ID); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "record access failed"}, log.KV{K: "id", V: r.ID}, log.KV{K: "err", V: err.Error()})
		}
	}
	return ConversationContext{
		AgentID:         agentID,
		Messages:        messages,
		Memories:        records,
		RelevantContext: summarize(records),
	}, nil
}

// filterScope applies the privacy rules. With a human profile, memories
// tagged for that profile are kept, private memories are always dropped and
// untagged interactions or observations are dropped. With only a
// conversation id, memories must carry that id.
func filterScope(records []store.MemoryRecord, sc Scope) []store.MemoryRecord {
	if sc.HumanProfileID == "" && sc.ConversationID == "" {
		return records
	}
	out := records[:0:0]
	for _, r := range records {
		if sc.HumanProfileID != "" {
			if metaString(r.Metadata, MetaVisibility) == VisibilityPrivate {
				continue
			}
			owner := metaString(r.Metadata, MetaHumanProfileID)
			switch {
			case owner == sc.HumanProfileID:
				out = append(out, r)
			case owner != "":
				// belongs to another human
			case r.Type == store.MemoryInteraction || r.Type == store.MemoryObservation:
			default:
				out = append(out, r)
			}
			continue
		}
		if metaString(r.Metadata, MetaConversationID) == sc.ConversationID {
			out = append(out, r)
		}
	}
	return out
}

func summarize(records []store.MemoryRecord) RelevantContext {
	rc := RelevantContext{CountsByType: map[store.MemoryType]int{}}
	for _, r := range records {
		rc.CountsByType[r.Type]++
		cat := metaString(r.Metadata, MetaCategory)
		if cat == "" {
			continue
		}
		if rc.Categories == nil {
			rc.Categories = map[string][]CategoryItem{}
		}
		rc.Categories[cat] = append(rc.Categories[cat], CategoryItem{ID: r.ID, Content: r.Content, Metadata: r.Metadata})
	}
	return rc
}

func metaString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}

// ClearOldMemories deletes memories older than daysOld (7 when <= 0).
func (m *Manager) ClearOldMemories(ctx context.Context, agentID string, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = defaultCleanupDays
	}
	n, err := m.vectors.DeleteOldMemories(ctx, agentID, daysOld)
	if err != nil {
		return 0, err
	}
	log.Info(ctx, log.KV{K: "msg", V: "old memories cleared"}, log.KV{K: "agent", V: agentID}, log.KV{K: "deleted", V: n})
	return n, nil
}

// ImportanceScore blends recency decay with access frequency:
// (exp(-ageDays/30) + ln(accessCount+1)/10) / 2, clamped to [0,1].
func ImportanceScore(ageDays float64, accessCount int) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	v := (math.Exp(-ageDays/30) + math.Log(float64(accessCount)+1)/10) / 2
	return math.Min(1, math.Max(0, v))
}

// OptimizeMemoryImportance recomputes importance for every memory of the
// agent and returns how many records were updated.
func (m *Manager) OptimizeMemoryImportance(ctx context.Context, agentID string) (int, error) {
	all, err := m.allMemories(ctx, agentID)
	if err != nil {
		return 0, err
	}
	now := m.now()
	updated := 0
	var errs []error
	for _, r := range all {
		age := now.Sub(r.CreatedAt).Hours() / 24
		if err := m.vectors.UpdateMemoryImportance(ctx, r.ID, ImportanceScore(age, r.AccessCount)); err != nil {
			errs = append(errs, err)
			continue
		}
		updated++
	}
	log.Info(ctx, log.KV{K: "msg", V: "memory importance optimized"}, log.KV{K: "agent", V: agentID}, log.KV{K: "updated", V: updated})
	return updated, errors.Join(errs...)
}

// GetMemorySummary aggregates counts and importance across all memories.
func (m *Manager) GetMemorySummary(ctx context.Context, agentID string) (Summary, error) {
	all, err := m.allMemories(ctx, agentID)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{AgentID: agentID, Total: len(all), ByType: map[store.MemoryType]int{}}
	var total float64
	for _, r := range all {
		sum.ByType[r.Type]++
		total += r.Importance
		t := r.CreatedAt
		if sum.Oldest == nil || t.Before(*sum.Oldest) {
			sum.Oldest = &t
		}
		if sum.Newest == nil || t.After(*sum.Newest) {
			sum.Newest = &t
		}
	}
	if len(all) > 0 {
		sum.AverageImportance = total / float64(len(all))
	}
	return sum, nil
}

func (m *Manager) allMemories(ctx context.Context, agentID string) ([]store.MemoryRecord, error) {
	var all []store.MemoryRecord
	for page := 1; ; page++ {
		rows, err := m.vectors.GetAllMemories(ctx, agentID, page, summaryPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
		if len(rows) < summaryPageSize {
			return all, nil
		}
	}
}
