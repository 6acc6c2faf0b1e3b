// Package memory is the conversation-aware memory manager. It keeps a short
// per-conversation message buffer in process, persists every message to the
// conversation log and to semantic memory, and assembles the context bundle
// the reasoning step consumes.
package memory

import (
	"context"
	"time"

	"github.com/wilhg/agentsim/pkg/store"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Metadata keys the manager reads and writes on memory records.
const (
	MetaConversationID = "conversationId"
	MetaHumanProfileID = "humanProfileId"
	MetaSenderID       = "senderId"
	MetaRole           = "role"
	MetaVisibility     = "visibility"
	MetaCategory       = "category"

	VisibilityPrivate = "private"
)

// Message is one conversation turn.
type Message struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	SenderID  string         `json:"senderId,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Scope narrows a conversation. A zero Scope is the agent's global thread.
type Scope struct {
	ConversationID string `json:"conversationId,omitempty"`
	HumanProfileID string `json:"humanProfileId,omitempty"`
}

// ConversationContext is the bundle handed to reasoning.
type ConversationContext struct {
	AgentID         string               `json:"agentId"`
	Messages        []Message            `json:"messages"`
	Memories        []store.MemoryRecord `json:"memories"`
	RelevantContext RelevantContext      `json:"relevantContext"`
}

// RelevantContext summarizes the returned memories.
type RelevantContext struct {
	CountsByType map[store.MemoryType]int  `json:"countsByType"`
	Categories   map[string][]CategoryItem `json:"categories,omitempty"`
}

// CategoryItem is a memory excerpt grouped under its metadata category.
type CategoryItem struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Summary aggregates an agent's stored memories.
type Summary struct {
	AgentID           string                   `json:"agentId"`
	Total             int                      `json:"total"`
	ByType            map[store.MemoryType]int `json:"byType"`
	AverageImportance float64                  `json:"averageImportance"`
	Oldest            *time.Time               `json:"oldest,omitempty"`
	Newest            *time.Time               `json:"newest,omitempty"`
}

// VectorStore is the slice of the semantic memory service the manager uses.
type VectorStore interface {
	StoreMemory(ctx context.Context, userID, content string, typ store.MemoryType, metadata map[string]any, importance float64) (store.MemoryRecord, error)
	RetrieveMemories(ctx context.Context, userID, query string, limit int, threshold float32) ([]store.MemoryRecord, error)
	GetRecentMemories(ctx context.Context, userID string, limit int) ([]store.MemoryRecord, error)
	GetAllMemories(ctx context.Context, userID string, page, pageSize int) ([]store.MemoryRecord, error)
	UpdateMemoryImportance(ctx context.Context, id string, importance float64) error
	RecordMemoryAccess(ctx context.Context, id string) error
	DeleteOldMemories(ctx context.Context, userID string, daysOld int) (int, error)
}

// ConversationKey identifies an in-process buffer. Conversation id wins over
// human profile id; neither means the agent's global thread.
func ConversationKey(agentID string, sc Scope) string {
	switch {
	case sc.ConversationID != "":
		return agentID + ":conv:" + sc.ConversationID
	case sc.HumanProfileID != "":
		return agentID + ":human:" + sc.HumanProfileID
	default:
		return agentID + ":global"
	}
}
