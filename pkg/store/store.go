// Package store defines persistence contracts for agent memories and the
// conversation log. Implementations must provide identical semantics across
// backends so the memory layer behaves the same on SQLite and PostgreSQL.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// MemoryType classifies a memory record.
type MemoryType string

const (
	MemoryInteraction  MemoryType = "interaction"
	MemoryObservation  MemoryType = "observation"
	MemoryReflection   MemoryType = "reflection"
	MemoryLearned      MemoryType = "learned"
	MemoryGoal         MemoryType = "goal"
	MemoryRelationship MemoryType = "relationship"
)

// Valid reports whether t is one of the known memory types.
func (t MemoryType) Valid() bool {
	switch t {
	case MemoryInteraction, MemoryObservation, MemoryReflection, MemoryLearned, MemoryGoal, MemoryRelationship:
		return true
	}
	return false
}

// DefaultImportance is used for records whose backend cannot persist importance.
const DefaultImportance = 0.5

// MemoryRecord is the persisted representation of a memory.
// Embedding is nil when the record was stored without one.
type MemoryRecord struct {
	ID             string
	UserID         string
	Content        string
	Type           MemoryType
	Embedding      []float32
	Metadata       map[string]any
	CreatedAt      time.Time
	Importance     float64
	AccessCount    int
	LastAccessedAt *time.Time
}

// SchemaCapabilities records which optional memory columns exist in the
// backing table. Deployments that predate importance tracking lack them.
type SchemaCapabilities struct {
	HasImportance   bool `json:"hasImportance"`
	HasAccessCount  bool `json:"hasAccessCount"`
	HasLastAccessed bool `json:"hasLastAccessed"`
}

// Full returns capabilities with every optional column present.
func Full() SchemaCapabilities {
	return SchemaCapabilities{HasImportance: true, HasAccessCount: true, HasLastAccessed: true}
}

// TracksAccess reports whether any access bookkeeping can be persisted.
func (c SchemaCapabilities) TracksAccess() bool { return c.HasAccessCount || c.HasLastAccessed }

// ListQuery selects a page of a user's memories, newest first.
type ListQuery struct {
	UserID       string
	Limit        int
	Offset       int
	EmbeddedOnly bool
}

// MemoryRepository is the relational source of truth for memories.
// Writes take the probed capabilities so absent columns are never touched.
type MemoryRepository interface {
	Capabilities(ctx context.Context) (SchemaCapabilities, error)
	InsertMemory(ctx context.Context, rec MemoryRecord, caps SchemaCapabilities) error
	GetMemories(ctx context.Context, userID string, ids []string, caps SchemaCapabilities) ([]MemoryRecord, error)
	ListMemories(ctx context.Context, q ListQuery, caps SchemaCapabilities) ([]MemoryRecord, error)
	UpdateImportance(ctx context.Context, id string, importance float64) error
	RecordAccess(ctx context.Context, id string, at time.Time, caps SchemaCapabilities) error
	DeleteMemoriesBefore(ctx context.Context, userID string, cutoff time.Time) ([]string, error)
}
