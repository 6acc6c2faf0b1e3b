package entstore

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

const (
	memoriesTable      = "memories"
	conversationsTable = "conversation_messages"
)

var (
	memoryColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString, Size: 64},
		{Name: "user_id", Type: field.TypeString, Size: 128},
		{Name: "content", Type: field.TypeString, Size: 2147483647},
		{Name: "type", Type: field.TypeString, Size: 32},
		{Name: "embedding", Type: field.TypeJSON, Nullable: true},
		{Name: "metadata", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "importance", Type: field.TypeFloat64, Nullable: true, Default: 0.5},
		{Name: "access_count", Type: field.TypeInt, Nullable: true, Default: 0},
		{Name: "last_accessed_at", Type: field.TypeTime, Nullable: true},
	}
	MemoriesTable = &schema.Table{
		Name:       memoriesTable,
		Columns:    memoryColumns,
		PrimaryKey: []*schema.Column{memoryColumns[0]},
		Indexes: []*schema.Index{
			{Name: "memory_user_id_created_at", Columns: []*schema.Column{memoryColumns[1], memoryColumns[6]}},
		},
	}

	conversationColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "agent_id", Type: field.TypeString, Size: 128},
		{Name: "conversation_key", Type: field.TypeString, Size: 255},
		{Name: "sender_id", Type: field.TypeString, Size: 128, Nullable: true},
		{Name: "role", Type: field.TypeString, Size: 32},
		{Name: "content", Type: field.TypeString, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
	}
	ConversationsTable = &schema.Table{
		Name:       conversationsTable,
		Columns:    conversationColumns,
		PrimaryKey: []*schema.Column{conversationColumns[0]},
		Indexes: []*schema.Index{
			{Name: "conversation_agent_key", Columns: []*schema.Column{conversationColumns[1], conversationColumns[2]}},
		},
	}
)

// Migrate creates or updates both tables, including the optional memory
// bookkeeping columns.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(s.drv)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return m.Create(ctx, MemoriesTable, ConversationsTable)
}
