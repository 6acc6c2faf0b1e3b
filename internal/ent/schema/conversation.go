package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// ConversationMessage is one raw conversation turn, kept so the in-process
// buffer can be rebuilt after a restart.
type ConversationMessage struct{ ent.Schema }

func (ConversationMessage) Fields() []ent.Field {
	return []ent.Field{
		field.String("agent_id").MaxLen(128).NotEmpty(),
		field.String("conversation_key").MaxLen(255).NotEmpty(),
		field.String("sender_id").MaxLen(128).Optional(),
		field.String("role").MaxLen(32),
		field.Text("content"),
		field.Time("created_at").Default(time.Now).Immutable().SchemaType(map[string]string{
			dialect.Postgres: "TIMESTAMPTZ",
			dialect.SQLite:   "DATETIME",
		}),
	}
}

func (ConversationMessage) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "conversation_key"),
	}
}
