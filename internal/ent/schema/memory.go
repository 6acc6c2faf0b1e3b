package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Memory holds one semantic memory of an agent.
type Memory struct{ ent.Schema }

// Fields of the Memory. importance, access_count and last_accessed_at are
// optional so older deployments without them still load.
func (Memory) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").MaxLen(64).NotEmpty().Unique().Immutable(),
		field.String("user_id").MaxLen(128).NotEmpty(),
		field.Text("content"),
		field.Enum("type").Values("interaction", "observation", "reflection", "learned", "goal", "relationship"),
		// Float vector; nil when the embedder was unavailable.
		field.JSON("embedding", []float32{}).Optional(),
		field.JSON("metadata", map[string]any{}).Optional(),
		field.Time("created_at").Default(time.Now).Immutable().SchemaType(map[string]string{
			dialect.Postgres: "TIMESTAMPTZ",
			dialect.SQLite:   "DATETIME",
		}),
		field.Float("importance").Default(0.5).Min(0).Max(1).Optional(),
		field.Int("access_count").Default(0).NonNegative().Optional(),
		field.Time("last_accessed_at").Optional().Nillable(),
	}
}

// Indexes of the Memory.
func (Memory) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("user_id", "created_at"),
	}
}
