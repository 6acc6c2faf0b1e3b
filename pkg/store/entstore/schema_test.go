package entstore

import (
	"testing"

	"entgo.io/ent"
	entschema "entgo.io/ent/dialect/sql/schema"

	"github.com/wilhg/agentsim/internal/ent/schema"
)

// The migration tables are hand-built; keep them in step with the declared
// entity schemas.
func TestTablesMatchEntitySchemas(t *testing.T) {
	cases := []struct {
		table  *entschema.Table
		fields []ent.Field
	}{
		{MemoriesTable, schema.Memory{}.Fields()},
		// The conversation table adds an auto-increment id.
		{ConversationsTable, schema.ConversationMessage{}.Fields()},
	}
	for _, c := range cases {
		cols := map[string]bool{}
		for _, col := range c.table.Columns {
			cols[col.Name] = true
		}
		for _, f := range c.fields {
			name := f.Descriptor().Name
			if !cols[name] {
				t.Fatalf("%s: column %q declared in schema but missing from table", c.table.Name, name)
			}
			delete(cols, name)
		}
		delete(cols, "id")
		if len(cols) != 0 {
			t.Fatalf("%s: columns %v not declared in schema", c.table.Name, cols)
		}
	}
}
