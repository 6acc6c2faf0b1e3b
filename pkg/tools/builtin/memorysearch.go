package builtin

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/tools"
)

// Retriever is the slice of the vector store the memory tool needs.
type Retriever interface {
	RetrieveMemories(ctx context.Context, userID, query string, limit int, threshold float32) ([]store.MemoryRecord, error)
}

// MemorySearch lets a model look up an agent's memories by meaning.
type MemorySearch struct {
	Memories Retriever
}

func (MemorySearch) Describe() tools.Descriptor {
	one, fifty := 1.0, 50.0
	zero := 0.0
	minLen := 1
	in := tools.Object(map[string]*jsonschema.Schema{
		"agent_id":  {Type: "string", MinLength: &minLen},
		"query":     {Type: "string"},
		"limit":     {Type: "integer", Minimum: &one, Maximum: &fifty},
		"threshold": {Type: "number", Minimum: &zero, Maximum: &one},
	}, "agent_id", "query")
	out := tools.Object(map[string]*jsonschema.Schema{
		"memories": {Type: "array", Items: tools.Object(map[string]*jsonschema.Schema{
			"id":         {Type: "string"},
			"content":    {Type: "string"},
			"type":       {Type: "string"},
			"importance": {Type: "number"},
		}, "id", "content", "type")},
	}, "memories")
	return tools.Descriptor{
		Name:         "memory.search",
		Description:  "Searches an agent's long-term memories for entries related to a query",
		InputSchema:  tools.SchemaBytes(in),
		OutputSchema: tools.SchemaBytes(out),
	}
}

func (m MemorySearch) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	if m.Memories == nil {
		return nil, errmodel.System("no_memory", "memory search is not configured", nil, nil)
	}
	agentID, _ := args["agent_id"].(string)
	query, _ := args["query"].(string)
	limit := 5
	if v, ok := args["limit"].(float64); ok {
		limit = int(v)
	}
	var threshold float32
	if v, ok := args["threshold"].(float64); ok {
		threshold = float32(v)
	}
	recs, err := m.Memories.RetrieveMemories(ctx, agentID, query, limit, threshold)
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(recs))
	for _, r := range recs {
		items = append(items, map[string]any{
			"id":         r.ID,
			"content":    r.Content,
			"type":       string(r.Type),
			"importance": r.Importance,
		})
	}
	return map[string]any{"memories": items}, nil
}
