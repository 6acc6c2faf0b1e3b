//go:build integration

package anthropic

import (
	"context"
	"os"
	"testing"

	"github.com/wilhg/agentsim/pkg/adapters/llm"
)

func TestAnthropicGenerate(t *testing.T) {
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		t.Skip("ANTHROPIC_API_KEY not set")
	}
	ctx := context.Background()
	m, err := Factory(ctx, map[string]any{})
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	res, err := m.Generate(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: "Answer with one word."},
		{Role: llm.RoleUser, Content: "Say 'pong'"},
	}, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Text == "" {
		t.Fatalf("empty response text")
	}
}
