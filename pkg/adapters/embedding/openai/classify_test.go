package openai

import (
	"errors"
	"net/http"
	"testing"

	oa "github.com/openai/openai-go/v3"

	"github.com/wilhg/agentsim/pkg/adapters/embedding"
)

func TestClassifyRateLimit(t *testing.T) {
	err := classify(&oa.Error{StatusCode: http.StatusTooManyRequests})
	if !errors.Is(err, embedding.ErrRateLimited) {
		t.Fatalf("429 should map to ErrRateLimited, got %v", err)
	}
	plain := errors.New("dial tcp: refused")
	if got := classify(plain); got != plain {
		t.Fatalf("non-API errors must pass through")
	}
}

func TestFactoryRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Factory(t.Context(), map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	e, err := Factory(t.Context(), map[string]any{"api_key": "sk-test", "model": "text-embedding-3-large"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name() != "openai" {
		t.Fatalf("name=%s", e.Name())
	}
}
