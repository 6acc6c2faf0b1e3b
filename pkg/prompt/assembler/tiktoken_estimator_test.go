//go:build integration

package assembler

import "testing"

func TestNewTikTokenEstimator(t *testing.T) {
	est, err := NewTikTokenEstimator("gpt-4o")
	if err != nil {
		t.Skipf("tiktoken not available for model: %v", err)
	}
	if got := est("the mayor calls a town meeting"); got <= 0 {
		t.Fatalf("got %d tokens, want > 0", got)
	}
}
