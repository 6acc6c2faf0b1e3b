// Package fake provides a scripted LLM for tests and offline runs.
package fake

import (
	"context"
	"errors"
	"sync"

	"github.com/wilhg/agentsim/pkg/adapters/llm"
)

// ErrExhausted is returned once every scripted reply has been consumed and
// no fallback is set.
var ErrExhausted = errors.New("fake llm: script exhausted")

// LLM replays scripted replies in order and records every call.
type LLM struct {
	mu       sync.Mutex
	replies  []string
	fallback string
	calls    [][]llm.Message
}

// New returns an LLM that answers with replies in order.
func New(replies ...string) *LLM { return &LLM{replies: replies} }

// WithFallback sets the reply used after the script runs out.
func (f *LLM) WithFallback(s string) *LLM {
	f.fallback = s
	return f
}

func (f *LLM) Name() string { return "fake" }

func (f *LLM) Generate(ctx context.Context, messages []llm.Message, _ map[string]any) (llm.GenerateResult, error) {
	if err := ctx.Err(); err != nil {
		return llm.GenerateResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]llm.Message(nil), messages...))
	var text string
	switch {
	case len(f.replies) > 0:
		text, f.replies = f.replies[0], f.replies[1:]
	case f.fallback != "":
		text = f.fallback
	default:
		return llm.GenerateResult{}, ErrExhausted
	}
	return llm.GenerateResult{Text: text, Model: "fake"}, nil
}

// Calls returns a copy of the recorded message lists.
func (f *LLM) Calls() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.calls...)
}

// Factory builds a fake LLM. cfg keys: reply (used for every call).
func Factory(_ context.Context, cfg map[string]any) (llm.LLM, error) {
	reply, _ := cfg["reply"].(string)
	if reply == "" {
		reply = `{"thinking":"nothing needs doing","decision":"wait","confidence":0.9,"action":{"type":"idle","goalAchieved":true}}`
	}
	return New().WithFallback(reply), nil
}

func init() {
	_ = llm.Register("fake", Factory)
}
