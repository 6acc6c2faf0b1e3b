// Package embedding defines the text embedding contract, a provider
// registry and the outcome type callers branch on when embedding fails.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Vector represents a single embedding vector.
type Vector []float32

// Embedder produces embedding vectors from text inputs.
// All network or I/O operations must honor ctx.
type Embedder interface {
	// Name returns a short provider name (e.g., "openai", "gemini").
	Name() string
	// Embed returns one vector per input string, in order.
	Embed(ctx context.Context, inputs []string, opts map[string]any) ([]Vector, error)
}

// ErrRateLimited marks a provider (or local limiter) refusal due to quota.
var ErrRateLimited = errors.New("embedding: rate limited")

// RateLimitError carries provider detail for a rate-limit refusal.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := "embedding: " + e.Provider + " rate limited"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
func (e *RateLimitError) Unwrap() error        { return e.Err }

// Status classifies an embedding attempt.
type Status int

const (
	StatusOK Status = iota
	StatusRateLimited
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	default:
		return "failed"
	}
}

// Outcome is the result of embedding a single text. Callers switch on Status
// and take one fallback path for both failure kinds.
type Outcome struct {
	Status Status
	Vector Vector
	Err    error
}

// OK reports whether a usable vector was produced.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Classify turns an embedding error into an Outcome.
func Classify(v Vector, err error) Outcome {
	switch {
	case err == nil && len(v) > 0:
		return Outcome{Status: StatusOK, Vector: v}
	case err == nil:
		return Outcome{Status: StatusFailed, Err: errors.New("embedding: empty vector")}
	case errors.Is(err, ErrRateLimited):
		return Outcome{Status: StatusRateLimited, Err: err}
	default:
		return Outcome{Status: StatusFailed, Err: err}
	}
}

// EmbedOne embeds a single text and classifies the result.
func EmbedOne(ctx context.Context, e Embedder, text string) Outcome {
	if e == nil {
		return Outcome{Status: StatusFailed, Err: errors.New("embedding: no embedder configured")}
	}
	vecs, err := e.Embed(ctx, []string{text}, nil)
	if err != nil {
		return Classify(nil, err)
	}
	if len(vecs) != 1 {
		return Classify(nil, fmt.Errorf("embedding: %s returned %d vectors for 1 input", e.Name(), len(vecs)))
	}
	return Classify(vecs[0], nil)
}

// Factory constructs an Embedder from a provider-specific configuration map.
type Factory func(ctx context.Context, cfg map[string]any) (Embedder, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers an Embedder factory under a provider name.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("embedding: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("embedding: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("embedding: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve retrieves a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range calls fn for each registered provider name and factory.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}
