// Package fake provides deterministic embedders for tests and offline runs.
package fake

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/wilhg/agentsim/pkg/adapters/embedding"
)

// Embedder is a deterministic hash-based embedder. Identical inputs map to
// identical vectors; unrelated inputs are close to orthogonal.
type Embedder struct {
	dim   int
	words bool
}

// New returns a fake embedder hashing the whole input (dim >= 4).
func New(dim int) *Embedder {
	if dim < 4 {
		dim = 4
	}
	return &Embedder{dim: dim}
}

// NewBagOfWords returns an embedder that hashes each word into a bucket, so
// texts sharing vocabulary score a positive cosine similarity.
func NewBagOfWords(dim int) *Embedder {
	e := New(dim)
	e.words = true
	return e
}

func (e *Embedder) Name() string { return "fake" }

func (e *Embedder) Embed(ctx context.Context, inputs []string, opts map[string]any) ([]embedding.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]embedding.Vector, len(inputs))
	for i, s := range inputs {
		if e.words {
			out[i] = e.bag(s)
		} else {
			out[i] = e.hash(s)
		}
	}
	return out, nil
}

func (e *Embedder) hash(s string) embedding.Vector {
	vec := make(embedding.Vector, e.dim)
	h := sha256.Sum256([]byte(s))
	for j := 0; j < e.dim; j++ {
		off := (j * 4) % len(h)
		u := binary.LittleEndian.Uint32(h[off : off+4])
		vec[j] = (float32(u&0x7FFFFFFF) / float32(1<<31)) - 0.5
	}
	return vec
}

func (e *Embedder) bag(s string) embedding.Vector {
	vec := make(embedding.Vector, e.dim)
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%uint32(e.dim))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}

// Factory builds a fake embedder. cfg keys: dim (int), mode ("hash"|"words").
func Factory(_ context.Context, cfg map[string]any) (embedding.Embedder, error) {
	dim := 64
	switch v := cfg["dim"].(type) {
	case int:
		dim = v
	case float64:
		dim = int(v)
	}
	if mode, _ := cfg["mode"].(string); mode == "words" {
		return NewBagOfWords(dim), nil
	}
	return New(dim), nil
}

func init() {
	_ = embedding.Register("fake", Factory)
}

// FailingEmbedder always returns its error.
type FailingEmbedder struct{ err error }

// Failing returns an embedder whose every call fails with err.
func Failing(err error) *FailingEmbedder { return &FailingEmbedder{err: err} }

func (f *FailingEmbedder) Name() string { return "fake-failing" }

func (f *FailingEmbedder) Embed(context.Context, []string, map[string]any) ([]embedding.Vector, error) {
	return nil, f.err
}
