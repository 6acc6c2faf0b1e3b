// Package chromem adapts the embedded chromem-go database to the
// VectorStore interface. Each namespace maps to one collection. With a
// path configured the index survives restarts without a warm-up pass.
package chromem

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	cg "github.com/philippgille/chromem-go"

	"github.com/wilhg/agentsim/pkg/adapters/vectorstore"
)

// Store wraps a chromem DB.
type Store struct {
	db *cg.DB

	mu   sync.Mutex
	cols map[string]*cg.Collection
}

// New returns an in-memory store.
func New() *Store { return &Store{db: cg.NewDB(), cols: map[string]*cg.Collection{}} }

// Open returns a store persisted under dir.
func Open(dir string) (*Store, error) {
	db, err := cg.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("chromem: open %s: %w", dir, err)
	}
	return &Store{db: db, cols: map[string]*cg.Collection{}}, nil
}

// Factory builds a chromem store. cfg keys: path (optional directory).
func Factory(_ context.Context, cfg map[string]any) (vectorstore.VectorStore, error) {
	if dir, ok := cfg["path"].(string); ok && dir != "" {
		return Open(dir)
	}
	return New(), nil
}

func init() { _ = vectorstore.Register("chromem", Factory) }

// vectors are always supplied by the caller.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem: documents must carry an embedding")
}

func (s *Store) collection(ns string) (*cg.Collection, error) {
	if ns == "" {
		ns = "default"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cols[ns]; ok {
		return c, nil
	}
	c, err := s.db.GetOrCreateCollection(ns, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("chromem: collection %q: %w", ns, err)
	}
	s.cols[ns] = c
	return c, nil
}

// Upsert adds documents; chromem replaces documents with an existing id.
func (s *Store) Upsert(ctx context.Context, items []vectorstore.Item) error {
	groups := map[string][]cg.Document{}
	for _, it := range items {
		if it.ID == "" || len(it.Vector) == 0 {
			return fmt.Errorf("chromem: item needs id and vector")
		}
		groups[it.Namespace] = append(groups[it.Namespace], cg.Document{
			ID:        it.ID,
			Embedding: append([]float32(nil), it.Vector...),
			Metadata:  stringify(it.Metadata),
		})
	}
	for ns, docs := range groups {
		c, err := s.collection(ns)
		if err != nil {
			return err
		}
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("chromem: add: %w", err)
		}
	}
	return nil
}

// Query returns up to k nearest documents. chromem rejects k larger than
// the collection, so k is clamped first.
func (s *Store) Query(ctx context.Context, query vectorstore.Vector, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	c, err := s.collection(filter.Namespace)
	if err != nil {
		return nil, err
	}
	n := c.Count()
	if n == 0 {
		return nil, nil
	}
	if k <= 0 || k > n {
		k = n
	}
	res, err := c.QueryEmbedding(ctx, query, k, stringify(filter.Equals), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}
	out := make([]vectorstore.Match, 0, len(res))
	for _, r := range res {
		md := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			md[k] = v
		}
		out = append(out, vectorstore.Match{
			Item:  vectorstore.Item{ID: r.ID, Namespace: filter.Namespace, Vector: r.Embedding, Metadata: md},
			Score: r.Similarity,
		})
	}
	return out, nil
}

// Delete removes ids from a namespace.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c, err := s.collection(namespace)
	if err != nil {
		return err
	}
	return c.Delete(ctx, nil, nil, ids...)
}

// chromem metadata is string-typed.
func stringify(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}
