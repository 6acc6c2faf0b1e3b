// Package assembler selects context items for a prompt under a token budget.
package assembler

import (
	"sort"
	"strings"
)

// Item is one candidate piece of context. Items are deduplicated on
// (Kind, ID); higher Priority is considered first.
type Item struct {
	Kind     string
	ID       string
	Text     string
	Priority int
}

// Pinned identifies an item that must be considered before all others.
type Pinned struct {
	Kind string
	ID   string
}

// AssemblyLog summarizes the assembly decision.
type AssemblyLog struct {
	IncludedTokens int
	DroppedCount   int // excluded by budget; duplicates are not counted
}

// TokenEstimator estimates token usage of text content.
type TokenEstimator func(text string) int

// EstimateRunes approximates tokens as a quarter of the rune count, rounded up.
func EstimateRunes(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}

// Assembler deterministically assembles context respecting pins, dedup, and token budget.
type Assembler struct {
	estimate  TokenEstimator
	maxTokens int
}

// Option configures the Assembler.
type Option func(*Assembler)

// WithTokenEstimator sets the token estimator. Defaults to EstimateRunes.
func WithTokenEstimator(est TokenEstimator) Option {
	return func(a *Assembler) {
		if est != nil {
			a.estimate = est
		}
	}
}

// WithMaxTokens sets the token budget. Defaults to 4000.
func WithMaxTokens(n int) Option {
	return func(a *Assembler) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// New creates a new Assembler.
func New(opts ...Option) *Assembler {
	a := &Assembler{estimate: EstimateRunes, maxTokens: 4000}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Estimate exposes the configured estimator.
func (a *Assembler) Estimate(text string) int { return a.estimate(text) }

// Assemble returns the selected items. Pinned items come first, then the
// rest by priority (descending), kind and id. An item that does not fit is
// skipped and smaller ones after it may still be taken.
func (a *Assembler) Assemble(items []Item, pins []Pinned) ([]Item, AssemblyLog) {
	type key struct{ k, id string }
	seen := make(map[key]bool, len(items))
	isPinned := make(map[key]bool, len(pins))
	for _, p := range pins {
		isPinned[key{p.Kind, p.ID}] = true
	}
	var pinned, rest []Item
	for _, it := range items {
		k := key{it.Kind, it.ID}
		if seen[k] {
			continue
		}
		seen[k] = true
		if isPinned[k] {
			pinned = append(pinned, it)
		} else {
			rest = append(rest, it)
		}
	}
	less := func(s []Item) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i].Priority != s[j].Priority {
				return s[i].Priority > s[j].Priority
			}
			if s[i].Kind != s[j].Kind {
				return s[i].Kind < s[j].Kind
			}
			return s[i].ID < s[j].ID
		}
	}
	sort.SliceStable(pinned, less(pinned))
	sort.SliceStable(rest, less(rest))

	budget := a.maxTokens
	var log AssemblyLog
	out := make([]Item, 0, len(pinned)+len(rest))
	for _, it := range append(pinned, rest...) {
		cost := a.estimate(it.Text)
		if cost > budget {
			log.DroppedCount++
			continue
		}
		budget -= cost
		log.IncludedTokens += cost
		out = append(out, it)
	}
	return out, log
}

// Render lays items out in sections by kind, in first-seen kind order.
func Render(items []Item, titles map[string]string) string {
	var order []string
	byKind := map[string][]string{}
	for _, it := range items {
		if _, ok := byKind[it.Kind]; !ok {
			order = append(order, it.Kind)
		}
		byKind[it.Kind] = append(byKind[it.Kind], it.Text)
	}
	var sb strings.Builder
	for i, k := range order {
		if i > 0 {
			sb.WriteString("\n")
		}
		title := titles[k]
		if title == "" {
			title = k
		}
		sb.WriteString(title + ":\n")
		for _, t := range byKind[k] {
			sb.WriteString("- " + t + "\n")
		}
	}
	return sb.String()
}
