// Package nodes provides the Observe, Reason and Act steps of a workflow run
// and the collaborator interfaces they call out to.
package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/store"
	"github.com/wilhg/agentsim/pkg/workflow"
)

// FetchRequest asks a world source for one category of data.
type FetchRequest struct {
	Actor       workflow.Actor
	Subject     *workflow.Subject
	Category    workflow.DataCategory
	Limit       int
	SocialGraph *workflow.SocialGraphScope
}

// WorldSource returns world data visible to an actor.
type WorldSource interface {
	Fetch(ctx context.Context, req FetchRequest) ([]workflow.ObservedItem, error)
}

// Sources routes each category to its own source. Categories without a
// source observe nothing.
type Sources map[workflow.DataCategory]WorldSource

func (s Sources) Fetch(ctx context.Context, req FetchRequest) ([]workflow.ObservedItem, error) {
	src, ok := s[req.Category]
	if !ok || src == nil {
		return nil, nil
	}
	return src.Fetch(ctx, req)
}

// StaticWorld serves a fixed snapshot, newest items first per category.
type StaticWorld map[workflow.DataCategory][]workflow.ObservedItem

func (w StaticWorld) Fetch(_ context.Context, req FetchRequest) ([]workflow.ObservedItem, error) {
	items := append([]workflow.ObservedItem(nil), w[req.Category]...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	if len(items) > req.Limit {
		items = items[:req.Limit]
	}
	return items, nil
}

// RecentMemories is the vector store slice MemorySource reads.
type RecentMemories interface {
	GetRecentMemories(ctx context.Context, userID string, limit int) ([]store.MemoryRecord, error)
}

// MemorySource observes an actor's own recent memories.
type MemorySource struct {
	Memories RecentMemories
}

func (m MemorySource) Fetch(ctx context.Context, req FetchRequest) ([]workflow.ObservedItem, error) {
	recs, err := m.Memories.GetRecentMemories(ctx, req.Actor.ID, req.Limit)
	if err != nil {
		return nil, err
	}
	items := make([]workflow.ObservedItem, 0, len(recs))
	for _, r := range recs {
		items = append(items, workflow.ObservedItem{
			ID:        r.ID,
			Author:    r.UserID,
			Text:      r.Content,
			CreatedAt: r.CreatedAt,
			Data:      map[string]any{"type": string(r.Type), "importance": r.Importance},
		})
	}
	return items, nil
}

// DefaultFetchTimeout bounds each category fetch.
const DefaultFetchTimeout = 5 * time.Second

// Observe gathers world data within the scope's per-category limits. A
// category that fails or times out is marked partial and the run goes on.
type Observe struct {
	world   WorldSource
	timeout time.Duration
	now     func() time.Time
}

type ObserveOption func(*Observe)

func WithFetchTimeout(d time.Duration) ObserveOption { return func(o *Observe) { o.timeout = d } }

func WithObserveClock(now func() time.Time) ObserveOption { return func(o *Observe) { o.now = now } }

func NewObserve(world WorldSource, opts ...ObserveOption) *Observe {
	o := &Observe{world: world, timeout: DefaultFetchTimeout, now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Observe) Execute(ctx context.Context, st workflow.State) (workflow.Update, error) {
	if o.world == nil {
		return workflow.Update{}, fmt.Errorf("observe: no world source")
	}
	obs := &workflow.Observation{Items: map[workflow.DataCategory][]workflow.ObservedItem{}, ObservedAt: o.now()}
	for _, c := range workflow.Categories {
		limit := st.Scope.DataScope.Limit(c)
		if limit == 0 {
			continue
		}
		items, err := o.fetch(ctx, FetchRequest{
			Actor:       st.Scope.Actor,
			Subject:     st.Scope.Subject,
			Category:    c,
			Limit:       limit,
			SocialGraph: st.Scope.SocialGraph,
		})
		if err != nil {
			if ctx.Err() != nil {
				return workflow.Update{}, ctx.Err()
			}
			obs.Partial = append(obs.Partial, c)
			log.Warn(ctx, log.KV{K: "msg", V: "observe fetch failed"}, log.KV{K: "category", V: string(c)}, log.KV{K: "err", V: err.Error()})
			continue
		}
		if len(items) > limit {
			items = items[:limit]
		}
		if len(items) > 0 {
			obs.Items[c] = items
		}
	}
	obs.Summary = summarize(st.Scope, obs)
	return workflow.Update{Step: workflow.StepReason, Observation: obs}, nil
}

func (o *Observe) fetch(ctx context.Context, req FetchRequest) ([]workflow.ObservedItem, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.world.Fetch(ctx, req)
}

// summaryItems caps how many items per category reach the summary text.
const summaryItems = 3

func summarize(sc workflow.Scope, obs *workflow.Observation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s trigger %q", sc.Trigger.Kind, sc.Trigger.Name)
	if sc.Subject != nil {
		fmt.Fprintf(&sb, " about %s %s", sc.Subject.Type, sc.Subject.ID)
	}
	sb.WriteString(".")
	for _, c := range workflow.Categories {
		items := obs.Items[c]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n%s (%d):", c, len(items))
		for i, it := range items {
			if i == summaryItems {
				sb.WriteString(" ...")
				break
			}
			if it.Author != "" {
				fmt.Fprintf(&sb, " [%s] %s;", it.Author, it.Text)
			} else {
				fmt.Fprintf(&sb, " %s;", it.Text)
			}
		}
	}
	if len(obs.Partial) > 0 {
		fmt.Fprintf(&sb, "\nunavailable: %v", obs.Partial)
	}
	return sb.String()
}
