// Package workflow drives an actor through bounded Observe, Reason, Act and
// Loop-check cycles.
package workflow

import (
	"time"

	"github.com/wilhg/agentsim/pkg/tools"
)

// TriggerKind says whether a run was caused by an event or a schedule.
type TriggerKind string

const (
	TriggerEvent    TriggerKind = "event"
	TriggerSchedule TriggerKind = "schedule"
)

// Trigger describes what started a run. Name is the event or schedule kind.
type Trigger struct {
	Kind       TriggerKind `json:"type"`
	Name       string      `json:"name"`
	Timestamp  time.Time   `json:"timestamp"`
	IsResponse bool        `json:"isResponse,omitempty"`
}

// Profile is the actor state the run starts from.
type Profile struct {
	Name           string         `json:"name,omitempty"`
	IdentityVector []float64      `json:"identityVector,omitempty"`
	Morale         float64        `json:"morale"`
	Coherence      float64        `json:"coherence"`
	Heat           int            `json:"heat"`
	Rage           float64        `json:"rage"`
	Community      string         `json:"community,omitempty"`
	Goals          []string       `json:"goals,omitempty"`
	Attributes     map[string]any `json:"attributes,omitempty"`
}

type Actor struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Profile Profile `json:"profile"`
}

type Subject struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// DataCategory names a kind of world data an actor may observe.
type DataCategory string

const (
	CategoryPosts         DataCategory = "posts"
	CategoryMessages      DataCategory = "messages"
	CategoryMemories      DataCategory = "memories"
	CategoryRelationships DataCategory = "relationships"
	CategoryCommunities   DataCategory = "communities"
	CategoryBattleData    DataCategory = "battle_data"
)

// Categories lists every DataCategory in observation order.
var Categories = []DataCategory{
	CategoryPosts, CategoryMessages, CategoryMemories,
	CategoryRelationships, CategoryCommunities, CategoryBattleData,
}

type CategoryScope struct {
	Enabled bool `json:"enabled"`
	Limit   int  `json:"limit"`
}

// DataScope says which categories are visible and how many items of each.
// Missing categories are not visible.
type DataScope map[DataCategory]CategoryScope

// DefaultDataScope enables every category with modest limits.
func DefaultDataScope() DataScope {
	return DataScope{
		CategoryPosts:         {Enabled: true, Limit: 10},
		CategoryMessages:      {Enabled: true, Limit: 10},
		CategoryMemories:      {Enabled: true, Limit: 5},
		CategoryRelationships: {Enabled: true, Limit: 10},
		CategoryCommunities:   {Enabled: true, Limit: 3},
		CategoryBattleData:    {Enabled: false},
	}
}

// Limit returns the item limit for c, or 0 when c is not visible.
func (d DataScope) Limit(c DataCategory) int {
	cs, ok := d[c]
	if !ok || !cs.Enabled || cs.Limit <= 0 {
		return 0
	}
	return cs.Limit
}

// SocialGraphScope bounds how far observation walks the social graph.
type SocialGraphScope struct {
	Depth            int  `json:"depth"`
	MaxNodes         int  `json:"maxNodes"`
	IncludeFollowers bool `json:"includeFollowers"`
	IncludeFollowing bool `json:"includeFollowing"`
}

// Scope is the immutable input of one run.
type Scope struct {
	Trigger        Trigger           `json:"trigger"`
	Actor          Actor             `json:"actor"`
	Subject        *Subject          `json:"subject,omitempty"`
	DataScope      DataScope         `json:"dataScope,omitempty"`
	SocialGraph    *SocialGraphScope `json:"socialGraph,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	HumanProfileID string            `json:"humanProfileId,omitempty"`
}

// Vitals is the actor snapshot nodes read without re-fetching.
type Vitals struct {
	IdentityVector []float64 `json:"identityVector,omitempty"`
	Morale         float64   `json:"morale"`
	Coherence      float64   `json:"coherence"`
	Heat           int       `json:"heat"`
	Rage           float64   `json:"rage"`
	Community      string    `json:"community,omitempty"`
}

func vitalsFrom(p Profile) Vitals {
	return Vitals{
		IdentityVector: append([]float64(nil), p.IdentityVector...),
		Morale:         p.Morale,
		Coherence:      p.Coherence,
		Heat:           p.Heat,
		Rage:           p.Rage,
		Community:      p.Community,
	}
}

// ObservedItem is one piece of world data.
type ObservedItem struct {
	ID        string         `json:"id"`
	Author    string         `json:"author,omitempty"`
	Text      string         `json:"text"`
	CreatedAt time.Time      `json:"createdAt,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type Observation struct {
	Summary    string                          `json:"summary"`
	Items      map[DataCategory][]ObservedItem `json:"items,omitempty"`
	ObservedAt time.Time                       `json:"observedAt"`
	// Partial lists categories whose fetch failed or timed out.
	Partial []DataCategory `json:"partial,omitempty"`
}

// Count returns the number of observed items across categories.
func (o *Observation) Count() int {
	if o == nil {
		return 0
	}
	n := 0
	for _, items := range o.Items {
		n += len(items)
	}
	return n
}

type Reasoning struct {
	Observation        string         `json:"observation"`
	ThinkingProcess    string         `json:"thinkingProcess"`
	ToolCalls          []tools.Call   `json:"toolCalls,omitempty"`
	ToolResults        []tools.Result `json:"toolResults,omitempty"`
	Decision           string         `json:"decision"`
	Confidence         float64        `json:"confidence"`
	AlternativeOptions []string       `json:"alternativeOptions,omitempty"`
	Factors            []string       `json:"factors,omitempty"`
	Explanation        string         `json:"explanation,omitempty"`
	// Proposed is the action the model suggested, if it named one.
	Proposed *Action `json:"proposed,omitempty"`
}

// ActionType values understood by the default action executor.
const (
	ActionPost    = "post"
	ActionMessage = "message"
	ActionReply   = "reply"
	ActionFollow  = "follow"
	ActionTool    = "tool"
	ActionIdle    = "idle"
)

type Action struct {
	Type         string         `json:"type"`
	Target       string         `json:"target,omitempty"`
	Content      string         `json:"content,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	GoalAchieved *bool          `json:"goalAchieved,omitempty"`
}

// SameAs reports whether two actions would have the same effect.
func (a *Action) SameAs(b *Action) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Type == b.Type && a.Target == b.Target && a.Content == b.Content
}

type Result struct {
	Success         bool          `json:"success"`
	ActionID        string        `json:"actionId,omitempty"`
	Error           string        `json:"error,omitempty"`
	HeatCost        int           `json:"heatCost"`
	CoherenceImpact float64       `json:"coherenceImpact"`
	ExecutionTime   time.Duration `json:"executionTime"`
	// Retryable marks a failure another iteration may fix.
	Retryable bool `json:"retryable,omitempty"`
}

// LoopHistory snapshots one completed iteration.
type LoopHistory struct {
	Iteration   int          `json:"iteration"`
	Observation *Observation `json:"observation,omitempty"`
	Reasoning   *Reasoning   `json:"reasoning,omitempty"`
	Action      *Action      `json:"action,omitempty"`
	Result      *Result      `json:"result,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// ContinueReason explains why another iteration was started.
type ContinueReason string

const (
	ContinueGoalNotMet      ContinueReason = "goal_not_met"
	ContinueNewInfo         ContinueReason = "new_info"
	ContinueToolFailure     ContinueReason = "tool_failure"
	ContinueLowConfidence   ContinueReason = "low_confidence"
	ContinueUserPersistence ContinueReason = "user_persistence"
)

// Stop reasons recorded when the loop ends.
const (
	StopLoopingDisabled = "looping_disabled"
	StopMaxIterations   = "max_iterations"
	StopNoResult        = "no_result"
	StopGoalAchieved    = "goal_achieved"
	StopActionCompleted = "action_completed"
	StopFailed          = "failed"
	StopNoProgress      = "no_progress"
)

type LoopState struct {
	Iteration            int            `json:"iteration"`
	MaxIterations        int            `json:"maxIterations"`
	History              []LoopHistory  `json:"history,omitempty"`
	ShouldContinue       bool           `json:"shouldContinue"`
	ContinueReason       ContinueReason `json:"continueReason,omitempty"`
	StopReason           string         `json:"stopReason,omitempty"`
	HeatCostPerIteration int            `json:"heatCostPerIteration"`
}

// StepError records a node failure.
type StepError struct {
	Step      Step      `json:"step"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// State is threaded through a run. Result slots are filled once their node
// runs and are never cleared; ExecutedActions and Errors only grow.
type State struct {
	Scope           Scope          `json:"scope"`
	Config          Config         `json:"config"`
	Vitals          Vitals         `json:"vitals"`
	Step            Step           `json:"step"`
	Observation     *Observation   `json:"observation,omitempty"`
	Reasoning       *Reasoning     `json:"reasoning,omitempty"`
	Action          *Action        `json:"action,omitempty"`
	Result          *Result        `json:"result,omitempty"`
	Loop            LoopState      `json:"loop"`
	StartTime       time.Time      `json:"startTime"`
	ExecutedActions []string       `json:"executedActions,omitempty"`
	Errors          []StepError    `json:"errors,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// Update is the partial state a node returns. Nil fields leave the state
// untouched; ExecutedActions are appended and Metadata keys merged.
type Update struct {
	Step            Step
	Observation     *Observation
	Reasoning       *Reasoning
	Action          *Action
	Result          *Result
	Loop            *LoopState
	ExecutedActions []string
	Metadata        map[string]any
}

func (s *State) apply(u Update) {
	s.Step = u.Step
	if u.Observation != nil {
		s.Observation = u.Observation
	}
	if u.Reasoning != nil {
		s.Reasoning = u.Reasoning
	}
	if u.Action != nil {
		s.Action = u.Action
	}
	if u.Result != nil {
		s.Result = u.Result
	}
	if u.Loop != nil {
		s.Loop = *u.Loop
	}
	s.ExecutedActions = append(s.ExecutedActions, u.ExecutedActions...)
	if len(u.Metadata) > 0 {
		if s.Metadata == nil {
			s.Metadata = map[string]any{}
		}
		for k, v := range u.Metadata {
			s.Metadata[k] = v
		}
	}
}

// ExecutionResult is returned by Orchestrator.Execute. Success is true iff
// no step recorded an error.
type ExecutionResult struct {
	Success         bool          `json:"success"`
	State           State         `json:"state"`
	Duration        time.Duration `json:"duration"`
	ExecutedActions []string      `json:"executedActions"`
	Errors          []string      `json:"errors"`
	Iterations      int           `json:"iterations"`
	// HeatCost is the per-action heat plus the per-iteration charge for every
	// iteration after the first. It is reported, not debited.
	HeatCost int `json:"heatCost"`
}
