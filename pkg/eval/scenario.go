// Package eval runs workflow scenarios and prompt fixtures offline, with a
// scripted model and a static world, and scores them against expectations.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	fakellm "github.com/wilhg/agentsim/pkg/adapters/llm/fake"
	"github.com/wilhg/agentsim/pkg/config"
	"github.com/wilhg/agentsim/pkg/memory"
	"github.com/wilhg/agentsim/pkg/prompt"
	"github.com/wilhg/agentsim/pkg/workflow"
	"github.com/wilhg/agentsim/pkg/workflow/nodes"
)

// Scenario is one offline workflow case.
type Scenario struct {
	Name    string            `json:"name"`
	Scope   workflow.Scope    `json:"scope"`
	World   nodes.StaticWorld `json:"world,omitempty"`
	Replies []string          `json:"replies"`
	Config  config.Workflow   `json:"config,omitempty"`
	Expect  Outcome           `json:"expect"`
}

// Outcome lists what a run must show. Zero fields are not checked.
type Outcome struct {
	Success     *bool    `json:"success,omitempty"`
	Iterations  int      `json:"iterations,omitempty"`
	StopReason  string   `json:"stop_reason,omitempty"`
	ActionTypes []string `json:"action_types,omitempty"`
	// Contains and NotContains match the concatenated content of the
	// committed actions.
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
}

// Report is the score of a batch of cases.
type Report struct {
	Score   float64
	Total   int
	Passed  int
	Details []string
}

func (r *Report) add(name string, failures []string) {
	r.Total++
	if len(failures) == 0 {
		r.Passed++
		return
	}
	for _, f := range failures {
		r.Details = append(r.Details, name+": "+f)
	}
}

func (r *Report) finish() {
	if r.Total == 0 {
		r.Score = 1
		return
	}
	r.Score = float64(r.Passed) / float64(r.Total)
}

// noContext answers reasoning with an empty conversation.
type noContext struct{}

func (noContext) GetConversationContext(_ context.Context, agentID, _ string, _ int, _ memory.Scope) (memory.ConversationContext, error) {
	return memory.ConversationContext{AgentID: agentID}, nil
}

// RunScenario executes s once and returns the expectation failures.
func RunScenario(ctx context.Context, s Scenario, prompts *prompt.Store) ([]string, error) {
	world := &nodes.RecordingExecutor{}
	sources := nodes.Sources{}
	for _, c := range workflow.Categories {
		sources[c] = s.World
	}
	reasonOpts := []nodes.ReasonOption{}
	if prompts != nil {
		reasonOpts = append(reasonOpts, nodes.WithPrompts(prompts))
	}
	ns := nodes.Assemble(
		nodes.NewObserve(sources),
		nodes.NewReason(fakellm.New(s.Replies...), noContext{}, reasonOpts...),
		nodes.NewAct(world),
	)
	cfg := s.Config.Apply(workflow.DefaultConfig())
	res, err := workflow.ExecuteWorkflow(ctx, s.Scope, ns, &cfg)
	if err != nil {
		return nil, err
	}

	var failures []string
	exp := s.Expect
	if exp.Success != nil && res.Success != *exp.Success {
		failures = append(failures, fmt.Sprintf("success=%v, want %v (errors %v)", res.Success, *exp.Success, res.Errors))
	}
	if exp.Iterations > 0 && res.Iterations != exp.Iterations {
		failures = append(failures, fmt.Sprintf("iterations=%d, want %d", res.Iterations, exp.Iterations))
	}
	if exp.StopReason != "" && res.State.Loop.StopReason != exp.StopReason {
		failures = append(failures, fmt.Sprintf("stop reason %q, want %q", res.State.Loop.StopReason, exp.StopReason))
	}
	committed := world.Actions()
	if exp.ActionTypes != nil {
		got := make([]string, len(committed))
		for i, c := range committed {
			got[i] = c.Action.Type
		}
		if strings.Join(got, ",") != strings.Join(exp.ActionTypes, ",") {
			failures = append(failures, fmt.Sprintf("actions %v, want %v", got, exp.ActionTypes))
		}
	}
	var content strings.Builder
	for _, c := range committed {
		content.WriteString(c.Action.Content)
		content.WriteByte('\n')
	}
	failures = append(failures, matchText(content.String(), exp.Contains, exp.NotContains)...)
	return failures, nil
}

// EvaluateScenarios runs every *.json scenario in dir. A scenario whose run
// returns an error counts as failed.
func EvaluateScenarios(ctx context.Context, fsys fs.FS, dir string, prompts *prompt.Store) (Report, error) {
	var rep Report
	err := eachFixture(fsys, dir, func(file string, b []byte) error {
		var s Scenario
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if s.Name == "" {
			s.Name = file
		}
		failures, err := RunScenario(ctx, s, prompts)
		if err != nil {
			failures = []string{"run error: " + err.Error()}
		}
		rep.add(s.Name, failures)
		return nil
	})
	rep.finish()
	return rep, err
}

// PromptFixture renders one stored prompt with Vars.
type PromptFixture struct {
	Name   string         `json:"name"`
	Prompt string         `json:"prompt"`
	Vars   map[string]any `json:"vars"`
	Expect struct {
		Contains    []string `json:"contains,omitempty"`
		NotContains []string `json:"not_contains,omitempty"`
	} `json:"expect"`
}

// EvaluatePrompts renders every *.json prompt fixture in dir against store.
func EvaluatePrompts(store *prompt.Store, fsys fs.FS, dir string) (Report, error) {
	var rep Report
	err := eachFixture(fsys, dir, func(file string, b []byte) error {
		var fx PromptFixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		if fx.Name == "" {
			fx.Name = file
		}
		out, err := store.Render(fx.Vars, fx.Prompt)
		if err != nil {
			rep.add(fx.Name, []string{"render error: " + err.Error()})
			return nil
		}
		rep.add(fx.Name, matchText(out, fx.Expect.Contains, fx.Expect.NotContains))
		return nil
	})
	rep.finish()
	return rep, err
}

func matchText(s string, contains, notContains []string) []string {
	var failures []string
	for _, want := range contains {
		if !strings.Contains(s, want) {
			failures = append(failures, "missing contains: "+want)
		}
	}
	for _, bad := range notContains {
		if strings.Contains(s, bad) {
			failures = append(failures, "unexpected contains: "+bad)
		}
	}
	return failures
}

// eachFixture calls fn for every *.json file in dir, in name order.
func eachFixture(fsys fs.FS, dir string, fn func(file string, b []byte) error) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if err := fn(e.Name(), b); err != nil {
			return err
		}
	}
	return nil
}
