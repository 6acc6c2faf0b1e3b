package nodes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/memory"
	"github.com/wilhg/agentsim/pkg/tools"
	"github.com/wilhg/agentsim/pkg/workflow"
)

// Outcome is what the game world reports for a committed action.
type Outcome struct {
	ActionID        string
	HeatCost        int
	CoherenceImpact float64
}

// ActionExecutor commits actions to the game world.
type ActionExecutor interface {
	Execute(ctx context.Context, actor workflow.Actor, a workflow.Action) (Outcome, error)
}

// Recorder logs the exchange after an action is committed.
type Recorder interface {
	StoreMessage(ctx context.Context, agentID string, msg memory.Message, sc memory.Scope) error
}

// Act turns the decision into an action and commits it. Failures become a
// failed Result; only a cancelled context fails the step.
type Act struct {
	world    ActionExecutor
	tools    *tools.Executor
	recorder Recorder
	now      func() time.Time
}

type ActOption func(*Act)

// WithActionTools lets "tool" actions run through ex.
func WithActionTools(ex *tools.Executor) ActOption { return func(a *Act) { a.tools = ex } }

// WithRecorder logs committed speech actions to memory.
func WithRecorder(r Recorder) ActOption { return func(a *Act) { a.recorder = r } }

func WithActClock(now func() time.Time) ActOption { return func(a *Act) { a.now = now } }

func NewAct(world ActionExecutor, opts ...ActOption) *Act {
	a := &Act{world: world, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Act) Execute(ctx context.Context, st workflow.State) (workflow.Update, error) {
	if st.Reasoning == nil {
		return workflow.Update{}, fmt.Errorf("act: no reasoning")
	}
	action := chooseAction(st)
	start := a.now()
	var res workflow.Result
	if action.Type == workflow.ActionTool {
		res = a.runTool(ctx, st, action)
	} else {
		res = a.commit(ctx, st.Scope.Actor, action)
	}
	if err := ctx.Err(); err != nil {
		return workflow.Update{}, err
	}
	res.ExecutionTime = a.now().Sub(start)

	up := workflow.Update{Step: workflow.StepLoopCheck, Action: &action, Result: &res}
	if res.Success {
		up.ExecutedActions = []string{res.ActionID}
		a.record(ctx, st, action)
	} else {
		log.Warn(ctx, log.KV{K: "msg", V: "action failed"}, log.KV{K: "type", V: action.Type},
			log.KV{K: "err", V: res.Error}, log.KV{K: "retryable", V: res.Retryable})
	}
	return up, nil
}

// chooseAction uses the model's proposal, or speaks the decision when the
// model did not name an action.
func chooseAction(st workflow.State) workflow.Action {
	rsn := st.Reasoning
	var action workflow.Action
	switch {
	case rsn.Proposed != nil:
		action = *rsn.Proposed
	case st.Scope.HumanProfileID != "" || st.Scope.ConversationID != "":
		action = workflow.Action{Type: workflow.ActionReply, Target: firstNonEmpty(st.Scope.HumanProfileID, st.Scope.ConversationID), Content: rsn.Decision}
	case rsn.Decision == "":
		action = workflow.Action{Type: workflow.ActionIdle}
	default:
		action = workflow.Action{Type: workflow.ActionPost, Content: rsn.Decision}
	}
	md := make(map[string]any, len(action.Metadata)+3)
	for k, v := range action.Metadata {
		md[k] = v
	}
	md["decision"] = rsn.Decision
	md["confidence"] = rsn.Confidence
	md["iteration"] = st.Loop.Iteration
	action.Metadata = md
	return action
}

func (a *Act) commit(ctx context.Context, actor workflow.Actor, action workflow.Action) workflow.Result {
	if a.world == nil {
		return workflow.Result{Error: "no action executor"}
	}
	out, err := a.world.Execute(ctx, actor, action)
	if err != nil {
		return workflow.Result{Error: err.Error(), Retryable: errmodel.Retryable(err)}
	}
	if out.ActionID == "" {
		out.ActionID = uuid.NewString()
	}
	return workflow.Result{Success: true, ActionID: out.ActionID, HeatCost: out.HeatCost, CoherenceImpact: out.CoherenceImpact}
}

func (a *Act) runTool(ctx context.Context, st workflow.State, action workflow.Action) workflow.Result {
	if !st.Config.EnableToolCalling || a.tools == nil {
		return workflow.Result{Error: "tool calling is disabled"}
	}
	args, _ := action.Metadata["args"].(map[string]any)
	tr := a.tools.Bounded(st.Config.ToolExecutionTimeout).Execute(ctx, tools.Call{Name: action.Target, Args: args})
	if !tr.Success {
		return workflow.Result{Error: tr.Error, Retryable: tr.Retryable}
	}
	return workflow.Result{Success: true, ActionID: uuid.NewString()}
}

// record stores what the actor said so later reasoning sees it. Failures
// are logged; the action has already happened.
func (a *Act) record(ctx context.Context, st workflow.State, action workflow.Action) {
	if a.recorder == nil || action.Content == "" {
		return
	}
	switch action.Type {
	case workflow.ActionPost, workflow.ActionMessage, workflow.ActionReply:
	default:
		return
	}
	msg := memory.Message{
		Role:      memory.RoleAssistant,
		Content:   action.Content,
		SenderID:  st.Scope.Actor.ID,
		CreatedAt: a.now(),
		Metadata:  map[string]any{"actionType": action.Type, "target": action.Target},
	}
	sc := memory.Scope{ConversationID: st.Scope.ConversationID, HumanProfileID: st.Scope.HumanProfileID}
	if err := a.recorder.StoreMessage(ctx, st.Scope.Actor.ID, msg, sc); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "record exchange failed"})
	}
}

// heatByType is the default heat charged per committed action.
var heatByType = map[string]int{
	workflow.ActionPost:    2,
	workflow.ActionMessage: 1,
	workflow.ActionReply:   1,
	workflow.ActionFollow:  1,
}

// Committed is an action accepted by a RecordingExecutor.
type Committed struct {
	ID     string          `json:"id"`
	Actor  string          `json:"actor"`
	Action workflow.Action `json:"action"`
	At     time.Time       `json:"at"`
}

// RecordingExecutor accepts every known action type and keeps them in
// memory. It stands in for the game world in tests and local runs.
type RecordingExecutor struct {
	mu      sync.Mutex
	actions []Committed
}

func (r *RecordingExecutor) Execute(ctx context.Context, actor workflow.Actor, a workflow.Action) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	switch a.Type {
	case workflow.ActionPost, workflow.ActionMessage, workflow.ActionReply:
		if a.Content == "" {
			return Outcome{}, errmodel.Validation("empty_content", "action has no content", map[string]any{"type": a.Type})
		}
	case workflow.ActionFollow:
		if a.Target == "" {
			return Outcome{}, errmodel.Validation("no_target", "follow needs a target", nil)
		}
	case workflow.ActionIdle:
	default:
		return Outcome{}, errmodel.Validation("unknown_action", "unknown action type", map[string]any{"type": a.Type})
	}
	c := Committed{ID: uuid.NewString(), Actor: actor.ID, Action: a, At: time.Now().UTC()}
	r.mu.Lock()
	r.actions = append(r.actions, c)
	r.mu.Unlock()
	return Outcome{ActionID: c.ID, HeatCost: heatByType[a.Type]}, nil
}

// Actions returns a copy of the committed actions.
func (r *RecordingExecutor) Actions() []Committed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Committed(nil), r.actions...)
}
