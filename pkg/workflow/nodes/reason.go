package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/adapters/llm"
	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/memory"
	"github.com/wilhg/agentsim/pkg/prompt"
	"github.com/wilhg/agentsim/pkg/prompt/assembler"
	"github.com/wilhg/agentsim/pkg/tools"
	"github.com/wilhg/agentsim/pkg/workflow"
)

// ContextProvider supplies conversation history and memories for reasoning.
type ContextProvider interface {
	GetConversationContext(ctx context.Context, agentID, query string, limit int, sc memory.Scope) (memory.ConversationContext, error)
}

// UnparsedConfidence is assigned when the model reply is not the expected JSON.
const UnparsedConfidence = 0.3

// Reason asks the model for a decision given the observation and memory
// context. When tool calling is enabled it runs the requested tools and
// asks once more with their results.
type Reason struct {
	model       llm.LLM
	memory      ContextProvider
	tools       *tools.Executor
	prompts     *prompt.Store
	asm         *assembler.Assembler
	memoryLimit int
}

type ReasonOption func(*Reason)

// WithTools makes tools available to the model.
func WithTools(ex *tools.Executor) ReasonOption { return func(r *Reason) { r.tools = ex } }

// WithPrompts replaces the default prompt store.
func WithPrompts(s *prompt.Store) ReasonOption { return func(r *Reason) { r.prompts = s } }

// WithAssembler sets the context budget.
func WithAssembler(a *assembler.Assembler) ReasonOption { return func(r *Reason) { r.asm = a } }

// WithMemoryLimit sets how many memories are requested per step.
func WithMemoryLimit(n int) ReasonOption { return func(r *Reason) { r.memoryLimit = n } }

func NewReason(model llm.LLM, mem ContextProvider, opts ...ReasonOption) *Reason {
	r := &Reason{model: model, memory: mem, prompts: prompt.NewDefaultStore(), asm: assembler.New(), memoryLimit: 5}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// reply is the JSON object the system prompt asks for.
type reply struct {
	Thinking     string       `json:"thinking"`
	Decision     string       `json:"decision"`
	Confidence   *float64     `json:"confidence"`
	Action       *replyAction `json:"action"`
	Alternatives []string     `json:"alternatives"`
	Factors      []string     `json:"factors"`
	Explanation  string       `json:"explanation"`
	ToolCalls    []tools.Call `json:"toolCalls"`
}

type replyAction struct {
	Type         string         `json:"type"`
	Target       string         `json:"target"`
	Content      string         `json:"content"`
	GoalAchieved *bool          `json:"goalAchieved"`
	Args         map[string]any `json:"args"`
}

func (r *Reason) Execute(ctx context.Context, st workflow.State) (workflow.Update, error) {
	if r.model == nil {
		return workflow.Update{}, fmt.Errorf("reason: no model")
	}
	if st.Observation == nil {
		return workflow.Update{}, fmt.Errorf("reason: no observation")
	}
	cc, err := r.context(ctx, st)
	if err != nil {
		return workflow.Update{}, err
	}
	toolsOn := st.Config.EnableToolCalling && r.tools != nil && st.Config.MaxToolCallsPerReasoning > 0
	msgs, err := r.messages(st, cc, toolsOn)
	if err != nil {
		return workflow.Update{}, err
	}

	first, raw, err := r.ask(ctx, msgs)
	if err != nil {
		return workflow.Update{}, err
	}
	rsn := toReasoning(st.Observation.Summary, first, raw)

	if toolsOn && len(first.ToolCalls) > 0 {
		ex := r.tools.Bounded(st.Config.ToolExecutionTimeout)
		calls := first.ToolCalls
		if len(calls) > st.Config.MaxToolCallsPerReasoning {
			calls = calls[:st.Config.MaxToolCallsPerReasoning]
		}
		results := ex.ExecuteAll(ctx, calls, st.Config.MaxToolCallsPerReasoning)
		msgs = append(msgs,
			llm.Message{Role: llm.RoleAssistant, Content: raw},
			llm.Message{Role: llm.RoleUser, Content: "Tool results:\n" + toolResultsText(results) + "\nNow decide. Do not request more tools."},
		)
		second, raw2, err := r.ask(ctx, msgs)
		if err != nil {
			return workflow.Update{}, err
		}
		rsn = toReasoning(st.Observation.Summary, second, raw2)
		rsn.ToolCalls = calls[:len(results)]
		rsn.ToolResults = results
	}
	log.Debug(ctx, log.KV{K: "msg", V: "reasoned"}, log.KV{K: "decision", V: rsn.Decision},
		log.KV{K: "confidence", V: rsn.Confidence}, log.KV{K: "tool_calls", V: len(rsn.ToolCalls)})
	return workflow.Update{Step: workflow.StepAct, Reasoning: rsn}, nil
}

// toolResultsText encodes results as a JSON array for the model. A result
// whose data cannot be encoded is replaced by an error entry.
func toolResultsText(results []tools.Result) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		b, err := json.Marshal(res)
		if err != nil {
			// without Data the entry always encodes
			b, _ = json.Marshal(tools.Result{Name: res.Name, Error: "result not encodable: " + err.Error(),
				ExecutionTime: res.ExecutionTime, TimedOut: res.TimedOut})
		}
		parts = append(parts, string(b))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (r *Reason) context(ctx context.Context, st workflow.State) (memory.ConversationContext, error) {
	if r.memory == nil {
		return memory.ConversationContext{AgentID: st.Scope.Actor.ID}, nil
	}
	sc := memory.Scope{ConversationID: st.Scope.ConversationID, HumanProfileID: st.Scope.HumanProfileID}
	cc, err := r.memory.GetConversationContext(ctx, st.Scope.Actor.ID, st.Observation.Summary, r.memoryLimit, sc)
	if err != nil {
		return cc, fmt.Errorf("reason: memory context: %w", err)
	}
	return cc, nil
}

var sectionTitles = map[string]string{
	"observation": "What you see",
	"message":     "Conversation so far",
	"memory":      "What you remember",
	"goal":        "Your goals",
}

func (r *Reason) messages(st workflow.State, cc memory.ConversationContext, toolsOn bool) ([]llm.Message, error) {
	actor := st.Scope.Actor
	var descs []tools.Descriptor
	if toolsOn {
		descs = r.tools.Descriptors()
	}
	sys, err := r.prompts.Render(map[string]any{
		"ActorName": firstNonEmpty(actor.Profile.Name, actor.ID),
		"ActorType": firstNonEmpty(actor.Type, "actor"),
		"Vitals":    st.Vitals,
		"Tools":     descs,
	}, prompt.ReasonSystem+"."+actor.Type, prompt.ReasonSystem)
	if err != nil {
		return nil, errmodel.System("prompt_render", "render system prompt", nil, err)
	}

	items := []assembler.Item{{Kind: "observation", ID: "summary", Text: st.Observation.Summary, Priority: 3}}
	for i, g := range actor.Profile.Goals {
		items = append(items, assembler.Item{Kind: "goal", ID: fmt.Sprint(i), Text: g, Priority: 2})
	}
	for i, m := range cc.Messages {
		items = append(items, assembler.Item{Kind: "message", ID: fmt.Sprintf("%03d", i), Text: m.Role + ": " + m.Content, Priority: 1})
	}
	for _, m := range cc.Memories {
		items = append(items, assembler.Item{Kind: "memory", ID: m.ID, Text: m.Content})
	}
	picked, _ := r.asm.Assemble(items, []assembler.Pinned{{Kind: "observation", ID: "summary"}})
	user, err := r.prompts.Render(map[string]any{
		"Trigger": fmt.Sprintf("%s %s", st.Scope.Trigger.Kind, st.Scope.Trigger.Name),
		"Context": assembler.Render(picked, sectionTitles),
	}, prompt.ReasonUser)
	if err != nil {
		return nil, errmodel.System("prompt_render", "render user prompt", nil, err)
	}
	return []llm.Message{{Role: llm.RoleSystem, Content: sys}, {Role: llm.RoleUser, Content: user}}, nil
}

func (r *Reason) ask(ctx context.Context, msgs []llm.Message) (reply, string, error) {
	res, err := r.model.Generate(ctx, msgs, nil)
	if err != nil {
		return reply{}, "", errmodel.Model("generate_failed", "model call failed", map[string]any{"provider": r.model.Name()}, err)
	}
	var rep reply
	if body := extractJSON(res.Text); body != "" {
		if err := json.Unmarshal([]byte(body), &rep); err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "unparsed model reply"}, log.KV{K: "err", V: err.Error()})
			rep = reply{}
		}
	}
	return rep, res.Text, nil
}

// toReasoning maps a parsed reply. An empty reply keeps the raw text as the
// decision with low confidence.
func toReasoning(observation string, rep reply, raw string) *workflow.Reasoning {
	rsn := &workflow.Reasoning{
		Observation:        observation,
		ThinkingProcess:    rep.Thinking,
		Decision:           rep.Decision,
		AlternativeOptions: rep.Alternatives,
		Factors:            rep.Factors,
		Explanation:        rep.Explanation,
		ToolCalls:          rep.ToolCalls,
		Confidence:         UnparsedConfidence,
	}
	if rep.Confidence != nil {
		rsn.Confidence = min(max(*rep.Confidence, 0), 1)
	}
	if rsn.Decision == "" && rep.Action == nil {
		rsn.Decision = strings.TrimSpace(raw)
		rsn.Confidence = UnparsedConfidence
	}
	if a := rep.Action; a != nil && a.Type != "" {
		rsn.Proposed = &workflow.Action{Type: a.Type, Target: a.Target, Content: a.Content, GoalAchieved: a.GoalAchieved}
		if len(a.Args) > 0 {
			rsn.Proposed.Metadata = map[string]any{"args": a.Args}
		}
		if rsn.Decision == "" {
			rsn.Decision = a.Type
		}
	}
	return rsn
}

// extractJSON returns the outermost {...} span of s, tolerating code fences
// and prose around it.
func extractJSON(s string) string {
	i := strings.Index(s, "{")
	j := strings.LastIndex(s, "}")
	if i < 0 || j <= i {
		return ""
	}
	return s[i : j+1]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
