package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/adapters/llm"
	"github.com/wilhg/agentsim/pkg/config"
	"github.com/wilhg/agentsim/pkg/errmodel"
	"github.com/wilhg/agentsim/pkg/memory"
	"github.com/wilhg/agentsim/pkg/memory/vector"
	"github.com/wilhg/agentsim/pkg/prompt"
	"github.com/wilhg/agentsim/pkg/tools"
	"github.com/wilhg/agentsim/pkg/workflow"
	"github.com/wilhg/agentsim/pkg/workflow/nodes"
)

// service holds the long-lived dependencies shared by every request. Each
// workflow request gets its own orchestrator and nodes.
type service struct {
	workflow     config.Workflow
	contextLimit int
	vectors      *vector.Store
	memory       *memory.Manager
	model        llm.LLM
	registry     *tools.Registry
	executor     *tools.Executor
	permissions  []string
	prompts      *prompt.Store
	tracer       workflow.Tracer
	metrics      workflow.Metrics
	serveMCP     bool
}

func buildMux(ctx context.Context, s *service) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /api/workflows/execute", s.executeWorkflow)

	mux.HandleFunc("POST /api/memory/messages", s.storeMessage)
	mux.HandleFunc("GET /api/memory/context", s.conversationContext)
	mux.HandleFunc("POST /api/memory/cleanup", s.cleanup)
	mux.HandleFunc("POST /api/memory/optimize", s.optimize)
	mux.HandleFunc("GET /api/memory/summary", s.summary)

	mux.HandleFunc("GET /api/prompts/{name}", s.getPrompt)
	mux.HandleFunc("PUT /api/prompts/{name}", s.putPrompt)
	mux.HandleFunc("GET /api/prompts/{name}/diff", s.diffPrompt)

	mux.HandleFunc("GET /api/tools", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"tools": s.executor.Descriptors()})
	})

	if s.serveMCP {
		allowed := map[string]bool{}
		for _, p := range s.permissions {
			allowed[p] = true
		}
		srv := tools.NewMCPServer(s.registry, allowed)
		mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil))
	}

	return log.HTTP(ctx)(otelhttp.NewHandler(mux, "agentsim"))
}

type executeRequest struct {
	Scope workflow.Scope `json:"scope"`
	// World is the snapshot observed for every category except memories,
	// which come from the actor's own store.
	World  nodes.StaticWorld `json:"world,omitempty"`
	Config *config.Workflow  `json:"config,omitempty"`
}

type executeResponse struct {
	workflow.ExecutionResult
	Actions []nodes.Committed `json:"actions"`
}

func (s *service) executeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !decode(w, r, &req) {
		return
	}
	cfg := s.workflow.Apply(workflow.DefaultConfig())
	if req.Config != nil {
		cfg = req.Config.Apply(cfg)
	}

	sources := nodes.Sources{workflow.CategoryMemories: nodes.MemorySource{Memories: s.vectors}}
	if req.World != nil {
		for _, c := range workflow.Categories {
			if c != workflow.CategoryMemories {
				sources[c] = req.World
			}
		}
	}
	reasonOpts := []nodes.ReasonOption{nodes.WithTools(s.executor), nodes.WithPrompts(s.prompts)}
	if s.contextLimit > 0 {
		reasonOpts = append(reasonOpts, nodes.WithMemoryLimit(s.contextLimit))
	}
	world := &nodes.RecordingExecutor{}
	ns := nodes.Assemble(
		nodes.NewObserve(sources),
		nodes.NewReason(s.model, s.memory, reasonOpts...),
		nodes.NewAct(world, nodes.WithActionTools(s.executor), nodes.WithRecorder(s.memory)),
	)
	o, err := workflow.New(cfg, ns, workflow.WithTracer(s.tracer), workflow.WithMetrics(s.metrics))
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	res, err := o.Execute(r.Context(), req.Scope)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{ExecutionResult: res, Actions: world.Actions()})
}

type messageRequest struct {
	AgentID string         `json:"agentId"`
	Scope   memory.Scope   `json:"scope"`
	Message memory.Message `json:"message"`
}

func (s *service) storeMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decode(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		errmodel.WriteHTTP(w, r, errmodel.Validation("missing_agent", "agentId is required", nil))
		return
	}
	if err := s.memory.StoreMessage(r.Context(), req.AgentID, req.Message, req.Scope); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"stored": true})
}

func (s *service) conversationContext(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	agentID, ok := requireAgent(w, r, q.Get("agent"))
	if !ok {
		return
	}
	limit := s.contextLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errmodel.WriteHTTP(w, r, errmodel.Validation("bad_limit", "limit must be a non-negative integer", map[string]any{"limit": v}))
			return
		}
		limit = n
	}
	sc := memory.Scope{ConversationID: q.Get("conversation"), HumanProfileID: q.Get("human")}
	cc, err := s.memory.GetConversationContext(r.Context(), agentID, q.Get("query"), limit, sc)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cc)
}

type agentRequest struct {
	AgentID string `json:"agentId"`
	DaysOld int    `json:"daysOld"`
}

func (s *service) cleanup(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if !decode(w, r, &req) {
		return
	}
	agentID, ok := requireAgent(w, r, req.AgentID)
	if !ok {
		return
	}
	n, err := s.memory.ClearOldMemories(r.Context(), agentID, req.DaysOld)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *service) optimize(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if !decode(w, r, &req) {
		return
	}
	agentID, ok := requireAgent(w, r, req.AgentID)
	if !ok {
		return
	}
	n, err := s.memory.OptimizeMemoryImportance(r.Context(), agentID)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (s *service) summary(w http.ResponseWriter, r *http.Request) {
	agentID, ok := requireAgent(w, r, r.URL.Query().Get("agent"))
	if !ok {
		return
	}
	sum, err := s.memory.GetMemorySummary(r.Context(), agentID)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type promptView struct {
	Name    string            `json:"name"`
	Version int               `json:"version"`
	Body    string            `json:"body"`
	Meta    map[string]string `json:"meta,omitempty"`
}

func viewOf(p prompt.Prompt) promptView {
	return promptView{Name: p.Name, Version: p.Version, Body: p.Body, Meta: p.Meta}
}

func (s *service) getPrompt(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	version, _ := strconv.Atoi(r.URL.Query().Get("version"))
	p, ok := s.prompts.Get(name, version)
	if !ok {
		errmodel.WriteHTTP(w, r, errmodel.Validation("not_found", "prompt not found", map[string]any{"name": name, "version": version}))
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *service) putPrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body string            `json:"body"`
		Meta map[string]string `json:"meta"`
	}
	if !decode(w, r, &req) {
		return
	}
	saved, issues, err := s.prompts.Save(prompt.Prompt{Name: r.PathValue("name"), Body: req.Body, Meta: req.Meta})
	if errors.Is(err, prompt.ErrLintFailed) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"issues": issues})
		return
	}
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(saved))
}

func (s *service) diffPrompt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err1 := strconv.Atoi(q.Get("from"))
	to, err2 := strconv.Atoi(q.Get("to"))
	if err1 != nil || err2 != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("bad_version", "from and to must be integers", nil))
		return
	}
	name := r.PathValue("name")
	if _, ok := s.prompts.Get(name, from); !ok {
		errmodel.WriteHTTP(w, r, errmodel.Validation("not_found", "prompt version not found", map[string]any{"name": name, "version": from}))
		return
	}
	if _, ok := s.prompts.Get(name, to); !ok {
		errmodel.WriteHTTP(w, r, errmodel.Validation("not_found", "prompt version not found", map[string]any{"name": name, "version": to}))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s.prompts.Diff(name, from, to)))
}

func requireAgent(w http.ResponseWriter, r *http.Request, agentID string) (string, bool) {
	if agentID == "" {
		errmodel.WriteHTTP(w, r, errmodel.Validation("missing_agent", "agent id is required", nil))
		return "", false
	}
	return agentID, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("bad_json", "invalid request body", map[string]any{"error": err.Error()}))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
