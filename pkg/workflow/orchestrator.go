package workflow

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/errmodel"
)

// Tracer receives the lifecycle of each run.
type Tracer interface {
	StartTrace(ctx context.Context, sc Scope) (context.Context, string)
	TraceExecution(ctx context.Context, traceID string, step Step, payload map[string]any)
	TraceError(ctx context.Context, traceID string, step Step, err error)
	EndTrace(ctx context.Context, traceID string, success bool, duration time.Duration, actionCount int)
}

// Metrics receives the per-run counters.
type Metrics interface {
	RecordRun(ctx context.Context, actorType string, actions, iterations, heat int)
}

type noopTracer struct{}

func (noopTracer) StartTrace(ctx context.Context, _ Scope) (context.Context, string) { return ctx, "" }
func (noopTracer) TraceExecution(context.Context, string, Step, map[string]any)      {}
func (noopTracer) TraceError(context.Context, string, Step, error)                   {}
func (noopTracer) EndTrace(context.Context, string, bool, time.Duration, int)        {}

type noopMetrics struct{}

func (noopMetrics) RecordRun(context.Context, string, int, int, int) {}

// Orchestrator runs workflows. It holds no per-run state and is safe for
// concurrent use.
type Orchestrator struct {
	cfg     Config
	nodes   Nodes
	tracer  Tracer
	metrics Metrics
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithTracer(t Tracer) Option { return func(o *Orchestrator) { o.tracer = t } }

func WithMetrics(m Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// New builds an Orchestrator. Every step must have a node.
func New(cfg Config, nodes Nodes, opts ...Option) (*Orchestrator, error) {
	if err := nodes.validate(); err != nil {
		return nil, errmodel.Validation("bad_nodes", err.Error(), nil)
	}
	o := &Orchestrator{
		cfg:     cfg.withDefaults(),
		nodes:   nodes,
		tracer:  noopTracer{},
		metrics: noopMetrics{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// ExecuteWorkflow builds an Orchestrator and runs sc once. A nil cfg uses
// DefaultConfig.
func ExecuteWorkflow(ctx context.Context, sc Scope, nodes Nodes, cfg *Config, opts ...Option) (ExecutionResult, error) {
	c := DefaultConfig()
	if cfg != nil {
		c = *cfg
	}
	o, err := New(c, nodes, opts...)
	if err != nil {
		return ExecutionResult{}, err
	}
	return o.Execute(ctx, sc)
}

func (o *Orchestrator) initState(sc Scope) State {
	if sc.DataScope == nil {
		sc.DataScope = DefaultDataScope()
	}
	return State{
		Scope:  sc,
		Config: o.cfg,
		Vitals: vitalsFrom(sc.Actor.Profile),
		Step:   StepObserve,
		Loop: LoopState{
			Iteration:            1,
			MaxIterations:        o.cfg.MaxIterations,
			HeatCostPerIteration: o.cfg.HeatCostPerIteration,
		},
		StartTime: o.now(),
	}
}

// Execute runs sc to completion. Node failures end the run and are reported
// in the result; the returned error is only set for an invalid scope.
func (o *Orchestrator) Execute(ctx context.Context, sc Scope) (ExecutionResult, error) {
	if sc.Actor.ID == "" {
		return ExecutionResult{}, errmodel.Validation("bad_scope", "actor id is required", nil)
	}
	st := o.initState(sc)
	ctx, traceID := o.tracer.StartTrace(ctx, sc)
	ctx = log.With(ctx, log.KV{K: "agent_id", V: sc.Actor.ID})

	tr := otel.Tracer("workflow/orchestrator")
	ctx, span := tr.Start(ctx, "Orchestrator.Execute", trace.WithAttributes(
		attribute.String("actor.id", sc.Actor.ID),
		attribute.String("actor.type", sc.Actor.Type),
		attribute.String("trigger.type", string(sc.Trigger.Kind)),
		attribute.Int("loop.max_iterations", o.cfg.MaxIterations),
	))
	defer span.End()

	// Each cycle dispatches four nodes; the ceiling only trips on a LoopCheck
	// node that ignores MaxIterations.
	ceiling := 4 * st.Loop.MaxIterations
	dispatched := 0
	for st.Step != StepComplete {
		from := st.Step
		node, err := o.nodes.forStep(from)
		if err != nil {
			o.fail(ctx, traceID, &st, from, err)
			break
		}
		if dispatched >= ceiling {
			o.fail(ctx, traceID, &st, from, fmt.Errorf("dispatch ceiling of %d reached", ceiling))
			break
		}
		dispatched++

		up, err := o.dispatch(ctx, node, st)
		if err != nil {
			o.fail(ctx, traceID, &st, from, err)
			break
		}
		if !from.CanAdvanceTo(up.Step) {
			o.fail(ctx, traceID, &st, from, fmt.Errorf("invalid transition %s -> %q", from, up.Step))
			break
		}
		if from == StepLoopCheck && up.Step == StepObserve && (up.Loop == nil || up.Loop.Iteration > st.Loop.MaxIterations || up.Loop.Iteration <= st.Loop.Iteration) {
			// Ceiling and monotonic iteration hold regardless of the node.
			loop := st.Loop
			if up.Loop != nil {
				loop = *up.Loop
				loop.Iteration = st.Loop.Iteration
			}
			loop.ShouldContinue, loop.StopReason = false, StopMaxIterations
			up.Step, up.Loop = StepComplete, &loop
		}
		st.apply(up)
		o.tracer.TraceExecution(ctx, traceID, from, stepPayload(from, st))
	}

	res := o.result(st)
	span.SetAttributes(
		attribute.Bool("workflow.success", res.Success),
		attribute.Int("workflow.iterations", res.Iterations),
		attribute.Int("workflow.actions", len(res.ExecutedActions)),
		attribute.Int("workflow.heat", res.HeatCost),
	)
	if !res.Success {
		span.SetStatus(codes.Error, res.Errors[0])
	}
	o.metrics.RecordRun(ctx, sc.Actor.Type, len(res.ExecutedActions), res.Iterations, res.HeatCost)
	o.tracer.EndTrace(ctx, traceID, res.Success, res.Duration, len(res.ExecutedActions))
	log.Info(ctx, log.KV{K: "msg", V: "workflow finished"},
		log.KV{K: "success", V: res.Success},
		log.KV{K: "iterations", V: res.Iterations},
		log.KV{K: "actions", V: len(res.ExecutedActions)},
		log.KV{K: "stop_reason", V: st.Loop.StopReason},
		log.KV{K: "ms", V: res.Duration.Milliseconds()})
	return res, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, node Node, st State) (Update, error) {
	ctx, span := otel.Tracer("workflow/orchestrator").Start(ctx, "node."+string(st.Step),
		trace.WithAttributes(attribute.Int("loop.iteration", st.Loop.Iteration)))
	defer span.End()
	up, err := node.Execute(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return up, err
}

func (o *Orchestrator) fail(ctx context.Context, traceID string, st *State, step Step, err error) {
	st.Errors = append(st.Errors, StepError{Step: step, Error: err.Error(), Timestamp: o.now()})
	st.Step = StepComplete
	st.Loop.ShouldContinue = false
	if st.Loop.StopReason == "" {
		st.Loop.StopReason = StopFailed
	}
	o.tracer.TraceError(ctx, traceID, step, err)
	log.Error(ctx, err, log.KV{K: "msg", V: "workflow step failed"}, log.KV{K: "step", V: string(step)})
}

func (o *Orchestrator) result(st State) ExecutionResult {
	errs := make([]string, 0, len(st.Errors))
	for _, e := range st.Errors {
		errs = append(errs, fmt.Sprintf("%s: %s", e.Step, e.Error))
	}
	heat := (st.Loop.Iteration - 1) * st.Loop.HeatCostPerIteration
	seen := map[*Result]bool{}
	for _, h := range st.Loop.History {
		if h.Result != nil && !seen[h.Result] {
			seen[h.Result] = true
			heat += h.Result.HeatCost
		}
	}
	if st.Result != nil && !seen[st.Result] {
		heat += st.Result.HeatCost
	}
	return ExecutionResult{
		Success:         len(st.Errors) == 0,
		State:           st,
		Duration:        o.now().Sub(st.StartTime),
		ExecutedActions: append([]string(nil), st.ExecutedActions...),
		Errors:          errs,
		Iterations:      st.Loop.Iteration,
		HeatCost:        heat,
	}
}

func stepPayload(step Step, st State) map[string]any {
	p := map[string]any{"iteration": st.Loop.Iteration, "next": string(st.Step)}
	switch step {
	case StepObserve:
		if st.Observation != nil {
			p["items"] = st.Observation.Count()
		}
	case StepReason:
		if st.Reasoning != nil {
			p["decision"] = st.Reasoning.Decision
			p["confidence"] = st.Reasoning.Confidence
			p["tool_calls"] = len(st.Reasoning.ToolCalls)
		}
	case StepAct:
		if st.Action != nil {
			p["action_type"] = st.Action.Type
		}
		if st.Result != nil {
			p["success"] = st.Result.Success
		}
	case StepLoopCheck:
		p["continue"] = st.Loop.ShouldContinue
		if st.Loop.ContinueReason != "" {
			p["continue_reason"] = string(st.Loop.ContinueReason)
		}
		if st.Loop.StopReason != "" {
			p["stop_reason"] = st.Loop.StopReason
		}
	}
	return p
}
