package tools

import (
	"context"
	"errors"
	"time"

	"goa.design/clue/log"

	"github.com/wilhg/agentsim/pkg/errmodel"
)

// Call is one tool invocation requested by a model.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Result is the outcome of one tool call. Failures are data, not errors.
type Result struct {
	Name          string         `json:"name"`
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"executionTime"`
	TimedOut      bool           `json:"timedOut,omitempty"`
	Retryable     bool           `json:"retryable,omitempty"`
}

// DefaultTimeout bounds a single tool call.
const DefaultTimeout = 5 * time.Second

// Executor runs registered tools with a per-call deadline.
type Executor struct {
	reg      *Registry
	timeout  time.Duration
	allowed  map[string]bool
	validate ValidateFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) ExecutorOption { return func(e *Executor) { e.timeout = d } }

// WithPermissions grants permissions to every call.
func WithPermissions(names ...string) ExecutorOption {
	return func(e *Executor) {
		for _, n := range names {
			e.allowed[n] = true
		}
	}
}

// WithValidator overrides JSONSchemaValidator.
func WithValidator(v ValidateFunc) ExecutorOption { return func(e *Executor) { e.validate = v } }

// NewExecutor builds an Executor over reg.
func NewExecutor(reg *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{reg: reg, timeout: DefaultTimeout, allowed: map[string]bool{}, validate: JSONSchemaValidator}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Bounded returns a copy of e whose calls use timeout d. Non-positive d
// keeps the current timeout.
func (e *Executor) Bounded(d time.Duration) *Executor {
	if d <= 0 || d == e.timeout {
		return e
	}
	cp := *e
	cp.timeout = d
	return &cp
}

// Descriptors lists the tools available to calls.
func (e *Executor) Descriptors() []Descriptor {
	if e == nil || e.reg == nil {
		return nil
	}
	return e.reg.Descriptors()
}

// Execute runs one call. The deadline is enforced even when the tool
// ignores ctx; its goroutine is then abandoned and its result dropped.
func (e *Executor) Execute(ctx context.Context, call Call) Result {
	start := time.Now()
	res := Result{Name: call.Name}
	t, ok := e.reg.Resolve(call.Name)
	if !ok {
		res.Error = "tool not found: " + call.Name
		res.ExecutionTime = time.Since(start)
		return res
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := SafeInvoke(cctx, t, call.Args, e.allowed, e.validate)
		done <- outcome{out, err}
	}()

	select {
	case o := <-done:
		res.ExecutionTime = time.Since(start)
		if o.err != nil {
			res.Error = o.err.Error()
			res.Retryable = errmodel.Retryable(o.err) || errors.Is(o.err, context.DeadlineExceeded)
			break
		}
		res.Success, res.Data = true, o.out
	case <-cctx.Done():
		res.ExecutionTime = time.Since(start)
		res.TimedOut, res.Retryable = true, true
		res.Error = "tool timed out after " + e.timeout.String()
	}
	log.Debug(ctx, log.KV{K: "msg", V: "tool executed"}, log.KV{K: "tool", V: call.Name},
		log.KV{K: "success", V: res.Success}, log.KV{K: "ms", V: res.ExecutionTime.Milliseconds()})
	return res
}

// ExecuteAll runs calls sequentially, at most max of them (all when max <= 0).
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call, max int) []Result {
	if max > 0 && len(calls) > max {
		calls = calls[:max]
	}
	out := make([]Result, 0, len(calls))
	for _, c := range calls {
		if ctx.Err() != nil {
			break
		}
		out = append(out, e.Execute(ctx, c))
	}
	return out
}
