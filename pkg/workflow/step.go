package workflow

import (
	"context"
	"fmt"
)

// Step is a position in the run's state machine.
type Step string

const (
	StepObserve   Step = "observe"
	StepReason    Step = "reason"
	StepAct       Step = "act"
	StepLoopCheck Step = "loop_check"
	StepComplete  Step = "complete"
)

// transitions lists the steps each step may hand over to. Complete has no
// successors.
var transitions = map[Step][]Step{
	StepObserve:   {StepReason},
	StepReason:    {StepAct},
	StepAct:       {StepLoopCheck},
	StepLoopCheck: {StepObserve, StepComplete},
}

// CanAdvanceTo reports whether next is a legal successor of s.
func (s Step) CanAdvanceTo(next Step) bool {
	for _, n := range transitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// Node runs one step. It must not modify st; it returns the changes to apply.
type Node interface {
	Execute(ctx context.Context, st State) (Update, error)
}

// NodeFunc adapts a function to Node.
type NodeFunc func(ctx context.Context, st State) (Update, error)

func (f NodeFunc) Execute(ctx context.Context, st State) (Update, error) { return f(ctx, st) }

// Nodes holds one node per dispatchable step.
type Nodes struct {
	Observe   Node
	Reason    Node
	Act       Node
	LoopCheck Node
}

func (n Nodes) forStep(s Step) (Node, error) {
	var node Node
	switch s {
	case StepObserve:
		node = n.Observe
	case StepReason:
		node = n.Reason
	case StepAct:
		node = n.Act
	case StepLoopCheck:
		node = n.LoopCheck
	default:
		return nil, fmt.Errorf("no node for step %q", s)
	}
	if node == nil {
		return nil, fmt.Errorf("node for step %q is not configured", s)
	}
	return node, nil
}

func (n Nodes) validate() error {
	for _, s := range []Step{StepObserve, StepReason, StepAct, StepLoopCheck} {
		if _, err := n.forStep(s); err != nil {
			return err
		}
	}
	return nil
}
