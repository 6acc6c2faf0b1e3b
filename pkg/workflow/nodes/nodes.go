package nodes

import "github.com/wilhg/agentsim/pkg/workflow"

// Assemble returns the workflow nodes with the built-in loop check.
func Assemble(o *Observe, r *Reason, a *Act) workflow.Nodes {
	return workflow.Nodes{Observe: o, Reason: r, Act: a, LoopCheck: workflow.LoopCheck{}}
}
