package workflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// outcomeScript replays a generated sequence of act outcomes.
func outcomeScript(outcomes []int) *script {
	return &script{act: func(i int) (Action, Result) {
		a := Action{Type: ActionPost, Content: fmt.Sprintf("attempt %d", i)}
		switch outcomes[(i-1)%len(outcomes)] {
		case 0:
			a.GoalAchieved = ptr(false)
			return a, Result{Success: true, ActionID: fmt.Sprint(i)}
		case 1:
			return a, Result{Success: false, Retryable: true}
		case 2:
			return a, Result{Success: false}
		default:
			a.GoalAchieved = ptr(true)
			return a, Result{Success: true, ActionID: fmt.Sprint(i)}
		}
	}}
}

func TestLoopBoundProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	outcomes := gen.SliceOfN(4, gen.IntRange(0, 3))

	properties.Property("cycles never exceed maxIterations", prop.ForAll(
		func(maxIter int, looping bool, outs []int) bool {
			s := outcomeScript(outs)
			cfg := DefaultConfig()
			cfg.MaxIterations, cfg.EnableLooping = maxIter, looping
			res, err := ExecuteWorkflow(context.Background(), testScope(), s.nodes(), &cfg)
			if err != nil {
				return false
			}
			return s.observes <= maxIter &&
				res.State.Loop.Iteration <= maxIter &&
				res.State.Loop.Iteration == s.observes &&
				res.State.Step == StepComplete &&
				len(res.State.Loop.History) == s.observes
		},
		gen.IntRange(1, 8), gen.Bool(), outcomes,
	))

	properties.Property("looping disabled runs exactly one cycle", prop.ForAll(
		func(maxIter int, outs []int) bool {
			s := outcomeScript(outs)
			cfg := DefaultConfig()
			cfg.MaxIterations, cfg.EnableLooping = maxIter, false
			res, err := ExecuteWorkflow(context.Background(), testScope(), s.nodes(), &cfg)
			return err == nil && s.observes == 1 && res.Iterations == 1 && !res.State.Loop.ShouldContinue
		},
		gen.IntRange(1, 8), outcomes,
	))

	properties.Property("success iff no errors", prop.ForAll(
		func(maxIter int, failAt int) bool {
			s := outcomeScript([]int{0})
			nodes := s.nodes()
			act := nodes.Act
			nodes.Act = NodeFunc(func(ctx context.Context, st State) (Update, error) {
				if st.Loop.Iteration == failAt {
					return Update{}, fmt.Errorf("boom at %d", failAt)
				}
				return act.Execute(ctx, st)
			})
			cfg := DefaultConfig()
			cfg.MaxIterations = maxIter
			res, err := ExecuteWorkflow(context.Background(), testScope(), nodes, &cfg)
			if err != nil {
				return false
			}
			failed := failAt <= maxIter
			return res.Success == !failed && (len(res.Errors) == 1) == failed && res.State.Step == StepComplete
		},
		gen.IntRange(1, 5), gen.IntRange(1, 6),
	))

	properties.TestingRun(t)
}
