package workflow

import (
	"context"
	"time"
)

// LowConfidence is the confidence below which a retry is worthwhile.
const LowConfidence = 0.5

// LoopCheck decides whether to run another iteration. It depends only on
// the state.
type LoopCheck struct {
	Now func() time.Time
}

func (l LoopCheck) Execute(_ context.Context, st State) (Update, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	loop := st.Loop
	var prev *LoopHistory
	if n := len(loop.History); n > 0 {
		prev = &loop.History[n-1]
	}
	// Copy before appending so the caller's history is never shared.
	loop.History = append(append(make([]LoopHistory, 0, len(loop.History)+1), loop.History...), LoopHistory{
		Iteration:   loop.Iteration,
		Observation: st.Observation,
		Reasoning:   st.Reasoning,
		Action:      st.Action,
		Result:      st.Result,
		Timestamp:   now(),
	})

	if reason := stopReason(st, prev); reason != "" {
		loop.ShouldContinue, loop.ContinueReason, loop.StopReason = false, "", reason
		return Update{Step: StepComplete, Loop: &loop}, nil
	}
	loop.Iteration++
	loop.ShouldContinue, loop.StopReason = true, ""
	loop.ContinueReason = continueReason(st, prev)
	return Update{Step: StepObserve, Loop: &loop}, nil
}

func stopReason(st State, prev *LoopHistory) string {
	switch {
	case !st.Config.EnableLooping:
		return StopLoopingDisabled
	case st.Loop.Iteration >= st.Loop.MaxIterations:
		return StopMaxIterations
	case st.Result == nil:
		return StopNoResult
	case st.Action != nil && st.Action.GoalAchieved != nil && *st.Action.GoalAchieved:
		return StopGoalAchieved
	case !st.Result.Success && !st.Result.Retryable:
		return StopFailed
	case prev != nil && st.Action.SameAs(prev.Action):
		return StopNoProgress
	case st.Result.Success && (st.Action == nil || st.Action.GoalAchieved == nil):
		return StopActionCompleted
	}
	return ""
}

func continueReason(st State, prev *LoopHistory) ContinueReason {
	switch {
	case !st.Result.Success:
		return ContinueToolFailure
	case st.Reasoning != nil && st.Reasoning.Confidence < LowConfidence:
		return ContinueLowConfidence
	case st.Scope.Trigger.IsResponse:
		return ContinueUserPersistence
	case prev != nil && prev.Observation != nil && st.Observation != nil && prev.Observation.Summary != st.Observation.Summary:
		return ContinueNewInfo
	}
	return ContinueGoalNotMet
}
