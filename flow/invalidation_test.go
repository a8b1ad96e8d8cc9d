package flow

import (
	"testing"
	"time"

	"github.com/mohitkumar/txflow/model"
	"github.com/stretchr/testify/require"
)

func completedSteps(names ...model.StepName) []model.Step {
	steps := make([]model.Step, 0, len(names))
	for _, name := range names {
		s := model.NewStep(name)
		s.Status = model.StepSuccess
		s.Value = map[string]any{"done": true}
		steps = append(steps, s)
	}
	return steps
}

func TestMarkInvalidated(t *testing.T) {
	tracker := NewInvalidationTracker()
	steps := completedSteps(model.StepForm, model.StepFee, model.StepApproval, model.StepTransaction)
	steps[3].Result = model.TransactionHash{Hash: "0x1"}

	idx, changed, err := tracker.MarkInvalidated(steps, model.StepFee, REASON_QUOTE_EXPIRED)
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, 1, idx)

	require.Equal(t, model.StepSuccess, steps[0].Status)
	require.Equal(t, map[string]any{"done": true}, steps[0].Value)
	for _, s := range steps[1:] {
		require.Equal(t, model.StepIdle, s.Status)
		require.Nil(t, s.Value)
		require.Nil(t, s.Result)
	}
	require.True(t, steps[1].Invalidated)
	require.Equal(t, REASON_QUOTE_EXPIRED, steps[1].InvalidationReason)
	require.False(t, steps[2].Invalidated)
	require.True(t, model.DeriveFlowState("f", steps, nil).HasInvalidatedSteps)

	before := append([]model.Step(nil), steps...)
	_, changed, err = tracker.MarkInvalidated(steps, model.StepFee, REASON_FEE_CHANGED)
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, before, steps)

	_, _, err = tracker.MarkInvalidated(steps, model.StepSignature, REASON_FORM_CHANGED)
	require.ErrorIs(t, err, ErrStepNotFound)
}

func TestMarkInvalidatedAgainAfterRerun(t *testing.T) {
	tracker := NewInvalidationTracker()
	steps := completedSteps(model.StepFee, model.StepTransaction)
	_, changed, _ := tracker.MarkInvalidated(steps, model.StepFee, REASON_QUOTE_EXPIRED)
	require.True(t, changed)

	steps[0].Status = model.StepSuccess
	_, changed, _ = tracker.MarkInvalidated(steps, model.StepFee, REASON_QUOTE_EXPIRED)
	require.True(t, changed)
	require.Equal(t, model.StepIdle, steps[0].Status)
}

func TestMarkInvalidatedRefusesPendingStep(t *testing.T) {
	tracker := NewInvalidationTracker()
	steps := completedSteps(model.StepFee, model.StepApproval, model.StepTransaction)
	steps[2].Status = model.StepPending
	steps[2].Result = model.TransactionHash{Hash: "0x1"}
	before := append([]model.Step(nil), steps...)

	_, changed, err := tracker.MarkInvalidated(steps, model.StepFee, REASON_QUOTE_EXPIRED)
	require.ErrorIs(t, err, ErrStepInFlight)
	require.False(t, changed)
	require.Equal(t, before, steps)

	idx, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_REQUIRED)
	require.Equal(t, -1, idx)
	require.False(t, changed)
	require.Equal(t, before, steps)
}

func TestDeadlines(t *testing.T) {
	tracker := NewInvalidationTracker()
	now := time.Now()
	tracker.Watch(model.StepFee, now.Add(time.Minute))
	tracker.Watch(model.StepApproval, time.Time{})

	require.Empty(t, tracker.Expired(now))
	require.Equal(t, []model.StepName{model.StepFee}, tracker.Expired(now.Add(time.Minute)))

	steps := completedSteps(model.StepFee, model.StepTransaction)
	tracker.MarkInvalidated(steps, model.StepFee, REASON_QUOTE_EXPIRED)
	require.Empty(t, tracker.Expired(now.Add(time.Hour)))
}

func TestApplyApproval(t *testing.T) {
	pending := func() []model.Step {
		approval := model.NewStep(model.StepApproval)
		approval.Disabled = true
		approval.DisabledReason = "approval check pending"
		return append(completedSteps(model.StepFee), approval, model.NewStep(model.StepTransaction))
	}

	for scenario, fn := range map[string]func(t *testing.T, tracker *InvalidationTracker, steps []model.Step){
		"required enables a pending check": func(t *testing.T, tracker *InvalidationTracker, steps []model.Step) {
			idx, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_REQUIRED)
			require.Equal(t, -1, idx)
			require.True(t, changed)
			require.False(t, steps[1].Disabled)
			require.Equal(t, model.StepIdle, steps[1].Status)
		},
		"not required skips the step": func(t *testing.T, tracker *InvalidationTracker, steps []model.Step) {
			_, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_NOT_REQUIRED)
			require.True(t, changed)
			require.Equal(t, model.StepSuccess, steps[1].Status)
			require.True(t, steps[1].Skipped)
			require.Len(t, steps, 3)
		},
		"required again invalidates a skipped step": func(t *testing.T, tracker *InvalidationTracker, steps []model.Step) {
			tracker.ApplyApproval(steps, model.REQUIREMENT_NOT_REQUIRED)
			idx, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_REQUIRED)
			require.True(t, changed)
			require.Equal(t, 1, idx)
			require.Equal(t, model.StepSuccess, steps[0].Status)
			require.Equal(t, model.StepIdle, steps[1].Status)
			require.True(t, steps[1].Invalidated)
			require.False(t, steps[1].Disabled)
			require.False(t, steps[1].Skipped)
			require.Equal(t, REASON_ALLOWANCE_CHANGED, steps[1].InvalidationReason)
		},
		"undetermined changes nothing": func(t *testing.T, tracker *InvalidationTracker, steps []model.Step) {
			_, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_UNDETERMINED)
			require.False(t, changed)
			require.True(t, steps[1].Disabled)
		},
		"pending approval is left alone": func(t *testing.T, tracker *InvalidationTracker, steps []model.Step) {
			steps[1].Disabled = false
			steps[1].Status = model.StepPending
			_, changed := tracker.ApplyApproval(steps, model.REQUIREMENT_NOT_REQUIRED)
			require.False(t, changed)
			require.Equal(t, model.StepPending, steps[1].Status)
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewInvalidationTracker(), pending())
		})
	}

	_, changed := NewInvalidationTracker().ApplyApproval(completedSteps(model.StepTransaction), model.REQUIREMENT_REQUIRED)
	require.False(t, changed)
}
