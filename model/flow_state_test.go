package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func stepsWith(statuses ...StepStatus) []Step {
	names := []StepName{StepForm, StepFee, StepApproval, StepTransaction}
	steps := make([]Step, 0, len(statuses))
	for i, st := range statuses {
		s := NewStep(names[i])
		s.Status = st
		steps = append(steps, s)
	}
	return steps
}

func TestDeriveFlowState(t *testing.T) {
	for scenario, tc := range map[string]struct {
		steps   []Step
		status  FlowStatus
		current StepName
		percent int
	}{
		"all idle": {
			steps:   stepsWith(StepIdle, StepIdle, StepIdle),
			status:  FlowIdle,
			current: StepForm,
		},
		"pending": {
			steps:   stepsWith(StepSuccess, StepPending, StepIdle),
			status:  FlowPending,
			current: StepFee,
			percent: 33,
		},
		"error wins over pending": {
			steps:   stepsWith(StepSuccess, StepError, StepPending),
			status:  FlowError,
			current: StepFee,
			percent: 33,
		},
		"success only when every step succeeded": {
			steps:   stepsWith(StepSuccess, StepSuccess, StepSuccess, StepSuccess),
			status:  FlowSuccess,
			current: StepTransaction,
			percent: 100,
		},
		"partial success is idle": {
			steps:   stepsWith(StepSuccess, StepSuccess, StepIdle, StepIdle),
			status:  FlowIdle,
			current: StepApproval,
			percent: 50,
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			state := DeriveFlowState("f1", tc.steps, nil)
			require.Equal(t, tc.status, state.Status)
			require.NotNil(t, state.CurrentStep)
			require.Equal(t, tc.current, state.CurrentStep.Name)
			require.Equal(t, tc.percent, state.Progress.Percent)
			require.Equal(t, len(tc.steps), state.Progress.Total)
		})
	}
}

func TestDeriveFlowStateSkipsDisabled(t *testing.T) {
	steps := stepsWith(StepSuccess, StepSuccess, StepIdle, StepIdle)
	steps[2].Disabled = true
	state := DeriveFlowState("f1", steps, nil)
	require.Equal(t, StepTransaction, state.CurrentStep.Name)
	require.Equal(t, 4, state.Progress.Current)
	require.Nil(t, state.NextStep)
}

func TestDeriveFlowStateFatal(t *testing.T) {
	state := DeriveFlowState("f1", nil, errors.New("no definition"))
	require.Equal(t, FlowError, state.Status)
	require.Equal(t, "no definition", state.FatalError)
	require.Nil(t, state.CurrentStep)
	require.Equal(t, 0, state.Progress.Total)
}

func TestDeriveFlowStateCopiesSteps(t *testing.T) {
	steps := stepsWith(StepIdle)
	state := DeriveFlowState("f1", steps, nil)
	state.AllSteps[0].Status = StepSuccess
	require.Equal(t, StepIdle, steps[0].Status)
}

func TestStepResultEnvelope(t *testing.T) {
	for scenario, result := range map[string]TransactionResult{
		"transaction": TransactionHash{Hash: "0xaa"},
		"sponsored":   SponsoredHash{Hash: "0xbb"},
		"signature":   SignatureOrder{OrderId: "order-1"},
	} {
		t.Run(scenario, func(t *testing.T) {
			step := NewStep(StepTransaction)
			step.Result = result
			data, err := json.Marshal(step)
			require.NoError(t, err)

			var raw map[string]any
			require.NoError(t, json.Unmarshal(data, &raw))
			require.Equal(t, string(result.Type()), raw["result"].(map[string]any)["type"])

			var decoded Step
			require.NoError(t, json.Unmarshal(data, &decoded))
			require.Equal(t, result, decoded.Result)
		})
	}

	_, err := UnmarshalResult([]byte(`{"type":"bridge"}`))
	require.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	require.Equal(t, ERROR_KIND_TIMEOUT, NewStepFailure(ErrConfirmationTimeout).Kind)
	require.Equal(t, "timeout", NewStepFailure(ErrConfirmationTimeout).Reason)
	require.Equal(t, ERROR_KIND_REJECTED, NewStepFailure(ErrUserRejected).Kind)
	require.Equal(t, ERROR_KIND_REVERTED, NewStepFailure(ErrNotFound).Kind)
	require.Equal(t, ERROR_KIND_UNKNOWN, NewStepFailure(errors.New("odd")).Kind)

	wrapped := &StepFailure{Kind: ERROR_KIND_NETWORK, Reason: "rpc down"}
	require.Same(t, wrapped, NewStepFailure(wrapped))
}

func TestIntentKeyIgnoresForm(t *testing.T) {
	a := Intent{Type: FLOW_TYPE_BUY, Collection: "0xAB", TokenId: "1", Wallet: Wallet{Address: "0x1", ChainId: 1}}
	b := a
	b.Collection = "0xab"
	b.Form = FormValues{Quantity: 3}
	require.Equal(t, a.Key(), b.Key())

	b.Wallet.ChainId = 10
	require.NotEqual(t, a.Key(), b.Key())
}
