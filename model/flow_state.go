package model

type FlowStatus string

const (
	FlowIdle    FlowStatus = "idle"
	FlowPending FlowStatus = "pending"
	FlowSuccess FlowStatus = "success"
	FlowError   FlowStatus = "error"
)

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
	Percent int `json:"percent"`
}

type FlowState struct {
	FlowId              string     `json:"flowId"`
	Status              FlowStatus `json:"status"`
	CurrentStep         *Step      `json:"currentStep,omitempty"`
	NextStep            *Step      `json:"nextStep,omitempty"`
	Progress            Progress   `json:"progress"`
	AllSteps            []Step     `json:"allSteps"`
	HasInvalidatedSteps bool       `json:"hasInvalidatedSteps"`
	FatalError          string     `json:"fatalError,omitempty"`
	Closed              bool       `json:"closed,omitempty"`
}

// DeriveFlowState computes the aggregate view of a step list. Status is never stored,
// it is always recomputed from the steps.
func DeriveFlowState(flowId string, steps []Step, fatal error) FlowState {
	state := FlowState{
		FlowId:   flowId,
		AllSteps: make([]Step, len(steps)),
	}
	copy(state.AllSteps, steps)
	if fatal != nil {
		state.Status = FlowError
		state.FatalError = fatal.Error()
		return state
	}

	success := 0
	anyError := false
	anyPending := false
	for _, s := range steps {
		switch s.Status {
		case StepSuccess:
			success++
		case StepError:
			anyError = true
		case StepPending:
			anyPending = true
		}
		if s.Invalidated {
			state.HasInvalidatedSteps = true
		}
	}

	total := len(steps)
	switch {
	case anyError:
		state.Status = FlowError
	case total > 0 && success == total:
		state.Status = FlowSuccess
	case anyPending:
		state.Status = FlowPending
	default:
		state.Status = FlowIdle
	}

	current := CurrentStepIndex(steps)
	if current >= 0 {
		cs := state.AllSteps[current]
		state.CurrentStep = &cs
		if next := nextStepIndex(steps, current); next >= 0 {
			ns := state.AllSteps[next]
			state.NextStep = &ns
		}
	}
	state.Progress = Progress{
		Current: current + 1,
		Total:   total,
	}
	if total > 0 {
		state.Progress.Percent = 100 * success / total
	}
	return state
}

// CurrentStepIndex returns the first step that is neither successful nor disabled. When every
// step before the terminal one succeeded the terminal step is current. -1 means no steps.
func CurrentStepIndex(steps []Step) int {
	if len(steps) == 0 {
		return -1
	}
	for i, s := range steps {
		if s.Status != StepSuccess && !s.Disabled {
			return i
		}
	}
	return len(steps) - 1
}

func nextStepIndex(steps []Step, current int) int {
	for i := current + 1; i < len(steps); i++ {
		if steps[i].Status != StepSuccess {
			return i
		}
	}
	return -1
}
