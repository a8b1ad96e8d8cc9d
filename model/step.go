package model

type StepName string

const (
	StepForm        StepName = "form"
	StepFee         StepName = "fee"
	StepApproval    StepName = "approval"
	StepTransaction StepName = "transaction"
	StepSignature   StepName = "signature"
)

func (n StepName) IsBase() bool {
	switch n {
	case StepForm, StepFee, StepApproval:
		return true
	}
	return false
}

func (n StepName) IsFinal() bool {
	switch n {
	case StepTransaction, StepSignature:
		return true
	}
	return false
}

type StepStatus string

const (
	StepIdle    StepStatus = "idle"
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepError   StepStatus = "error"
)

// Step is one unit of work inside a flow. It is only mutated by the machine that owns it.
type Step struct {
	Name               StepName          `json:"name"`
	Status             StepStatus        `json:"status"`
	Disabled           bool              `json:"isDisabled"`
	DisabledReason     string            `json:"disabledReason,omitempty"`
	Err                *StepFailure      `json:"error,omitempty"`
	Invalidated        bool              `json:"invalidated,omitempty"`
	InvalidationReason string            `json:"invalidationReason,omitempty"`
	Skipped            bool              `json:"skipped,omitempty"`
	CanExecute         bool              `json:"canExecute"`
	Result             TransactionResult `json:"-"`
	Value              any               `json:"value,omitempty"`
}

func NewStep(name StepName) Step {
	return Step{
		Name:   name,
		Status: StepIdle,
	}
}

func (s Step) IsPending() bool {
	return s.Status == StepPending
}

func (s Step) IsSuccess() bool {
	return s.Status == StepSuccess
}

func (s Step) IsError() bool {
	return s.Status == StepError
}

// Clear drops every execution artifact and returns the step to idle.
func (s *Step) Clear() {
	s.Status = StepIdle
	s.Err = nil
	s.Result = nil
	s.Skipped = false
	s.CanExecute = false
}
