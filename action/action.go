package action

import (
	"context"
	"time"

	"github.com/mohitkumar/txflow/model"
)

// Submitter signs and broadcasts one step.
type Submitter interface {
	Submit(ctx context.Context, step model.StepName, params map[string]any) (model.TransactionResult, error)
}

// ConfirmationPoller resolves once the result is confirmed on chain or by the indexer, and
// fails with model.ErrConfirmationTimeout when timeout elapses first.
type ConfirmationPoller interface {
	PollConfirmation(ctx context.Context, result model.TransactionResult, timeout time.Duration) (*model.ConfirmedReceipt, error)
}

type SubmitFunc func(ctx context.Context, step model.StepName, params map[string]any) (model.TransactionResult, error)

func (f SubmitFunc) Submit(ctx context.Context, step model.StepName, params map[string]any) (model.TransactionResult, error) {
	return f(ctx, step, params)
}

type PollFunc func(ctx context.Context, result model.TransactionResult, timeout time.Duration) (*model.ConfirmedReceipt, error)

func (f PollFunc) PollConfirmation(ctx context.Context, result model.TransactionResult, timeout time.Duration) (*model.ConfirmedReceipt, error) {
	return f(ctx, result, timeout)
}

// ExecutionContext carries what a step needs for one execution.
type ExecutionContext struct {
	Intent              model.Intent
	Params              map[string]any
	SelectedFee         string
	Previous            model.TransactionResult
	ConfirmationTimeout time.Duration
	Now                 func() time.Time
	OnSubmitted         func(model.TransactionResult)
}

func (ec *ExecutionContext) now() time.Time {
	if ec.Now != nil {
		return ec.Now()
	}
	return time.Now()
}

// Outcome is what a step produces. Result is kept even when confirmation fails so a retry can
// poll again instead of submitting twice.
type Outcome struct {
	Value   any
	Result  model.TransactionResult
	Receipt *model.ConfirmedReceipt
}

type Action interface {
	GetName() model.StepName
	Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

type baseAction struct {
	name model.StepName
}

func (ba *baseAction) GetName() model.StepName {
	return ba.name
}

// NewAction builds the executable action for a step name.
func NewAction(name model.StepName, submitter Submitter, poller ConfirmationPoller) Action {
	base := baseAction{name: name}
	switch name {
	case model.StepForm:
		return &FormAction{baseAction: base}
	case model.StepFee:
		return &FeeAction{baseAction: base}
	default:
		return &ChainAction{baseAction: base, submitter: submitter, poller: poller}
	}
}
