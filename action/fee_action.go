package action

import (
	"context"
	"fmt"

	"github.com/mohitkumar/txflow/model"
)

var _ Action = new(FeeAction)

// FeeAction confirms the fee option picked by the user.
type FeeAction struct {
	baseAction
}

func (fa *FeeAction) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	if len(ec.SelectedFee) == 0 {
		return Outcome{}, fmt.Errorf("%w: no fee option selected", model.ErrValidation)
	}
	opt, ok := ec.Intent.FeeOption(ec.SelectedFee)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: unknown fee option %s", model.ErrValidation, ec.SelectedFee)
	}
	if !opt.ExpiresAt.IsZero() && !opt.ExpiresAt.After(ec.now()) {
		return Outcome{}, fmt.Errorf("%w: fee quote %s expired", model.ErrValidation, opt.Id)
	}
	return Outcome{Value: map[string]any{
		"id":       opt.Id,
		"currency": opt.Currency,
		"amount":   opt.Amount,
	}}, nil
}
