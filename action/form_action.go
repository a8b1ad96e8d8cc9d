package action

import (
	"context"
	"fmt"
	"math/big"
	"regexp"

	"github.com/mohitkumar/txflow/model"
)

var addressPattern = regexp.MustCompile("^0x[0-9a-fA-F]{40}$")

var _ Action = new(FormAction)

// FormAction validates the user supplied values of the intent.
type FormAction struct {
	baseAction
}

func (fa *FormAction) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	form := ec.Intent.Form
	if form.Quantity < 1 {
		return Outcome{}, fmt.Errorf("%w: quantity must be at least 1", model.ErrValidation)
	}
	switch ec.Intent.Type {
	case model.FLOW_TYPE_CREATE_LISTING, model.FLOW_TYPE_MAKE_OFFER:
		if err := validatePrice(form.Price); err != nil {
			return Outcome{}, err
		}
		if len(form.Currency) == 0 {
			return Outcome{}, fmt.Errorf("%w: currency is required", model.ErrValidation)
		}
		if !form.Expiry.After(ec.now()) {
			return Outcome{}, fmt.Errorf("%w: expiry must be in the future", model.ErrValidation)
		}
	case model.FLOW_TYPE_TRANSFER:
		if !addressPattern.MatchString(form.Recipient) {
			return Outcome{}, fmt.Errorf("%w: recipient %q is not an address", model.ErrValidation, form.Recipient)
		}
	}
	return Outcome{Value: form.ToMap()}, nil
}

func validatePrice(price string) error {
	p, ok := new(big.Rat).SetString(price)
	if !ok {
		return fmt.Errorf("%w: price %q is not a number", model.ErrValidation, price)
	}
	if p.Sign() <= 0 {
		return fmt.Errorf("%w: price must be positive", model.ErrValidation)
	}
	return nil
}
