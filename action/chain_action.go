package action

import (
	"context"
	"errors"

	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

var _ Action = new(ChainAction)

// ChainAction submits a step through the wallet collaborator and waits for its confirmation.
// Approval and final steps are both chain actions.
type ChainAction struct {
	baseAction
	submitter Submitter
	poller    ConfirmationPoller
}

func (ca *ChainAction) Execute(ctx context.Context, ec *ExecutionContext) (Outcome, error) {
	result := ec.Previous
	if result == nil {
		var err error
		result, err = ca.submitter.Submit(ctx, ca.name, ec.Params)
		if err != nil {
			logger.Error("error submitting step", zap.String("step", string(ca.name)), zap.Error(err))
			return Outcome{}, err
		}
		if result == nil {
			return Outcome{}, errors.New("submitter returned no result")
		}
		logger.Info("step submitted", zap.String("step", string(ca.name)), zap.String("type", string(result.Type())), zap.String("ref", model.ResultReference(result)))
		if ec.OnSubmitted != nil {
			ec.OnSubmitted(result)
		}
	} else {
		logger.Info("polling confirmation again", zap.String("step", string(ca.name)), zap.String("ref", model.ResultReference(result)))
	}

	receipt, err := ca.poller.PollConfirmation(ctx, result, ec.ConfirmationTimeout)
	if err != nil {
		logger.Error("error confirming step", zap.String("step", string(ca.name)), zap.String("ref", model.ResultReference(result)), zap.Error(err))
		return Outcome{Result: result}, err
	}
	return Outcome{Result: result, Receipt: receipt}, nil
}
