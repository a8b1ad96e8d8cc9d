package flow

import (
	"context"

	"github.com/mohitkumar/txflow/model"
)

// AllowanceChecker reads the current on-chain allowance or operator approval for an intent.
type AllowanceChecker interface {
	CheckApproval(ctx context.Context, intent model.Intent) (model.Requirement, error)
}

type AllowanceFunc func(ctx context.Context, intent model.Intent) (model.Requirement, error)

func (f AllowanceFunc) CheckApproval(ctx context.Context, intent model.Intent) (model.Requirement, error) {
	return f(ctx, intent)
}

// ResultReconciler receives the final step's result to publish and reconcile the domain record.
type ResultReconciler interface {
	Publish(intent model.Intent, result model.TransactionResult) model.OrderRecord
	Confirm(key string, receipt *model.ConfirmedReceipt) (model.OrderRecord, error)
	MarkUnconfirmed(key string, reason string) (model.OrderRecord, error)
	Retract(key string) (model.OrderRecord, error)
}
