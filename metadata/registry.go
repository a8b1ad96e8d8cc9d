package metadata

import (
	"fmt"

	"github.com/mohitkumar/txflow/model"
)

// Definition describes which steps a flow type can contain.
type Definition struct {
	Type model.FlowType
	// CollectsInput is consulted through an intent because a buy only asks for a quantity when
	// more than one unit is available.
	CollectsInput func(intent model.Intent) bool
	UsesApproval  bool
	OffChainFinal bool
}

var definitions = map[model.FlowType]Definition{
	model.FLOW_TYPE_BUY: {
		Type:          model.FLOW_TYPE_BUY,
		CollectsInput: func(intent model.Intent) bool { return intent.MaxQuantity > 1 },
		UsesApproval:  true,
	},
	model.FLOW_TYPE_SELL: {
		Type:          model.FLOW_TYPE_SELL,
		CollectsInput: func(intent model.Intent) bool { return intent.MaxQuantity > 1 },
		UsesApproval:  true,
	},
	model.FLOW_TYPE_CREATE_LISTING: {
		Type:          model.FLOW_TYPE_CREATE_LISTING,
		CollectsInput: always,
		UsesApproval:  true,
		OffChainFinal: true,
	},
	model.FLOW_TYPE_MAKE_OFFER: {
		Type:          model.FLOW_TYPE_MAKE_OFFER,
		CollectsInput: always,
		UsesApproval:  true,
		OffChainFinal: true,
	},
	model.FLOW_TYPE_TRANSFER: {
		Type:          model.FLOW_TYPE_TRANSFER,
		CollectsInput: always,
		UsesApproval:  false,
	},
}

func always(model.Intent) bool {
	return true
}

func Lookup(flowType model.FlowType) (Definition, error) {
	def, ok := definitions[flowType]
	if !ok {
		return Definition{}, model.StructuralError{
			Message: fmt.Sprintf("no step definition for flow %q", flowType),
			Cause:   model.ErrUnsupportedFlow,
		}
	}
	return def, nil
}

// FinalStepName is signature for orders placed on an off-chain orderbook, transaction otherwise.
func FinalStepName(def Definition, intent model.Intent) model.StepName {
	if def.OffChainFinal && intent.OffChain {
		return model.StepSignature
	}
	return model.StepTransaction
}

// Steps computes the ordered idle step skeleton for an intent. It is a pure function of the
// intent and the descriptors returned by the step generator.
func Steps(intent model.Intent, plan *model.StepPlan) ([]model.Step, error) {
	def, err := Lookup(intent.Type)
	if err != nil {
		return nil, err
	}
	final := FinalStepName(def, intent)
	if plan != nil {
		for _, d := range plan.Steps {
			if !d.Name.IsBase() && d.Name != final {
				return nil, model.StructuralError{
					Message: fmt.Sprintf("step %q is not valid for flow %q", d.Name, intent.Type),
				}
			}
		}
	}

	steps := make([]model.Step, 0, 4)
	if def.CollectsInput(intent) {
		steps = append(steps, model.NewStep(model.StepForm))
	}
	if !intent.Sponsored && len(intent.FeeOptions) > 1 {
		steps = append(steps, model.NewStep(model.StepFee))
	}

	approval, include := approvalRequirement(def, intent, plan)
	if include {
		switch approval {
		case model.REQUIREMENT_REQUIRED:
			steps = append(steps, model.NewStep(model.StepApproval))
		case model.REQUIREMENT_UNDETERMINED:
			s := model.NewStep(model.StepApproval)
			s.Disabled = true
			s.DisabledReason = "approval check pending"
			if d, ok := plan.Descriptor(model.StepApproval); ok && len(d.Reason) > 0 {
				s.DisabledReason = d.Reason
			}
			steps = append(steps, s)
		}
	}

	steps = append(steps, model.NewStep(final))
	return steps, nil
}

func approvalRequirement(def Definition, intent model.Intent, plan *model.StepPlan) (model.Requirement, bool) {
	if d, ok := plan.Descriptor(model.StepApproval); ok {
		return normalize(d.Requirement), true
	}
	if !def.UsesApproval {
		return model.REQUIREMENT_NOT_REQUIRED, false
	}
	return normalize(intent.Approval), true
}

func normalize(r model.Requirement) model.Requirement {
	switch r {
	case model.REQUIREMENT_REQUIRED, model.REQUIREMENT_NOT_REQUIRED:
		return r
	}
	return model.REQUIREMENT_UNDETERMINED
}
