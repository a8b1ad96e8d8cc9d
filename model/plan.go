package model

type RequiredStepDescriptor struct {
	Name        StepName       `json:"name"`
	Requirement Requirement    `json:"requirement"`
	Reason      string         `json:"reason,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// StepPlan is what the step generator collaborator returns for an intent.
type StepPlan struct {
	Steps       []RequiredStepDescriptor `json:"steps"`
	FinalParams map[string]any           `json:"finalParams,omitempty"`
}

func (p *StepPlan) Descriptor(name StepName) (RequiredStepDescriptor, bool) {
	if p == nil {
		return RequiredStepDescriptor{}, false
	}
	for _, d := range p.Steps {
		if d.Name == name {
			return d, true
		}
	}
	return RequiredStepDescriptor{}, false
}

type ConfirmedReceipt struct {
	Hash        string       `json:"hash,omitempty"`
	OrderId     string       `json:"orderId,omitempty"`
	BlockNumber uint64       `json:"blockNumber,omitempty"`
	Record      *OrderRecord `json:"record,omitempty"`
}

// SNAPSHOT_VERSION is bumped whenever the stored FlowSnapshot layout changes.
const SNAPSHOT_VERSION = 1

type FlowSnapshot struct {
	IntentKey string     `json:"intentKey"`
	Form      FormValues `json:"form"`
	Steps     []Step     `json:"steps"`
	RecordKey string     `json:"recordKey,omitempty"`
}
