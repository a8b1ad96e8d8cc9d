package flow

import (
	"errors"
	"fmt"
	"time"

	"github.com/mohitkumar/txflow/model"
)

var (
	ErrStepNotFound = errors.New("step not found")
	ErrStepInFlight = errors.New("step in flight")
)

const (
	REASON_ALLOWANCE_CHANGED = "allowance changed"
	REASON_QUOTE_EXPIRED     = "quote expired"
	REASON_FORM_CHANGED      = "form values changed"
	REASON_FEE_CHANGED       = "fee option changed"
)

// InvalidationTracker marks completed steps stale when one of their preconditions changes.
// It is owned by a FlowMachine and only called with the machine lock held.
type InvalidationTracker struct {
	deadlines map[model.StepName]time.Time
}

func NewInvalidationTracker() *InvalidationTracker {
	return &InvalidationTracker{
		deadlines: make(map[model.StepName]time.Time),
	}
}

// MarkInvalidated flags step name as stale, demotes it to idle and resets every later step.
// Steps before it are never touched. It returns the index of the invalidated step and whether
// anything changed; re-invalidating a step that is already flagged is a no-op. While a step from
// name on is pending it fails with ErrStepInFlight and leaves the steps as they are.
func (t *InvalidationTracker) MarkInvalidated(steps []model.Step, name model.StepName, reason string) (int, bool, error) {
	idx := indexOf(steps, name)
	if idx < 0 {
		return -1, false, fmt.Errorf("%w: %s", ErrStepNotFound, name)
	}
	step := &steps[idx]
	if step.Invalidated && step.Status != model.StepSuccess {
		return idx, false, nil
	}
	for i := idx; i < len(steps); i++ {
		if steps[i].Status == model.StepPending {
			return idx, false, fmt.Errorf("%w: %s", ErrStepInFlight, steps[i].Name)
		}
	}
	for i := idx; i < len(steps); i++ {
		t.resetStep(&steps[i])
	}
	step.Invalidated = true
	step.InvalidationReason = reason
	return idx, true, nil
}

func (t *InvalidationTracker) resetStep(step *model.Step) {
	skipped := step.Skipped
	step.Clear()
	step.Value = nil
	delete(t.deadlines, step.Name)
	// a skipped approval was decided by a check that is now stale, so it waits for a fresh one
	if skipped && step.Name == model.StepApproval {
		step.Disabled = true
		step.DisabledReason = "approval check pending"
	}
}

// Watch registers a time box for a completed step, e.g. a fee quote.
func (t *InvalidationTracker) Watch(name model.StepName, deadline time.Time) {
	if deadline.IsZero() {
		return
	}
	t.deadlines[name] = deadline
}

func (t *InvalidationTracker) Forget(name model.StepName) {
	delete(t.deadlines, name)
}

// Expired returns the watched steps whose deadline is not after now.
func (t *InvalidationTracker) Expired(now time.Time) []model.StepName {
	var names []model.StepName
	for name, deadline := range t.deadlines {
		if !deadline.After(now) {
			names = append(names, name)
		}
	}
	return names
}

func (t *InvalidationTracker) Reset() {
	t.deadlines = make(map[model.StepName]time.Time)
}

// ApplyApproval folds a fresh allowance read into the approval step. It returns the index from
// which steps were invalidated, or -1, and whether the step changed.
func (t *InvalidationTracker) ApplyApproval(steps []model.Step, req model.Requirement) (int, bool) {
	idx := indexOf(steps, model.StepApproval)
	if idx < 0 {
		return -1, false
	}
	step := &steps[idx]
	if step.Status == model.StepPending {
		return -1, false
	}
	switch req {
	case model.REQUIREMENT_REQUIRED:
		if step.Disabled {
			step.Disabled = false
			step.DisabledReason = ""
			return -1, true
		}
		if step.Status == model.StepSuccess {
			i, changed, err := t.MarkInvalidated(steps, model.StepApproval, REASON_ALLOWANCE_CHANGED)
			if err != nil {
				return -1, false
			}
			step.Disabled = false
			step.DisabledReason = ""
			return i, changed
		}
	case model.REQUIREMENT_NOT_REQUIRED:
		if step.Status == model.StepSuccess {
			return -1, false
		}
		step.Disabled = false
		step.DisabledReason = ""
		step.Status = model.StepSuccess
		step.Skipped = true
		step.Err = nil
		step.Invalidated = false
		step.InvalidationReason = ""
		return -1, true
	}
	return -1, false
}

func indexOf(steps []model.Step, name model.StepName) int {
	for i := range steps {
		if steps[i].Name == name {
			return i
		}
	}
	return -1
}
