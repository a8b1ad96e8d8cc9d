package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/txflow/action"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/metadata"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/mohitkumar/txflow/util"
	"go.uber.org/zap"
)

type Options struct {
	ConfirmationTimeout time.Duration
	// InvalidationInterval enables proactive staleness checks while the flow is open.
	// Zero keeps the lazy re-check before each approval and final step.
	InvalidationInterval time.Duration
	Now                  func() time.Time
}

type Dependencies struct {
	Metadata  metadata.Service
	Submitter action.Submitter
	Poller    action.ConfirmationPoller
	Allowance AllowanceChecker
	// Reconciler is called with the machine lock held and must not call back into the machine.
	Reconciler ResultReconciler
	Store      persistence.SessionStore
}

// FlowMachine drives one flow through its steps. It is owned by a single flow and is not
// shared between concurrent flows.
type FlowMachine struct {
	FlowId string
	deps   Dependencies
	opts   Options

	mu          sync.Mutex
	intent      model.Intent
	steps       []model.Step
	params      map[model.StepName]map[string]any
	actions     map[model.StepName]action.Action
	handlers    map[model.StepName]*action.Handler[action.Outcome]
	attempts    map[model.StepName]uint64
	generation  uint64
	fatal       error
	opened      bool
	closed      bool
	selectedFee string
	recordKey   string
	record      *model.OrderRecord
	tracker     *InvalidationTracker
	subscribers map[int]func(model.FlowState)
	nextSubId   int
	ticker      *util.TickWorker
}

func NewFlowMachine(deps Dependencies, opts Options) *FlowMachine {
	return &FlowMachine{
		FlowId:      uuid.New().String(),
		deps:        deps,
		opts:        opts,
		attempts:    make(map[model.StepName]uint64),
		tracker:     NewInvalidationTracker(),
		subscribers: make(map[int]func(model.FlowState)),
	}
}

// Subscribe registers fn to receive the flow state after every transition.
func (f *FlowMachine) Subscribe(fn func(model.FlowState)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSubId
	f.nextSubId++
	f.subscribers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subscribers, id)
	}
}

// Open computes the steps for intent. Reopening with the identical intent keeps the steps that
// already succeeded; a changed intent starts over.
func (f *FlowMachine) Open(ctx context.Context, intent model.Intent) model.FlowState {
	f.mu.Lock()
	if f.opened && f.fatal == nil && f.intent.Key() == intent.Key() && f.intent.Form.Equal(intent.Form) {
		f.closed = false
		state := f.stateLocked()
		f.mu.Unlock()
		f.startTicker()
		logger.Info("flow reopened", zap.String("flowId", f.FlowId))
		f.notify(state)
		return state
	}
	changed := f.opened && f.intent.Key() != intent.Key()
	oldKey := f.intent.Key()
	f.mu.Unlock()
	if changed {
		f.dropSnapshot(oldKey)
	}
	return f.load(ctx, intent, true)
}

// Reset clears every step result and recomputes the steps for intent.
func (f *FlowMachine) Reset(ctx context.Context, intent model.Intent) model.FlowState {
	f.mu.Lock()
	oldKey := f.intent.Key()
	opened := f.opened
	f.mu.Unlock()
	if opened {
		f.dropSnapshot(oldKey)
	}
	f.dropSnapshot(intent.Key())
	logger.Info("resetting flow", zap.String("flowId", f.FlowId), zap.String("flow", string(intent.Type)))
	return f.load(ctx, intent, false)
}

func (f *FlowMachine) load(ctx context.Context, intent model.Intent, restore bool) model.FlowState {
	var plan *metadata.Plan
	var err error
	if f.deps.Metadata == nil {
		err = model.StructuralError{Message: "no step registry configured"}
	} else {
		plan, err = f.deps.Metadata.Resolve(ctx, intent)
	}
	var snapshot *model.FlowSnapshot
	if err == nil && restore && f.deps.Store != nil {
		snapshot, err = f.deps.Store.Get(ctx, intent.Key())
		if errors.Is(err, persistence.ErrSessionNotFound) {
			err = nil
		} else if err != nil {
			logger.Error("error loading flow session", zap.String("flowId", f.FlowId), zap.Error(err))
			snapshot, err = nil, nil
		}
	}

	f.mu.Lock()
	f.generation++
	f.intent = intent
	f.opened = true
	f.closed = false
	f.fatal = nil
	f.selectedFee = ""
	f.recordKey = ""
	f.record = nil
	f.tracker.Reset()
	f.attempts = make(map[model.StepName]uint64)
	drop := false
	if err != nil {
		f.steps = nil
		f.params = nil
		f.fatal = err
		logger.Error("flow can not be started", zap.String("flowId", f.FlowId), zap.String("flow", string(intent.Type)), zap.Error(err))
	} else {
		f.steps = plan.Steps
		f.params = plan.Params
		f.buildActionsLocked()
		if snapshot != nil {
			if snapshot.Form.Equal(intent.Form) && sameStepNames(snapshot.Steps, f.steps) {
				f.restoreLocked(snapshot)
			} else {
				drop = true
			}
		}
	}
	state := f.stateLocked()
	fatal := f.fatal
	f.mu.Unlock()

	if drop {
		f.dropSnapshot(intent.Key())
	}
	if fatal == nil {
		f.startTicker()
		logger.Info("flow opened", zap.String("flowId", f.FlowId), zap.String("flow", string(intent.Type)), zap.Int("steps", len(state.AllSteps)))
	}
	f.notify(state)
	return state
}

func (f *FlowMachine) buildActionsLocked() {
	f.actions = make(map[model.StepName]action.Action, len(f.steps))
	f.handlers = make(map[model.StepName]*action.Handler[action.Outcome], len(f.steps))
	for _, s := range f.steps {
		name := s.Name
		f.actions[name] = action.NewAction(name, f.deps.Submitter, f.deps.Poller)
		f.handlers[name] = action.NewHandler[action.Outcome](func(err error) {
			logger.Debug("step operation failed", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.Error(err))
		})
	}
}

func (f *FlowMachine) restoreLocked(snapshot *model.FlowSnapshot) {
	for i, saved := range snapshot.Steps {
		step := &f.steps[i]
		switch {
		case saved.Status == model.StepSuccess:
			step.Status = model.StepSuccess
			step.Disabled = false
			step.DisabledReason = ""
			step.Skipped = saved.Skipped
			step.Value = saved.Value
			step.Result = saved.Result
		case saved.Result != nil:
			// submitted before the flow was closed; a retry polls again instead of resubmitting
			step.Status = model.StepError
			step.Result = saved.Result
			step.Err = &model.StepFailure{Kind: model.ERROR_KIND_TIMEOUT, Reason: "confirmation interrupted"}
			if saved.Err != nil {
				step.Err = saved.Err
			}
		}
		if step.Name == model.StepFee && step.Status == model.StepSuccess {
			if v, ok := step.Value.(map[string]any); ok {
				if id, ok := v["id"].(string); ok {
					f.selectedFee = id
					if opt, ok := f.intent.FeeOption(id); ok {
						f.tracker.Watch(model.StepFee, opt.ExpiresAt)
					}
				}
			}
		}
	}
	f.recordKey = snapshot.RecordKey
	logger.Info("flow session restored", zap.String("flowId", f.FlowId), zap.String("key", snapshot.IntentKey))
}

func sameStepNames(a []model.Step, b []model.Step) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name {
			return false
		}
	}
	return true
}

// State returns the current flow state.
func (f *FlowMachine) State() model.FlowState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *FlowMachine) Intent() model.Intent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intent
}

// Record returns the optimistic or confirmed record produced by the final step.
func (f *FlowMachine) Record() (model.OrderRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record == nil {
		return model.OrderRecord{}, false
	}
	return *f.record, true
}

func (f *FlowMachine) stateLocked() model.FlowState {
	steps := make([]model.Step, len(f.steps))
	copy(steps, f.steps)
	for i := range steps {
		steps[i].CanExecute = f.canExecuteLocked(i)
	}
	state := model.DeriveFlowState(f.FlowId, steps, f.fatal)
	state.Closed = f.closed
	return state
}

func (f *FlowMachine) canExecuteLocked(idx int) bool {
	return f.executableLocked(idx, false)
}

// executableLocked reports whether step idx can run. With awaitingApproval set, an approval
// step that is only disabled because its check has not resolved does not block later steps.
func (f *FlowMachine) executableLocked(idx int, awaitingApproval bool) bool {
	if f.fatal != nil || f.closed || idx < 0 || idx >= len(f.steps) {
		return false
	}
	step := f.steps[idx]
	if step.Disabled || step.Status == model.StepPending || step.Status == model.StepSuccess {
		return false
	}
	for i := 0; i < idx; i++ {
		prior := f.steps[i]
		if awaitingApproval && prior.Name == model.StepApproval && prior.Disabled {
			continue
		}
		if prior.Status != model.StepSuccess {
			return false
		}
	}
	return true
}

func (f *FlowMachine) completedLocked() bool {
	return len(f.steps) > 0 && f.steps[len(f.steps)-1].Status == model.StepSuccess
}

// Advance executes the current step. It is a no-op when the current step can not execute.
func (f *FlowMachine) Advance(ctx context.Context) model.FlowState {
	f.mu.Lock()
	idx := model.CurrentStepIndex(f.steps)
	if idx < 0 {
		state := f.stateLocked()
		f.mu.Unlock()
		return state
	}
	name := f.steps[idx].Name
	f.mu.Unlock()
	return f.execute(ctx, name)
}

// Execute runs the named step. Calling it on a step in error retries that step only.
func (f *FlowMachine) Execute(ctx context.Context, name model.StepName) model.FlowState {
	return f.execute(ctx, name)
}

// Run advances until the flow succeeds, a step fails or waits for input, or the flow is closed.
func (f *FlowMachine) Run(ctx context.Context) model.FlowState {
	state := f.State()
	// bounded so a checker that keeps revoking the approval can not spin forever
	for i := 0; i < 2*len(state.AllSteps)+2; i++ {
		before := f.State()
		if before.Status == model.FlowSuccess || before.Status == model.FlowError || before.Closed || before.CurrentStep == nil {
			return before
		}
		if ctx.Err() != nil {
			return before
		}
		if !f.ready(before.CurrentStep.Name) {
			if !f.awaitingApproval(before.CurrentStep.Name) {
				return before
			}
			// only the unresolved approval check blocks the current step
			after := f.CheckAllowance(ctx)
			if f.awaitingApproval(before.CurrentStep.Name) {
				return after
			}
			continue
		}
		after := f.Advance(ctx)
		if after.Status == model.FlowError {
			return after
		}
		// a lazy allowance check can move the current step back to a newly required approval
		moved := after.CurrentStep != nil && after.CurrentStep.Name != before.CurrentStep.Name
		if countSuccess(after.AllSteps) <= countSuccess(before.AllSteps) && !moved {
			return after
		}
	}
	return f.State()
}

// ready reports whether Run may execute name without waiting for the user.
func (f *FlowMachine) ready(name model.StepName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.canExecuteLocked(indexOf(f.steps, name)) {
		return false
	}
	return name != model.StepFee || len(f.selectedFee) > 0
}

// awaitingApproval reports whether name is blocked only by an approval step whose check has
// not resolved yet.
func (f *FlowMachine) awaitingApproval(name model.StepName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := indexOf(f.steps, name)
	return !f.canExecuteLocked(idx) && f.executableLocked(idx, true)
}

func countSuccess(steps []model.Step) int {
	n := 0
	for _, s := range steps {
		if s.Status == model.StepSuccess {
			n++
		}
	}
	return n
}

func (f *FlowMachine) execute(ctx context.Context, name model.StepName) model.FlowState {
	checksAllowance := name == model.StepApproval || name.IsFinal()
	f.mu.Lock()
	if !f.canExecuteLocked(indexOf(f.steps, name)) {
		state := f.stateLocked()
		f.mu.Unlock()
		logger.Debug("step can not execute", zap.String("flowId", f.FlowId), zap.String("step", string(name)))
		return state
	}
	f.mu.Unlock()

	if checksAllowance {
		f.CheckAllowance(ctx)
	}

	f.mu.Lock()
	swept := f.sweepExpiredLocked()
	idx := indexOf(f.steps, name)
	if !f.canExecuteLocked(idx) {
		state := f.stateLocked()
		f.mu.Unlock()
		if swept {
			f.notify(state)
		}
		logger.Debug("step can not execute after re-check", zap.String("flowId", f.FlowId), zap.String("step", string(name)))
		return state
	}
	step := &f.steps[idx]
	var previous model.TransactionResult
	if step.Status == model.StepError && step.Err != nil && step.Err.Kind == model.ERROR_KIND_TIMEOUT {
		previous = step.Result
	}
	step.Status = model.StepPending
	step.Err = nil
	f.attempts[name]++
	attempt := f.attempts[name]
	generation := f.generation
	ec := f.executionContextLocked(name, previous)
	if name.IsFinal() {
		ec.OnSubmitted = func(result model.TransactionResult) {
			f.onSubmitted(generation, name, attempt, result)
		}
	}
	act := f.actions[name]
	handler := f.handlers[name]
	state := f.stateLocked()
	f.mu.Unlock()

	f.notify(state)
	logger.Debug("executing step", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.Uint64("attempt", attempt))

	// submissions are irrevocable once broadcast, so closing the flow must not cancel them
	var outcome action.Outcome
	res := handler.Execute(context.WithoutCancel(ctx), func(ctx context.Context) (action.Outcome, error) {
		o, err := act.Execute(ctx, ec)
		outcome = o
		return o, err
	})
	return f.apply(generation, name, attempt, outcome, res.Err)
}

func (f *FlowMachine) apply(generation uint64, name model.StepName, attempt uint64, outcome action.Outcome, err error) model.FlowState {
	f.mu.Lock()
	idx := indexOf(f.steps, name)
	if generation != f.generation || f.attempts[name] != attempt || idx < 0 {
		state := f.stateLocked()
		f.mu.Unlock()
		logger.Info("discarding stale step outcome", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.Error(err))
		return state
	}
	step := &f.steps[idx]
	if err != nil {
		stepErr := model.NewStepFailure(err)
		step.Status = model.StepError
		step.Err = stepErr
		step.Result = nil
		if stepErr.Kind == model.ERROR_KIND_TIMEOUT {
			step.Result = outcome.Result
		}
		if name.IsFinal() {
			f.settleRecordLocked(stepErr)
		}
		logger.Error("step failed", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.String("kind", string(stepErr.Kind)), zap.Error(err))
	} else {
		step.Status = model.StepSuccess
		step.Err = nil
		step.Value = outcome.Value
		step.Result = outcome.Result
		step.Invalidated = false
		step.InvalidationReason = ""
		if name == model.StepFee {
			if opt, ok := f.intent.FeeOption(f.selectedFee); ok {
				f.tracker.Watch(model.StepFee, opt.ExpiresAt)
			}
		}
		if name.IsFinal() {
			f.confirmRecordLocked(outcome)
		}
		logger.Info("step completed", zap.String("flowId", f.FlowId), zap.String("step", string(name)))
	}
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()

	f.persist(snap)
	if closed {
		return state
	}
	f.notify(state)
	return state
}

func (f *FlowMachine) onSubmitted(generation uint64, name model.StepName, attempt uint64, result model.TransactionResult) {
	f.mu.Lock()
	if generation != f.generation || f.attempts[name] != attempt {
		f.mu.Unlock()
		return
	}
	if idx := indexOf(f.steps, name); idx >= 0 {
		f.steps[idx].Result = result
	}
	if f.deps.Reconciler != nil {
		record := f.deps.Reconciler.Publish(f.intent, result)
		f.recordKey = record.CorrelationKey
		f.record = &record
	}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.persist(snap)
}

func (f *FlowMachine) settleRecordLocked(stepErr *model.StepFailure) {
	if f.deps.Reconciler == nil || len(f.recordKey) == 0 {
		return
	}
	var record model.OrderRecord
	var err error
	if stepErr.Kind == model.ERROR_KIND_TIMEOUT {
		record, err = f.deps.Reconciler.MarkUnconfirmed(f.recordKey, stepErr.Reason)
	} else {
		record, err = f.deps.Reconciler.Retract(f.recordKey)
		f.recordKey = ""
	}
	if err != nil {
		logger.Error("error settling optimistic record", zap.String("flowId", f.FlowId), zap.Error(err))
		return
	}
	f.record = &record
}

func (f *FlowMachine) confirmRecordLocked(outcome action.Outcome) {
	if f.deps.Reconciler == nil {
		return
	}
	if len(f.recordKey) == 0 && outcome.Result != nil {
		record := f.deps.Reconciler.Publish(f.intent, outcome.Result)
		f.recordKey = record.CorrelationKey
	}
	record, err := f.deps.Reconciler.Confirm(f.recordKey, outcome.Receipt)
	if err != nil && outcome.Result != nil {
		// restored sessions may outlive the record cache
		published := f.deps.Reconciler.Publish(f.intent, outcome.Result)
		record, err = f.deps.Reconciler.Confirm(published.CorrelationKey, outcome.Receipt)
	}
	if err != nil {
		logger.Error("error confirming optimistic record", zap.String("flowId", f.FlowId), zap.Error(err))
		return
	}
	f.recordKey = record.CorrelationKey
	f.record = &record
}

func (f *FlowMachine) executionContextLocked(name model.StepName, previous model.TransactionResult) *action.ExecutionContext {
	template := f.params[name]
	if template == nil {
		template = defaultParams(name)
	}
	return &action.ExecutionContext{
		Intent:              f.intent,
		Params:              util.ResolveParams(f.flowDataLocked(), template),
		SelectedFee:         f.selectedFee,
		Previous:            previous,
		ConfirmationTimeout: f.opts.ConfirmationTimeout,
		Now:                 f.now,
	}
}

// flowDataLocked is the document submit parameters are resolved against.
func (f *FlowMachine) flowDataLocked() map[string]any {
	data := map[string]any{
		"intent": map[string]any{
			"type":        string(f.intent.Type),
			"collection":  f.intent.Collection,
			"tokenId":     f.intent.TokenId,
			"orderId":     f.intent.OrderId,
			"marketplace": f.intent.Marketplace,
			"sponsored":   f.intent.Sponsored,
			"offChain":    f.intent.OffChain,
		},
		"wallet": map[string]any{
			"address": f.intent.Wallet.Address,
			"chainId": f.intent.Wallet.ChainId,
		},
		"form": f.intent.Form.ToMap(),
	}
	for _, s := range f.steps {
		if s.Status != model.StepSuccess {
			continue
		}
		entry := make(map[string]any)
		if v, ok := s.Value.(map[string]any); ok {
			for k, val := range v {
				entry[k] = val
			}
		}
		if s.Result != nil {
			entry["type"] = string(s.Result.Type())
			entry["ref"] = model.ResultReference(s.Result)
		}
		data[string(s.Name)] = entry
	}
	return data
}

func defaultParams(name model.StepName) map[string]any {
	switch name {
	case model.StepForm, model.StepFee:
		return nil
	case model.StepApproval:
		return map[string]any{
			"flow":       "$.intent.type",
			"collection": "$.intent.collection",
			"owner":      "$.wallet.address",
			"currency":   "$.form.currency",
			"chainId":    "$.wallet.chainId",
		}
	}
	return map[string]any{
		"flow":        "$.intent.type",
		"collection":  "$.intent.collection",
		"tokenId":     "$.intent.tokenId",
		"orderId":     "$.intent.orderId",
		"marketplace": "$.intent.marketplace",
		"quantity":    "$.form.quantity",
		"price":       "$.form.price",
		"currency":    "$.form.currency",
		"expiry":      "$.form.expiry",
		"recipient":   "$.form.recipient",
		"feeOption":   "$.fee.id",
		"sponsored":   "$.intent.sponsored",
		"account":     "$.wallet.address",
		"chainId":     "$.wallet.chainId",
	}
}

// Invalidate marks a step stale and resets every step after it.
func (f *FlowMachine) Invalidate(name model.StepName, reason string) (model.FlowState, error) {
	f.mu.Lock()
	changed, err := f.invalidateLocked(name, reason)
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	if err != nil {
		return state, err
	}
	if changed {
		f.persist(snap)
		if !closed {
			f.notify(state)
		}
	}
	return state, nil
}

func (f *FlowMachine) invalidateLocked(name model.StepName, reason string) (bool, error) {
	if f.completedLocked() {
		logger.Debug("flow completed, ignoring invalidation", zap.String("flowId", f.FlowId), zap.String("step", string(name)))
		return false, nil
	}
	idx, changed, err := f.tracker.MarkInvalidated(f.steps, name, reason)
	if errors.Is(err, ErrStepInFlight) {
		logger.Info("step in flight, invalidation refused", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.String("reason", reason))
	}
	if err != nil || !changed {
		return false, err
	}
	f.bumpAttemptsLocked(idx)
	logger.Info("step invalidated", zap.String("flowId", f.FlowId), zap.String("step", string(name)), zap.String("reason", reason))
	return true, nil
}

// bumpAttemptsLocked makes outcomes still in flight for steps from idx on stale.
func (f *FlowMachine) bumpAttemptsLocked(idx int) {
	for i := idx; i < len(f.steps); i++ {
		f.attempts[f.steps[i].Name]++
	}
}

func (f *FlowMachine) sweepExpiredLocked() bool {
	swept := false
	for _, name := range f.tracker.Expired(f.now()) {
		changed, err := f.invalidateLocked(name, REASON_QUOTE_EXPIRED)
		if errors.Is(err, ErrStepInFlight) {
			// kept watched, the next sweep retries once the step settled
			continue
		}
		f.tracker.Forget(name)
		if err == nil && changed {
			swept = true
		}
	}
	return swept
}

// CheckAllowance re-reads the allowance and folds it into the approval step.
func (f *FlowMachine) CheckAllowance(ctx context.Context) model.FlowState {
	f.mu.Lock()
	if f.deps.Allowance == nil || f.closed || indexOf(f.steps, model.StepApproval) < 0 || f.completedLocked() {
		state := f.stateLocked()
		f.mu.Unlock()
		return state
	}
	intent := f.intent
	generation := f.generation
	f.mu.Unlock()

	req, err := f.deps.Allowance.CheckApproval(ctx, intent)
	if err != nil {
		logger.Warn("error checking allowance", zap.String("flowId", f.FlowId), zap.Error(err))
		return f.State()
	}
	return f.applyApproval(generation, req)
}

// UpdateApproval folds an externally observed approval requirement into the flow.
func (f *FlowMachine) UpdateApproval(req model.Requirement) model.FlowState {
	f.mu.Lock()
	generation := f.generation
	f.mu.Unlock()
	return f.applyApproval(generation, req)
}

func (f *FlowMachine) applyApproval(generation uint64, req model.Requirement) model.FlowState {
	f.mu.Lock()
	if generation != f.generation || f.completedLocked() {
		state := f.stateLocked()
		f.mu.Unlock()
		return state
	}
	idx, changed := f.tracker.ApplyApproval(f.steps, req)
	if idx >= 0 {
		f.bumpAttemptsLocked(idx)
		logger.Info("approval invalidated", zap.String("flowId", f.FlowId), zap.String("reason", REASON_ALLOWANCE_CHANGED))
	}
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	if changed {
		f.persist(snap)
		if !closed {
			f.notify(state)
		}
	}
	return state
}

// CheckInvalidation sweeps expired quotes and re-reads the allowance.
func (f *FlowMachine) CheckInvalidation(ctx context.Context) model.FlowState {
	f.mu.Lock()
	swept := f.sweepExpiredLocked()
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	if swept {
		f.persist(snap)
		if !closed {
			f.notify(state)
		}
	}
	return f.CheckAllowance(ctx)
}

// SetFormValues updates the user input. When a step from the form on already ran, the form
// step is invalidated. It is a no-op while a step is pending.
func (f *FlowMachine) SetFormValues(form model.FormValues) model.FlowState {
	f.mu.Lock()
	if f.intent.Form.Equal(form) || f.completedLocked() || f.inFlightLocked() {
		state := f.stateLocked()
		f.mu.Unlock()
		return state
	}
	f.intent.Form = form
	if idx := indexOf(f.steps, model.StepForm); idx >= 0 && f.progressFromLocked(idx) {
		f.invalidateLocked(model.StepForm, REASON_FORM_CHANGED)
	}
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	f.persist(snap)
	if !closed {
		f.notify(state)
	}
	return state
}

func (f *FlowMachine) inFlightLocked() bool {
	for _, s := range f.steps {
		if s.Status == model.StepPending {
			return true
		}
	}
	return false
}

func (f *FlowMachine) progressFromLocked(idx int) bool {
	for i := idx; i < len(f.steps); i++ {
		if f.steps[i].Status != model.StepIdle {
			return true
		}
	}
	return false
}

// SelectFee picks the fee option used by the fee step. Changing it after the fee step
// completed invalidates that step.
func (f *FlowMachine) SelectFee(id string) (model.FlowState, error) {
	f.mu.Lock()
	if _, ok := f.intent.FeeOption(id); !ok {
		state := f.stateLocked()
		f.mu.Unlock()
		return state, fmt.Errorf("%w: unknown fee option %s", model.ErrValidation, id)
	}
	if f.selectedFee == id {
		state := f.stateLocked()
		f.mu.Unlock()
		return state, nil
	}
	if f.inFlightLocked() {
		state := f.stateLocked()
		f.mu.Unlock()
		return state, fmt.Errorf("%w: fee option can not change", ErrStepInFlight)
	}
	previous := f.selectedFee
	f.selectedFee = id
	if idx := indexOf(f.steps, model.StepFee); idx >= 0 && len(previous) > 0 && f.progressFromLocked(idx) {
		f.invalidateLocked(model.StepFee, REASON_FEE_CHANGED)
	}
	state := f.stateLocked()
	snap := f.snapshotLocked()
	closed := f.closed
	f.mu.Unlock()
	f.persist(snap)
	if !closed {
		f.notify(state)
	}
	return state, nil
}

// Close detaches the flow from its caller. In-flight submissions keep running and their outcome
// is still persisted, but no further state is emitted and nothing advances on its own. It does
// not wait for a running invalidation tick, so subscribers may call it from a notification.
func (f *FlowMachine) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	ticker := f.ticker
	f.ticker = nil
	snap := f.snapshotLocked()
	f.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
	}
	f.persist(snap)
	logger.Info("flow closed", zap.String("flowId", f.FlowId))
}

func (f *FlowMachine) startTicker() {
	if f.opts.InvalidationInterval <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ticker != nil || f.closed {
		return
	}
	f.ticker = util.NewTickWorker("invalidation-"+f.FlowId, f.opts.InvalidationInterval, func() {
		f.CheckInvalidation(context.Background())
	})
	f.ticker.Start()
}

func (f *FlowMachine) snapshotLocked() *model.FlowSnapshot {
	if !f.opened || f.fatal != nil {
		return nil
	}
	steps := make([]model.Step, len(f.steps))
	copy(steps, f.steps)
	return &model.FlowSnapshot{
		IntentKey: f.intent.Key(),
		Form:      f.intent.Form,
		Steps:     steps,
		RecordKey: f.recordKey,
	}
}

func (f *FlowMachine) persist(snap *model.FlowSnapshot) {
	if f.deps.Store == nil || snap == nil {
		return
	}
	if err := f.deps.Store.Save(context.Background(), snap.IntentKey, snap); err != nil {
		logger.Error("error saving flow session", zap.String("flowId", f.FlowId), zap.Error(err))
	}
}

func (f *FlowMachine) dropSnapshot(key string) {
	if f.deps.Store == nil {
		return
	}
	if err := f.deps.Store.Delete(context.Background(), key); err != nil {
		logger.Error("error deleting flow session", zap.String("flowId", f.FlowId), zap.Error(err))
	}
}

func (f *FlowMachine) notify(state model.FlowState) {
	f.mu.Lock()
	subs := make([]func(model.FlowState), 0, len(f.subscribers))
	for _, s := range f.subscribers {
		subs = append(subs, s)
	}
	f.mu.Unlock()
	for _, s := range subs {
		s(state)
	}
}

func (f *FlowMachine) now() time.Time {
	if f.opts.Now != nil {
		return f.opts.Now()
	}
	return time.Now()
}
