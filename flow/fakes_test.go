package flow

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mohitkumar/txflow/cache"
	"github.com/mohitkumar/txflow/metadata"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/mohitkumar/txflow/persistence/memory"
	"github.com/mohitkumar/txflow/reconcile"
	"github.com/stretchr/testify/require"
)

// fakeWallet submits and confirms immediately unless errors are queued or a gate is set.
type fakeWallet struct {
	mu         sync.Mutex
	submitErrs []error
	pollErrs   []error
	submitted  []model.StepName
	params     map[model.StepName]map[string]any
	polls      int
	gate       chan struct{}
	entered    chan struct{}
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{params: make(map[model.StepName]map[string]any)}
}

// hold makes the next submissions block until release is called.
func (w *fakeWallet) hold() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.gate = make(chan struct{})
	w.entered = make(chan struct{}, 1)
}

func (w *fakeWallet) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.gate)
	w.gate = nil
}

func (w *fakeWallet) Submit(ctx context.Context, step model.StepName, params map[string]any) (model.TransactionResult, error) {
	w.mu.Lock()
	gate, entered := w.gate, w.entered
	w.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.submitted = append(w.submitted, step)
	w.params[step] = params
	if len(w.submitErrs) > 0 {
		err := w.submitErrs[0]
		w.submitErrs = w.submitErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if step == model.StepSignature {
		return model.SignatureOrder{OrderId: fmt.Sprintf("order-%d", len(w.submitted))}, nil
	}
	return model.TransactionHash{Hash: fmt.Sprintf("0x%04d", len(w.submitted))}, nil
}

func (w *fakeWallet) PollConfirmation(ctx context.Context, result model.TransactionResult, timeout time.Duration) (*model.ConfirmedReceipt, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.polls++
	if len(w.pollErrs) > 0 {
		err := w.pollErrs[0]
		w.pollErrs = w.pollErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	receipt := &model.ConfirmedReceipt{BlockNumber: uint64(100 + w.polls)}
	switch v := result.(type) {
	case model.SignatureOrder:
		receipt.OrderId = v.OrderId
	default:
		receipt.Hash = model.ResultReference(v)
	}
	return receipt, nil
}

func (w *fakeWallet) submissions() []model.StepName {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]model.StepName(nil), w.submitted...)
}

func (w *fakeWallet) pollCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.polls
}

type harness struct {
	t          *testing.T
	wallet     *fakeWallet
	store      persistence.SessionStore
	reconciler *reconcile.Reconciler
	opts       Options

	mu        sync.Mutex
	clock     time.Time
	approval  model.Requirement
	allowance model.Requirement
	states    []model.FlowState
}

func newHarness(t *testing.T) *harness {
	h := &harness{
		t:          t,
		wallet:     newFakeWallet(),
		store:      memory.NewSessionStore(time.Hour),
		reconciler: reconcile.NewReconciler(cache.NewRecordCache(time.Hour)),
		clock:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		allowance:  model.REQUIREMENT_UNDETERMINED,
	}
	h.opts = Options{
		ConfirmationTimeout: time.Minute,
		Now:                 h.now,
	}
	return h
}

func (h *harness) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clock
}

func (h *harness) advanceClock(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clock = h.clock.Add(d)
}

func (h *harness) setAllowance(req model.Requirement) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.allowance = req
}

func (h *harness) newMachine() *FlowMachine {
	generator := metadata.GeneratorFunc(func(ctx context.Context, intent model.Intent) (*model.StepPlan, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		plan := &model.StepPlan{}
		if len(h.approval) > 0 {
			plan.Steps = append(plan.Steps, model.RequiredStepDescriptor{Name: model.StepApproval, Requirement: h.approval})
		}
		return plan, nil
	})
	allowance := AllowanceFunc(func(ctx context.Context, intent model.Intent) (model.Requirement, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.allowance, nil
	})
	machine := NewFlowMachine(Dependencies{
		Metadata:   metadata.NewService(generator),
		Submitter:  h.wallet,
		Poller:     h.wallet,
		Allowance:  allowance,
		Reconciler: h.reconciler,
		Store:      h.store,
	}, h.opts)
	machine.Subscribe(func(state model.FlowState) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.states = append(h.states, state)
	})
	return machine
}

func (h *harness) emitted() []model.FlowState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]model.FlowState(nil), h.states...)
}

func (h *harness) sellIntent() model.Intent {
	return model.Intent{
		Type:        model.FLOW_TYPE_SELL,
		Collection:  "0xcollection",
		TokenId:     "11",
		OrderId:     "bid-1",
		MaxQuantity: 2,
		Marketplace: "market",
		Form:        model.FormValues{Quantity: 1},
		Wallet:      model.Wallet{Address: "0xseller", ChainId: 1},
	}
}

func (h *harness) buyIntent() model.Intent {
	now := h.now()
	return model.Intent{
		Type:        model.FLOW_TYPE_BUY,
		Collection:  "0xcollection",
		TokenId:     "12",
		OrderId:     "listing-1",
		MaxQuantity: 1,
		Marketplace: "market",
		FeeOptions: []model.FeeOption{
			{Id: "eth", Currency: "ETH", Amount: "0.001", ExpiresAt: now.Add(time.Minute)},
			{Id: "usdc", Currency: "USDC", Amount: "3", ExpiresAt: now.Add(time.Minute)},
		},
		Approval: model.REQUIREMENT_NOT_REQUIRED,
		Form:     model.FormValues{Quantity: 1},
		Wallet:   model.Wallet{Address: "0xbuyer", ChainId: 1},
	}
}

func (h *harness) listingIntent() model.Intent {
	return model.Intent{
		Type:        model.FLOW_TYPE_CREATE_LISTING,
		Collection:  "0xcollection",
		TokenId:     "13",
		Marketplace: "market",
		OffChain:    true,
		Form: model.FormValues{
			Quantity: 1,
			Price:    "1.25",
			Currency: "ETH",
			Expiry:   h.now().Add(24 * time.Hour),
		},
		Wallet: model.Wallet{Address: "0xlister", ChainId: 1},
	}
}

func stepByName(t *testing.T, state model.FlowState, name model.StepName) model.Step {
	for _, s := range state.AllSteps {
		if s.Name == name {
			return s
		}
	}
	require.Failf(t, "step missing", "step %s not in flow", name)
	return model.Step{}
}

func statuses(state model.FlowState) []model.StepStatus {
	out := make([]model.StepStatus, 0, len(state.AllSteps))
	for _, s := range state.AllSteps {
		out = append(out, s.Status)
	}
	return out
}

// requireConsistent checks the invariants every emitted state must hold.
func requireConsistent(t *testing.T, state model.FlowState) {
	allSuccess := len(state.AllSteps) > 0
	pending := 0
	for _, s := range state.AllSteps {
		if s.Status != model.StepSuccess {
			allSuccess = false
		}
		if s.Status == model.StepPending {
			pending++
		}
	}
	require.LessOrEqual(t, pending, 1)
	require.Equal(t, len(state.AllSteps), state.Progress.Total)
	if len(state.FatalError) == 0 {
		require.Equal(t, allSuccess, state.Status == model.FlowSuccess)
	}
}
