package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/txflow/confirm"
	"github.com/mohitkumar/txflow/container"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/metadata"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

// Script drives the behaviour of a sandbox chain. The zero value approves nothing, confirms
// every submission on the first lookup and never fails.
type Script struct {
	// Approval is what the step generator reports for flows that can need one.
	Approval model.Requirement
	// Allowance overrides what later allowance checks report. When empty, checks report the
	// generator's answer until an approval step was confirmed.
	Allowance     model.Requirement
	RejectSubmits int
	NetworkErrors int
	PendingPolls  int
	Revert        bool
	NeverConfirm  bool
	Latency       time.Duration
	// MarketplaceFee is added as the only fee of confirmed records.
	MarketplaceFee string
}

type Submission struct {
	Step   model.StepName
	Params map[string]any
	Result model.TransactionResult
}

// Chain is an in-process stand-in for the wallet, the chain and the marketplace backend.
type Chain struct {
	mu          sync.Mutex
	script      Script
	failures    int
	block       uint64
	approved    bool
	fetches     map[string]int
	submitted   map[string]Submission
	submissions []Submission
}

var _ metadata.StepGenerator = new(Chain)
var _ confirm.ReceiptFetcher = new(Chain)

func NewChain(script Script) *Chain {
	return &Chain{
		script:    script,
		block:     1000,
		fetches:   make(map[string]int),
		submitted: make(map[string]Submission),
	}
}

// Collaborators exposes the chain as every collaborator a flow needs.
func (c *Chain) Collaborators() container.Collaborators {
	return container.Collaborators{
		Generator: c,
		Submitter: c,
		Fetcher:   c,
		Allowance: c,
	}
}

func (c *Chain) GenerateSteps(ctx context.Context, intent model.Intent) (*model.StepPlan, error) {
	def, err := metadata.Lookup(intent.Type)
	if err != nil {
		return nil, err
	}
	plan := &model.StepPlan{}
	if def.UsesApproval && len(c.script.Approval) > 0 {
		plan.Steps = append(plan.Steps, model.RequiredStepDescriptor{
			Name:        model.StepApproval,
			Requirement: c.script.Approval,
			Params: map[string]any{
				"operator":   intent.Marketplace,
				"collection": "$.intent.collection",
				"owner":      "$.wallet.address",
			},
		})
	}
	return plan, nil
}

func (c *Chain) Submit(ctx context.Context, step model.StepName, params map[string]any) (model.TransactionResult, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures < c.script.RejectSubmits {
		c.failures++
		return nil, model.ErrUserRejected
	}
	if c.failures < c.script.RejectSubmits+c.script.NetworkErrors {
		c.failures++
		return nil, fmt.Errorf("%w: rpc unavailable", model.ErrNetwork)
	}
	var result model.TransactionResult
	switch {
	case step == model.StepSignature:
		result = model.SignatureOrder{OrderId: "order-" + uuid.New().String()}
	case params["sponsored"] == true:
		result = model.SponsoredHash{Hash: newHash()}
	default:
		result = model.TransactionHash{Hash: newHash()}
	}
	sub := Submission{Step: step, Params: params, Result: result}
	c.submissions = append(c.submissions, sub)
	c.submitted[model.ResultReference(result)] = sub
	logger.Debug("sandbox submission", zap.String("step", string(step)), zap.String("ref", model.ResultReference(result)))
	return result, nil
}

func (c *Chain) FetchReceipt(ctx context.Context, result model.TransactionResult) (*model.ConfirmedReceipt, error) {
	ref := model.ResultReference(result)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetches[ref]++
	if c.script.NeverConfirm || c.fetches[ref] <= c.script.PendingPolls {
		return nil, confirm.ErrPending
	}
	sub, ok := c.submitted[ref]
	if !ok {
		return nil, model.ErrNotFound
	}
	if c.script.Revert {
		return nil, model.ErrReverted
	}
	c.block++
	receipt := &model.ConfirmedReceipt{BlockNumber: c.block}
	switch v := result.(type) {
	case model.SignatureOrder:
		receipt.OrderId = v.OrderId
	case model.TransactionHash:
		receipt.Hash = v.Hash
	case model.SponsoredHash:
		receipt.Hash = v.Hash
	}
	if sub.Step == model.StepApproval {
		c.approved = true
		return receipt, nil
	}
	receipt.Record = c.recordLocked(sub, receipt)
	return receipt, nil
}

func (c *Chain) recordLocked(sub Submission, receipt *model.ConfirmedReceipt) *model.OrderRecord {
	flowType, _ := model.ToFlowType(stringParam(sub.Params, "flow"))
	orderId := receipt.OrderId
	if len(orderId) == 0 {
		orderId = stringParam(sub.Params, "orderId")
	}
	if len(orderId) == 0 {
		orderId = "order-" + strings.TrimPrefix(receipt.Hash, "0x")[:16]
	}
	record := &model.OrderRecord{
		CorrelationKey: orderId,
		OrderId:        orderId,
		Kind:           model.RecordKindFor(flowType),
		Collection:     stringParam(sub.Params, "collection"),
		TokenId:        stringParam(sub.Params, "tokenId"),
		Price:          stringParam(sub.Params, "price"),
		Currency:       stringParam(sub.Params, "currency"),
		Maker:          stringParam(sub.Params, "account"),
		TxHash:         receipt.Hash,
		BlockNumber:    receipt.BlockNumber,
		Fees:           []model.Fee{},
		CreatedAt:      time.Now(),
	}
	if q, ok := sub.Params["quantity"].(int64); ok {
		record.Quantity = q
	}
	if exp, ok := sub.Params["expiry"].(int64); ok {
		record.Expiry = time.Unix(exp, 0)
	}
	if len(c.script.MarketplaceFee) > 0 {
		record.Fees = append(record.Fees, model.Fee{
			Recipient: stringParam(sub.Params, "marketplace"),
			Amount:    c.script.MarketplaceFee,
		})
	}
	return record
}

func (c *Chain) CheckApproval(ctx context.Context, intent model.Intent) (model.Requirement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.script.Allowance) > 0 {
		return c.script.Allowance, nil
	}
	if c.approved {
		return model.REQUIREMENT_NOT_REQUIRED, nil
	}
	if c.script.Approval == model.REQUIREMENT_UNDETERMINED || len(c.script.Approval) == 0 {
		return model.REQUIREMENT_NOT_REQUIRED, nil
	}
	return c.script.Approval, nil
}

// SetAllowance changes what allowance checks report from now on.
func (c *Chain) SetAllowance(req model.Requirement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script.Allowance = req
}

func (c *Chain) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

func (c *Chain) wait(ctx context.Context) error {
	if c.script.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(c.script.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHash() string {
	return "0x" + strings.ReplaceAll(uuid.New().String(), "-", "") + strings.ReplaceAll(uuid.New().String(), "-", "")
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}
