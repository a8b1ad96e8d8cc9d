package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

type FlowType string

const (
	FLOW_TYPE_BUY            FlowType = "buy"
	FLOW_TYPE_SELL           FlowType = "sell"
	FLOW_TYPE_CREATE_LISTING FlowType = "createListing"
	FLOW_TYPE_MAKE_OFFER     FlowType = "makeOffer"
	FLOW_TYPE_TRANSFER       FlowType = "transfer"
)

func ToFlowType(ft string) (FlowType, error) {
	for _, t := range []FlowType{FLOW_TYPE_BUY, FLOW_TYPE_SELL, FLOW_TYPE_CREATE_LISTING, FLOW_TYPE_MAKE_OFFER, FLOW_TYPE_TRANSFER} {
		if strings.EqualFold(ft, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedFlow, ft)
}

// Requirement is the answer of an upstream check such as "does this order need an approval".
type Requirement string

const (
	REQUIREMENT_UNDETERMINED Requirement = "undetermined"
	REQUIREMENT_REQUIRED     Requirement = "required"
	REQUIREMENT_NOT_REQUIRED Requirement = "notRequired"
)

type FeeOption struct {
	Id        string    `json:"id"`
	Currency  string    `json:"currency"`
	Amount    string    `json:"amount"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

type FormValues struct {
	Quantity  int64     `json:"quantity,omitempty"`
	Price     string    `json:"price,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	Expiry    time.Time `json:"expiry,omitempty"`
	Recipient string    `json:"recipient,omitempty"`
}

func (f FormValues) Equal(o FormValues) bool {
	return f.Quantity == o.Quantity &&
		f.Price == o.Price &&
		strings.EqualFold(f.Currency, o.Currency) &&
		f.Expiry.Equal(o.Expiry) &&
		strings.EqualFold(f.Recipient, o.Recipient)
}

func (f FormValues) ToMap() map[string]any {
	m := map[string]any{
		"quantity":  f.Quantity,
		"price":     f.Price,
		"currency":  f.Currency,
		"recipient": f.Recipient,
	}
	if !f.Expiry.IsZero() {
		m["expiry"] = f.Expiry.Unix()
	}
	return m
}

// Wallet is read only for the orchestrator.
type Wallet struct {
	Address string `json:"address"`
	ChainId uint64 `json:"chainId"`
}

type Intent struct {
	Type        FlowType    `json:"type"`
	Collection  string      `json:"collection"`
	TokenId     string      `json:"tokenId"`
	OrderId     string      `json:"orderId,omitempty"`
	MaxQuantity int64       `json:"maxQuantity,omitempty"`
	Marketplace string      `json:"marketplace,omitempty"`
	OffChain    bool        `json:"offChain,omitempty"`
	Sponsored   bool        `json:"sponsored,omitempty"`
	FeeOptions  []FeeOption `json:"feeOptions,omitempty"`
	Approval    Requirement `json:"approval,omitempty"`
	Form        FormValues  `json:"form"`
	Wallet      Wallet      `json:"wallet"`
}

// Key identifies the intent independently of the editable form values.
func (in Intent) Key() string {
	raw := strings.Join([]string{
		string(in.Type),
		strings.ToLower(in.Collection),
		in.TokenId,
		in.OrderId,
		in.Marketplace,
		strings.ToLower(in.Wallet.Address),
		fmt.Sprintf("%d", in.Wallet.ChainId),
		fmt.Sprintf("%t", in.OffChain),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

func (in Intent) FeeOption(id string) (FeeOption, bool) {
	for _, o := range in.FeeOptions {
		if o.Id == id {
			return o, true
		}
	}
	return FeeOption{}, false
}
