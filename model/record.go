package model

import "time"

type RecordKind string

const (
	RECORD_KIND_LISTING  RecordKind = "listing"
	RECORD_KIND_OFFER    RecordKind = "offer"
	RECORD_KIND_SALE     RecordKind = "sale"
	RECORD_KIND_TRANSFER RecordKind = "transfer"
)

type RecordState string

const (
	RECORD_OPTIMISTIC  RecordState = "optimistic"
	RECORD_CONFIRMED   RecordState = "confirmed"
	RECORD_UNCONFIRMED RecordState = "unconfirmed"
	RECORD_RETRACTED   RecordState = "retracted"
)

type Fee struct {
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// OrderRecord is the domain object produced by a completed flow. Optimistic records carry
// placeholders for the fields only the backend can fill.
type OrderRecord struct {
	CorrelationKey string      `json:"correlationKey"`
	OrderId        string      `json:"orderId,omitempty"`
	Kind           RecordKind  `json:"kind"`
	Collection     string      `json:"collection"`
	TokenId        string      `json:"tokenId"`
	Price          string      `json:"price,omitempty"`
	Currency       string      `json:"currency,omitempty"`
	Quantity       int64       `json:"quantity"`
	Expiry         time.Time   `json:"expiry,omitempty"`
	Maker          string      `json:"maker"`
	TxHash         string      `json:"txHash,omitempty"`
	BlockNumber    uint64      `json:"blockNumber"`
	PriceUSD       string      `json:"priceUsd,omitempty"`
	Fees           []Fee       `json:"fees"`
	State          RecordState `json:"state"`
	StateReason    string      `json:"stateReason,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

func RecordKindFor(t FlowType) RecordKind {
	switch t {
	case FLOW_TYPE_CREATE_LISTING:
		return RECORD_KIND_LISTING
	case FLOW_TYPE_MAKE_OFFER:
		return RECORD_KIND_OFFER
	case FLOW_TYPE_TRANSFER:
		return RECORD_KIND_TRANSFER
	}
	return RECORD_KIND_SALE
}
