package model

import (
	"encoding/json"
	"fmt"
)

type ResultType string

const (
	RESULT_TYPE_TRANSACTION ResultType = "transaction"
	RESULT_TYPE_SIGNATURE   ResultType = "signature"
	RESULT_TYPE_SPONSORED   ResultType = "sponsored"
)

// TransactionResult is the outcome of a submitted step. Implementations are limited to
// TransactionHash, SignatureOrder and SponsoredHash.
type TransactionResult interface {
	Type() ResultType
	isTransactionResult()
}

type TransactionHash struct {
	Hash string
}

type SignatureOrder struct {
	OrderId string
}

type SponsoredHash struct {
	Hash string
}

func (TransactionHash) Type() ResultType { return RESULT_TYPE_TRANSACTION }
func (SignatureOrder) Type() ResultType  { return RESULT_TYPE_SIGNATURE }
func (SponsoredHash) Type() ResultType   { return RESULT_TYPE_SPONSORED }

func (TransactionHash) isTransactionResult() {}
func (SignatureOrder) isTransactionResult()  {}
func (SponsoredHash) isTransactionResult()   {}

// ResultReference returns the hash or order id carried by a result.
func ResultReference(r TransactionResult) string {
	switch v := r.(type) {
	case TransactionHash:
		return v.Hash
	case SponsoredHash:
		return v.Hash
	case SignatureOrder:
		return v.OrderId
	}
	return ""
}

type resultEnvelope struct {
	Type    ResultType `json:"type"`
	Hash    string     `json:"hash,omitempty"`
	OrderId string     `json:"orderId,omitempty"`
}

func MarshalResult(r TransactionResult) ([]byte, error) {
	if r == nil {
		return []byte("null"), nil
	}
	env := resultEnvelope{Type: r.Type()}
	switch v := r.(type) {
	case TransactionHash:
		env.Hash = v.Hash
	case SponsoredHash:
		env.Hash = v.Hash
	case SignatureOrder:
		env.OrderId = v.OrderId
	default:
		return nil, fmt.Errorf("unknown transaction result %T", r)
	}
	return json.Marshal(env)
}

func UnmarshalResult(data []byte) (TransactionResult, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var env resultEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Type {
	case RESULT_TYPE_TRANSACTION:
		return TransactionHash{Hash: env.Hash}, nil
	case RESULT_TYPE_SPONSORED:
		return SponsoredHash{Hash: env.Hash}, nil
	case RESULT_TYPE_SIGNATURE:
		return SignatureOrder{OrderId: env.OrderId}, nil
	}
	return nil, fmt.Errorf("unknown transaction result type %q", env.Type)
}

type stepAlias Step

type stepJSON struct {
	stepAlias
	Result json.RawMessage `json:"result,omitempty"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	out := stepJSON{stepAlias: stepAlias(s)}
	if s.Result != nil {
		res, err := MarshalResult(s.Result)
		if err != nil {
			return nil, err
		}
		out.Result = res
	}
	return json.Marshal(out)
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var in stepJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	res, err := UnmarshalResult(in.Result)
	if err != nil {
		return err
	}
	*s = Step(in.stepAlias)
	s.Result = res
	return nil
}
