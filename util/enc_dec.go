package util

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrVersionMismatch = errors.New("encoded version mismatch")

type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type envelope struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// JsonEncDec writes values as JSON tagged with a layout version. Data written under another
// version, including untagged JSON, fails to decode with ErrVersionMismatch.
type JsonEncDec[T any] struct {
	version int
}

var _ EncoderDecoder[any] = new(JsonEncDec[any])

func NewJsonEncoderDecoder[T any](version int) *JsonEncDec[T] {
	return &JsonEncDec[T]{version: version}
}

func (encdec *JsonEncDec[T]) Encode(value T) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Version: encdec.version, Data: data})
}

func (encdec *JsonEncDec[T]) Decode(data []byte) (*T, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env.Version != encdec.version || len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, env.Version, encdec.version)
	}
	var res T
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}
