package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJsonEncDec(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, encDec *JsonEncDec[sample]){
		"round trip": func(t *testing.T, encDec *JsonEncDec[sample]) {
			data, err := encDec.Encode(sample{Name: "fee", Count: 2})
			require.NoError(t, err)
			require.JSONEq(t, `{"version":2,"data":{"name":"fee","count":2}}`, string(data))

			decoded, err := encDec.Decode(data)
			require.NoError(t, err)
			require.Equal(t, sample{Name: "fee", Count: 2}, *decoded)
		},
		"older version": func(t *testing.T, encDec *JsonEncDec[sample]) {
			data, err := NewJsonEncoderDecoder[sample](1).Encode(sample{Name: "fee"})
			require.NoError(t, err)
			_, err = encDec.Decode(data)
			require.ErrorIs(t, err, ErrVersionMismatch)
		},
		"untagged json": func(t *testing.T, encDec *JsonEncDec[sample]) {
			_, err := encDec.Decode([]byte(`{"name":"fee","count":2}`))
			require.ErrorIs(t, err, ErrVersionMismatch)
		},
		"garbage": func(t *testing.T, encDec *JsonEncDec[sample]) {
			_, err := encDec.Decode([]byte("not json"))
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrVersionMismatch)
		},
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, NewJsonEncoderDecoder[sample](2))
		})
	}
}
