package action

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, handler *Handler[string], errs *[]string,
	){
		"success stores data":                     testHandlerSuccess,
		"failure clears data":                     testHandlerFailure,
		"loading keeps previous data":             testHandlerLoadingKeepsData,
		"error callbacks run in order":            testHandlerErrorOrder,
		"panic becomes error":                     testHandlerPanic,
		"call while loading is refused":           testHandlerInFlight,
		"cancelled context fails without running": testHandlerCancelled,
	} {
		t.Run(scenario, func(t *testing.T) {
			var errs []string
			handler := NewHandler[string](func(err error) {
				errs = append(errs, "handler:"+err.Error())
			})
			fn(t, handler, &errs)
		})
	}
}

func testHandlerSuccess(t *testing.T, handler *Handler[string], errs *[]string) {
	var got string
	res := handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "0xabc", nil
	}, OnSuccess[string](func(s string) { got = s }))

	require.NoError(t, res.Err)
	require.NotNil(t, res.Data)
	require.Equal(t, "0xabc", *res.Data)
	require.False(t, res.IsLoading)
	require.True(t, res.IsComplete)
	require.Equal(t, "0xabc", got)
	require.Equal(t, res, handler.State())
	require.Empty(t, *errs)
}

func testHandlerFailure(t *testing.T, handler *Handler[string], errs *[]string) {
	handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "first", nil
	})
	res := handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("boom")
	})

	require.EqualError(t, res.Err, "boom")
	require.Nil(t, res.Data)
	require.False(t, res.IsLoading)
	require.True(t, res.IsComplete)
}

func testHandlerLoadingKeepsData(t *testing.T, handler *Handler[string], errs *[]string) {
	handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "first", nil
	})
	var during Result[string]
	handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		during = handler.State()
		return "second", nil
	})

	require.True(t, during.IsLoading)
	require.False(t, during.IsComplete)
	require.NoError(t, during.Err)
	require.NotNil(t, during.Data)
	require.Equal(t, "first", *during.Data)
	require.Equal(t, "second", *handler.State().Data)
}

func testHandlerErrorOrder(t *testing.T, handler *Handler[string], errs *[]string) {
	successCalled := false
	handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("rejected")
	},
		OnSuccess[string](func(string) { successCalled = true }),
		OnError[string](func(err error) { *errs = append(*errs, "call:"+err.Error()) }),
	)

	require.False(t, successCalled)
	require.Equal(t, []string{"handler:rejected", "call:rejected"}, *errs)
}

func testHandlerPanic(t *testing.T, handler *Handler[string], errs *[]string) {
	res := handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		panic("wallet crashed")
	})

	require.Error(t, res.Err)
	require.Contains(t, res.Err.Error(), "wallet crashed")
	require.False(t, res.IsLoading)
	require.True(t, res.IsComplete)
	require.Len(t, *errs, 1)
}

func testHandlerInFlight(t *testing.T, handler *Handler[string], errs *[]string) {
	var nested Result[string]
	res := handler.Execute(context.Background(), func(ctx context.Context) (string, error) {
		nested = handler.Execute(ctx, func(ctx context.Context) (string, error) {
			return "nested", nil
		})
		return "outer", nil
	})

	require.ErrorIs(t, nested.Err, ErrInFlight)
	require.NoError(t, res.Err)
	require.Equal(t, "outer", *handler.State().Data)
}

func testHandlerCancelled(t *testing.T, handler *Handler[string], errs *[]string) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	res := handler.Execute(ctx, func(ctx context.Context) (string, error) {
		ran = true
		return "x", nil
	})

	require.False(t, ran)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.True(t, res.IsComplete)
}
