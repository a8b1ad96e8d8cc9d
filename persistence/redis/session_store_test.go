package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/mohitkumar/txflow/util"
	"github.com/stretchr/testify/require"
)

func TestRedisSessionStore(t *testing.T) {
	for scenario, fn := range map[string]func(
		t *testing.T, server *miniredis.Miniredis, store *redisSessionStore,
	){
		"save and get":      testRedisSaveGet,
		"missing session":   testRedisMissing,
		"delete":            testRedisDelete,
		"expires after ttl": testRedisExpiry,
		"namespaced key":    testRedisNamespace,
		"stale layout":      testRedisStaleLayout,
	} {
		t.Run(scenario, func(t *testing.T) {
			server := miniredis.RunT(t)
			conf := Config{
				Addrs:     []string{server.Addr()},
				Namespace: "test",
				TTL:       time.Minute,
			}
			store := NewRedisSessionStore(conf, util.NewJsonEncoderDecoder[model.FlowSnapshot](model.SNAPSHOT_VERSION))
			defer store.Close()

			fn(t, server, store)
		})
	}
}

func testSnapshot() *model.FlowSnapshot {
	fee := model.NewStep(model.StepFee)
	fee.Status = model.StepSuccess
	fee.Value = map[string]any{"id": "fee-1"}
	final := model.NewStep(model.StepSignature)
	final.Status = model.StepError
	final.Err = &model.StepFailure{Kind: model.ERROR_KIND_TIMEOUT, Reason: "timeout"}
	final.Result = model.SignatureOrder{OrderId: "order-9"}
	return &model.FlowSnapshot{
		IntentKey: "intent-1",
		Form:      model.FormValues{Quantity: 1, Price: "1.5", Currency: "ETH"},
		Steps:     []model.Step{fee, final},
		RecordKey: "tmp-1",
	}
}

func testRedisSaveGet(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "intent-1", testSnapshot()))

	got, err := store.Get(ctx, "intent-1")
	require.NoError(t, err)
	require.Equal(t, "tmp-1", got.RecordKey)
	require.Len(t, got.Steps, 2)
	require.Equal(t, model.StepSuccess, got.Steps[0].Status)
	require.Equal(t, map[string]any{"id": "fee-1"}, got.Steps[0].Value)
	require.Equal(t, model.SignatureOrder{OrderId: "order-9"}, got.Steps[1].Result)
	require.Equal(t, model.ERROR_KIND_TIMEOUT, got.Steps[1].Err.Kind)
}

func testRedisMissing(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	_, err := store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func testRedisDelete(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "intent-1", testSnapshot()))
	require.NoError(t, store.Delete(ctx, "intent-1"))
	_, err := store.Get(ctx, "intent-1")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func testRedisExpiry(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "intent-1", testSnapshot()))
	server.FastForward(2 * time.Minute)
	_, err := store.Get(ctx, "intent-1")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
}

func testRedisNamespace(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	require.NoError(t, store.Save(context.Background(), "intent-1", testSnapshot()))
	require.True(t, server.Exists("test:"+persistence.SESSION_PREFIX+":intent-1"))
}

func testRedisStaleLayout(t *testing.T, server *miniredis.Miniredis, store *redisSessionStore) {
	key := "test:" + persistence.SESSION_PREFIX + ":intent-1"
	require.NoError(t, server.Set(key, `{"intentKey":"intent-1","steps":[]}`))

	_, err := store.Get(context.Background(), "intent-1")
	require.ErrorIs(t, err, persistence.ErrSessionNotFound)
	require.False(t, server.Exists(key))

	require.NoError(t, server.Set(key, "{broken"))
	_, err = store.Get(context.Background(), "intent-1")
	var storageErr persistence.StorageLayerError
	require.ErrorAs(t, err, &storageErr)
}
