package container

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/mohitkumar/txflow/config"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/stretchr/testify/require"
)

func TestGettersPanicBeforeInit(t *testing.T) {
	d := NewDiContainer(Collaborators{})
	require.Panics(t, func() { d.GetSessionStore() })
	require.Panics(t, func() { d.GetReconciler() })
	require.Panics(t, func() { d.NewFlowMachine() })
}

func TestInitMemoryStore(t *testing.T) {
	d := NewDiContainer(Collaborators{})
	d.Init(config.Default())
	require.NotNil(t, d.GetReconciler())

	ctx := context.Background()
	store := d.GetSessionStore()
	require.NoError(t, store.Save(ctx, "k1", &model.FlowSnapshot{IntentKey: "k1"}))
	snap, err := store.Get(ctx, "k1")
	require.NoError(t, err)
	require.Equal(t, "k1", snap.IntentKey)
}

func TestInitRedisStore(t *testing.T) {
	server := miniredis.RunT(t)
	conf := config.Default()
	conf.StorageType = config.STORAGE_TYPE_REDIS
	conf.RedisConfig.Addrs = []string{server.Addr()}
	conf.RedisConfig.Namespace = "txflow"

	d := NewDiContainer(Collaborators{})
	d.Init(conf)
	store := d.GetSessionStore()
	require.NoError(t, store.Save(context.Background(), "k1", &model.FlowSnapshot{IntentKey: "k1"}))
	require.True(t, server.Exists("txflow:"+persistence.SESSION_PREFIX+":k1"))
	require.NotNil(t, d.NewFlowMachine())
}
