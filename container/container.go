package container

import (
	"github.com/mohitkumar/txflow/action"
	"github.com/mohitkumar/txflow/cache"
	"github.com/mohitkumar/txflow/config"
	"github.com/mohitkumar/txflow/confirm"
	"github.com/mohitkumar/txflow/flow"
	"github.com/mohitkumar/txflow/metadata"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/mohitkumar/txflow/persistence/memory"
	rd "github.com/mohitkumar/txflow/persistence/redis"
	"github.com/mohitkumar/txflow/reconcile"
	"github.com/mohitkumar/txflow/util"
)

// Collaborators are the wallet and backend adapters a flow talks to.
type Collaborators struct {
	Generator metadata.StepGenerator
	Submitter action.Submitter
	Fetcher   confirm.ReceiptFetcher
	Allowance flow.AllowanceChecker
}

type DIContiner struct {
	initialized    bool
	conf           config.Config
	sessionStore   persistence.SessionStore
	records        *cache.RecordCache
	reconciler     *reconcile.Reconciler
	SnapshotEncDec util.EncoderDecoder[model.FlowSnapshot]
	collaborators  Collaborators
}

func (d *DIContiner) setInitialized() {
	d.initialized = true
}

func NewDiContainer(collaborators Collaborators) *DIContiner {
	return &DIContiner{
		initialized:   false,
		collaborators: collaborators,
	}
}

func (d *DIContiner) Init(conf config.Config) {
	defer d.setInitialized()
	d.conf = conf
	d.SnapshotEncDec = util.NewJsonEncoderDecoder[model.FlowSnapshot](model.SNAPSHOT_VERSION)

	switch conf.StorageType {
	case config.STORAGE_TYPE_REDIS:
		rdConf := rd.Config{
			Addrs:     conf.RedisConfig.Addrs,
			Namespace: conf.RedisConfig.Namespace,
			Password:  conf.RedisConfig.Password,
			PoolSize:  conf.RedisConfig.PoolSize,
			TTL:       conf.SessionTTL,
		}
		d.sessionStore = rd.NewRedisSessionStore(rdConf, d.SnapshotEncDec)
	default:
		d.sessionStore = memory.NewSessionStore(conf.SessionTTL)
	}
	d.records = cache.NewRecordCache(conf.RecordTTL)
	d.reconciler = reconcile.NewReconciler(d.records)
}

func (d *DIContiner) GetSessionStore() persistence.SessionStore {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.sessionStore
}

func (d *DIContiner) GetReconciler() *reconcile.Reconciler {
	if !d.initialized {
		panic("persistence not initalized")
	}
	return d.reconciler
}

// NewFlowMachine builds an unopened machine sharing the container's store and reconciler.
func (d *DIContiner) NewFlowMachine() *flow.FlowMachine {
	if !d.initialized {
		panic("persistence not initalized")
	}
	poller := confirm.NewPoller(d.collaborators.Fetcher, confirm.Config{
		InitialInterval: d.conf.PollInterval,
		MaxInterval:     d.conf.MaxPollInterval,
		DefaultTimeout:  d.conf.ConfirmationTimeout,
	})
	deps := flow.Dependencies{
		Metadata:   metadata.NewService(d.collaborators.Generator),
		Submitter:  d.collaborators.Submitter,
		Poller:     poller,
		Allowance:  d.collaborators.Allowance,
		Reconciler: d.reconciler,
		Store:      d.sessionStore,
	}
	return flow.NewFlowMachine(deps, flow.Options{
		ConfirmationTimeout:  d.conf.ConfirmationTimeout,
		InvalidationInterval: d.conf.FlowInvalidationInterval(),
	})
}
