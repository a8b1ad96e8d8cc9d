package config

import "time"

type StorageType string

const STORAGE_TYPE_REDIS StorageType = "redis"
const STORAGE_TYPE_INMEM StorageType = "memory"

type InvalidationMode string

const INVALIDATION_LAZY InvalidationMode = "lazy"
const INVALIDATION_PROACTIVE InvalidationMode = "proactive"

type Config struct {
	RedisConfig          RedisStorageConfig
	StorageType          StorageType
	SessionTTL           time.Duration
	HttpPort             int
	LogLevel             string
	Development          bool
	ConfirmationTimeout  time.Duration
	PollInterval         time.Duration
	MaxPollInterval      time.Duration
	InvalidationMode     InvalidationMode
	InvalidationInterval time.Duration
	RecordTTL            time.Duration
}

type RedisStorageConfig struct {
	Addrs     []string
	Namespace string
	Password  string
	PoolSize  int
}

func Default() Config {
	return Config{
		RedisConfig: RedisStorageConfig{
			Addrs:     []string{"localhost:6379"},
			Namespace: "txflow",
		},
		StorageType:          STORAGE_TYPE_INMEM,
		SessionTTL:           24 * time.Hour,
		HttpPort:             8080,
		LogLevel:             "info",
		ConfirmationTimeout:  5 * time.Minute,
		PollInterval:         time.Second,
		MaxPollInterval:      15 * time.Second,
		InvalidationMode:     INVALIDATION_LAZY,
		InvalidationInterval: 15 * time.Second,
		RecordTTL:            time.Hour,
	}
}

// FlowInvalidationInterval is zero in lazy mode.
func (c Config) FlowInvalidationInterval() time.Duration {
	if c.InvalidationMode == INVALIDATION_PROACTIVE {
		return c.InvalidationInterval
	}
	return 0
}
