package redis

import (
	"context"
	"errors"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	"github.com/mohitkumar/txflow/util"
	"go.uber.org/zap"
)

var _ persistence.SessionStore = new(redisSessionStore)

type redisSessionStore struct {
	*baseDao
	ttl            time.Duration
	encoderDecoder util.EncoderDecoder[model.FlowSnapshot]
}

func NewRedisSessionStore(conf Config, encoderDecoder util.EncoderDecoder[model.FlowSnapshot]) *redisSessionStore {
	return &redisSessionStore{
		baseDao:        newBaseDao(conf),
		ttl:            conf.TTL,
		encoderDecoder: encoderDecoder,
	}
}

func (r *redisSessionStore) Save(ctx context.Context, key string, snapshot *model.FlowSnapshot) error {
	data, err := r.encoderDecoder.Encode(*snapshot)
	if err != nil {
		return err
	}
	if err := r.redisClient.Set(ctx, r.getNamespaceKey(persistence.SESSION_PREFIX, key), data, r.ttl).Err(); err != nil {
		logger.Error("error in saving flow session", zap.String("key", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisSessionStore) Get(ctx context.Context, key string) (*model.FlowSnapshot, error) {
	data, err := r.redisClient.Get(ctx, r.getNamespaceKey(persistence.SESSION_PREFIX, key)).Bytes()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.ErrSessionNotFound
		}
		logger.Error("error in getting flow session", zap.String("key", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	snapshot, err := r.encoderDecoder.Decode(data)
	if errors.Is(err, util.ErrVersionMismatch) {
		logger.Warn("dropping flow session with stale layout", zap.String("key", key), zap.Error(err))
		if err := r.Delete(ctx, key); err != nil {
			return nil, err
		}
		return nil, persistence.ErrSessionNotFound
	}
	if err != nil {
		logger.Error("error in decoding flow session", zap.String("key", key), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return snapshot, nil
}

func (r *redisSessionStore) Delete(ctx context.Context, key string) error {
	if err := r.redisClient.Del(ctx, r.getNamespaceKey(persistence.SESSION_PREFIX, key)).Err(); err != nil {
		logger.Error("error in deleting flow session", zap.String("key", key), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}
