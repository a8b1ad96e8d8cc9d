package memory

import (
	"context"
	"time"

	"github.com/mohitkumar/txflow/model"
	"github.com/mohitkumar/txflow/persistence"
	c "github.com/patrickmn/go-cache"
)

var _ persistence.SessionStore = new(sessionStore)

type sessionStore struct {
	cache *c.Cache
	ttl   time.Duration
}

// NewSessionStore keeps snapshots in process. A zero ttl never expires them.
func NewSessionStore(ttl time.Duration) *sessionStore {
	if ttl <= 0 {
		ttl = c.NoExpiration
	}
	return &sessionStore{
		cache: c.New(ttl, 10*time.Minute),
		ttl:   ttl,
	}
}

func (s *sessionStore) Save(ctx context.Context, key string, snapshot *model.FlowSnapshot) error {
	cp := *snapshot
	cp.Steps = append([]model.Step(nil), snapshot.Steps...)
	s.cache.Set(key, &cp, s.ttl)
	return nil
}

func (s *sessionStore) Get(ctx context.Context, key string) (*model.FlowSnapshot, error) {
	v, found := s.cache.Get(key)
	if !found {
		return nil, persistence.ErrSessionNotFound
	}
	snapshot := *v.(*model.FlowSnapshot)
	snapshot.Steps = append([]model.Step(nil), snapshot.Steps...)
	return &snapshot, nil
}

func (s *sessionStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}
