package cache

import (
	"time"

	"github.com/mohitkumar/txflow/model"
	c "github.com/patrickmn/go-cache"
)

// RecordCache holds the order records shown to the user, optimistic or confirmed.
type RecordCache struct {
	cache *c.Cache
}

func NewRecordCache(ttl time.Duration) *RecordCache {
	if ttl <= 0 {
		ttl = c.NoExpiration
	}
	return &RecordCache{
		cache: c.New(ttl, 10*time.Minute),
	}
}

func (ch *RecordCache) Put(record model.OrderRecord) {
	ch.cache.SetDefault(record.CorrelationKey, record)
}

func (ch *RecordCache) Get(key string) (model.OrderRecord, bool) {
	v, found := ch.cache.Get(key)
	if !found {
		return model.OrderRecord{}, false
	}
	return v.(model.OrderRecord), true
}

func (ch *RecordCache) Delete(key string) {
	ch.cache.Delete(key)
}

func (ch *RecordCache) List() []model.OrderRecord {
	items := ch.cache.Items()
	records := make([]model.OrderRecord, 0, len(items))
	for _, item := range items {
		records = append(records, item.Object.(model.OrderRecord))
	}
	return records
}
