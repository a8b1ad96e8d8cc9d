package reconcile

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohitkumar/txflow/cache"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

var ErrRecordNotFound = errors.New("record not found")

type EventType string

const (
	EVENT_PUBLISHED   EventType = "published"
	EVENT_CONFIRMED   EventType = "confirmed"
	EVENT_UNCONFIRMED EventType = "unconfirmed"
	EVENT_RETRACTED   EventType = "retracted"
)

type Event struct {
	Type EventType
	// PreviousKey is set when confirmation re-keyed a record from a temp id to its order id.
	PreviousKey string
	Record      model.OrderRecord
}

type Observer func(Event)

// Reconciler publishes provisional records as soon as a final step is submitted and swaps
// them for the authoritative record once confirmation arrives.
type Reconciler struct {
	mu        sync.Mutex
	records   *cache.RecordCache
	observers []Observer
	now       func() time.Time
}

func NewReconciler(records *cache.RecordCache) *Reconciler {
	return &Reconciler{
		records: records,
		now:     time.Now,
	}
}

func (r *Reconciler) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Publish builds the optimistic record for a submitted final step. Fields only the backend
// knows are left as placeholders.
func (r *Reconciler) Publish(intent model.Intent, result model.TransactionResult) model.OrderRecord {
	record := model.OrderRecord{
		Kind:       model.RecordKindFor(intent.Type),
		Collection: intent.Collection,
		TokenId:    intent.TokenId,
		Price:      intent.Form.Price,
		Currency:   intent.Form.Currency,
		Quantity:   intent.Form.Quantity,
		Expiry:     intent.Form.Expiry,
		Maker:      intent.Wallet.Address,
		Fees:       []model.Fee{},
		State:      model.RECORD_OPTIMISTIC,
		CreatedAt:  r.now(),
	}
	switch v := result.(type) {
	case model.SignatureOrder:
		record.OrderId = v.OrderId
	case model.TransactionHash:
		record.TxHash = v.Hash
	case model.SponsoredHash:
		record.TxHash = v.Hash
	}
	if len(record.OrderId) == 0 && len(intent.OrderId) > 0 && intent.Type != model.FLOW_TYPE_CREATE_LISTING && intent.Type != model.FLOW_TYPE_MAKE_OFFER {
		record.OrderId = intent.OrderId
	}
	if len(record.OrderId) > 0 {
		record.CorrelationKey = record.OrderId
	} else {
		record.CorrelationKey = "tmp-" + uuid.New().String()
	}
	r.records.Put(record)
	logger.Info("optimistic record published", zap.String("key", record.CorrelationKey), zap.String("kind", string(record.Kind)))
	r.emit(Event{Type: EVENT_PUBLISHED, Record: record})
	return record
}

// Confirm replaces the optimistic record with the authoritative one from the receipt. When the
// receipt carries no record the optimistic one is completed with the receipt fields.
func (r *Reconciler) Confirm(key string, receipt *model.ConfirmedReceipt) (model.OrderRecord, error) {
	optimistic, found := r.records.Get(key)
	if !found {
		return model.OrderRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	confirmed := optimistic
	if receipt != nil {
		if receipt.Record != nil {
			confirmed = *receipt.Record
		}
		if len(confirmed.OrderId) == 0 {
			confirmed.OrderId = receipt.OrderId
		}
		if len(confirmed.TxHash) == 0 {
			confirmed.TxHash = receipt.Hash
		}
		if confirmed.BlockNumber == 0 {
			confirmed.BlockNumber = receipt.BlockNumber
		}
	}
	if confirmed.Fees == nil {
		confirmed.Fees = []model.Fee{}
	}
	if confirmed.CreatedAt.IsZero() {
		confirmed.CreatedAt = optimistic.CreatedAt
	}
	confirmed.State = model.RECORD_CONFIRMED
	confirmed.StateReason = ""
	confirmed.CorrelationKey = key
	previous := ""
	if len(confirmed.OrderId) > 0 && confirmed.OrderId != key {
		previous = key
		confirmed.CorrelationKey = confirmed.OrderId
		r.records.Delete(key)
	}
	r.records.Put(confirmed)
	logger.Info("record confirmed", zap.String("key", confirmed.CorrelationKey), zap.Uint64("block", confirmed.BlockNumber))
	r.emit(Event{Type: EVENT_CONFIRMED, PreviousKey: previous, Record: confirmed})
	return confirmed, nil
}

// MarkUnconfirmed keeps the record visible but flags it, used when confirmation timed out and
// the transaction may still land.
func (r *Reconciler) MarkUnconfirmed(key string, reason string) (model.OrderRecord, error) {
	record, found := r.records.Get(key)
	if !found {
		return model.OrderRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	record.State = model.RECORD_UNCONFIRMED
	record.StateReason = reason
	r.records.Put(record)
	logger.Warn("record unconfirmed", zap.String("key", key), zap.String("reason", reason))
	r.emit(Event{Type: EVENT_UNCONFIRMED, Record: record})
	return record, nil
}

// Retract removes the record from the cache.
func (r *Reconciler) Retract(key string) (model.OrderRecord, error) {
	record, found := r.records.Get(key)
	if !found {
		return model.OrderRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, key)
	}
	r.records.Delete(key)
	record.State = model.RECORD_RETRACTED
	logger.Info("optimistic record retracted", zap.String("key", key))
	r.emit(Event{Type: EVENT_RETRACTED, Record: record})
	return record, nil
}

func (r *Reconciler) Get(key string) (model.OrderRecord, bool) {
	return r.records.Get(key)
}

// List returns every record currently known, optimistic or confirmed.
func (r *Reconciler) List() []model.OrderRecord {
	return r.records.List()
}

func (r *Reconciler) emit(e Event) {
	r.mu.Lock()
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()
	for _, o := range observers {
		o(e)
	}
}
