package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/mohitkumar/txflow/model"
)

var ErrSessionNotFound = errors.New("flow session not found")

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) Error() string {
	return fmt.Sprintf("storage layer error %s", e.Message)
}

const SESSION_PREFIX string = "SESSION"

// SessionStore keeps the snapshot of a flow so it can resume after being closed and reopened.
type SessionStore interface {
	Save(ctx context.Context, key string, snapshot *model.FlowSnapshot) error
	Get(ctx context.Context, key string) (*model.FlowSnapshot, error)
	Delete(ctx context.Context, key string) error
}
