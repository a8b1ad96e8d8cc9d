package confirm

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/txflow/action"
	"github.com/mohitkumar/txflow/logger"
	"github.com/mohitkumar/txflow/model"
	"go.uber.org/zap"
)

// ErrPending is returned by a ReceiptFetcher while the result is not indexed yet.
var ErrPending = errors.New("confirmation pending")

// ReceiptFetcher performs a single lookup of a submitted result.
type ReceiptFetcher interface {
	FetchReceipt(ctx context.Context, result model.TransactionResult) (*model.ConfirmedReceipt, error)
}

type FetcherFunc func(ctx context.Context, result model.TransactionResult) (*model.ConfirmedReceipt, error)

func (f FetcherFunc) FetchReceipt(ctx context.Context, result model.TransactionResult) (*model.ConfirmedReceipt, error) {
	return f(ctx, result)
}

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	DefaultTimeout  time.Duration
}

var _ action.ConfirmationPoller = new(Poller)

// Poller turns a single-shot fetcher into a confirmation poll bounded by a timeout. Pending and
// transient lookups are retried with exponential backoff. A revert or an unknown result stops
// polling at once.
type Poller struct {
	fetcher ReceiptFetcher
	conf    Config
}

func NewPoller(fetcher ReceiptFetcher, conf Config) *Poller {
	if conf.InitialInterval <= 0 {
		conf.InitialInterval = 500 * time.Millisecond
	}
	if conf.MaxInterval <= 0 {
		conf.MaxInterval = 10 * time.Second
	}
	if conf.DefaultTimeout <= 0 {
		conf.DefaultTimeout = 5 * time.Minute
	}
	return &Poller{
		fetcher: fetcher,
		conf:    conf,
	}
}

func (p *Poller) PollConfirmation(ctx context.Context, result model.TransactionResult, timeout time.Duration) (*model.ConfirmedReceipt, error) {
	if timeout <= 0 {
		timeout = p.conf.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.conf.InitialInterval
	eb.MaxInterval = p.conf.MaxInterval
	eb.MaxElapsedTime = timeout
	b := backoff.WithContext(eb, ctx)

	ref := model.ResultReference(result)
	var receipt *model.ConfirmedReceipt
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		r, err := p.fetcher.FetchReceipt(ctx, result)
		if err != nil {
			if errors.Is(err, model.ErrReverted) || errors.Is(err, model.ErrNotFound) {
				return backoff.Permanent(err)
			}
			logger.Debug("confirmation not available yet", zap.String("ref", ref), zap.Int("attempt", attempt), zap.Error(err))
			return err
		}
		receipt = r
		return nil
	}, b)
	if err == nil {
		logger.Info("result confirmed", zap.String("ref", ref), zap.Int("attempts", attempt))
		return receipt, nil
	}
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return nil, perm.Err
	}
	if errors.Is(err, model.ErrReverted) || errors.Is(err, model.ErrNotFound) {
		return nil, err
	}
	if ctx.Err() != nil || errors.Is(err, ErrPending) {
		return nil, fmt.Errorf("%w after %s: %s", model.ErrConfirmationTimeout, timeout, ref)
	}
	return nil, fmt.Errorf("%w after %s: %v", model.ErrConfirmationTimeout, timeout, err)
}
