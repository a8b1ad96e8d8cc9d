package util

import (
	"sync"
	"time"

	"github.com/mohitkumar/txflow/logger"
	"go.uber.org/zap"
)

// TickWorker calls fn on every tick until stopped.
type TickWorker struct {
	stop         chan struct{}
	stopOnce     sync.Once
	tickInterval time.Duration
	wg           sync.WaitGroup
	name         string
	fn           func()
}

func NewTickWorker(name string, interval time.Duration, fn func()) *TickWorker {
	return &TickWorker{
		stop:         make(chan struct{}),
		tickInterval: interval,
		fn:           fn,
		name:         name,
	}
}

func (tw *TickWorker) Start() {
	ticker := time.NewTicker(tw.tickInterval)
	tw.wg.Add(1)
	go func() {
		defer tw.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				tw.fn()
			case <-tw.stop:
				logger.Debug("stopping tick worker", zap.String("worker", tw.name))
				return
			}
		}
	}()
	logger.Debug("tick worker started", zap.String("worker", tw.name), zap.Duration("interval", tw.tickInterval))
}

// Stop ends the loop after the tick in progress, if any. It is safe to call more than once and
// from inside fn.
func (tw *TickWorker) Stop() {
	tw.stopOnce.Do(func() {
		close(tw.stop)
	})
}

// Wait blocks until the loop has exited. Calling it from inside fn never returns.
func (tw *TickWorker) Wait() {
	tw.wg.Wait()
}
