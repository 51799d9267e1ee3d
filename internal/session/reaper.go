package session

import (
	"context"
	"sync"
	"time"
)

// StartReaper periodically removes expired terminal sessions until ctx is
// cancelled or the returned stop function is called. The stop function blocks
// until the worker has exited and is safe to call more than once.
func (m *Manager) StartReaper(ctx context.Context, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case now := <-ticker.C:
				if removed := m.Reap(now); removed > 0 {
					m.logger.Debug("reaped expired sessions", "count", removed)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
