package osnet

import (
	"context"
	"io"
	"time"
)

// PollWatcher is the fallback for platforms without event-driven
// connectivity notifications. It fires on a fixed interval.
type PollWatcher struct {
	interval time.Duration
}

func NewPollWatcher(interval time.Duration) *PollWatcher {
	return &PollWatcher{interval: interval}
}

func (w *PollWatcher) Subscribe(callback func()) (io.Closer, error) {
	return startSubscription(func(ctx context.Context) {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				callback()
			}
		}
	}, nil), nil
}
