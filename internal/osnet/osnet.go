// Package osnet adapts the operating system's connectivity service: it reads
// the active network interface and delivers change notifications.
package osnet

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

const (
	KindAuto           = "auto"
	KindNetworkManager = "networkmanager"
	KindNetlink        = "netlink"
	KindRoute          = "route"
	KindPoll           = "poll"
)

// Options selects and tunes a backend.
type Options struct {
	Kind         string
	PollInterval time.Duration
	// Settle coalesces bursts of OS notifications into one callback.
	Settle time.Duration
}

func (o Options) withDefaults() Options {
	if o.Kind == "" {
		o.Kind = KindAuto
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.Settle < 0 {
		o.Settle = 0
	}
	return o
}

// Watcher registers for connectivity change notifications. The callback
// runs on the watcher's own goroutine and is never invoked after Close on
// the returned subscription has returned.
type Watcher interface {
	Subscribe(callback func()) (io.Closer, error)
}

// Backend bundles an OS connectivity source with its change watcher.
type Backend struct {
	Name    string
	Source  connectivity.Source
	Watcher Watcher

	closeF func() error
}

// Close releases OS resources held by the backend.
func (b *Backend) Close() error {
	if b.closeF == nil {
		return nil
	}
	return b.closeF()
}

// subscription runs a watch loop until closed. Close cancels the loop and
// waits for it to return.
type subscription struct {
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	cleanup   func()
}

func startSubscription(run func(ctx context.Context), cleanup func()) *subscription {
	ctx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		cancel:  cancel,
		done:    make(chan struct{}),
		cleanup: cleanup,
	}
	go func() {
		defer close(s.done)
		run(ctx)
	}()
	return s
}

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
		if s.cleanup != nil {
			s.cleanup()
		}
	})
	return nil
}

// coalesce calls callback once per burst of events: after an event, further
// events within settle postpone the callback. A zero settle fires on every
// event.
func coalesce(ctx context.Context, events <-chan struct{}, settle time.Duration, callback func()) {
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-events:
			if !ok {
				return
			}
			if settle <= 0 {
				callback()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(settle)
			} else {
				timer.Reset(settle)
			}
			timerC = timer.C
		case <-timerC:
			timerC = nil
			callback()
		}
	}
}

// notify performs a non-blocking send; one pending event is enough since
// the callback always re-reads the full state.
func notify(ch chan<- struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
