package netmon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
	"github.com/dmdmdm-nz/netstatusd/internal/permission"
	"github.com/dmdmdm-nz/netstatusd/internal/runtime"
)

var ErrClosed = errors.New("monitor closed")

const probeTimeout = 5 * time.Second

// Monitor owns at most one OS subscription to connectivity changes and
// forwards each change, freshly probed, to a single listener.
//
// One Monitor is created per process by main and injected where needed.
type Monitor struct {
	probe   *connectivity.Probe
	watcher Watcher
	perms   permission.Checker

	// mu serializes Start, Stop, SetListener and Release.
	mu     sync.Mutex
	sub    io.Closer
	closed bool

	// listenerMu guards listener only. Change delivery takes it but never mu,
	// so Stop can wait for an in-flight delivery while holding mu.
	listenerMu sync.RWMutex
	listener   Listener

	subsMu           sync.Mutex
	subs             map[int]*runtime.SubQueue[connectivity.Status]
	nextSubscriberID int
	last             *connectivity.Status
}

func NewMonitor(probe *connectivity.Probe, watcher Watcher, perms permission.Checker) *Monitor {
	return &Monitor{
		probe:   probe,
		watcher: watcher,
		perms:   perms,
		subs:    make(map[int]*runtime.SubQueue[connectivity.Status]),
	}
}

// Start begins monitoring and makes l the listener. A running subscription
// is torn down first, so restarting never leaves two. Without the observe
// capability Start does nothing. Registration failures leave the monitor
// idle and are returned.
func (m *Monitor) Start(l Listener) error {
	if !m.perms.Granted(permission.ChangeNetworkState) {
		log.Debug("Cannot start network monitoring: permission CHANGE_NETWORK_STATE denied")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.sub != nil {
		log.Debug("Restarting network monitoring")
		m.stopLocked()
	}

	m.setListener(l)
	sub, err := m.watcher.Subscribe(m.handleChange)
	if err != nil {
		m.setListener(nil)
		log.WithError(err).Warn("Failed to register for connectivity changes")
		return fmt.Errorf("failed to start network monitoring: %w", err)
	}
	m.sub = sub

	log.Info("Started network monitoring")
	return nil
}

// Stop ends monitoring and forgets the listener. No listener call happens
// after Stop returns. Stopping an idle monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Monitor) stopLocked() {
	if m.sub == nil {
		return
	}

	m.setListener(nil)
	sub := m.sub
	m.sub = nil
	if err := sub.Close(); err != nil {
		log.WithError(err).Debug("Error while unregistering connectivity changes")
	}

	log.Info("Stopped network monitoring")
}

// Active reports whether an OS subscription is live.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

// SetListener replaces the listener; the last registration wins.
func (m *Monitor) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setListener(l)
}

// Release forgets l if it is the current listener. Hosts call it when the
// listener is torn down; monitoring itself keeps running.
func (m *Monitor) Release(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	if m.listener != nil && m.listener == l {
		m.listener = nil
		log.Debug("Released network status listener")
	}
}

func (m *Monitor) setListener(l Listener) {
	m.listenerMu.Lock()
	m.listener = l
	m.listenerMu.Unlock()
}

func (m *Monitor) currentListener() Listener {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	return m.listener
}

// handleChange runs on the watcher goroutine for every OS broadcast.
func (m *Monitor) handleChange() {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	status := m.probe.Query(ctx)
	cancel()

	log.WithFields(log.Fields{
		"state": status.State,
		"type":  status.Type,
	}).Debug("Network status changed")

	m.broadcast(status)

	l := m.currentListener()
	if l == nil {
		log.Trace("No network status listener, skipping notification")
		return
	}
	l.OnStatusChanged(status)
}

// Subscribe returns a channel of every status delivered while monitoring is
// active. A new subscriber first receives the last delivered status, if any.
func (m *Monitor) Subscribe() (<-chan connectivity.Status, func()) {
	sub := runtime.NewSubQueue[connectivity.Status](8)

	m.subsMu.Lock()
	id := m.nextSubscriberID
	m.nextSubscriberID++
	m.subs[id] = sub
	if m.last != nil {
		sub.Prime(*m.last)
	}
	m.subsMu.Unlock()

	sub.SetPaused(false)

	unsub := func() {
		m.subsMu.Lock()
		if q, ok := m.subs[id]; ok {
			delete(m.subs, id)
			q.Close()
		}
		m.subsMu.Unlock()
	}
	return sub.Chan(), unsub
}

func (m *Monitor) broadcast(status connectivity.Status) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.last = &status
	for _, sub := range m.subs {
		sub.Enqueue(status)
	}
}

// Run blocks until ctx is done. It lets the supervisor own the monitor's
// lifetime; Close does the teardown.
func (m *Monitor) Run(ctx context.Context) error {
	log.Info("Network monitor ready")
	<-ctx.Done()
	return nil
}

// Close stops monitoring and closes all subscriber channels. The monitor
// cannot be restarted afterwards.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopLocked()
	m.mu.Unlock()

	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for id, q := range m.subs {
		q.Close()
		delete(m.subs, id)
	}
	return nil
}
