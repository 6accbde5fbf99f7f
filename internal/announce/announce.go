// Package announce advertises the bridge over mDNS so web containers on the
// local network can find it. The TXT record carries the live connectivity
// status.
package announce

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmdmdm-nz/zeroconf"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

const (
	ServiceType = "_netstatus._tcp"
	Domain      = "local."

	refreshInterval = 30 * time.Second
	probeTimeout    = 5 * time.Second
)

// textServer is the part of *zeroconf.Server the announcer uses.
type textServer interface {
	SetText(text []string)
	Shutdown()
}

// registerFunc publishes the service. It can be overridden in tests.
var registerFunc = func(instance, service, domain string, port int, text []string) (textServer, error) {
	return zeroconf.Register(instance, service, domain, port, text, nil)
}

// StatusSource feeds the announcer with status changes.
type StatusSource interface {
	Subscribe() (<-chan connectivity.Status, func())
}

// Announcer keeps an mDNS registration in sync with connectivity. Changes
// are taken from the monitor while it is active and from a periodic probe
// otherwise.
type Announcer struct {
	instance string
	port     int
	version  string
	probe    *connectivity.Probe
	source   StatusSource

	mu     sync.Mutex
	server textServer
	last   connectivity.Status
	closed bool
}

func NewAnnouncer(instance string, port int, version string, probe *connectivity.Probe, source StatusSource) *Announcer {
	return &Announcer{
		instance: instance,
		port:     port,
		version:  version,
		probe:    probe,
		source:   source,
	}
}

// TXTRecords renders status and version as DNS-SD TXT entries.
func TXTRecords(status connectivity.Status, version string) []string {
	return []string{
		fmt.Sprintf("state=%s", status.State),
		fmt.Sprintf("type=%s", status.Type),
		fmt.Sprintf("version=%s", version),
	}
}

// Start registers the service and refreshes its TXT record until ctx is
// done. A failed registration is logged and leaves the rest of the daemon
// running.
func (a *Announcer) Start(ctx context.Context) error {
	status := a.query(ctx)

	server, err := registerFunc(a.instance, ServiceType, Domain, a.port, TXTRecords(status, a.version))
	if err != nil {
		log.WithError(err).WithField("service", ServiceType).Warn("Failed to register mDNS service, not announcing")
		<-ctx.Done()
		return nil
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		server.Shutdown()
		return nil
	}
	a.server = server
	a.last = status
	a.mu.Unlock()

	log.WithFields(log.Fields{
		"instance": a.instance,
		"service":  ServiceType,
		"port":     a.port,
	}).Info("Announcing netstatusd over mDNS")

	ch, unsub := a.source.Subscribe()
	defer unsub()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case status, ok := <-ch:
			if !ok {
				<-ctx.Done()
				return nil
			}
			a.update(status)
		case <-ticker.C:
			a.update(a.query(ctx))
		}
	}
}

func (a *Announcer) query(ctx context.Context) connectivity.Status {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return a.probe.Query(ctx)
}

func (a *Announcer) update(status connectivity.Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil || status == a.last {
		return
	}
	a.last = status
	a.server.SetText(TXTRecords(status, a.version))
	log.WithFields(log.Fields{
		"state": status.State,
		"type":  status.Type,
	}).Debug("Updated mDNS TXT record")
}

func (a *Announcer) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
	return nil
}
