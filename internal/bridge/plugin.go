package bridge

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
	"github.com/dmdmdm-nz/netstatusd/internal/netmon"
)

// Container is a web container hosting the page that talks to the plugin.
// Implementations must be pointer types so they can serve as listener
// identities.
type Container interface {
	ID() string
	Send(msg Envelope) error
}

// Monitor is the part of netmon.Monitor the plugin drives.
type Monitor interface {
	Start(l netmon.Listener) error
	Stop()
	SetListener(l netmon.Listener)
	Release(l netmon.Listener)
}

// Plugin dispatches networkStatus requests to the probe and the monitor.
type Plugin struct {
	probe   *connectivity.Probe
	monitor Monitor
}

func NewPlugin(probe *connectivity.Probe, monitor Monitor) *Plugin {
	return &Plugin{
		probe:   probe,
		monitor: monitor,
	}
}

// HandleMessage decodes and handles one frame. Frames that cannot be decoded
// are dropped without a response, but a frame carrying an action still makes
// its sender the target of status pushes.
func (p *Plugin) HandleMessage(ctx context.Context, c Container, frame []byte) {
	req, err := DecodeRequest(frame)
	if err != nil {
		fields := log.Fields{"container": c.ID()}
		if hasAction(err) {
			p.monitor.SetListener(listenerFor(c))
		}
		if errors.Is(err, ErrUnknownAction) {
			log.WithFields(fields).WithError(err).Debug("Dropping message with unknown action")
		} else {
			log.WithFields(fields).WithError(err).Debug("Dropping malformed message")
		}
		return
	}
	p.Handle(ctx, c, req)
}

// hasAction reports whether a decode error happened after a non-empty action
// string was read.
func hasAction(err error) bool {
	return errors.Is(err, ErrUnknownAction) || errors.Is(err, errMissingCallback)
}

// Handle executes a request on behalf of c. The sender of the latest request
// becomes the target of status pushes.
func (p *Plugin) Handle(ctx context.Context, c Container, req Request) {
	p.monitor.SetListener(listenerFor(c))

	switch r := req.(type) {
	case GetState:
		p.respond(c, r.Callback, StateResponse{State: p.probe.QueryState(ctx)})
	case GetType:
		p.respond(c, r.Callback, TypeResponse{Type: p.probe.QueryType(ctx)})
	case StartStatusMonitoring:
		if err := p.monitor.Start(listenerFor(c)); err != nil {
			log.WithError(err).WithField("container", c.ID()).Warn("Cannot start network monitoring")
		}
	case StopStatusMonitoring:
		p.monitor.Stop()
	}
}

// Detach tells the monitor that c is gone so it is no longer notified.
func (p *Plugin) Detach(c Container) {
	p.monitor.Release(listenerFor(c))
}

func (p *Plugin) respond(c Container, callback string, data any) {
	if err := c.Send(CallbackEnvelope(callback, data)); err != nil {
		log.WithError(err).WithFields(log.Fields{
			"container": c.ID(),
			"callback":  callback,
		}).Debug("Failed to send callback")
	}
}

// containerListener adapts a Container to netmon.Listener. Two adapters for
// the same container compare equal.
type containerListener struct {
	c Container
}

func listenerFor(c Container) netmon.Listener {
	return containerListener{c: c}
}

func (l containerListener) OnStatusChanged(status connectivity.Status) {
	if err := l.c.Send(StatusChangedEnvelope(status)); err != nil {
		log.WithError(err).WithField("container", l.c.ID()).Debug("Failed to push status change")
	}
}
