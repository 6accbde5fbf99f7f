package connectivity

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/permission"
)

// Source is the OS connectivity service.
type Source interface {
	// ActiveInterface returns the interface carrying the default route, or
	// nil if there is none.
	ActiveInterface(ctx context.Context) (*Interface, error)
}

// Probe translates OS connectivity information into a Status. It holds no
// state of its own and is safe for concurrent use.
type Probe struct {
	source Source
	perms  permission.Checker
}

func NewProbe(source Source, perms permission.Checker) *Probe {
	return &Probe{
		source: source,
		perms:  perms,
	}
}

// QueryState reports Connected when the active interface is connected or
// connecting. A missing read capability yields Disconnected.
func (p *Probe) QueryState(ctx context.Context) State {
	if !p.perms.Granted(permission.AccessNetworkState) {
		log.Debug("Cannot get network state: permission ACCESS_NETWORK_STATE denied")
		return Disconnected
	}

	return stateOf(p.activeInterface(ctx))
}

// QueryType reports the coarse type of the active interface. A missing read
// capability yields TypeNone.
func (p *Probe) QueryType(ctx context.Context) Type {
	if !p.perms.Granted(permission.AccessNetworkState) {
		log.Debug("Cannot get network type: permission ACCESS_NETWORK_STATE denied")
		return TypeNone
	}

	return typeOf(p.activeInterface(ctx))
}

// Query returns state and type from a single read of the source.
func (p *Probe) Query(ctx context.Context) Status {
	if !p.perms.Granted(permission.AccessNetworkState) {
		log.Debug("Cannot get network status: permission ACCESS_NETWORK_STATE denied")
		return Status{State: Disconnected, Type: TypeNone}
	}

	iface := p.activeInterface(ctx)
	return Status{State: stateOf(iface), Type: typeOf(iface)}
}

func (p *Probe) activeInterface(ctx context.Context) *Interface {
	iface, err := p.source.ActiveInterface(ctx)
	if err != nil {
		log.WithError(err).Debug("Failed to read active network interface")
		return nil
	}

	if iface != nil {
		log.WithFields(log.Fields{
			"interface": iface.Name,
			"transport": iface.Transport,
			"state":     iface.State,
		}).Trace("Read active network interface")
	}
	return iface
}

func stateOf(iface *Interface) State {
	if iface != nil && (iface.State == LinkConnected || iface.State == LinkConnecting) {
		return Connected
	}
	return Disconnected
}

func typeOf(iface *Interface) Type {
	if iface == nil {
		return TypeNone
	}

	switch iface.Transport {
	case TransportWifi:
		return TypeWifi
	case TransportMobile, TransportWimax, TransportMobileDun:
		return TypeMobile
	case TransportBluetooth:
		return TypeBluetooth
	case TransportEthernet:
		return TypeEthernet
	case TransportVpn:
		return TypeVpn
	default:
		return TypeUnknown
	}
}
