package osnet

import (
	"context"
	"net"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

// transportRank orders candidates when no routing table is available. A VPN
// that is up normally owns the default route.
var transportRank = map[connectivity.Transport]int{
	connectivity.TransportVpn:       0,
	connectivity.TransportEthernet:  1,
	connectivity.TransportWifi:      2,
	connectivity.TransportMobile:    3,
	connectivity.TransportMobileDun: 3,
	connectivity.TransportWimax:     3,
	connectivity.TransportBluetooth: 4,
	connectivity.TransportOther:     5,
}

// InterfaceSource guesses the active interface from the interface list. It
// is the portable fallback where the routing table cannot be read.
type InterfaceSource struct {
	classify   func(name string) connectivity.Transport
	interfaces func() ([]net.Interface, error)
	addrs      func(iface *net.Interface) ([]net.Addr, error)
}

func NewInterfaceSource(classify func(name string) connectivity.Transport) *InterfaceSource {
	return &InterfaceSource{
		classify:   classify,
		interfaces: net.Interfaces,
		addrs:      func(iface *net.Interface) ([]net.Addr, error) { return iface.Addrs() },
	}
}

func (s *InterfaceSource) ActiveInterface(ctx context.Context) (*connectivity.Interface, error) {
	interfaces, err := s.interfaces()
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}

	var best *connectivity.Interface
	bestRank := len(transportRank) + 1
	for i := range interfaces {
		iface := &interfaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if !s.hasGlobalAddress(iface) {
			log.WithField("interface", iface.Name).Trace("Skipping interface without global address")
			continue
		}

		transport := s.classify(iface.Name)
		rank, ok := transportRank[transport]
		if !ok {
			rank = len(transportRank)
		}
		if rank < bestRank {
			bestRank = rank
			best = &connectivity.Interface{
				Name:      iface.Name,
				Transport: transport,
				State:     flagsState(iface.Flags),
			}
		}
	}
	return best, nil
}

func (s *InterfaceSource) hasGlobalAddress(iface *net.Interface) bool {
	addrs, err := s.addrs(iface)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.IsGlobalUnicast() {
			return true
		}
	}
	return false
}

// classifyName is the name-only variant of classifyLink.
func classifyName(name string) connectivity.Transport {
	return classifyLink(name, "", false)
}
