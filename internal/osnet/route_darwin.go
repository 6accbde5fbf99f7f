//go:build darwin

package osnet

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/route"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

// Route reads connectivity from the BSD routing table and watches an
// AF_ROUTE socket for changes.
type Route struct {
	settle   time.Duration
	fallback *InterfaceSource
}

func NewRoute(settle time.Duration) *Route {
	return &Route{
		settle:   settle,
		fallback: NewInterfaceSource(classifyDarwin),
	}
}

func (r *Route) ActiveInterface(ctx context.Context) (*connectivity.Interface, error) {
	msgs, err := fetchRoutes()
	if err != nil {
		log.WithError(err).Debug("Routing table unavailable, guessing from interface list")
		return r.fallback.ActiveInterface(ctx)
	}

	index := defaultRouteIndex(msgs)
	if index == 0 {
		return nil, nil
	}

	iface, err := net.InterfaceByIndex(index)
	if err != nil {
		// The interface went away between the dump and the lookup.
		log.WithError(err).WithField("ifIndex", index).Trace("Failed to get interface by index")
		return nil, nil
	}

	return &connectivity.Interface{
		Name:      iface.Name,
		Transport: classifyDarwin(iface.Name),
		State:     flagsState(iface.Flags),
	}, nil
}

func fetchRoutes() ([]route.Message, error) {
	rib, err := route.FetchRIB(unix.AF_INET, route.RIBTypeRoute, 0)
	if err != nil {
		return nil, errors.Wrap(err, "fetch routing table")
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return nil, errors.Wrap(err, "parse routing table")
	}
	return msgs, nil
}

func defaultRouteIndex(msgs []route.Message) int {
	for _, m := range msgs {
		rm, ok := m.(*route.RouteMessage)
		if !ok || rm.Flags&unix.RTF_UP == 0 || rm.Flags&unix.RTF_IFSCOPE != 0 {
			continue
		}
		if len(rm.Addrs) <= unix.RTAX_DST {
			continue
		}
		dst, ok := rm.Addrs[unix.RTAX_DST].(*route.Inet4Addr)
		if !ok || dst.IP != [4]byte{} {
			continue
		}
		if len(rm.Addrs) > unix.RTAX_NETMASK {
			if mask, ok := rm.Addrs[unix.RTAX_NETMASK].(*route.Inet4Addr); ok && mask.IP != [4]byte{} {
				continue
			}
		}
		return rm.Index
	}
	return 0
}

func (r *Route) Subscribe(callback func()) (io.Closer, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, errors.Wrap(err, "open route socket")
	}

	events := make(chan struct{}, 1)
	return startSubscription(func(ctx context.Context) {
		// Close the socket when the context is cancelled to unblock Read.
		go func() {
			<-ctx.Done()
			unix.Close(fd)
		}()

		go func() {
			buf := make([]byte, 4096)
			for {
				n, err := unix.Read(fd, buf)
				if err != nil {
					select {
					case <-ctx.Done():
						return
					default:
					}
					if errors.Is(err, unix.EBADF) {
						return
					}
					log.WithError(err).Warn("Error reading from route socket")
					continue
				}
				if isConnectivityMessage(buf[:n]) {
					notify(events)
				}
			}
		}()

		coalesce(ctx, events, r.settle, callback)
	}, nil), nil
}

func isConnectivityMessage(b []byte) bool {
	msgs, err := route.ParseRIB(route.RIBTypeRoute, b)
	if err != nil {
		return false
	}
	for _, m := range msgs {
		switch msg := m.(type) {
		case *route.InterfaceMessage, *route.InterfaceAddrMessage:
			return true
		case *route.RouteMessage:
			switch msg.Type {
			case unix.RTM_ADD, unix.RTM_DELETE, unix.RTM_CHANGE:
				log.WithFields(log.Fields{
					"msgType": msg.Type,
					"ifIndex": msg.Index,
				}).Trace("Received route event")
				return true
			}
		}
	}
	return false
}
