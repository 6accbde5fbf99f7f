//go:build linux

package osnet

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

// Well-known destinations used to ask the kernel which link carries the
// default route. Nothing is sent to them.
var probeDestinations = []net.IP{
	net.ParseIP("8.8.8.8"),
	net.ParseIP("2001:4860:4860::8888"),
}

// Netlink reads connectivity from the kernel routing table and link state.
type Netlink struct {
	settle   time.Duration
	fallback *InterfaceSource
}

func NewNetlink(settle time.Duration) *Netlink {
	return &Netlink{
		settle:   settle,
		fallback: NewInterfaceSource(classifyName),
	}
}

func (n *Netlink) ActiveInterface(ctx context.Context) (*connectivity.Interface, error) {
	index, err := defaultRouteLink()
	if err != nil {
		// Route lookups can be refused inside restricted network namespaces.
		log.WithError(err).Debug("Default route lookup failed, guessing from interface list")
		return n.fallback.ActiveInterface(ctx)
	}
	if index == 0 {
		return nil, nil
	}

	link, err := netlink.LinkByIndex(index)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "read link %d", index)
	}

	attrs := link.Attrs()
	return &connectivity.Interface{
		Name:      attrs.Name,
		Transport: classifyLink(attrs.Name, link.Type(), isWireless(attrs.Name)),
		State:     linkOperState(attrs.OperState.String(), attrs.Flags&net.FlagUp != 0),
	}, nil
}

// defaultRouteLink returns the index of the link routing to the internet,
// or zero if no route exists.
func defaultRouteLink() (int, error) {
	var lastErr error
	for _, dst := range probeDestinations {
		routes, err := netlink.RouteGet(dst)
		if err != nil {
			if errors.Is(err, unix.ENETUNREACH) || errors.Is(err, unix.EHOSTUNREACH) {
				continue
			}
			lastErr = err
			continue
		}
		for _, r := range routes {
			if r.LinkIndex > 0 {
				return r.LinkIndex, nil
			}
		}
	}
	if lastErr != nil {
		return 0, pkgerrors.Wrap(lastErr, "lookup default route")
	}
	return 0, nil
}

func isWireless(name string) bool {
	for _, p := range []string{"wireless", "phy80211"} {
		if _, err := os.Stat(filepath.Join("/sys/class/net", name, p)); err == nil {
			return true
		}
	}
	return false
}

func (n *Netlink) Subscribe(callback func()) (io.Closer, error) {
	linkCh := make(chan netlink.LinkUpdate, 16)
	addrCh := make(chan netlink.AddrUpdate, 16)
	routeCh := make(chan netlink.RouteUpdate, 16)
	done := make(chan struct{})

	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		close(done)
		return nil, pkgerrors.Wrap(err, "subscribe to link updates")
	}
	if err := netlink.AddrSubscribe(addrCh, done); err != nil {
		close(done)
		return nil, pkgerrors.Wrap(err, "subscribe to address updates")
	}
	if err := netlink.RouteSubscribe(routeCh, done); err != nil {
		close(done)
		return nil, pkgerrors.Wrap(err, "subscribe to route updates")
	}

	cleanup := func() {
		close(done)
		// Unblock the netlink readers so they can observe done.
		go drain(linkCh)
		go drain(addrCh)
		go drain(routeCh)
	}

	events := make(chan struct{}, 1)
	return startSubscription(func(ctx context.Context) {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case update, ok := <-linkCh:
					if !ok {
						return
					}
					log.WithFields(log.Fields{
						"interface": update.Link.Attrs().Name,
						"oper":      update.Link.Attrs().OperState.String(),
					}).Trace("Received link update")
					notify(events)
				case update, ok := <-addrCh:
					if !ok {
						return
					}
					log.WithFields(log.Fields{
						"ifIndex": update.LinkIndex,
						"new":     update.NewAddr,
					}).Trace("Received address update")
					notify(events)
				case update, ok := <-routeCh:
					if !ok {
						return
					}
					if update.Dst != nil && !isDefaultDst(update.Dst) {
						continue
					}
					log.WithField("ifIndex", update.LinkIndex).Trace("Received default route update")
					notify(events)
				}
			}
		}()
		coalesce(ctx, events, n.settle, callback)
	}, cleanup), nil
}

func isDefaultDst(dst *net.IPNet) bool {
	ones, _ := dst.Mask.Size()
	return ones == 0
}

func drain[T any](ch chan T) {
	for range ch {
	}
}
