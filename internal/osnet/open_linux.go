//go:build linux

package osnet

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Open selects a backend. On Linux "auto" prefers NetworkManager, which knows
// about connection types and activation, and falls back to netlink.
func Open(opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	switch opts.Kind {
	case KindAuto:
		nm, err := NewNetworkManager(opts.Settle)
		if err == nil {
			return &Backend{Name: KindNetworkManager, Source: nm, Watcher: nm, closeF: nm.Close}, nil
		}
		log.WithError(err).Debug("NetworkManager unavailable, using netlink")
		nl := NewNetlink(opts.Settle)
		return &Backend{Name: KindNetlink, Source: nl, Watcher: nl}, nil
	case KindNetworkManager:
		nm, err := NewNetworkManager(opts.Settle)
		if err != nil {
			return nil, err
		}
		return &Backend{Name: KindNetworkManager, Source: nm, Watcher: nm, closeF: nm.Close}, nil
	case KindNetlink:
		nl := NewNetlink(opts.Settle)
		return &Backend{Name: KindNetlink, Source: nl, Watcher: nl}, nil
	case KindPoll:
		return &Backend{Name: KindPoll, Source: NewNetlink(opts.Settle), Watcher: NewPollWatcher(opts.PollInterval)}, nil
	default:
		return nil, fmt.Errorf("backend %q is not supported on linux", opts.Kind)
	}
}
