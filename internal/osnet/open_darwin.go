//go:build darwin

package osnet

import "fmt"

func Open(opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	switch opts.Kind {
	case KindAuto, KindRoute:
		r := NewRoute(opts.Settle)
		return &Backend{Name: KindRoute, Source: r, Watcher: r}, nil
	case KindPoll:
		return &Backend{Name: KindPoll, Source: NewRoute(opts.Settle), Watcher: NewPollWatcher(opts.PollInterval)}, nil
	default:
		return nil, fmt.Errorf("backend %q is not supported on darwin", opts.Kind)
	}
}
