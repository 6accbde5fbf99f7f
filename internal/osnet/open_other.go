//go:build !linux && !darwin

package osnet

import "fmt"

func Open(opts Options) (*Backend, error) {
	opts = opts.withDefaults()

	switch opts.Kind {
	case KindAuto, KindPoll:
		return &Backend{
			Name:    KindPoll,
			Source:  NewInterfaceSource(classifyName),
			Watcher: NewPollWatcher(opts.PollInterval),
		}, nil
	default:
		return nil, fmt.Errorf("backend %q is not supported on this platform", opts.Kind)
	}
}
