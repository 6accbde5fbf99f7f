package netmon

import "io"

// Watcher is the OS broadcast source for connectivity changes (NetworkManager
// signals or netlink on Linux, route sockets on macOS, polling elsewhere).
type Watcher interface {
	// Subscribe registers callback for change notifications. The callback
	// is never invoked after Close on the returned subscription returns.
	Subscribe(callback func()) (io.Closer, error)
}
