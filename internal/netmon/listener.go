package netmon

import "github.com/dmdmdm-nz/netstatusd/internal/connectivity"

// Listener receives a freshly probed status after every connectivity change
// while monitoring is active. Implementations must be comparable (pointer
// types or structs of pointers) so they can be released by identity.
type Listener interface {
	OnStatusChanged(status connectivity.Status)
}
