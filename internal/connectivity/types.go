package connectivity

import "fmt"

// State is the coarse connectivity state reported to the web layer.
type State string

const (
	Connected    State = "connected"
	Disconnected State = "disconnected"
)

// Type is the coarse transport type reported to the web layer.
type Type string

const (
	TypeWifi      Type = "wifi"
	TypeMobile    Type = "mobile"
	TypeEthernet  Type = "ethernet"
	TypeVpn       Type = "vpn"
	TypeBluetooth Type = "bluetooth"
	TypeUnknown   Type = "unknown"
	TypeNone      Type = "none"
)

// Transport is the OS-level transport category of a network interface.
type Transport string

const (
	TransportMobile    Transport = "MOBILE"
	TransportWifi      Transport = "WIFI"
	TransportMobileDun Transport = "MOBILE_DUN"
	TransportWimax     Transport = "WIMAX"
	TransportBluetooth Transport = "BLUETOOTH"
	TransportEthernet  Transport = "ETHERNET"
	TransportVpn       Transport = "VPN"
	TransportOther     Transport = "OTHER"
)

// LinkState is the OS-level state of a network interface.
type LinkState string

const (
	LinkUnknown       LinkState = "UNKNOWN"
	LinkConnecting    LinkState = "CONNECTING"
	LinkConnected     LinkState = "CONNECTED"
	LinkSuspended     LinkState = "SUSPENDED"
	LinkDisconnecting LinkState = "DISCONNECTING"
	LinkDisconnected  LinkState = "DISCONNECTED"
)

// Interface describes the active network interface, i.e. the one carrying
// the default route.
type Interface struct {
	Name      string
	Transport Transport
	State     LinkState
}

func (i Interface) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.Name, i.Transport, i.State)
}

// Status is a probed (state, type) pair.
type Status struct {
	State State `json:"state"`
	Type  Type  `json:"type"`
}

func (s Status) String() string {
	return fmt.Sprintf("State: %s, Type: %s", s.State, s.Type)
}
