package osnet

import (
	"net"
	"strings"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

// NetworkManager connection types, see nm-setting-*.h.
var nmConnectionTransports = map[string]connectivity.Transport{
	"802-11-wireless": connectivity.TransportWifi,
	"wifi-p2p":        connectivity.TransportWifi,
	"olpc-mesh":       connectivity.TransportWifi,
	"802-3-ethernet":  connectivity.TransportEthernet,
	"pppoe":           connectivity.TransportEthernet,
	"bond":            connectivity.TransportEthernet,
	"bridge":          connectivity.TransportEthernet,
	"team":            connectivity.TransportEthernet,
	"vlan":            connectivity.TransportEthernet,
	"macvlan":         connectivity.TransportEthernet,
	"veth":            connectivity.TransportEthernet,
	"infiniband":      connectivity.TransportEthernet,
	"gsm":             connectivity.TransportMobile,
	"cdma":            connectivity.TransportMobile,
	"wimax":           connectivity.TransportWimax,
	"bluetooth":       connectivity.TransportBluetooth,
	"vpn":             connectivity.TransportVpn,
	"wireguard":       connectivity.TransportVpn,
	"tun":             connectivity.TransportVpn,
	"ip-tunnel":       connectivity.TransportVpn,
}

func nmConnectionTransport(connType string) connectivity.Transport {
	if t, ok := nmConnectionTransports[connType]; ok {
		return t
	}
	return connectivity.TransportOther
}

// NMActiveConnectionState values.
const (
	nmActiveStateUnknown      uint32 = 0
	nmActiveStateActivating   uint32 = 1
	nmActiveStateActivated    uint32 = 2
	nmActiveStateDeactivating uint32 = 3
	nmActiveStateDeactivated  uint32 = 4
)

func nmActiveLinkState(state uint32) connectivity.LinkState {
	switch state {
	case nmActiveStateActivating:
		return connectivity.LinkConnecting
	case nmActiveStateActivated:
		return connectivity.LinkConnected
	case nmActiveStateDeactivating:
		return connectivity.LinkDisconnecting
	case nmActiveStateDeactivated:
		return connectivity.LinkDisconnected
	default:
		return connectivity.LinkUnknown
	}
}

// NMBluetoothCapabilities flags.
const (
	nmBtCapabilityDun uint32 = 0x1
	nmBtCapabilityNap uint32 = 0x2
)

// A Bluetooth link that can only dial out is a tethered modem.
func nmBluetoothTransport(caps uint32) connectivity.Transport {
	if caps&nmBtCapabilityDun != 0 && caps&nmBtCapabilityNap == 0 {
		return connectivity.TransportMobileDun
	}
	return connectivity.TransportBluetooth
}

var linkNamePrefixes = []struct {
	prefix    string
	transport connectivity.Transport
}{
	{"wlan", connectivity.TransportWifi},
	{"wlp", connectivity.TransportWifi},
	{"wlx", connectivity.TransportWifi},
	{"wwan", connectivity.TransportMobile},
	{"rmnet", connectivity.TransportMobile},
	{"ccmni", connectivity.TransportMobile},
	{"usb", connectivity.TransportMobile},
	{"ppp", connectivity.TransportMobileDun},
	{"wmx", connectivity.TransportWimax},
	{"bnep", connectivity.TransportBluetooth},
	{"bt-pan", connectivity.TransportBluetooth},
	{"tun", connectivity.TransportVpn},
	{"tap", connectivity.TransportVpn},
	{"wg", connectivity.TransportVpn},
	{"ipsec", connectivity.TransportVpn},
	{"eth", connectivity.TransportEthernet},
	{"en", connectivity.TransportEthernet},
}

// classifyLink maps a Linux link to a transport. linkType is the netlink
// kind ("device", "wireguard", "tuntap", ...).
func classifyLink(name, linkType string, wireless bool) connectivity.Transport {
	if wireless {
		return connectivity.TransportWifi
	}

	switch linkType {
	case "wireguard", "tuntap", "tun", "ipip", "gre", "sit", "ip6tnl", "vti", "xfrm":
		return connectivity.TransportVpn
	case "veth", "bridge", "bond", "vlan", "macvlan", "ipvlan":
		return connectivity.TransportEthernet
	}

	for _, p := range linkNamePrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.transport
		}
	}
	if linkType == "device" {
		return connectivity.TransportEthernet
	}
	return connectivity.TransportOther
}

// linkOperState maps an RFC 2863 operational state to a link state. Links
// that do not report carrier (tun devices) stay in "unknown" while passing
// traffic, so an administratively up unknown link counts as connected.
func linkOperState(oper string, up bool) connectivity.LinkState {
	switch oper {
	case "up":
		return connectivity.LinkConnected
	case "dormant":
		return connectivity.LinkConnecting
	case "unknown":
		if up {
			return connectivity.LinkConnected
		}
		return connectivity.LinkDisconnected
	case "testing":
		return connectivity.LinkSuspended
	default:
		return connectivity.LinkDisconnected
	}
}

var darwinNamePrefixes = []struct {
	prefix    string
	transport connectivity.Transport
}{
	{"pdp_ip", connectivity.TransportMobile},
	{"utun", connectivity.TransportVpn},
	{"ipsec", connectivity.TransportVpn},
	{"ppp", connectivity.TransportVpn},
	{"bridge", connectivity.TransportEthernet},
	{"en", connectivity.TransportEthernet},
}

// classifyDarwin maps a BSD interface name to a transport. en0 is the
// built-in Wi-Fi on every current Mac and iOS device.
func classifyDarwin(name string) connectivity.Transport {
	if name == "en0" {
		return connectivity.TransportWifi
	}
	for _, p := range darwinNamePrefixes {
		if strings.HasPrefix(name, p.prefix) {
			return p.transport
		}
	}
	return connectivity.TransportOther
}

// flagsState derives a link state from interface flags alone.
func flagsState(flags net.Flags) connectivity.LinkState {
	switch {
	case flags&net.FlagUp == 0:
		return connectivity.LinkDisconnected
	case flags&net.FlagRunning != 0:
		return connectivity.LinkConnected
	default:
		return connectivity.LinkConnecting
	}
}
