//go:build linux

package osnet

import (
	"context"
	"io"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

const (
	nmDest                 = "org.freedesktop.NetworkManager"
	nmPath                 = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	nmInterface            = "org.freedesktop.NetworkManager"
	nmActiveInterface      = "org.freedesktop.NetworkManager.Connection.Active"
	nmDeviceInterface      = "org.freedesktop.NetworkManager.Device"
	nmBluetoothInterface   = "org.freedesktop.NetworkManager.Device.Bluetooth"
	dbusPropertiesGet      = "org.freedesktop.DBus.Properties.Get"
	dbusPropertiesIface    = "org.freedesktop.DBus.Properties"
	dbusPropertiesChanged  = "org.freedesktop.DBus.Properties.PropertiesChanged"
	nmStateChangedSignal   = "org.freedesktop.NetworkManager.StateChanged"
	nmDefaultQueryDeadline = 3 * time.Second
)

// Properties whose change can alter the probed status.
var nmRelevantProperties = map[string]map[string]struct{}{
	nmInterface: {
		"State":                 {},
		"PrimaryConnection":     {},
		"PrimaryConnectionType": {},
		"ActivatingConnection":  {},
		"ActiveConnections":     {},
		"Connectivity":          {},
	},
	nmActiveInterface: {
		"State":   {},
		"Devices": {},
		"Type":    {},
	},
}

type propertyGetter func(ctx context.Context, path dbus.ObjectPath, iface, name string, v any) error

// NetworkManager reads connectivity from NetworkManager over the system bus.
type NetworkManager struct {
	conn   *dbus.Conn
	get    propertyGetter
	settle time.Duration
}

// NewNetworkManager connects to the system bus and verifies NetworkManager
// is running.
func NewNetworkManager(settle time.Duration) (*NetworkManager, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connect system bus")
	}

	nm := &NetworkManager{conn: conn, settle: settle}
	nm.get = nm.busProperty

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var state uint32
	if err := nm.get(ctx, nmPath, nmInterface, "State", &state); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "NetworkManager not available")
	}
	return nm, nil
}

func (nm *NetworkManager) busProperty(ctx context.Context, path dbus.ObjectPath, iface, name string, v any) error {
	return nm.conn.Object(nmDest, path).CallWithContext(ctx, dbusPropertiesGet, 0, iface, name).Store(v)
}

func (nm *NetworkManager) ActiveInterface(ctx context.Context) (*connectivity.Interface, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, nmDefaultQueryDeadline)
		defer cancel()
	}

	path, err := nm.activeConnection(ctx)
	if err != nil || path == "" {
		return nil, err
	}

	var connType string
	if err := nm.get(ctx, path, nmActiveInterface, "Type", &connType); err != nil {
		return nil, errors.Wrapf(err, "read type of %s", path)
	}
	var state uint32
	if err := nm.get(ctx, path, nmActiveInterface, "State", &state); err != nil {
		return nil, errors.Wrapf(err, "read state of %s", path)
	}

	iface := &connectivity.Interface{
		Transport: nmConnectionTransport(connType),
		State:     nmActiveLinkState(state),
	}

	var devices []dbus.ObjectPath
	if err := nm.get(ctx, path, nmActiveInterface, "Devices", &devices); err != nil || len(devices) == 0 {
		log.WithField("connection", path).Trace("Active connection has no devices")
		return iface, nil
	}

	if err := nm.get(ctx, devices[0], nmDeviceInterface, "Interface", &iface.Name); err != nil {
		log.WithError(err).WithField("device", devices[0]).Trace("Failed to read device interface name")
	}

	if iface.Transport == connectivity.TransportBluetooth {
		var caps uint32
		if err := nm.get(ctx, devices[0], nmBluetoothInterface, "BtCapabilities", &caps); err == nil {
			iface.Transport = nmBluetoothTransport(caps)
		}
	}

	return iface, nil
}

// activeConnection returns the primary connection, or the one being
// activated when there is none yet. An empty path means no connection.
func (nm *NetworkManager) activeConnection(ctx context.Context) (dbus.ObjectPath, error) {
	for _, prop := range []string{"PrimaryConnection", "ActivatingConnection"} {
		var path dbus.ObjectPath
		if err := nm.get(ctx, nmPath, nmInterface, prop, &path); err != nil {
			return "", errors.Wrapf(err, "read %s", prop)
		}
		if path != "" && path != "/" {
			return path, nil
		}
	}
	return "", nil
}

func (nm *NetworkManager) matchOptions() [][]dbus.MatchOption {
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchSender(nmDest),
			dbus.WithMatchInterface(dbusPropertiesIface),
			dbus.WithMatchMember("PropertiesChanged"),
		},
		{
			dbus.WithMatchSender(nmDest),
			dbus.WithMatchObjectPath(nmPath),
			dbus.WithMatchInterface(nmInterface),
			dbus.WithMatchMember("StateChanged"),
		},
	}
}

func (nm *NetworkManager) Subscribe(callback func()) (io.Closer, error) {
	matches := nm.matchOptions()
	for i, opts := range matches {
		if err := nm.conn.AddMatchSignal(opts...); err != nil {
			for _, added := range matches[:i] {
				_ = nm.conn.RemoveMatchSignal(added...)
			}
			return nil, errors.Wrap(err, "add NetworkManager signal match")
		}
	}

	signals := make(chan *dbus.Signal, 32)
	nm.conn.Signal(signals)

	cleanup := func() {
		nm.conn.RemoveSignal(signals)
		for _, opts := range matches {
			_ = nm.conn.RemoveMatchSignal(opts...)
		}
	}

	events := make(chan struct{}, 1)
	return startSubscription(func(ctx context.Context) {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case signal, ok := <-signals:
					if !ok {
						return
					}
					if isRelevantSignal(signal) {
						log.WithFields(log.Fields{
							"path":   signal.Path,
							"signal": signal.Name,
						}).Trace("Received NetworkManager signal")
						notify(events)
					}
				}
			}
		}()
		coalesce(ctx, events, nm.settle, callback)
	}, cleanup), nil
}

func (nm *NetworkManager) Close() error {
	return nm.conn.Close()
}

// isRelevantSignal filters the PropertiesChanged flood (access point signal
// strength, device statistics) down to changes that affect the status.
func isRelevantSignal(signal *dbus.Signal) bool {
	switch signal.Name {
	case nmStateChangedSignal:
		return true
	case dbusPropertiesChanged:
	default:
		return false
	}

	if len(signal.Body) < 2 {
		return false
	}
	iface, ok := signal.Body[0].(string)
	if !ok {
		return false
	}
	wanted, ok := nmRelevantProperties[iface]
	if !ok {
		return false
	}
	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	for name := range changed {
		if _, ok := wanted[name]; ok {
			return true
		}
	}
	return false
}
