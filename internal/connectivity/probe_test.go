package connectivity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmdmdm-nz/netstatusd/internal/permission"
)

// fakeSource is a test double for the OS connectivity service
type fakeSource struct {
	iface *Interface
	err   error
	calls int
}

func (f *fakeSource) ActiveInterface(ctx context.Context) (*Interface, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.iface == nil {
		return nil, nil
	}
	iface := *f.iface
	return &iface, nil
}

func active(transport Transport, state LinkState) *fakeSource {
	return &fakeSource{iface: &Interface{Name: "if0", Transport: transport, State: state}}
}

func TestProbe_PermissionDenied(t *testing.T) {
	sources := []*fakeSource{
		active(TransportWifi, LinkConnected),
		active(TransportEthernet, LinkConnecting),
		active(TransportVpn, LinkDisconnected),
		{},
	}

	for _, src := range sources {
		p := NewProbe(src, permission.NewStatic())

		assert.Equal(t, Disconnected, p.QueryState(context.Background()))
		assert.Equal(t, TypeNone, p.QueryType(context.Background()))
		assert.Equal(t, Status{State: Disconnected, Type: TypeNone}, p.Query(context.Background()))
		assert.Zero(t, src.calls, "source must not be read without permission")
	}
}

func TestProbe_ObservePermissionAloneIsNotEnough(t *testing.T) {
	p := NewProbe(active(TransportWifi, LinkConnected), permission.NewStatic(permission.ChangeNetworkState))

	assert.Equal(t, Disconnected, p.QueryState(context.Background()))
	assert.Equal(t, TypeNone, p.QueryType(context.Background()))
}

func TestProbe_MobileTransportsCollapse(t *testing.T) {
	for _, transport := range []Transport{TransportMobile, TransportWimax, TransportMobileDun} {
		t.Run(string(transport), func(t *testing.T) {
			p := NewProbe(active(transport, LinkConnected), permission.All())
			assert.Equal(t, TypeMobile, p.QueryType(context.Background()))
		})
	}
}

func TestProbe_TypeMapping(t *testing.T) {
	tests := []struct {
		transport Transport
		expected  Type
	}{
		{TransportWifi, TypeWifi},
		{TransportBluetooth, TypeBluetooth},
		{TransportEthernet, TypeEthernet},
		{TransportVpn, TypeVpn},
		{TransportOther, TypeUnknown},
		{Transport("SATELLITE"), TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(string(tt.transport), func(t *testing.T) {
			p := NewProbe(active(tt.transport, LinkConnected), permission.All())
			assert.Equal(t, tt.expected, p.QueryType(context.Background()))
		})
	}
}

func TestProbe_StateMapping(t *testing.T) {
	tests := []struct {
		state    LinkState
		expected State
	}{
		{LinkConnected, Connected},
		{LinkConnecting, Connected},
		{LinkSuspended, Disconnected},
		{LinkDisconnecting, Disconnected},
		{LinkDisconnected, Disconnected},
		{LinkUnknown, Disconnected},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			p := NewProbe(active(TransportWifi, tt.state), permission.All())
			assert.Equal(t, tt.expected, p.QueryState(context.Background()))
		})
	}
}

func TestProbe_WifiConnected(t *testing.T) {
	p := NewProbe(active(TransportWifi, LinkConnected), permission.All())

	assert.Equal(t, Connected, p.QueryState(context.Background()))
	assert.Equal(t, TypeWifi, p.QueryType(context.Background()))
}

func TestProbe_NoActiveInterface(t *testing.T) {
	p := NewProbe(&fakeSource{}, permission.All())

	assert.Equal(t, Disconnected, p.QueryState(context.Background()))
	assert.Equal(t, TypeNone, p.QueryType(context.Background()))
	assert.Equal(t, Status{State: Disconnected, Type: TypeNone}, p.Query(context.Background()))
}

func TestProbe_VpnConnecting(t *testing.T) {
	p := NewProbe(active(TransportVpn, LinkConnecting), permission.All())

	assert.Equal(t, Connected, p.QueryState(context.Background()))
	assert.Equal(t, TypeVpn, p.QueryType(context.Background()))
}

func TestProbe_SourceErrorMeansNoInterface(t *testing.T) {
	p := NewProbe(&fakeSource{err: errors.New("bus unavailable")}, permission.All())

	assert.Equal(t, Status{State: Disconnected, Type: TypeNone}, p.Query(context.Background()))
}

func TestProbe_QueryReadsSourceOnce(t *testing.T) {
	src := active(TransportEthernet, LinkConnected)
	p := NewProbe(src, permission.All())

	st := p.Query(context.Background())

	assert.Equal(t, Status{State: Connected, Type: TypeEthernet}, st)
	assert.Equal(t, 1, src.calls)
}

func TestProbe_DoesNotMutateSource(t *testing.T) {
	src := active(TransportWifi, LinkConnecting)
	p := NewProbe(src, permission.All())

	p.Query(context.Background())
	p.QueryState(context.Background())
	p.QueryType(context.Background())

	assert.Equal(t, &Interface{Name: "if0", Transport: TransportWifi, State: LinkConnecting}, src.iface)
}
