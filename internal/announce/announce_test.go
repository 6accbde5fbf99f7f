package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
	"github.com/dmdmdm-nz/netstatusd/internal/permission"
)

type fakeServer struct {
	mu       sync.Mutex
	texts    [][]string
	shutdown int
}

func (s *fakeServer) SetText(text []string) {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
}

func (s *fakeServer) Shutdown() {
	s.mu.Lock()
	s.shutdown++
	s.mu.Unlock()
}

func (s *fakeServer) Texts() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.texts...)
}

func (s *fakeServer) Shutdowns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shutdown
}

type fakeSource struct {
	iface *connectivity.Interface
}

func (s fakeSource) ActiveInterface(ctx context.Context) (*connectivity.Interface, error) {
	return s.iface, nil
}

type fakeStatusSource struct {
	ch       chan connectivity.Status
	unsubbed chan struct{}
}

func newFakeStatusSource() *fakeStatusSource {
	return &fakeStatusSource{
		ch:       make(chan connectivity.Status, 4),
		unsubbed: make(chan struct{}),
	}
}

func (s *fakeStatusSource) Subscribe() (<-chan connectivity.Status, func()) {
	return s.ch, func() { close(s.unsubbed) }
}

type registration struct {
	instance string
	service  string
	domain   string
	port     int
	text     []string
}

// stubRegister replaces registerFunc for the duration of the test.
func stubRegister(t *testing.T, server *fakeServer, err error) <-chan registration {
	t.Helper()

	calls := make(chan registration, 1)
	orig := registerFunc
	registerFunc = func(instance, service, domain string, port int, text []string) (textServer, error) {
		calls <- registration{instance, service, domain, port, text}
		if err != nil {
			return nil, err
		}
		return server, nil
	}
	t.Cleanup(func() { registerFunc = orig })
	return calls
}

func newTestAnnouncer(source *fakeStatusSource) *Announcer {
	probe := connectivity.NewProbe(fakeSource{iface: &connectivity.Interface{
		Name:      "en0",
		Transport: connectivity.TransportWifi,
		State:     connectivity.LinkConnected,
	}}, permission.All())
	return NewAnnouncer("test-host", 60106, "1.0.0", probe, source)
}

func TestTXTRecords(t *testing.T) {
	txt := TXTRecords(connectivity.Status{State: connectivity.Disconnected, Type: connectivity.TypeNone}, "dev")
	assert.Equal(t, []string{"state=disconnected", "type=none", "version=dev"}, txt)
}

func TestAnnouncer_RegistersWithCurrentStatus(t *testing.T) {
	server := &fakeServer{}
	calls := stubRegister(t, server, nil)
	source := newFakeStatusSource()
	a := newTestAnnouncer(source)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	select {
	case reg := <-calls:
		assert.Equal(t, "test-host", reg.instance)
		assert.Equal(t, ServiceType, reg.service)
		assert.Equal(t, Domain, reg.domain)
		assert.Equal(t, 60106, reg.port)
		assert.Equal(t, []string{"state=connected", "type=wifi", "version=1.0.0"}, reg.text)
	case <-time.After(2 * time.Second):
		t.Fatal("service was not registered")
	}

	cancel()
	require.NoError(t, <-done)

	select {
	case <-source.unsubbed:
	case <-time.After(time.Second):
		t.Fatal("announcer did not unsubscribe")
	}

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, server.Shutdowns())
}

func TestAnnouncer_UpdatesTXTOnChange(t *testing.T) {
	server := &fakeServer{}
	stubRegister(t, server, nil)
	source := newFakeStatusSource()
	a := newTestAnnouncer(source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Start(ctx)

	// Same as the registered status, no update.
	source.ch <- connectivity.Status{State: connectivity.Connected, Type: connectivity.TypeWifi}
	source.ch <- connectivity.Status{State: connectivity.Connected, Type: connectivity.TypeMobile}

	require.Eventually(t, func() bool { return len(server.Texts()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"state=connected", "type=mobile", "version=1.0.0"}, server.Texts()[0])
}

func TestAnnouncer_RegistrationFailureIsNotFatal(t *testing.T) {
	stubRegister(t, nil, errors.New("no multicast interface"))
	a := newTestAnnouncer(newFakeStatusSource())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	assert.NoError(t, a.Close())
}

func TestAnnouncer_CloseBeforeRegistration(t *testing.T) {
	server := &fakeServer{}
	stubRegister(t, server, nil)
	a := newTestAnnouncer(newFakeStatusSource())

	require.NoError(t, a.Close())
	require.NoError(t, a.Start(context.Background()))
	assert.Equal(t, 1, server.Shutdowns())
}
