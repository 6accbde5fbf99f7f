package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Masterminds/semver"
	"github.com/coder/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/bridge"
	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

const shutdownTimeout = 5 * time.Second

// Service represents the HTTP server for the API. Every WebSocket connected
// to /ws is a web container talking to the networkStatus plugin.
type Service struct {
	address    string
	port       int
	probe      *connectivity.Probe
	plugin     *bridge.Plugin
	minVersion *semver.Version

	mu         sync.Mutex
	server     *http.Server
	listener   net.Listener
	containers map[string]*wsContainer
	closed     bool
}

// NewService creates the API service. A nil minVersion accepts any bridge.
func NewService(host string, port int, probe *connectivity.Probe, plugin *bridge.Plugin, minVersion *semver.Version) *Service {
	return &Service{
		address:    host,
		port:       port,
		probe:      probe,
		plugin:     plugin,
		minVersion: minVersion,
		containers: make(map[string]*wsContainer),
	}
}

// Start serves the API until ctx is done or the listener fails.
func (s *Service) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.address, fmt.Sprint(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	log.Infof("Starting netstatusd API service at %s", ln.Addr())
	defer log.Info("Stopping netstatusd API service")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("API service failed: %w", err)
	}
}

// Addr returns the address the service listens on, or nil before Start.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.server
	containers := make([]*wsContainer, 0, len(s.containers))
	for _, c := range s.containers {
		containers = append(containers, c)
	}
	s.mu.Unlock()

	// Hijacked connections are not tracked by http.Server.
	for _, c := range containers {
		log.WithField("container", c.id).Debug("Closing web container")
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}

// Handler returns the API routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusOK)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Add("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		if err := enc.Encode(s.probe.Query(r.Context())); err != nil {
			http.Error(w, fmt.Sprintf("Failed to encode status: %v", err), http.StatusInternalServerError)
		}
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if status, err := s.checkBridgeVersion(r.URL.Query().Get("bridge")); err != nil {
			http.Error(w, err.Error(), status)
			return
		}

		serveContainer(s, w, r)
	})
	return mux
}

// checkBridgeVersion validates the client's bridge version against the
// configured minimum. Clients that do not send a version are accepted.
func (s *Service) checkBridgeVersion(raw string) (int, error) {
	if raw == "" || s.minVersion == nil {
		return http.StatusOK, nil
	}

	v, err := semver.NewVersion(raw)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("invalid bridge version %q", raw)
	}
	if v.LessThan(s.minVersion) {
		log.WithFields(log.Fields{
			"bridgeVersion": v.String(),
			"minVersion":    s.minVersion.String(),
		}).Debug("Rejecting outdated bridge")
		return http.StatusUpgradeRequired, fmt.Errorf("bridge version %s is below the minimum %s", v, s.minVersion)
	}
	return http.StatusOK, nil
}

func (s *Service) addContainer(c *wsContainer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.containers[c.id] = c
	return true
}

func (s *Service) removeContainer(c *wsContainer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.containers, c.id)
}

func (s *Service) containerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.containers)
}
