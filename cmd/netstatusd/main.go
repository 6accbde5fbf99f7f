package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/Masterminds/semver"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netstatusd/internal/announce"
	"github.com/dmdmdm-nz/netstatusd/internal/api"
	"github.com/dmdmdm-nz/netstatusd/internal/bridge"
	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
	"github.com/dmdmdm-nz/netstatusd/internal/netmon"
	"github.com/dmdmdm-nz/netstatusd/internal/osnet"
	"github.com/dmdmdm-nz/netstatusd/internal/permission"
	"github.com/dmdmdm-nz/netstatusd/internal/runtime"
	"github.com/dmdmdm-nz/netstatusd/pkg/cli"
	"github.com/dmdmdm-nz/netstatusd/pkg/version"
)

func main() {
	// Parse command line flags
	cfg := cli.ParseFlags()

	// Configure logging
	setLogLevel(cfg.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FullTimestamp:   true,
	})

	log.Infof("Config: Host=%s", cfg.Host)
	log.Infof("Config: Port=%d", cfg.Port)
	log.Infof("Config: LogLevel=%s", cfg.LogLevel)
	log.Infof("Config: Backend=%s", cfg.Backend)
	log.Infof("Config: Announce=%v", cfg.Announce)

	perms, err := newChecker(cfg)
	if err != nil {
		log.WithError(err).Fatal("Invalid permission configuration")
	}

	var minVersion *semver.Version
	if cfg.MinBridgeVersion != "" {
		minVersion, err = semver.NewVersion(cfg.MinBridgeVersion)
		if err != nil {
			log.WithError(err).Fatalf("Invalid minimum bridge version %q", cfg.MinBridgeVersion)
		}
	}

	backend, err := osnet.Open(osnet.Options{
		Kind:         cfg.Backend,
		PollInterval: cfg.PollInterval,
		Settle:       cfg.Settle,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to open connectivity backend")
	}
	defer backend.Close()
	log.WithField("backend", backend.Name).Info("Using connectivity backend")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	probe := connectivity.NewProbe(backend.Source, perms)
	monitor := netmon.NewMonitor(probe, backend.Watcher, perms)
	plugin := bridge.NewPlugin(probe, monitor)
	apiSvc := api.NewService(cfg.Host, cfg.Port, probe, plugin, minVersion)

	// Start in dependency order: netmon → api → announce
	super := runtime.NewSupervisor()
	super.Add("netmon", monitor.Run, monitor.Close)
	super.Add("api", apiSvc.Start, apiSvc.Close)
	if cfg.Announce {
		announcer := announce.NewAnnouncer(instanceName(), cfg.Port, version.Version, probe, monitor)
		super.Add("announce", announcer.Start, announcer.Close)
	}

	if err := super.Start(ctx); err != nil {
		log.WithError(err).Error("Supervisor start failed")
		os.Exit(1)
	}
	if err := super.Wait(ctx); err != nil {
		log.WithError(err).Error("Supervisor wait failed")
		backend.Close()
		os.Exit(1)
	}
}

// newChecker builds the permission checker. A permissions file that does not
// exist yet is seeded with the -grant list.
func newChecker(cfg *cli.Config) (permission.Checker, error) {
	caps, err := permission.ParseCapabilities(cfg.Grant)
	if err != nil {
		return nil, err
	}

	if cfg.PermissionsFile == "" {
		return permission.NewStatic(caps...), nil
	}

	if _, err := os.Stat(cfg.PermissionsFile); errors.Is(err, fs.ErrNotExist) {
		grants := map[permission.Capability]bool{
			permission.AccessNetworkState: false,
			permission.ChangeNetworkState: false,
		}
		for _, c := range caps {
			grants[c] = true
		}
		if err := permission.WriteFile(cfg.PermissionsFile, grants); err != nil {
			return nil, fmt.Errorf("failed to create permissions file: %w", err)
		}
		log.WithField("path", cfg.PermissionsFile).Info("Created permissions file")
	}
	return permission.NewFile(cfg.PermissionsFile), nil
}

func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "netstatusd"
	}
	return fmt.Sprintf("netstatusd on %s", host)
}

func setLogLevel(level string) {
	switch level {
	case "trace":
		log.SetLevel(log.TraceLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
