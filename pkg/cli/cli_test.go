package cli

import (
	"bytes"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_Defaults(t *testing.T) {
	cfg, err := ParseArgs(nil)
	require.NoError(t, err)

	assert.Equal(t, 60106, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Settle)
	assert.Empty(t, cfg.PermissionsFile)
	assert.Equal(t, "ACCESS_NETWORK_STATE,CHANGE_NETWORK_STATE", cfg.Grant)
	assert.Empty(t, cfg.MinBridgeVersion)
	assert.False(t, cfg.Announce)
	assert.False(t, cfg.ShowVersion)
}

func TestParseArgs_Overrides(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"-host", "0.0.0.0",
		"-port", "8080",
		"-log-level", "debug",
		"-backend", "poll",
		"-poll-interval", "2s",
		"-settle", "0s",
		"-permissions-file", "/etc/netstatusd/permissions.plist",
		"-grant", "ACCESS_NETWORK_STATE",
		"-min-bridge-version", "1.2.0",
		"-announce",
	})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "poll", cfg.Backend)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Duration(0), cfg.Settle)
	assert.Equal(t, "/etc/netstatusd/permissions.plist", cfg.PermissionsFile)
	assert.Equal(t, "ACCESS_NETWORK_STATE", cfg.Grant)
	assert.Equal(t, "1.2.0", cfg.MinBridgeVersion)
	assert.True(t, cfg.Announce)
}

func TestParseArgs_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"-port", "eighty"},
		{"-poll-interval", "0s"},
		{"-settle", "-1s"},
		{"-no-such-flag"},
	} {
		_, err := ParseArgs(args)
		assert.Error(t, err, "%v", args)
	}
}

func TestConfig_String(t *testing.T) {
	cfg, err := ParseArgs([]string{"-announce"})
	require.NoError(t, err)

	s := cfg.String()
	assert.Contains(t, s, "Host: 127.0.0.1")
	assert.Contains(t, s, "Port: 60106")
	assert.Contains(t, s, "Announce: true")
}

func TestReportParseError(t *testing.T) {
	_, err := ParseArgs([]string{"-help"})
	require.ErrorIs(t, err, flag.ErrHelp)

	var out bytes.Buffer
	assert.Equal(t, 0, reportParseError(&out, err))
	assert.Empty(t, out.String())

	_, err = ParseArgs([]string{"-poll-interval", "0s"})
	require.Error(t, err)
	out.Reset()
	assert.Equal(t, 2, reportParseError(&out, err))
	assert.Contains(t, out.String(), "poll-interval must be positive")

	_, err = ParseArgs([]string{"-settle", "-1s"})
	require.Error(t, err)
	out.Reset()
	assert.Equal(t, 2, reportParseError(&out, err))
	assert.Contains(t, out.String(), "settle must not be negative")

	// flag has already printed its own parse errors.
	_, err = ParseArgs([]string{"-no-such-flag"})
	require.Error(t, err)
	out.Reset()
	assert.Equal(t, 2, reportParseError(&out, err))
	assert.Empty(t, out.String())
}
