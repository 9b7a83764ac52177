package runner

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/projectdiscovery/netwarden/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestParseRate(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"64000", 64000},
		{"512k", 512000},
		{"2m", 2000000},
		{"1.5g", 1500000000},
		{"10Mbps", 10000000},
		{"256kbit", 256000},
		{" 0 ", 0},
	}
	for _, tt := range tests {
		got, err := ParseRate(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "fast", "-1m", "m"} {
		_, err := ParseRate(bad)
		require.Error(t, err, bad)
		require.True(t, errors.Is(err, types.ErrInvalidInput), bad)
	}
}

func TestParseLimits(t *testing.T) {
	requests, err := parseLimits([]string{"192.168.1.50=2m"}, map[string]string{"192.168.1.51": "512k"})
	require.NoError(t, err)
	require.ElementsMatch(t, []LimitRequest{
		{IP: "192.168.1.50", BPS: 2000000},
		{IP: "192.168.1.51", BPS: 512000},
	}, requests)

	_, err = parseLimits([]string{"192.168.1.50"}, nil)
	require.True(t, errors.Is(err, types.ErrInvalidInput))

	_, err = parseLimits([]string{"::1=1m"}, nil)
	require.True(t, errors.Is(err, types.ErrInvalidInput))
}

func TestLoadPolicyAndMerge(t *testing.T) {
	location := filepath.Join(t.TempDir(), "policy.yaml")
	policy := `
engine:
  interface: eth1
  scan_interval: 30s
  fake_poison_mac: false
cut:
  - 192.168.1.60
protect:
  - 192.168.1.20
limits:
  192.168.1.70: 1m
`
	require.NoError(t, os.WriteFile(location, []byte(policy), 0o600))

	loaded, err := LoadPolicy(location)
	require.NoError(t, err)
	require.Equal(t, []string{"192.168.1.60"}, loaded.Cut)
	require.Equal(t, []string{"192.168.1.20"}, loaded.Protect)
	require.Equal(t, "1m", loaded.Limits["192.168.1.70"])

	options := &Options{FakePoisonMAC: true, ReplyWindow: 2 * time.Second}
	merged := options.engineOptions(loaded)
	require.Equal(t, "eth1", merged.Interface)
	require.Equal(t, 30*time.Second, merged.ScanInterval)
	require.Equal(t, 2*time.Second, merged.ReplyWindow)
	require.True(t, merged.FakePoisonMAC)

	options.Interface = "wlan0"
	require.Equal(t, "wlan0", options.engineOptions(loaded).Interface)

	_, err = LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestFormatRate(t *testing.T) {
	require.Equal(t, "0 bit/s", FormatRate(0))
	require.Equal(t, "999 bit/s", FormatRate(999))
	require.Equal(t, "1.5 kbit/s", FormatRate(1500))
	require.Equal(t, "2.0 Mbit/s", FormatRate(2000000))
	require.Equal(t, "1.2 Gbit/s", FormatRate(1200000000))
}
