package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleHCL = `
dhcp {
  enabled = true
  interface = "eth0"

  scope "lab" {
    range_start = "10.0.0.10"
    range_end   = "10.0.0.200"
    router      = "10.0.0.1"
    tftp_server = "10.0.0.1"
    boot_file   = "pxelinux.0"

    reservation "aa:bb:cc:dd:ee:ff" {
      ip       = "10.0.0.50"
      hostname = "bootnode"
    }
  }
}

tftp {
  enabled = true
  root    = "/srv/tftp"
}

nfs {
  enabled   = true
  root      = "/srv/nfs"
  read_only = true
}

dns {
  enabled = true
  overrides = {
    "ftp.se.debian.org" = "10.0.0.5"
  }
}
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "netbootd.hcl")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesAllBlocks(t *testing.T) {
	path := writeTempConfig(t, sampleHCL)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.DHCP)
	assert.True(t, cfg.DHCP.Enabled)
	require.Len(t, cfg.DHCP.Scopes, 1)
	scope := cfg.DHCP.Scopes[0]
	assert.Equal(t, "lab", scope.Name)
	assert.Equal(t, uint32(86400), scope.LeaseSeconds, "default lease time applied")
	require.Len(t, scope.Reservations, 1)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", scope.Reservations[0].MAC)

	require.NotNil(t, cfg.TFTP)
	assert.Equal(t, 69, cfg.TFTP.Port, "default tftp port applied")
	assert.Equal(t, 3, cfg.TFTP.DefaultRetries)

	require.NotNil(t, cfg.NFS)
	assert.Equal(t, 2049, cfg.NFS.Port)
	assert.True(t, cfg.NFS.ReadOnly)

	require.NotNil(t, cfg.DNS)
	assert.Equal(t, 53, cfg.DNS.Port)
	assert.Equal(t, "10.0.0.5", cfg.DNS.Overrides["ftp.se.debian.org"])
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/netbootd.hcl")
	assert.Error(t, err)
}

func TestApplyDefaultsLeavesExplicitValuesAlone(t *testing.T) {
	cfg := &Config{
		TFTP: &TFTPServer{Port: 6969, DefaultRetries: 5, TimeoutSeconds: 10},
	}
	applyDefaults(cfg)
	assert.Equal(t, 6969, cfg.TFTP.Port)
	assert.Equal(t, 5, cfg.TFTP.DefaultRetries)
	assert.Equal(t, 10, cfg.TFTP.TimeoutSeconds)
}
