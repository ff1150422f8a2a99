// Package config decodes the netbootd HCL configuration file into typed
// structs, following the same hclsimple.Decode convention the rest of
// this codebase's services use for their own config blocks.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Config is the top-level configuration document. Each server is its
// own optional block; omitting a block (or setting enabled = false)
// leaves that server out of the boot sequence entirely.
type Config struct {
	DHCP *DHCPServer `hcl:"dhcp,block"`
	TFTP *TFTPServer `hcl:"tftp,block"`
	NFS  *NFSServer  `hcl:"nfs,block"`
	DNS  *DNSServer  `hcl:"dns,block"`
}

// DHCPServer configures the DHCP/PXE server.
type DHCPServer struct {
	Enabled   bool              `hcl:"enabled,optional"`
	IP        string            `hcl:"ip,optional"`
	Interface string            `hcl:"interface,optional"`
	Scopes    []DHCPScope       `hcl:"scope,block"`
	ModeDebug bool              `hcl:"debug,optional"`
}

// DHCPScope is one address pool/network the DHCP server answers for.
type DHCPScope struct {
	Name         string            `hcl:"name,label"`
	Interface    string            `hcl:"interface,optional"`
	RangeStart   string            `hcl:"range_start"`
	RangeEnd     string            `hcl:"range_end"`
	Router       string            `hcl:"router"`
	SubnetMask   string            `hcl:"subnet_mask,optional"`
	DNS          []string          `hcl:"dns,optional"`
	Domain       string            `hcl:"domain,optional"`
	LeaseSeconds uint32            `hcl:"lease_seconds,optional"`
	TFTPServer   string            `hcl:"tftp_server,optional"`
	FileServer   string            `hcl:"file_server,optional"`
	BootFile     string            `hcl:"boot_file,optional"`
	Options      map[string]string `hcl:"options,optional"`
	Reservations []DHCPReservation `hcl:"reservation,block"`
}

// DHCPReservation pins a MAC address to a fixed IP and, optionally, a
// distinct set of per-host options — the typed replacement for
// spec.md's dotted-path "dhcp.binding.<mac>.*" lookup (see Design Notes).
type DHCPReservation struct {
	MAC      string            `hcl:"mac,label"`
	IP       string            `hcl:"ip"`
	Hostname string            `hcl:"hostname,optional"`
	BootFile string            `hcl:"boot_file,optional"`
	Options  map[string]string `hcl:"options,optional"`
}

// TFTPServer configures the TFTP service.
type TFTPServer struct {
	Enabled        bool    `hcl:"enabled,optional"`
	Address        string  `hcl:"address,optional"`
	Port           int     `hcl:"port,optional"`
	Root           string  `hcl:"root,optional"`
	DefaultRetries int     `hcl:"default_retries,optional"`
	TimeoutSeconds int     `hcl:"timeout_seconds,optional"`
	Debug          bool    `hcl:"debug,optional"`
	HTTPOrigin     string  `hcl:"http_origin,optional"`
}

// NFSServer configures the NFSv4.1 COMPOUND responder.
type NFSServer struct {
	Enabled   bool   `hcl:"enabled,optional"`
	Address   string `hcl:"address,optional"`
	Port      int    `hcl:"port,optional"`
	Root      string `hcl:"root"`
	ReadOnly  bool   `hcl:"read_only,optional"`
}

// DNSServer configures the thin DNS responder.
type DNSServer struct {
	Enabled   bool              `hcl:"enabled,optional"`
	Address   string            `hcl:"address,optional"`
	Port      int               `hcl:"port,optional"`
	Upstream  string            `hcl:"upstream,optional"`
	Overrides map[string]string `hcl:"overrides,optional"`
}

// Load decodes the HCL file at path into a Config and fills in default
// ports, addresses, retry/timeout values and lease times, so the
// servers need not special-case missing fields.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.TFTP != nil {
		if cfg.TFTP.Port == 0 {
			cfg.TFTP.Port = 69
		}
		if cfg.TFTP.Address == "" {
			cfg.TFTP.Address = "0.0.0.0"
		}
		if cfg.TFTP.DefaultRetries == 0 {
			cfg.TFTP.DefaultRetries = 3
		}
		if cfg.TFTP.TimeoutSeconds == 0 {
			cfg.TFTP.TimeoutSeconds = 5
		}
		if cfg.TFTP.Root == "" {
			cfg.TFTP.Root = "."
		}
	}
	if cfg.NFS != nil {
		if cfg.NFS.Port == 0 {
			cfg.NFS.Port = 2049
		}
		if cfg.NFS.Address == "" {
			cfg.NFS.Address = "0.0.0.0"
		}
	}
	if cfg.DNS != nil {
		if cfg.DNS.Port == 0 {
			cfg.DNS.Port = 53
		}
		if cfg.DNS.Address == "" {
			cfg.DNS.Address = "0.0.0.0"
		}
	}
	if cfg.DHCP != nil {
		for i := range cfg.DHCP.Scopes {
			s := &cfg.DHCP.Scopes[i]
			if s.LeaseSeconds == 0 {
				s.LeaseSeconds = 86400
			}
			if s.FileServer == "" {
				s.FileServer = cfg.DHCP.IP
			}
		}
	}
}
