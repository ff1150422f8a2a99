package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dhtech/netbootd/internal/config"
)

var validateOpts struct {
	configFile string
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or validate the netbootd configuration file",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse the configuration file and report any errors",
	RunE:  runConfigValidate,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configValidateCmd)
	configValidateCmd.Flags().StringVarP(&validateOpts.configFile, "config", "c", defaultConfigPath, "Configuration file")
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(validateOpts.configFile)
	if err != nil {
		return err
	}

	fmt.Printf("%s: OK\n", validateOpts.configFile)
	if cfg.DHCP != nil && cfg.DHCP.Enabled {
		fmt.Printf("  dhcp: %d scope(s)\n", len(cfg.DHCP.Scopes))
	}
	if cfg.TFTP != nil && cfg.TFTP.Enabled {
		fmt.Printf("  tftp: root=%s port=%d\n", cfg.TFTP.Root, cfg.TFTP.Port)
	}
	if cfg.NFS != nil && cfg.NFS.Enabled {
		fmt.Printf("  nfs: root=%s read_only=%v port=%d\n", cfg.NFS.Root, cfg.NFS.ReadOnly, cfg.NFS.Port)
	}
	if cfg.DNS != nil && cfg.DNS.Enabled {
		fmt.Printf("  dns: %d override(s)\n", len(cfg.DNS.Overrides))
	}
	return nil
}
