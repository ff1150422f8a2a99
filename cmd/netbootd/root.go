package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "/etc/netbootd/netbootd.hcl"

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "netbootd",
	Short:   "DHCP/TFTP/NFS/DNS server for diskless network boot",
	Version: version,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
