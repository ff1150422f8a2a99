package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/dhtech/netbootd/internal/config"
	"github.com/dhtech/netbootd/internal/dhcp"
	"github.com/dhtech/netbootd/internal/dnsresponder"
	"github.com/dhtech/netbootd/internal/netsvc"
	"github.com/dhtech/netbootd/internal/nfs"
	"github.com/dhtech/netbootd/internal/tftp"
)

var serveOpts struct {
	configFile string
	leaseDB    string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start DHCP/TFTP/NFS/DNS servers from a config file",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveOpts.configFile, "config", "c", defaultConfigPath, "Configuration file")
	serveCmd.Flags().StringVar(&serveOpts.leaseDB, "lease-db", "/var/lib/netbootd/leases.db", "Path to the DHCP lease database (bbolt)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveOpts.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var db *bbolt.DB
	if cfg.DHCP != nil && cfg.DHCP.Enabled {
		db, err = bbolt.Open(serveOpts.leaseDB, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			return fmt.Errorf("open lease db %s: %w", serveOpts.leaseDB, err)
		}
		defer db.Close()
	}

	services, err := buildServices(cfg, db)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		return fmt.Errorf("serve: no servers enabled in %s", serveOpts.configFile)
	}

	ctx := context.Background()
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			stopAll(services)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		log.Printf("[netbootd] %s started", svc.Name())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("[netbootd] shutting down")
	stopAll(services)
	return nil
}

func buildServices(cfg *config.Config, db *bbolt.DB) ([]netsvc.Service, error) {
	var services []netsvc.Service

	if cfg.DHCP != nil && cfg.DHCP.Enabled {
		svc := dhcp.NewService(db)
		if err := svc.Configure(cfg.DHCP); err != nil {
			return nil, fmt.Errorf("configure dhcp: %w", err)
		}
		services = append(services, svc)
	}
	if cfg.TFTP != nil && cfg.TFTP.Enabled {
		svc := tftp.NewService()
		if err := svc.Configure(cfg.TFTP); err != nil {
			return nil, fmt.Errorf("configure tftp: %w", err)
		}
		services = append(services, svc)
	}
	if cfg.NFS != nil && cfg.NFS.Enabled {
		svc := nfs.NewService()
		if err := svc.Configure(cfg.NFS); err != nil {
			return nil, fmt.Errorf("configure nfs: %w", err)
		}
		services = append(services, svc)
	}
	if cfg.DNS != nil && cfg.DNS.Enabled {
		svc := dnsresponder.NewService()
		if err := svc.Configure(cfg.DNS); err != nil {
			return nil, fmt.Errorf("configure dns: %w", err)
		}
		services = append(services, svc)
	}

	return services, nil
}

func stopAll(services []netsvc.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, svc := range services {
		if err := svc.Stop(ctx); err != nil {
			log.Printf("[netbootd] stop %s: %v", svc.Name(), err)
		}
	}
}
