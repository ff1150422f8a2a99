// Package netsvc defines the lifecycle contract shared by the DHCP,
// TFTP, NFS and DNS servers: Name/Start/Stop/Status, the same shape
// every service in this codebase implements.
package netsvc

import "context"

// Status reports whether a service is currently running.
type Status struct {
	Name    string
	Running bool
	Error   string
}

// Service is the lifecycle every server in this repository implements,
// so cmd/netbootd can start, stop and report on them uniformly.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() Status
}
