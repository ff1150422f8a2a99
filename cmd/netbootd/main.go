// Command netbootd serves the four network-boot protocols spec.md
// describes — DHCP/PXE, TFTP, NFSv4.1 and a thin DNS responder — as
// one process, each behind the shared netsvc.Service lifecycle.
package main

func main() {
	Execute()
}
