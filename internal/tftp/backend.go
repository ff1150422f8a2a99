package tftp

import "io"

// Backend is the pluggable capability contract a transfer's data comes
// from: a local filesystem tree or an HTTP origin. Grounded in PyPXE's
// AbstractClient/FileBackedClient split (original_source/pypxe/tftp.py),
// generalized here into an explicit interface per spec.md §4.2 so a new
// backend needs no changes to the transfer state machine.
type Backend interface {
	// Probe reports whether name exists and is readable, and its size
	// if known. size may be -1 when the origin cannot report a length
	// up front (e.g. a chunked HTTP response).
	Probe(name string) (exists bool, size int64, err error)

	// Open begins serving name, returning a ReadCloser positioned at
	// offset 0.
	Open(name string) (io.ReadCloser, error)
}
