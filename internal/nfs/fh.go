package nfs

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"sync"
)

// FilehandleTable maps the hex-encoded SHA-512 digest of an absolute
// path to that path. The digest is exactly 128 ASCII characters, which
// satisfies the NFSv4 128-byte opaque filehandle contract without any
// extra encoding step — grounded directly in PyPXE's
// `hashlib.sha512(path).hexdigest()` (original_source/pypxe/nfs/operations.py).
type FilehandleTable struct {
	mu    sync.RWMutex
	byFH  map[string]string
}

func NewFilehandleTable() *FilehandleTable {
	return &FilehandleTable{byFH: map[string]string{}}
}

// Register computes the filehandle for path and stores it, returning
// the 128-byte (128 hex char) handle.
func (t *FilehandleTable) Register(path string) string {
	sum := sha512.Sum512([]byte(path))
	fh := hex.EncodeToString(sum[:])

	t.mu.Lock()
	defer t.mu.Unlock()
	t.byFH[fh] = path
	return fh
}

// Resolve returns the path for a filehandle, or ok=false if it was
// never registered (NFS4ERR_STALE territory).
func (t *FilehandleTable) Resolve(fh string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.byFH[fh]
	return p, ok
}

// fhBytes round-trips the wire representation: 128 raw bytes is the
// ASCII hex string itself, per the contract above.
func fhBytes(fh string) []byte {
	return []byte(fh)
}

func fhString(b []byte) (string, error) {
	if len(b) != 128 {
		return "", fmt.Errorf("nfs: filehandle must be 128 bytes, got %d", len(b))
	}
	return string(b), nil
}
