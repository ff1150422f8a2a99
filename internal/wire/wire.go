// Package wire holds the small byte-level helpers shared by the
// DHCP, TFTP and NFS codecs: big-endian packers, opaque-string padding,
// and null-terminated TLV encoding. None of it is protocol-specific;
// each server package builds its own framing on top.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Pad4 returns the number of padding bytes needed to round n up to a
// multiple of 4, per RFC5661's XDR opaque<> encoding.
func Pad4(n int) int {
	if r := n % 4; r != 0 {
		return 4 - r
	}
	return 0
}

// PutUint16 appends a big-endian uint16.
func PutUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

// PutUint32 appends a big-endian uint32.
func PutUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

// PutUint64 appends a big-endian uint64.
func PutUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

// PutOpaque appends an XDR opaque<>: a 4-byte length prefix, the bytes,
// then zero-padding out to a 4-byte boundary.
func PutOpaque(buf []byte, data []byte) []byte {
	buf = PutUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	pad := Pad4(len(data))
	for i := 0; i < pad; i++ {
		buf = append(buf, 0)
	}
	return buf
}

// ReadUint32 reads a big-endian uint32 from r.
func ReadUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// ReadUint64 reads a big-endian uint64 from r.
func ReadUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// ReadOpaque reads an XDR opaque<>: a 4-byte length prefix followed by
// that many bytes and the 4-byte-boundary padding, which is consumed
// but discarded.
func ReadOpaque(r io.Reader, max int) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	if max > 0 && int(n) > max {
		return nil, fmt.Errorf("wire: opaque length %d exceeds limit %d", n, max)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	pad := Pad4(int(n))
	if pad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// TLVEncode writes a TFTP-style null-terminated key/value option list:
// key, 0x00, value, 0x00, repeated in order.
func TLVEncode(pairs [][2]string) []byte {
	var buf []byte
	for _, kv := range pairs {
		buf = append(buf, kv[0]...)
		buf = append(buf, 0)
		buf = append(buf, kv[1]...)
		buf = append(buf, 0)
	}
	return buf
}

// TLVParse splits a null-separated blob (as used by a TFTP RRQ's
// filename, mode and trailing options) into its null-terminated string
// fields, in order, discarding any trailing bytes that have no
// terminating null. Pairing fields into key/value options is left to
// the caller.
func TLVParse(data []byte) []string {
	var fields []string
	start := 0
	for i, b := range data {
		if b == 0 {
			fields = append(fields, string(data[start:i]))
			start = i + 1
		}
	}
	return fields
}
