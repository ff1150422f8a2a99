package nfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dhtech/netbootd/internal/wire"
)

func writeCompoundHeader(tag string, ops ...[]byte) []byte {
	var body []byte
	body = wire.PutUint32(body, uint32(len(ops)))
	for _, op := range ops {
		body = append(body, op...)
	}
	out := wire.PutOpaque(nil, []byte(tag))
	out = wire.PutUint32(out, 0) // minorversion
	out = append(out, body...)
	return out
}

func opNoArgs(code uint32) []byte {
	return wire.PutUint32(nil, code)
}

func opGetattrArgs(bits []int) []byte {
	buf := wire.PutUint32(nil, opGetattr)
	buf = append(buf, encodeBitmap(bits)...)
	return buf
}

// decodeResults reads a COMPOUND reply's header: the overall status,
// the echoed tag and the number of op results that follow. Per-op
// results are not decoded.
func decodeResults(t *testing.T, reply []byte) (status uint32, tag string, n uint32) {
	t.Helper()
	status = beU32(reply[0:4])
	off := 4
	tagLen := beU32(reply[off : off+4])
	off += 4
	tag = string(reply[off : off+int(tagLen)])
	off += int(tagLen) + wire.Pad4(int(tagLen))
	n = beU32(reply[off : off+4])
	return status, tag, n
}

func beU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func TestPutrootfhGetattr(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	req := writeCompoundHeader("s5",
		opNoArgs(opPutrootfh),
		opGetattrArgs([]int{attrType, attrSize}),
	)
	reply := p.ProcessCompound(req)

	status, tag, n := decodeResults(t, reply)
	if status != statusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	if tag != "s5" {
		t.Fatalf("tag = %q", tag)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestPutfhStaleFilehandle(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	bogus := make([]byte, 128)
	for i := range bogus {
		bogus[i] = 'a'
	}
	op := wire.PutUint32(nil, opPutfh)
	op = wire.PutOpaque(op, bogus)

	req := writeCompoundHeader("s6", op)
	reply := p.ProcessCompound(req)

	status, _, n := decodeResults(t, reply)
	if status != nfs4errStale {
		t.Fatalf("status = %d, want NFS4ERR_STALE (%d)", status, nfs4errStale)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
}

func TestLookupNoent(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	lookupOp := wire.PutUint32(nil, opLookup)
	lookupOp = wire.PutOpaque(lookupOp, []byte("missing-file"))

	req := writeCompoundHeader("t", opNoArgs(opPutrootfh), lookupOp)
	reply := p.ProcessCompound(req)

	status, _, n := decodeResults(t, reply)
	if status != nfs4errNoent {
		t.Fatalf("status = %d, want NFS4ERR_NOENT", status)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2 (PUTROOTFH succeeded, LOOKUP failed)", n)
	}
}

func TestLookupFoundAndGetattr(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pxelinux.0"), []byte("boot"), 0o644); err != nil {
		t.Fatal(err)
	}
	p := NewProcessor(dir, true)

	lookupOp := wire.PutUint32(nil, opLookup)
	lookupOp = wire.PutOpaque(lookupOp, []byte("pxelinux.0"))

	req := writeCompoundHeader("t",
		opNoArgs(opPutrootfh),
		lookupOp,
		opGetattrArgs([]int{attrSize, attrType}),
	)
	reply := p.ProcessCompound(req)

	status, _, n := decodeResults(t, reply)
	if status != statusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	if n != 3 {
		t.Fatalf("n = %d, want 3", n)
	}
}

func TestUnsupportedOpReturnsNotsupp(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	req := writeCompoundHeader("u", opNoArgs(opRemove))
	reply := p.ProcessCompound(req)

	status, _, n := decodeResults(t, reply)
	if status != nfs4errNotsupp {
		t.Fatalf("status = %d, want NFS4ERR_NOTSUPP", status)
	}
	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
}

func TestUnknownOpcodeReturnsOpIllegal(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	req := writeCompoundHeader("v", opNoArgs(9999))
	reply := p.ProcessCompound(req)

	status, _, _ := decodeResults(t, reply)
	if status != nfs4errOpIllegal {
		t.Fatalf("status = %d, want NFS4ERR_OP_ILLEGAL", status)
	}
}

func TestCreateRejectedOnReadOnlyVolume(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	req := writeCompoundHeader("w", opNoArgs(opPutrootfh), opNoArgs(opCreate))
	reply := p.ProcessCompound(req)

	status, _, _ := decodeResults(t, reply)
	if status != nfs4errRofs {
		t.Fatalf("status = %d, want NFS4ERR_ROFS", status)
	}
}

func opOpenCreateArgs(name string) []byte {
	buf := wire.PutUint32(nil, opOpen)
	buf = wire.PutUint32(buf, 1)          // seqid
	buf = wire.PutUint32(buf, accessRead) // share_access
	buf = wire.PutUint32(buf, 0)          // share_deny
	buf = wire.PutOpaque(buf, make([]byte, 8)) // clientid
	buf = wire.PutOpaque(buf, []byte("owner")) // owner
	buf = wire.PutUint32(buf, open4Create)     // opentype
	buf = wire.PutUint32(buf, createUnchecked) // createmode
	buf = append(buf, encodeBitmap(nil)...)    // attrs mask
	buf = wire.PutOpaque(buf, nil)             // attrs value
	buf = wire.PutUint32(buf, 0)               // claim = CLAIM_NULL
	buf = wire.PutOpaque(buf, []byte(name))
	return buf
}

func TestOpenCreateRejectedOnReadOnlyVolume(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	req := writeCompoundHeader("o", opNoArgs(opPutrootfh), opOpenCreateArgs("newfile"))
	reply := p.ProcessCompound(req)

	status, _, _ := decodeResults(t, reply)
	if status != nfs4errRofs {
		t.Fatalf("status = %d, want NFS4ERR_ROFS", status)
	}
}

// decodePutrootfhThenAccessGranted decodes a COMPOUND reply of exactly
// [PUTROOTFH, ACCESS], returning ACCESS's granted bitmask.
func decodePutrootfhThenAccessGranted(t *testing.T, reply []byte) uint32 {
	t.Helper()
	_, tag, _ := decodeResults(t, reply)
	off := 4 + 4 + len(tag) + wire.Pad4(len(tag)) + 4
	off += 4 + 4 // PUTROOTFH opcode + status, no payload
	off += 4 + 4 // ACCESS opcode + status
	off += 4     // requested bitmask echoed back
	return beU32(reply[off : off+4])
}

func TestAccessRootShortcutGrantsFullAccessRegardlessOfMode(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o000); err != nil {
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)
	p := NewProcessor(dir, false)

	accessOp := wire.PutUint32(nil, opAccess)
	accessOp = wire.PutUint32(accessOp, accessRead|accessLookup|accessModify|accessExtend|accessExec)

	req := writeCompoundHeader("a", opNoArgs(opPutrootfh), accessOp)
	reply := p.ProcessCompoundAs(req, 0, 0, true)

	status, _, _ := decodeResults(t, reply)
	if status != statusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	granted := decodePutrootfhThenAccessGranted(t, reply)
	want := uint32(accessRead | accessLookup | accessModify | accessExtend | accessExec)
	if granted != want {
		t.Fatalf("granted = %#x, want %#x (root shortcut should ignore mode)", granted, want)
	}
}

func TestAccessUnauthenticatedCallerTreatedAsOther(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o751); err != nil { // rwx for owner, --- group, --x other
		t.Fatal(err)
	}
	defer os.Chmod(dir, 0o755)
	p := NewProcessor(dir, false)

	accessOp := wire.PutUint32(nil, opAccess)
	accessOp = wire.PutUint32(accessOp, accessRead|accessLookup|accessModify|accessExtend|accessExec)

	req := writeCompoundHeader("a", opNoArgs(opPutrootfh), accessOp)
	reply := p.ProcessCompoundAs(req, 0, 0, false) // no AUTH_SYS credential at all
	granted := decodePutrootfhThenAccessGranted(t, reply)

	want := uint32(accessLookup | accessExec) // "other" bits on the root dir are --x
	if granted != want {
		t.Fatalf("granted = %#x, want %#x (unauthenticated caller should see only 'other' bits)", granted, want)
	}
}

func TestAccessReadOnlyVolumeMasksWriteBits(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, true)

	accessOp := wire.PutUint32(nil, opAccess)
	accessOp = wire.PutUint32(accessOp, accessModify|accessExtend|accessDelete)

	req := writeCompoundHeader("a", opNoArgs(opPutrootfh), accessOp)
	reply := p.ProcessCompoundAs(req, 0, 0, true) // root shortcut would otherwise grant everything
	granted := decodePutrootfhThenAccessGranted(t, reply)

	if granted != 0 {
		t.Fatalf("granted = %#x, want 0 on a read-only volume", granted)
	}
}

func TestOpenCreateSucceedsOnWritableVolume(t *testing.T) {
	dir := t.TempDir()
	p := NewProcessor(dir, false)

	req := writeCompoundHeader("o", opNoArgs(opPutrootfh), opOpenCreateArgs("newfile"))
	reply := p.ProcessCompound(req)

	status, _, n := decodeResults(t, reply)
	if status != statusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(dir, "newfile")); err != nil {
		t.Fatalf("expected newfile to be created: %v", err)
	}
}
