// Package nfs implements spec.md §4.3/§4.4: an NFSv4.1 COMPOUND
// dispatch processor — per-client session state, a content-addressed
// filehandle table, a stateid-keyed lock table, and a table-driven
// attribute engine. Operation semantics are grounded in
// original_source/pypxe/nfs/operations.py; the dispatch-table shape is
// grounded in marmos91/dittofs's handler.go (other_examples), which
// builds its table at init time rather than via reflection, per
// spec.md §9's explicit redesign note.
package nfs

import (
	"bytes"
	"io"

	"github.com/dhtech/netbootd/internal/wire"
)

// opHandler executes one COMPOUND operation. It reads its own
// arguments from r and returns its status and result payload; the
// COMPOUND loop writes the opcode and status ahead of the payload, and
// the status determines whether the COMPOUND continues.
type opHandler func(ctx *callCtx, r io.Reader) (status uint32, payload []byte)

// Processor holds process-wide NFS state and the opcode dispatch
// table built once at construction.
type Processor struct {
	globals *Globals
	clients *ClientTable
	dispatch map[uint32]opHandler
}

// callCtx is per-COMPOUND-call state: the "current filehandle" cursor
// threaded between operations, plus the caller identity carried on the
// RPC credential (used by ACCESS; see spec.md §4.3).
type callCtx struct {
	p         *Processor
	currentFH string

	hasAuth bool
	uid     uint32
	gid     uint32
}

func NewProcessor(root string, readOnly bool) *Processor {
	p := &Processor{
		globals: NewGlobals(root, readOnly),
		clients: NewClientTable(),
	}
	p.globals.FH.Register(root)
	p.dispatch = map[uint32]opHandler{
		opAccess:          p.handleAccess,
		opClose:           p.handleClose,
		opCreate:          p.handleCreate,
		opGetattr:         p.handleGetattr,
		opGetfh:           p.handleGetfh,
		opLookup:          p.handleLookup,
		opOpen:            p.handleOpen,
		opPutfh:           p.handlePutfh,
		opPutrootfh:       p.handlePutrootfh,
		opRead:            p.handleRead,
		opReaddir:         p.handleReaddir,
		opReadlink:        p.handleReadlink,
		opSetattr:         p.handleSetattrRofs,
		opWrite:           p.handleWriteRofs,
		opExchangeID:      p.handleExchangeID,
		opCreateSession:   p.handleCreateSession,
		opDestroySession:  p.handleDestroySession,
		opSecinfoNoName:   p.handleSecinfoNoName,
		opSequence:        p.handleSequence,
		opTestStateid:     p.handleTestStateid,
		opDestroyClientid: p.handleDestroyClientid,
		opReclaimComplete: p.handleReclaimComplete,
	}
	for _, stub := range []uint32{
		opCommit, opLock, opLockt, opLocku, opLookupp, opNverify,
		opOpenDowngrade, opPutpubfh, opRemove, opRename, opRestorefh,
		opSavefh, opSecinfo, opVerify, opBackchannelCtl, opBindConnToSess,
		opFreeStateid, opLayoutcommit, opSetSSV,
	} {
		p.dispatch[stub] = notSuppHandler
	}
	return p
}

// notSuppHandler resolves spec.md §9's open question: ops with no
// reply in the original Python return a typed NFS4ERR_NOTSUPP status
// instead of appending no bytes, so the COMPOUND stream never desyncs.
// It does not attempt to consume the operation's arguments: since a
// not-supported status already terminates the COMPOUND (see
// ProcessCompound), there is nothing downstream that needs the reader
// advanced.
func notSuppHandler(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return nfs4errNotsupp, nil
}

// ProcessCompound decodes a COMPOUND request with no caller identity
// attached (e.g. an AUTH_NONE credential). Most tests use this; the
// real RPC transport uses ProcessCompoundAs once it has parsed an
// AUTH_SYS credential off the wire.
func (p *Processor) ProcessCompound(args []byte) []byte {
	return p.ProcessCompoundAs(args, 0, 0, false)
}

// ProcessCompoundAs decodes a COMPOUND request (tag, minorversion,
// opcode array) and runs each operation through the dispatch table in
// order, short-circuiting on the first non-zero status per spec.md
// §4.3. uid/gid/hasAuth carry the requester's identity as parsed from
// the RPC call's AUTH_SYS credential, if any.
func (p *Processor) ProcessCompoundAs(args []byte, uid, gid uint32, hasAuth bool) []byte {
	r := bytes.NewReader(args)
	ctx := &callCtx{p: p, uid: uid, gid: gid, hasAuth: hasAuth}

	tag, err := wire.ReadOpaque(r, 0)
	if err != nil {
		return encodeCompoundError(nil, 0, nfs4errBadxdr)
	}
	if _, err := wire.ReadUint32(r); err != nil { // minorversion, unused beyond framing
		return encodeCompoundError(tag, 0, nfs4errBadxdr)
	}
	numOps, err := wire.ReadUint32(r)
	if err != nil {
		return encodeCompoundError(tag, 0, nfs4errBadxdr)
	}

	var results []byte
	var finalStatus uint32
	count := uint32(0)

	for i := uint32(0); i < numOps; i++ {
		opcode, err := wire.ReadUint32(r)
		if err != nil {
			break
		}
		handler, ok := p.dispatch[opcode]
		if !ok {
			handler = unknownOpHandler
		}

		status, payload := handler(ctx, r)
		results = wire.PutUint32(results, opcode)
		results = wire.PutUint32(results, status)
		results = append(results, payload...)
		count++
		finalStatus = status

		if status != statusOK {
			break
		}
	}

	out := wire.PutUint32(nil, finalStatus)
	out = wire.PutOpaque(out, tag)
	out = wire.PutUint32(out, count)
	out = append(out, results...)
	return out
}

func unknownOpHandler(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return nfs4errOpIllegal, nil
}

func encodeCompoundError(tag []byte, count uint32, status uint32) []byte {
	out := wire.PutUint32(nil, status)
	out = wire.PutOpaque(out, tag)
	out = wire.PutUint32(out, count)
	return out
}
