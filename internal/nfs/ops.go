package nfs

import (
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/dhtech/netbootd/internal/wire"
)

// statCurrent stats the path behind the COMPOUND's current filehandle.
func (p *Processor) statCurrent(ctx *callCtx) (string, os.FileInfo, bool) {
	path, ok := p.globals.FH.Resolve(ctx.currentFH)
	if !ok {
		return "", nil, false
	}
	info, err := os.Lstat(path)
	if err != nil {
		return path, nil, false
	}
	return path, info, true
}

// --- PUTFH / PUTROOTFH / GETFH ---

func (p *Processor) handlePutfh(ctx *callCtx, r io.Reader) (uint32, []byte) {
	raw, err := wire.ReadOpaque(r, 128)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	fh, err := fhString(raw)
	if err != nil {
		return nfs4errStale, nil
	}
	if _, ok := p.globals.FH.Resolve(fh); !ok {
		return nfs4errStale, nil
	}
	ctx.currentFH = fh
	return statusOK, nil
}

func (p *Processor) handlePutrootfh(ctx *callCtx, r io.Reader) (uint32, []byte) {
	ctx.currentFH = p.globals.FH.Register(p.globals.Root)
	return statusOK, nil
}

func (p *Processor) handleGetfh(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return statusOK, wire.PutOpaque(nil, fhBytes(ctx.currentFH))
}

// --- LOOKUP ---

func (p *Processor) handleLookup(ctx *callCtx, r io.Reader) (uint32, []byte) {
	nameBytes, err := wire.ReadOpaque(r, 0)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errStale, nil
	}
	if !info.IsDir() {
		return nfs4errNotdir, nil
	}
	child := filepath.Join(path, string(nameBytes))
	if _, err := os.Lstat(child); err != nil {
		return nfs4errNoent, nil
	}
	ctx.currentFH = p.globals.FH.Register(child)
	return statusOK, nil
}

// --- GETATTR ---

func (p *Processor) handleGetattr(ctx *callCtx, r io.Reader) (uint32, []byte) {
	maskWords, err := readBitmap(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errNoent, nil
	}
	requested := decodeBitmap(maskWords)
	ac := &attrCtx{path: path, info: info, fh: ctx.currentFH, g: p.globals}
	return statusOK, encodeAttrs(ac, requested)
}

func readBitmap(r io.Reader) ([]uint32, error) {
	n, err := wire.ReadUint32(r)
	if err != nil {
		return nil, err
	}
	words := make([]uint32, n)
	for i := range words {
		w, err := wire.ReadUint32(r)
		if err != nil {
			return nil, err
		}
		words[i] = w
	}
	return words, nil
}

// --- ACCESS ---

const (
	accessRead   = 0x1
	accessLookup = 0x2
	accessModify = 0x4
	accessExtend = 0x8
	accessDelete = 0x10
	accessExec   = 0x20
)

func (p *Processor) handleAccess(ctx *callCtx, r io.Reader) (uint32, []byte) {
	requested, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errStale, nil
	}

	rBit, wBit, xBit := accessClassBits(ctx, info)

	var granted uint32
	if info.IsDir() {
		if rBit {
			granted |= accessRead
		}
		if xBit {
			granted |= accessLookup | accessExec
		}
		if wBit {
			granted |= accessModify | accessExtend
		}
	} else {
		if rBit {
			granted |= accessRead
		}
		if xBit {
			granted |= accessExec
		}
		if wBit {
			granted |= accessModify | accessExtend
		}
	}

	if !p.globals.ReadOnly {
		if parentInfo, err := os.Stat(filepath.Dir(path)); err == nil {
			if _, pw, _ := accessClassBits(ctx, parentInfo); pw {
				granted |= accessDelete
			}
		}
	} else {
		granted &^= accessModify | accessExtend | accessDelete
	}

	granted &= requested
	return statusOK, wire.PutUint32(wire.PutUint32(nil, requested), granted)
}

// accessClassBits resolves the POSIX rwx bits of info's mode that apply
// to the caller named in ctx, per spec.md §4.3: uid==gid==0 is an
// unconditional shortcut to full access; otherwise the owner/group/other
// triplet is selected by comparing ctx's AUTH_SYS identity against the
// file's owning uid/gid. A caller with no AUTH_SYS credential, or a
// platform with no POSIX ownership, is treated as "other".
func accessClassBits(ctx *callCtx, info os.FileInfo) (r, w, x bool) {
	if ctx.hasAuth && ctx.uid == 0 && ctx.gid == 0 {
		return true, true, true
	}

	perm := info.Mode().Perm()
	ownerUID, ownerGID, haveOwner := platformOwner(info)

	var shift uint
	switch {
	case ctx.hasAuth && haveOwner && ctx.uid == ownerUID:
		shift = 6
	case ctx.hasAuth && haveOwner && ctx.gid == ownerGID:
		shift = 3
	default:
		shift = 0
	}

	bits := (perm >> shift) & 0o7
	return bits&0o4 != 0, bits&0o2 != 0, bits&0o1 != 0
}

// --- READ ---

func (p *Processor) handleRead(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadOpaque(r, 12); err != nil { // stateid
		return nfs4errBadxdr, nil
	}
	offset, err := wire.ReadUint64(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	count, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}

	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errNoent, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nfs4errAcces, nil
	}
	defer f.Close()

	buf := make([]byte, count)
	n, _ := f.ReadAt(buf, int64(offset))
	buf = buf[:n]

	eof := uint32(0)
	if offset+uint64(n) >= uint64(info.Size()) {
		eof = 1
	}

	out := wire.PutUint32(nil, eof)
	out = wire.PutOpaque(out, buf)
	return statusOK, out
}

// --- READDIR ---

func (p *Processor) handleReaddir(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadUint64(r); err != nil { // cookie
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadOpaque(r, 8); err != nil { // cookieverf
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadUint32(r); err != nil { // dircount
		return nfs4errBadxdr, nil
	}
	maxcount, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	if _, err := readBitmap(r); err != nil { // requested attrs, ignored per entry for simplicity
		return nfs4errBadxdr, nil
	}

	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errNoent, nil
	}
	if !info.IsDir() {
		return nfs4errNotdir, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nfs4errAcces, nil
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var body []byte
	eof := uint32(1)
	for i, e := range entries {
		childInfo, err := e.Info()
		if err != nil {
			continue
		}
		entryBytes := wire.PutUint64(nil, uint64(i+1)) // cookie = ordinal position
		entryBytes = wire.PutOpaque(entryBytes, []byte(e.Name()))
		ac := &attrCtx{path: filepath.Join(path, e.Name()), info: childInfo, fh: "", g: p.globals}
		entryBytes = append(entryBytes, encodeAttrs(ac, map[int]bool{attrType: true, attrSize: true, attrFileid: true, attrMode: true})...)

		if uint32(len(body)+len(entryBytes)+4) > maxcount {
			eof = 0
			break
		}
		body = wire.PutUint32(body, 1) // entry follows = true
		body = append(body, entryBytes...)
	}
	body = wire.PutUint32(body, 0) // no more entries
	body = wire.PutUint32(body, eof)
	return statusOK, body
}

// --- READLINK ---

func (p *Processor) handleReadlink(ctx *callCtx, r io.Reader) (uint32, []byte) {
	path, info, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errNoent, nil
	}
	if info.Mode()&os.ModeSymlink == 0 {
		return nfs4errWrongType, nil
	}
	target, err := os.Readlink(path)
	if err != nil {
		return nfs4errAcces, nil
	}
	return statusOK, wire.PutOpaque(nil, []byte(target))
}

// --- Read-only mutating operations ---

func (p *Processor) handleCreate(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return nfs4errRofs, nil
}

func (p *Processor) handleSetattrRofs(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return nfs4errRofs, nil
}

func (p *Processor) handleWriteRofs(ctx *callCtx, r io.Reader) (uint32, []byte) {
	return nfs4errRofs, nil
}

// --- OPEN / CLOSE ---

// OPEN4 opentype/createmode values (RFC5661 §18.16).
const (
	open4NoCreate     = 0
	open4Create       = 1
	createUnchecked   = 0
	createGuarded     = 1
	createExclusive41 = 3
)

func (p *Processor) handleOpen(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadUint32(r); err != nil { // seqid
		return nfs4errBadxdr, nil
	}
	shareAccess, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	shareDeny, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadOpaque(r, 8); err != nil { // clientid
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadOpaque(r, 0); err != nil { // owner
		return nfs4errBadxdr, nil
	}

	opentype, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	if opentype == open4Create {
		createmode, err := wire.ReadUint32(r)
		if err != nil {
			return nfs4errBadxdr, nil
		}
		switch createmode {
		case createUnchecked, createGuarded:
			if _, err := readBitmap(r); err != nil {
				return nfs4errBadxdr, nil
			}
			if _, err := wire.ReadOpaque(r, 0); err != nil { // attrs value blob
				return nfs4errBadxdr, nil
			}
		default: // EXCLUSIVE4 / EXCLUSIVE4_1
			if _, err := wire.ReadOpaque(r, 8); err != nil { // verifier
				return nfs4errBadxdr, nil
			}
			if createmode == createExclusive41 {
				if _, err := readBitmap(r); err != nil {
					return nfs4errBadxdr, nil
				}
				if _, err := wire.ReadOpaque(r, 0); err != nil {
					return nfs4errBadxdr, nil
				}
			}
		}
	}

	claim, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	var name string
	if claim == 0 { // CLAIM_NULL
		nameBytes, err := wire.ReadOpaque(r, 0)
		if err != nil {
			return nfs4errBadxdr, nil
		}
		name = string(nameBytes)
	}

	dirPath, dirInfo, ok := p.statCurrent(ctx)
	if !ok {
		return nfs4errStale, nil
	}
	if !dirInfo.IsDir() {
		return nfs4errNotdir, nil
	}

	target := dirPath
	if name != "" {
		target = filepath.Join(dirPath, name)
	}

	if opentype == open4Create {
		if p.globals.ReadOnly {
			return nfs4errRofs, nil
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nfs4errAcces, nil
		}
		f.Close()
	} else if _, err := os.Lstat(target); err != nil {
		return nfs4errNoent, nil
	}

	ctx.currentFH = p.globals.FH.Register(target)

	stateid := randomHex(6) // 6 random bytes hex-encoded to fill stateid4's 12-byte "other" field
	p.globals.addLock(ctx.currentFH, stateid, shareAccess, shareDeny)

	out := wire.PutOpaque(nil, []byte(stateid))
	out = wire.PutUint64(out, 0) // change_info before
	out = wire.PutUint64(out, 0) // change_info after
	out = wire.PutUint32(out, 0) // rflags
	out = wire.PutUint32(out, 0) // OPEN_DELEGATE_NONE
	return statusOK, out
}

func (p *Processor) handleClose(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadUint32(r); err != nil { // seqid
		return nfs4errBadxdr, nil
	}
	stateidRaw, err := wire.ReadOpaque(r, 12)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	p.globals.removeLock(ctx.currentFH, string(stateidRaw))
	return statusOK, wire.PutOpaque(nil, stateidRaw)
}

// --- Session/client operations ---

func (p *Processor) handleExchangeID(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadOpaque(r, 8); err != nil { // verifier
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadOpaque(r, 0); err != nil { // owner
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadUint32(r); err != nil { // flags
		return nfs4errBadxdr, nil
	}

	cs := p.clients.create()
	out := wire.PutOpaque(nil, []byte(cs.ClientID))
	out = wire.PutUint32(out, 0) // sequenceid
	out = wire.PutUint32(out, 0) // flags
	out = wire.PutUint32(out, 0) // state protect
	out = wire.PutOpaque(out, []byte("netbootd"))  // server owner major id
	out = wire.PutOpaque(out, []byte("netbootd"))  // server scope
	out = wire.PutOpaque(out, []byte("netbootd-1")) // server impl id
	return statusOK, out
}

func (p *Processor) handleCreateSession(ctx *callCtx, r io.Reader) (uint32, []byte) {
	clientidRaw, err := wire.ReadOpaque(r, 8)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	seqID, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}

	cs, ok := p.clients.get(string(clientidRaw))
	if !ok {
		return nfs4errStaleClientid, nil
	}
	if seqID > cs.LastSeqID+1 {
		return nfs4errSeqMisordered, nil
	}

	cs.Sessid = randomRaw(16)
	cs.LastSeqID = seqID

	out := wire.PutOpaque(nil, []byte(cs.Sessid))
	out = wire.PutUint32(out, seqID)
	out = wire.PutUint32(out, 0) // flags
	// fore/back channel attrs: the client's requested values are not
	// read; both channels are answered with the same fixed values
	// (8192-byte limits, one operation, one request).
	for i := 0; i < 2; i++ {
		out = wire.PutUint32(out, 0) // headerpadsize
		out = wire.PutUint32(out, 8192)
		out = wire.PutUint32(out, 8192)
		out = wire.PutUint32(out, 8192)
		out = wire.PutUint32(out, 8192)
		out = wire.PutUint32(out, 1) // maxoperations
		out = wire.PutUint32(out, 1) // maxrequests
	}
	return statusOK, out
}

func (p *Processor) handleDestroySession(ctx *callCtx, r io.Reader) (uint32, []byte) {
	sessidRaw, err := wire.ReadOpaque(r, 16)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	cs, ok := p.clients.getBySession(string(sessidRaw))
	if !ok {
		return nfs4errBadsession, nil
	}
	cs.Sessid = ""
	return statusOK, nil
}

func (p *Processor) handleSecinfoNoName(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadUint32(r); err != nil { // style
		return nfs4errBadxdr, nil
	}
	out := wire.PutUint32(nil, 1) // one entry
	out = wire.PutUint32(out, 1) // AUTH_UNIX
	return statusOK, out
}

func (p *Processor) handleSequence(ctx *callCtx, r io.Reader) (uint32, []byte) {
	sessidRaw, err := wire.ReadOpaque(r, 16)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	seqID, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadUint32(r); err != nil { // slotid
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadUint32(r); err != nil { // highest_slotid
		return nfs4errBadxdr, nil
	}
	if _, err := wire.ReadUint32(r); err != nil { // cachethis
		return nfs4errBadxdr, nil
	}

	cs, ok := p.clients.getBySession(string(sessidRaw))
	if !ok {
		return nfs4errStaleClientid, nil
	}

	if seqID == cs.LastSeqID && cs.LastReply != nil {
		return statusOK, cs.LastReply
	}

	out := wire.PutOpaque(nil, sessidRaw)
	out = wire.PutUint32(out, seqID)
	out = wire.PutUint32(out, 0) // slotid
	out = wire.PutUint32(out, 0) // highest slotid
	out = wire.PutUint32(out, 0) // target highest slotid
	out = wire.PutUint32(out, 0) // status flags

	cs.LastSeqID = seqID
	cs.LastReply = out
	return statusOK, out
}

func (p *Processor) handleTestStateid(ctx *callCtx, r io.Reader) (uint32, []byte) {
	n, err := wire.ReadUint32(r)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	out := wire.PutUint32(nil, n)
	for i := uint32(0); i < n; i++ {
		if _, err := wire.ReadOpaque(r, 12); err != nil {
			return nfs4errBadxdr, nil
		}
		out = wire.PutUint32(out, statusOK)
	}
	return statusOK, out
}

func (p *Processor) handleDestroyClientid(ctx *callCtx, r io.Reader) (uint32, []byte) {
	clientidRaw, err := wire.ReadOpaque(r, 8)
	if err != nil {
		return nfs4errBadxdr, nil
	}
	p.clients.delete(string(clientidRaw))
	return statusOK, nil
}

func (p *Processor) handleReclaimComplete(ctx *callCtx, r io.Reader) (uint32, []byte) {
	if _, err := wire.ReadUint32(r); err != nil { // one_fs
		return nfs4errBadxdr, nil
	}
	return statusOK, nil
}
