package tftp

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"math"
	"net"
	"strconv"
	"time"

	"github.com/dhtech/netbootd/internal/wire"
)

const (
	opRRQ   = 1
	opWRQ   = 2
	opDATA  = 3
	opACK   = 4
	opERROR = 5
	opOACK  = 6
)

// RFC1350 §5 error codes.
const (
	errNotDefined     = 0
	errFileNotFound   = 1
	errAccessViolate  = 2
	errDiskFull       = 3
	errIllegalOp      = 4
	errUnknownTID     = 5
	errFileExists     = 6
	errNoSuchUser     = 7
	errOptionsRefused = 8
)

// transfer is one in-flight RRQ, grounded in PyPXE's AbstractClient
// (original_source/pypxe/tftp.py): its own ephemeral socket, block
// counter with 16-bit wraparound tracking, retry/timeout bookkeeping.
type transfer struct {
	conn     *net.UDPConn
	peer     *net.UDPAddr
	filename string
	backend  Backend
	reader   io.ReadCloser

	blksize    int
	block      uint64 // logical block number (pre-wrap)
	wrap       uint64
	sawNonzero bool   // true once an ACK for a nonzero block has been seen; guards false wrap detection on the OACK ack
	lastBlock  uint64 // computed once filesize is known; 0 means "unknown, grow lazily"
	filesize   int64  // -1 if unknown up front

	retries    int
	maxRetries int
	timeout    time.Duration
	sentAt     time.Time
	dead       bool

	debug bool
}

func (t *transfer) log(format string, args ...any) {
	if t.debug {
		log.Printf("[TFTP] "+format, args...)
	}
}

// parseRRQ splits "filename\x00mode\x00[opt\x00val\x00]..." per
// RFC1350/RFC2348.
func parseRRQ(payload []byte) (filename, mode string, options map[string]string) {
	fields := wire.TLVParse(payload)
	options = map[string]string{}
	if len(fields) >= 1 {
		filename = fields[0]
	}
	if len(fields) >= 2 {
		mode = fields[1]
	}
	for i := 2; i+1 < len(fields); i += 2 {
		options[fields[i]] = fields[i+1]
	}
	return
}

func newTransfer(mainConn *net.UDPConn, peer *net.UDPAddr, backend Backend, defaultRetries int, timeout time.Duration, debug bool) (*transfer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: mainConn.LocalAddr().(*net.UDPAddr).IP})
	if err != nil {
		return nil, err
	}
	return &transfer{
		conn:       conn,
		peer:       peer,
		backend:    backend,
		block:      1,
		maxRetries: defaultRetries,
		retries:    defaultRetries,
		timeout:    timeout,
		blksize:    512,
		debug:      debug,
	}, nil
}

func (t *transfer) sendError(code int, message string) {
	buf := make([]byte, 0, 4+len(message)+1)
	buf = wire.PutUint16(buf, opERROR)
	buf = wire.PutUint16(buf, uint16(code))
	buf = append(buf, message...)
	buf = append(buf, 0)
	t.conn.WriteToUDP(buf, t.peer)
	t.log("error %d: %s", code, message)
}

func (t *transfer) sendOACK(pairs [][2]string) {
	buf := make([]byte, 0, 32)
	buf = wire.PutUint16(buf, opOACK)
	buf = append(buf, wire.TLVEncode(pairs)...)
	t.conn.WriteToUDP(buf, t.peer)
}

// sendBlock reads the next chunk from the backend and sends it as a
// DATA packet, RFC1350 §5's "opcode 3 + 16-bit wrapped block number".
func (t *transfer) sendBlock() error {
	chunk := make([]byte, t.blksize)
	n, err := io.ReadFull(t.reader, chunk)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	chunk = chunk[:n]

	if t.lastBlock == 0 && t.filesize < 0 && n < t.blksize {
		// Unknown-size origin: this short read reveals the end.
		t.lastBlock = t.block
	}

	buf := make([]byte, 0, 4+len(chunk))
	buf = wire.PutUint16(buf, opDATA)
	buf = wire.PutUint16(buf, uint16(t.block%65536))
	buf = append(buf, chunk...)
	if _, err := t.conn.WriteToUDP(buf, t.peer); err != nil {
		return err
	}
	t.retries--
	t.sentAt = time.Now()
	t.log("sent block %d (%d bytes) to %v", t.block, len(chunk), t.peer)
	return nil
}

// noAck reports whether the retransmit timeout has elapsed since the
// last DATA send.
func (t *transfer) noAck() bool {
	return !t.sentAt.IsZero() && time.Since(t.sentAt) > t.timeout
}

func (t *transfer) noRetries() bool {
	return t.retries <= 0
}

func (t *transfer) close() {
	if t.reader != nil {
		t.reader.Close()
	}
	t.conn.Close()
	t.dead = true
}

// beginRequest validates the RRQ and either starts the transfer
// immediately or OACKs negotiated options first, per PyPXE's
// new_request/parse_options/reply_options.
func (t *transfer) beginRequest(filename, mode string, options map[string]string) {
	if mode != "octet" {
		t.sendError(errIllegalOp, fmt.Sprintf("mode %s not supported", mode))
		t.close()
		return
	}

	exists, size, err := t.backend.Probe(filename)
	if err != nil || !exists {
		t.sendError(errFileNotFound, "File Not Found")
		t.close()
		return
	}
	t.filename = filename
	t.filesize = size

	reader, err := t.backend.Open(filename)
	if err != nil {
		t.sendError(errFileNotFound, "File Not Found")
		t.close()
		return
	}
	t.reader = reader

	if blksizeStr, ok := options["blksize"]; ok {
		if n, err := strconv.Atoi(blksizeStr); err == nil && n > 0 {
			t.blksize = n
		}
	}
	if size >= 0 {
		t.lastBlock = uint64(math.Ceil(float64(size) / float64(t.blksize)))
	}

	if len(options) == 0 {
		t.sendBlock()
		return
	}

	t.block = 0 // first post-OACK ACK acks block 0, triggering block 1; sawNonzero is still
	// false at this point, so handleACK won't mistake it for a genuine 65535->0 wrap

	var reply [][2]string
	if _, ok := options["blksize"]; ok {
		reply = append(reply, [2]string{"blksize", strconv.Itoa(t.blksize)})
	}
	if _, ok := options["tsize"]; ok {
		reply = append(reply, [2]string{"tsize", strconv.FormatInt(size, 10)})
	}
	t.sendOACK(reply)
}

// handleACK advances the transfer on receipt of an ACK, replicating
// PyPXE's duplicate/out-of-sequence detection and wraparound-aware
// completion check.
func (t *transfer) handleACK(payload []byte) {
	if len(payload) < 2 {
		return
	}
	block := uint64(binary.BigEndian.Uint16(payload[:2]))

	// A genuine wraparound is block 0 following a previously-seen nonzero
	// block, never the OACK ack (which also arrives as block 0, but with
	// no nonzero block acked yet).
	if block == 0 && t.sawNonzero {
		t.wrap++
	}
	if block != 0 {
		t.sawNonzero = true
	}

	cur := t.block % 65536
	switch {
	case block < cur:
		t.log("ignoring duplicate ACK for block %d", block)
	case block > cur:
		t.log("ignoring out-of-sequence ACK for block %d", block)
	case t.lastBlock != 0 && block+t.wrap*65536 == t.lastBlock:
		if t.filesize >= 0 && t.filesize%int64(t.blksize) == 0 {
			t.block = block + 1
			t.sendBlock()
		}
		t.log("completed %s", t.filename)
		t.close()
	default:
		t.block = block + 1
		t.retries = t.maxRetries
		if err := t.sendBlock(); err != nil {
			t.sendError(errNotDefined, err.Error())
			t.close()
		}
	}
}
