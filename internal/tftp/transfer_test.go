package tftp

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestParseRRQ(t *testing.T) {
	payload := append([]byte("boot.kpxe\x00octet\x00blksize\x001024\x00"))
	filename, mode, options := parseRRQ(payload)

	if filename != "boot.kpxe" {
		t.Fatalf("filename = %q, want boot.kpxe", filename)
	}
	if mode != "octet" {
		t.Fatalf("mode = %q, want octet", mode)
	}
	if options["blksize"] != "1024" {
		t.Fatalf("options[blksize] = %q, want 1024", options["blksize"])
	}
}

func TestParseRRQNoOptions(t *testing.T) {
	payload := []byte("boot.kpxe\x00octet\x00")
	filename, mode, options := parseRRQ(payload)

	if filename != "boot.kpxe" || mode != "octet" {
		t.Fatalf("got filename=%q mode=%q", filename, mode)
	}
	if len(options) != 0 {
		t.Fatalf("expected no options, got %v", options)
	}
}

func TestTransferNoAckBeforeSend(t *testing.T) {
	tr := &transfer{}
	if tr.noAck() {
		t.Fatalf("noAck should be false before any DATA has been sent")
	}
}

// recvDataBlocks drains any DATA packets already sitting on conn,
// returning their block numbers in arrival order.
func recvDataBlocks(t *testing.T, conn *net.UDPConn) []uint16 {
	t.Helper()
	var blocks []uint16
	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		if n < 4 || buf[0] != 0 || buf[1] != opDATA {
			continue
		}
		blocks = append(blocks, uint16(buf[2])<<8|uint16(buf[3]))
	}
	return blocks
}

// TestHandleACKDrivesNegotiatedTransferToCompletion reproduces spec.md's
// S3 scenario for a transfer whose first ACK is the OACK ack (block 0,
// t.block deliberately reset to 0 by beginRequest): the false-wrap bug
// made this ack look like a genuine 65535->0 wraparound and the
// transfer never terminated, emitting an extra DATA frame past the
// last real block.
func TestHandleACKDrivesNegotiatedTransferToCompletion(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer conn.Close()
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("ListenUDP: %v", err)
	}
	defer peer.Close()

	data := []byte("abcdefg") // 7 bytes, blksize 3 -> blocks "abc","def","g"
	tr := &transfer{
		conn:       conn,
		peer:       peer.LocalAddr().(*net.UDPAddr),
		reader:     io.NopCloser(bytes.NewReader(data)),
		blksize:    3,
		filesize:   int64(len(data)),
		lastBlock:  3,
		maxRetries: 3,
		retries:    3,
		timeout:    time.Second,
	}
	tr.block = 0 // mirrors beginRequest's post-OACK reset; sawNonzero is still false

	tr.handleACK([]byte{0, 0}) // client ACKs the OACK (block 0)
	tr.handleACK([]byte{0, 1}) // client ACKs block 1
	tr.handleACK([]byte{0, 2}) // client ACKs block 2
	tr.handleACK([]byte{0, 3}) // client ACKs block 3, the last real block

	if !tr.dead {
		t.Fatalf("transfer should have completed after the last block was ACKed")
	}
	if tr.wrap != 0 {
		t.Fatalf("wrap = %d, want 0 (no genuine 65535->0 wraparound occurred)", tr.wrap)
	}

	got := recvDataBlocks(t, peer)
	want := []uint16{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("sent DATA blocks %v, want %v (no spurious extra frame)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sent DATA blocks %v, want %v", got, want)
		}
	}
}
