package dhcp

import (
	"encoding/binary"
	"fmt"
	"net"
)

// BOOTP/DHCP message types used on the wire (option 53 values).
const (
	MsgDiscover = 1
	MsgOffer    = 2
	MsgRequest  = 3
	MsgAck      = 5
	MsgNak      = 6
)

var magicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// optionsStart is the byte offset of the option area in a BOOTP
// datagram: 236-byte fixed header (op..file) plus the 4-byte magic
// cookie.
const optionsStart = 240

// Packet is a parsed BOOTP/DHCP datagram: the fixed header fields the
// server needs, plus the option codes present on receive.
type Packet struct {
	Op      byte
	XID     [4]byte
	Secs    uint16
	Flags   uint16
	CIAddr  net.IP
	YIAddr  net.IP
	GIAddr  net.IP
	CHAddr  net.HardwareAddr
	Options map[byte][]byte
}

// MessageType returns the value of option 53, or 0 if absent.
func (p *Packet) MessageType() byte {
	if v, ok := p.Options[53]; ok && len(v) == 1 {
		return v[0]
	}
	return 0
}

// RequestedIP returns option 50 (Requested IP Address) if present.
func (p *Packet) RequestedIP() net.IP {
	if v, ok := p.Options[50]; ok && len(v) == 4 {
		return net.IP(v)
	}
	return nil
}

// ParsePacket decodes a raw BOOTP datagram: the 236-byte preamble,
// magic cookie and TLV option area starting at byte 240, per RFC2131
// §2 / RFC2132 §2.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) < optionsStart+1 {
		return nil, fmt.Errorf("dhcp: packet too short (%d bytes)", len(buf))
	}

	p := &Packet{
		Op:      buf[0],
		Secs:    binary.BigEndian.Uint16(buf[8:10]),
		Flags:   binary.BigEndian.Uint16(buf[10:12]),
		CIAddr:  net.IP(append([]byte{}, buf[12:16]...)),
		YIAddr:  net.IP(append([]byte{}, buf[16:20]...)),
		GIAddr:  net.IP(append([]byte{}, buf[24:28]...)),
		CHAddr:  net.HardwareAddr(append([]byte{}, buf[28:34]...)),
		Options: map[byte][]byte{},
	}
	copy(p.XID[:], buf[4:8])

	if !equalCookie(buf[236:240]) {
		return nil, fmt.Errorf("dhcp: missing magic cookie")
	}

	opts := buf[optionsStart:]
	for i := 0; i < len(opts); {
		code := opts[i]
		if code == 0xff { // End
			break
		}
		if code == 0x00 { // Pad
			i++
			continue
		}
		if i+1 >= len(opts) {
			break
		}
		length := int(opts[i+1])
		start := i + 2
		end := start + length
		if end > len(opts) {
			break
		}
		p.Options[code] = append([]byte{}, opts[start:end]...)
		i = end
	}

	return p, nil
}

func equalCookie(b []byte) bool {
	return len(b) == 4 && b[0] == magicCookie[0] && b[1] == magicCookie[1] && b[2] == magicCookie[2] && b[3] == magicCookie[3]
}

// Option is one TLV entry for a crafted reply.
type Option struct {
	Code  byte
	Value []byte
}

// BuildReply crafts a BOOTREPLY datagram per spec: op=2, htype=1,
// hlen=6, hops=0, xid echoed, secs=0, flags=0, ciaddr=0,
// yiaddr=assigned, siaddr=server/file-server IP, giaddr=0,
// chaddr=client MAC, 64 zero bytes (sname), 128 zero bytes (file),
// magic cookie, then the given options terminated by 0xFF.
func BuildReply(req *Packet, yiaddr, siaddr net.IP, opts []Option) []byte {
	buf := make([]byte, 0, optionsStart+64)
	buf = append(buf, 2, 1, 6, 0) // op, htype, hlen, hops
	buf = append(buf, req.XID[:]...)
	buf = append(buf, 0, 0) // secs
	buf = append(buf, 0, 0) // flags
	buf = append(buf, 0, 0, 0, 0) // ciaddr

	y4 := to4(yiaddr)
	s4 := to4(siaddr)
	buf = append(buf, y4[:]...)
	buf = append(buf, s4[:]...)
	buf = append(buf, 0, 0, 0, 0) // giaddr

	chaddr := make([]byte, 16)
	copy(chaddr, req.CHAddr)
	buf = append(buf, chaddr...)

	buf = append(buf, make([]byte, 64)...)  // sname
	buf = append(buf, make([]byte, 128)...) // file
	buf = append(buf, magicCookie[:]...)

	for _, o := range opts {
		buf = append(buf, o.Code, byte(len(o.Value)))
		buf = append(buf, o.Value...)
	}
	buf = append(buf, 0xff)

	return buf
}

func to4(ip net.IP) [4]byte {
	var out [4]byte
	if v4 := ip.To4(); v4 != nil {
		copy(out[:], v4)
	}
	return out
}
