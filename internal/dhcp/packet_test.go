package dhcp

import (
	"net"
	"testing"
)

func buildDiscover(mac net.HardwareAddr, xid [4]byte) []byte {
	buf := make([]byte, 0, optionsStart+8)
	buf = append(buf, 1, 1, 6, 0) // op=BOOTREQUEST, htype, hlen, hops
	buf = append(buf, xid[:]...)
	buf = append(buf, 0, 0, 0, 0) // secs, flags
	buf = append(buf, 0, 0, 0, 0) // ciaddr
	buf = append(buf, 0, 0, 0, 0) // yiaddr
	buf = append(buf, 0, 0, 0, 0) // siaddr
	buf = append(buf, 0, 0, 0, 0) // giaddr
	chaddr := make([]byte, 16)
	copy(chaddr, mac)
	buf = append(buf, chaddr...)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, make([]byte, 128)...)
	buf = append(buf, magicCookie[:]...)
	buf = append(buf, 53, 1, MsgDiscover) // option 53 = DISCOVER
	buf = append(buf, 0xff)
	return buf
}

func TestParsePacketDiscover(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	raw := buildDiscover(mac, [4]byte{1, 2, 3, 4})

	pkt, err := ParsePacket(raw)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if pkt.MessageType() != MsgDiscover {
		t.Fatalf("got message type %d, want DISCOVER", pkt.MessageType())
	}
	if pkt.CHAddr.String() != mac.String() {
		t.Fatalf("got chaddr %v, want %v", pkt.CHAddr, mac)
	}
	if pkt.XID != [4]byte{1, 2, 3, 4} {
		t.Fatalf("got xid %v, want [1 2 3 4]", pkt.XID)
	}
}

func TestParsePacketRejectsMissingCookie(t *testing.T) {
	raw := make([]byte, optionsStart+1)
	if _, err := ParsePacket(raw); err == nil {
		t.Fatalf("expected error for missing magic cookie")
	}
}

func TestBuildReplyMatchesScenarioS1(t *testing.T) {
	mac, _ := net.ParseMAC("00:11:22:33:44:55")
	req := &Packet{XID: [4]byte{9, 9, 9, 9}, CHAddr: mac}

	opts := []Option{
		{Code: 53, Value: []byte{MsgOffer}},
		{Code: 54, Value: net.ParseIP("192.168.0.1").To4()},
		{Code: 1, Value: net.ParseIP("255.255.255.0").To4()},
		{Code: 3, Value: net.ParseIP("192.168.0.1").To4()},
		{Code: 51, Value: []byte{0, 1, 0x51, 0x80}}, // 86400
		{Code: 67, Value: []byte("undionly.kpxe\x00")},
	}
	reply := BuildReply(req, net.ParseIP("192.168.0.10"), net.ParseIP("192.168.0.1"), opts)

	if reply[0] != 2 {
		t.Fatalf("op = %d, want 2 (BOOTREPLY)", reply[0])
	}
	yiaddr := net.IP(reply[16:20])
	if !yiaddr.Equal(net.ParseIP("192.168.0.10")) {
		t.Fatalf("yiaddr = %v, want 192.168.0.10", yiaddr)
	}
	if reply[len(reply)-1] != 0xff {
		t.Fatalf("reply does not end with 0xFF terminator")
	}
	if !equalCookie(reply[236:240]) {
		t.Fatalf("reply missing magic cookie at byte 236")
	}
}
