package dhcp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// namedOptionCodes maps the human-readable option names this server
// accepts in scope/reservation Options maps to their RFC2132 codes,
// the same named-option convention the teacher's DHCP options parser
// exposes (see internal/services/dhcp/options.go in the teacher repo).
var namedOptionCodes = map[string]byte{
	"subnet_mask":     1,
	"router":          3,
	"gateway":         3,
	"dns_server":      6,
	"dns":             6,
	"hostname":        12,
	"domain_name":     15,
	"domain":          15,
	"root_path":       17,
	"interface_mtu":   26,
	"ntp_server":      42,
	"tftp_server":     66,
	"bootfile":        67,
	"boot_file":       67,
	"tftp_server_ip":  150,
}

// parseOption turns one scope/reservation option entry into a TLV. A
// leading "<type>:" prefix (ip/str/hex/u8/u16/u32) picks the encoding;
// otherwise a small table infers it from the option code, same as the
// teacher's parseOption.
func parseOption(key, value string) (Option, error) {
	var code byte
	if c, ok := namedOptionCodes[strings.ToLower(strings.ReplaceAll(key, "-", "_"))]; ok {
		code = c
	} else if n, err := strconv.Atoi(key); err == nil && n > 0 && n <= 255 {
		code = byte(n)
	} else {
		return Option{}, fmt.Errorf("dhcp: unknown option key %q", key)
	}

	typ := ""
	val := value
	if idx := strings.Index(val, ":"); idx > 0 {
		switch strings.ToLower(val[:idx]) {
		case "ip", "str", "hex", "u8", "u16", "u32", "bool":
			typ = strings.ToLower(val[:idx])
			val = val[idx+1:]
		}
	}
	if typ == "" {
		typ = inferType(code)
	}

	switch typ {
	case "ip":
		var out []byte
		for _, part := range strings.Split(val, ",") {
			ip := net.ParseIP(strings.TrimSpace(part)).To4()
			if ip == nil {
				return Option{}, fmt.Errorf("dhcp: invalid ip %q for option %d", part, code)
			}
			out = append(out, ip...)
		}
		return Option{Code: code, Value: out}, nil
	case "hex":
		s := strings.NewReplacer("0x", "", ":", "", " ", "").Replace(val)
		b, err := hex.DecodeString(s)
		if err != nil {
			return Option{}, fmt.Errorf("dhcp: invalid hex for option %d: %w", code, err)
		}
		return Option{Code: code, Value: b}, nil
	case "u8":
		n, err := strconv.ParseUint(val, 10, 8)
		if err != nil {
			return Option{}, err
		}
		return Option{Code: code, Value: []byte{byte(n)}}, nil
	case "u16":
		n, err := strconv.ParseUint(val, 10, 16)
		if err != nil {
			return Option{}, err
		}
		b := make([]byte, 2)
		binary.BigEndian.PutUint16(b, uint16(n))
		return Option{Code: code, Value: b}, nil
	case "u32":
		n, err := strconv.ParseUint(val, 10, 32)
		if err != nil {
			return Option{}, err
		}
		b := make([]byte, 4)
		binary.BigEndian.PutUint32(b, uint32(n))
		return Option{Code: code, Value: b}, nil
	default: // "str"
		return Option{Code: code, Value: []byte(val)}, nil
	}
}

func inferType(code byte) string {
	switch code {
	case 1, 3, 6, 42, 150:
		return "ip"
	case 12, 15, 17, 66, 67:
		return "str"
	case 26:
		return "u16"
	default:
		return "str"
	}
}
