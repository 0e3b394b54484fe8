package wire

import "encoding/binary"

// header is the fixed 12-byte DNS message header (RFC 1035 §4.1.1).
type header struct {
	id                                   uint16
	flags                                uint16
	qdcount, ancount, nscount, arcount uint16
}

const (
	flagQR     = 1 << 15
	flagAA     = 1 << 10
	flagTC     = 1 << 9
	flagRD     = 1 << 8
	flagRA     = 1 << 7
	rcodeMask  = 0x000F
)

func parseHeader(b []byte) header {
	return header{
		id:      binary.BigEndian.Uint16(b[0:2]),
		flags:   binary.BigEndian.Uint16(b[2:4]),
		qdcount: binary.BigEndian.Uint16(b[4:6]),
		ancount: binary.BigEndian.Uint16(b[6:8]),
		nscount: binary.BigEndian.Uint16(b[8:10]),
		arcount: binary.BigEndian.Uint16(b[10:12]),
	}
}

func (h header) qr() bool     { return h.flags&flagQR != 0 }
func (h header) rcode() RCode { return RCode(h.flags & rcodeMask) }

func putHeader(buf []byte, id uint16, flags uint16, qd, an, ns, ar uint16) {
	binary.BigEndian.PutUint16(buf[0:2], id)
	binary.BigEndian.PutUint16(buf[2:4], flags)
	binary.BigEndian.PutUint16(buf[4:6], qd)
	binary.BigEndian.PutUint16(buf[6:8], an)
	binary.BigEndian.PutUint16(buf[8:10], ns)
	binary.BigEndian.PutUint16(buf[10:12], ar)
}
