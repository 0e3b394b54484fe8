package wire

import (
	"fmt"
	"net/netip"
)

const maxCompressionJumps = 64

// ParseResponse parses a raw upstream (or previously-cached) DNS response
// (§4.1). Unlike the question section, compression pointers are allowed
// here and are followed with a bounded jump counter to prevent loops.
func ParseResponse(raw []byte) (*DNSResponse, error) {
	if len(raw) < minQueryLen {
		return nil, fmt.Errorf("%w: got %d bytes", ErrResponseTooShort, len(raw))
	}

	h := parseHeader(raw)
	if !h.qr() {
		return nil, fmt.Errorf("wire: QR bit clear, not a response")
	}

	pos := 12
	var domain string
	var qtype QType

	if h.qdcount > 0 {
		name, next, err := readName(raw, pos, 0)
		if err != nil {
			return nil, err
		}
		domain = name
		pos = next
		if pos+4 > len(raw) {
			return nil, fmt.Errorf("%w: truncated question", ErrTruncatedRecord)
		}
		qtype = QType(uint16(raw[pos])<<8 | uint16(raw[pos+1]))
		pos += 4 // qtype + qclass
	}

	resp := &DNSResponse{
		ID:     h.id,
		Domain: domain,
		QType:  qtype,
		RCode:  h.rcode(),
		Raw:    raw,
	}

	minTTL := uint32(0)
	haveTTL := false

	for i := uint16(0); i < h.ancount; i++ {
		if pos >= len(raw) {
			return nil, fmt.Errorf("%w: answer %d/%d missing", ErrTruncatedRecord, i, h.ancount)
		}
		_, next, err := readName(raw, pos, 0)
		if err != nil {
			return nil, err
		}
		pos = next

		if pos+10 > len(raw) {
			return nil, fmt.Errorf("%w: answer record header", ErrTruncatedRecord)
		}
		rtype := uint16(raw[pos])<<8 | uint16(raw[pos+1])
		ttl := uint32(raw[pos+4])<<24 | uint32(raw[pos+5])<<16 | uint32(raw[pos+6])<<8 | uint32(raw[pos+7])
		rdlen := int(uint16(raw[pos+8])<<8 | uint16(raw[pos+9]))
		pos += 10

		if pos+rdlen > len(raw) {
			return nil, fmt.Errorf("%w: rdata of answer %d", ErrTruncatedRecord, i)
		}
		rdata := raw[pos : pos+rdlen]
		pos += rdlen

		if !haveTTL || ttl < minTTL {
			minTTL = ttl
			haveTTL = true
		}

		switch rtype {
		case uint16(TypeA):
			if len(rdata) == 4 {
				addr := netip.AddrFrom4([4]byte(rdata))
				resp.Answers = append(resp.Answers, InetAddr{Text: addr.String(), Is6: false})
			}
		case uint16(TypeAAAA):
			if len(rdata) == 16 {
				addr := netip.AddrFrom16([16]byte(rdata))
				resp.Answers = append(resp.Answers, InetAddr{Text: addr.String(), Is6: true})
			}
		}
		// Other record types are ignored safely, per §4.1.
	}

	if haveTTL {
		resp.MinTTLSecs = minTTL
	} else {
		resp.MinTTLSecs = defaultMinTTL
	}

	return resp, nil
}

// readName reads a (possibly compressed) domain name starting at pos,
// returning its presentation form and the offset immediately after the
// name as it appears at the original position (i.e. after following any
// pointer, the caller's cursor only advances past the pointer itself).
func readName(raw []byte, pos int, jumps int) (string, int, error) {
	if jumps > maxCompressionJumps {
		return "", 0, ErrCompressionLoop
	}

	var labels []string
	startPos := pos
	jumped := false
	endPos := -1 // offset to resume linear reading from, once determined

	for {
		if pos >= len(raw) {
			return "", 0, fmt.Errorf("%w: name runs past end of packet", ErrTruncatedRecord)
		}
		length := int(raw[pos])

		if length&0xC0 == 0xC0 {
			if pos+1 >= len(raw) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", ErrTruncatedRecord)
			}
			ptr := (int(length&0x3F) << 8) | int(raw[pos+1])
			if !jumped {
				endPos = pos + 2
				jumped = true
			}
			if ptr >= startPos {
				// Forward or self pointers cannot be part of a
				// well-formed, acyclic message.
				return "", 0, ErrCompressionLoop
			}
			rest, _, err := readName(raw, ptr, jumps+1)
			if err != nil {
				return "", 0, err
			}
			if rest != "" {
				labels = append(labels, rest)
			}
			pos = endPos
			return joinLabels(labels), pos, nil
		}

		if length == 0 {
			pos++
			if !jumped {
				endPos = pos
			}
			break
		}
		if length > maxLabelLen {
			return "", 0, fmt.Errorf("%w: label of %d bytes", ErrLabelTooLong, length)
		}

		pos++
		if pos+length > len(raw) {
			return "", 0, fmt.Errorf("%w: label runs past end of packet", ErrTruncatedRecord)
		}
		label, err := decodeLabel(raw[pos : pos+length])
		if err != nil {
			return "", 0, err
		}
		labels = append(labels, label)
		pos += length
	}

	if !jumped {
		endPos = pos
	}
	return joinLabels(labels), endPos, nil
}

func joinLabels(labels []string) string {
	out := ""
	for i, l := range labels {
		if i > 0 {
			out += "."
		}
		out += l
	}
	return out
}
