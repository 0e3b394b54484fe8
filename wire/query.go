package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ParseQuery parses a raw UDP DNS query (§4.1). RFC 1035 forbids
// compression pointers in the question section, so labels are read
// linearly without following pointers.
func ParseQuery(raw []byte) (*DNSQuery, error) {
	if len(raw) < minQueryLen {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrPacketTooShort, len(raw), minQueryLen)
	}
	if len(raw) > maxQueryLen {
		return nil, fmt.Errorf("%w: got %d bytes, max is %d", ErrPacketTooLarge, len(raw), maxQueryLen)
	}

	h := parseHeader(raw)
	if h.qr() {
		return nil, ErrNotAQuery
	}
	if h.qdcount == 0 {
		return nil, ErrMissingQuestion
	}

	domain, pos, err := parseQuestionName(raw, minQueryLen)
	if err != nil {
		return nil, err
	}

	if pos+4 > len(raw) {
		return nil, fmt.Errorf("%w", ErrMissingTypeClass)
	}
	qtype := QType(uint16(raw[pos])<<8 | uint16(raw[pos+1]))
	qclass := QClass(uint16(raw[pos+2])<<8 | uint16(raw[pos+3]))

	return &DNSQuery{
		ID:     h.id,
		Domain: domain,
		QType:  qtype,
		QClass: qclass,
		Raw:    raw,
	}, nil
}

// parseQuestionName reads a sequence of labels starting at pos, with no
// compression allowed, returning the presentation-form domain name and the
// offset immediately following the terminating zero octet.
func parseQuestionName(raw []byte, pos int) (string, int, error) {
	var labels []string
	presentationLen := 0

	for {
		if pos >= len(raw) {
			return "", 0, fmt.Errorf("%w: name runs past end of packet", ErrMissingTypeClass)
		}
		length := int(raw[pos])

		if length&0xC0 == 0xC0 {
			return "", 0, ErrCompressionInQuestion
		}
		if length == 0 {
			pos++
			break
		}
		if length > maxLabelLen {
			return "", 0, fmt.Errorf("%w: label of %d bytes", ErrLabelTooLong, length)
		}

		pos++
		if pos+length > len(raw) {
			return "", 0, fmt.Errorf("%w: label runs past end of packet", ErrMissingTypeClass)
		}
		labelBytes := raw[pos : pos+length]
		label, err := decodeLabel(labelBytes)
		if err != nil {
			return "", 0, err
		}

		labels = append(labels, label)
		if len(labels) > maxLabelCount {
			return "", 0, fmt.Errorf("%w: more than %d labels", ErrTooManyLabels, maxLabelCount)
		}

		presentationLen += len(label)
		if len(labels) > 1 {
			presentationLen++ // the separating dot
		}
		if presentationLen > maxNameLen {
			return "", 0, fmt.Errorf("%w: %d bytes", ErrDomainTooLong, presentationLen)
		}

		pos += length
	}

	return strings.Join(labels, "."), pos, nil
}

// decodeLabel decodes one label's raw bytes into text: UTF-8 is tried
// first, then a strict ASCII fallback (0x20-0x7E only), per §4.1.
func decodeLabel(b []byte) (string, error) {
	if utf8.Valid(b) {
		return string(b), nil
	}
	for _, c := range b {
		if c < 0x20 || c > 0x7E {
			return "", fmt.Errorf("%w: byte 0x%02x", ErrInvalidEncoding, c)
		}
	}
	return string(b), nil
}

// EncodeName writes domain (dot-separated presentation form) as a
// sequence of length-prefixed labels terminated by a zero octet. It is
// the inverse of parseQuestionName, used to re-serialize a parsed query
// and by the synthetic response builders to echo the question section.
func EncodeName(domain string) ([]byte, error) {
	domain = strings.TrimSuffix(domain, ".")
	var out []byte
	if domain != "" {
		labels := strings.Split(domain, ".")
		if len(labels) > maxLabelCount {
			return nil, fmt.Errorf("%w: more than %d labels", ErrTooManyLabels, maxLabelCount)
		}
		for _, label := range labels {
			if len(label) > maxLabelLen {
				return nil, fmt.Errorf("%w: label of %d bytes", ErrLabelTooLong, len(label))
			}
			out = append(out, byte(len(label)))
			out = append(out, label...)
		}
	}
	out = append(out, 0)
	return out, nil
}

// Encode re-serializes q into a minimal, valid query packet: header plus
// one question, QDCOUNT=1, all other counts zero. Used to round-trip
// Parse -> Encode -> Parse (§8: "Parse ∘ Synthesize = identity on
// (id, qname, qtype, qclass)").
func (q *DNSQuery) Encode() ([]byte, error) {
	name, err := EncodeName(q.Domain)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 12, 12+len(name)+4)
	putHeader(buf, q.ID, flagRD, 1, 0, 0, 0)
	buf = append(buf, name...)
	buf = append(buf, byte(q.QType>>8), byte(q.QType))
	buf = append(buf, byte(q.QClass>>8), byte(q.QClass))
	return buf, nil
}
