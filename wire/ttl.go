package wire

import "fmt"

// UpdateTTL rewrites the TTL field of the first answer record in raw,
// returning a new buffer (the input is never mutated) with that TTL
// replaced by newTTL, clamped to [30,300] seconds. This is used
// immediately before a response is interned in the DNS response cache
// (§4.1, §4.5).
func UpdateTTL(raw []byte, newTTL uint32) ([]byte, error) {
	clamped := clampTTL(newTTL)

	offset, err := firstAnswerTTLOffset(raw)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	out[offset] = byte(clamped >> 24)
	out[offset+1] = byte(clamped >> 16)
	out[offset+2] = byte(clamped >> 8)
	out[offset+3] = byte(clamped)
	return out, nil
}

func clampTTL(ttl uint32) uint32 {
	const min, max = 30, 300
	if ttl < min {
		return min
	}
	if ttl > max {
		return max
	}
	return ttl
}

// firstAnswerTTLOffset walks the header, question, and the first answer
// record's owner name to find the byte offset of that record's TTL field.
func firstAnswerTTLOffset(raw []byte) (int, error) {
	if len(raw) < minQueryLen {
		return 0, fmt.Errorf("%w: got %d bytes", ErrResponseTooShort, len(raw))
	}
	h := parseHeader(raw)
	if h.ancount == 0 {
		return 0, ErrNoAnswerToRewrite
	}

	pos := 12
	for i := uint16(0); i < h.qdcount; i++ {
		_, next, err := readName(raw, pos, 0)
		if err != nil {
			return 0, err
		}
		pos = next + 4 // qtype + qclass
	}

	_, next, err := readName(raw, pos, 0)
	if err != nil {
		return 0, err
	}
	pos = next

	if pos+10 > len(raw) {
		return 0, fmt.Errorf("%w: answer record header", ErrTruncatedRecord)
	}
	// record layout here is TYPE(2) CLASS(2) TTL(4) RDLENGTH(2): TTL starts
	// 4 bytes into the fixed record header.
	return pos + 4, nil
}
