package wire

import "encoding/binary"

// Synthetic response builders (§4.1). All preserve the original
// transaction ID and echo the question section (BuildFORMERR only when
// the raw packet parses as a query); callers use these for
// blocked domains and for the FORMERR/SERVFAIL/NXDOMAIN failure paths of
// the proxy request path (§4.7, §7).

// BuildBlockedA synthesizes a blocked-domain A response: 127.0.0.1, TTL 0.
func BuildBlockedA(q *DNSQuery) ([]byte, error) {
	rdata := []byte{127, 0, 0, 1}
	return buildAnswerResponse(q, RCodeNoError, TypeA, 0, rdata)
}

// BuildBlockedAAAA synthesizes a blocked-domain AAAA response. Per §4.1 the
// spec allows either an empty answer set or a ::1 loopback answer; this
// returns an empty NOERROR answer set, matching the safer default (it
// never routes blocked IPv6 traffic anywhere, not even to localhost).
func BuildBlockedAAAA(q *DNSQuery) ([]byte, error) {
	return buildRcodeResponse(q, RCodeNoError)
}

// BuildNXDOMAIN synthesizes an NXDOMAIN response echoing the question.
func BuildNXDOMAIN(q *DNSQuery) ([]byte, error) {
	return buildRcodeResponse(q, RCodeNXDomain)
}

// BuildSERVFAIL synthesizes a SERVFAIL response echoing the question.
func BuildSERVFAIL(q *DNSQuery) ([]byte, error) {
	return buildRcodeResponse(q, RCodeServFail)
}

// BuildFORMERR synthesizes a FORMERR response from a query that failed to
// parse. It recovers the transaction ID from the first two octets,
// regardless of what's wrong further in. The question section is echoed
// only when ParseQuery accepts raw; otherwise the response is a bare
// 12-byte header with QDCOUNT 0 and no question.
func BuildFORMERR(raw []byte) []byte {
	var id uint16
	if len(raw) >= 2 {
		id = binary.BigEndian.Uint16(raw[0:2])
	}

	if q, err := ParseQuery(raw); err == nil {
		resp, err := buildRcodeResponse(q, RCodeFormErr)
		if err == nil {
			return resp
		}
	}

	buf := make([]byte, 12)
	putHeader(buf, id, flagQR|flagRD|uint16(RCodeFormErr), 0, 0, 0, 0)
	return buf
}

func buildRcodeResponse(q *DNSQuery, rcode RCode) ([]byte, error) {
	return buildAnswerResponse(q, rcode, 0, 0, nil)
}

// buildAnswerResponse builds a response echoing q's question, with zero or
// one answer record. When rdata is nil, ANCOUNT is zero.
func buildAnswerResponse(q *DNSQuery, rcode RCode, atype QType, ttl uint32, rdata []byte) ([]byte, error) {
	name, err := EncodeName(q.Domain)
	if err != nil {
		return nil, err
	}

	ancount := uint16(0)
	if rdata != nil {
		ancount = 1
	}

	flags := flagQR | flagRD | flagRA | uint16(rcode)

	buf := make([]byte, 12, 12+len(name)+4+len(name)+10+len(rdata))
	putHeader(buf, q.ID, flags, 1, ancount, 0, 0)
	buf = append(buf, name...)
	buf = append(buf, byte(q.QType>>8), byte(q.QType))
	buf = append(buf, byte(q.QClass>>8), byte(q.QClass))

	if rdata != nil {
		buf = append(buf, name...)
		buf = append(buf, byte(atype>>8), byte(atype))
		buf = append(buf, byte(ClassIN>>8), byte(ClassIN))
		buf = append(buf, byte(ttl>>24), byte(ttl>>16), byte(ttl>>8), byte(ttl))
		rdlen := uint16(len(rdata))
		buf = append(buf, byte(rdlen>>8), byte(rdlen))
		buf = append(buf, rdata...)
	}

	return buf, nil
}
