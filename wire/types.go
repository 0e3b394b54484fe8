// Package wire parses and synthesizes raw DNS packets with strict bounds
// checking (§4.1). It deliberately does not depend on github.com/miekg/dns:
// the spec requires exact control over compression-pointer rejection in
// the question section and loop-bounded pointer following in responses,
// behavior no general-purpose DNS library exposes as a tunable.
package wire

import "fmt"

// QType is a DNS query type. Named constants cover the types the spec's
// data model calls out (A, AAAA, CNAME, MX, TXT); any other numeric value
// is carried as-is ("OTHER(u16)" in the spec's sum type is just the raw
// uint16 here).
type QType uint16

const (
	TypeA     QType = 1
	TypeNS    QType = 2
	TypeCNAME QType = 5
	TypeSOA   QType = 6
	TypeMX    QType = 15
	TypeTXT   QType = 16
	TypeAAAA  QType = 28
)

func (t QType) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeNS:
		return "NS"
	case TypeCNAME:
		return "CNAME"
	case TypeSOA:
		return "SOA"
	case TypeMX:
		return "MX"
	case TypeTXT:
		return "TXT"
	case TypeAAAA:
		return "AAAA"
	default:
		return fmt.Sprintf("TYPE%d", uint16(t))
	}
}

// QClass is a DNS query class.
type QClass uint16

const (
	ClassIN QClass = 1
)

func (c QClass) String() string {
	if c == ClassIN {
		return "IN"
	}
	return fmt.Sprintf("CLASS%d", uint16(c))
}

// RCode is a DNS response code.
type RCode uint8

const (
	RCodeNoError  RCode = 0
	RCodeFormErr  RCode = 1
	RCodeServFail RCode = 2
	RCodeNXDomain RCode = 3
)

// DNSQuery is a parsed client query (§3 data model).
type DNSQuery struct {
	ID     uint16
	Domain string // presentation form, no trailing dot, labels as decoded
	QType  QType
	QClass QClass
	Raw    []byte // the original bytes this was parsed from
}

// InetAddr is a decoded, printable IPv4/IPv6 answer address.
type InetAddr struct {
	Text string
	Is6  bool
}

// DNSResponse is a parsed upstream (or synthesized) reply (§3 data model).
type DNSResponse struct {
	ID         uint16
	Domain     string
	QType      QType
	RCode      RCode
	Answers    []InetAddr
	MinTTLSecs uint32
	Raw        []byte
}

const (
	maxLabelLen   = 63
	maxNameLen    = 253
	maxLabelCount = 127

	minQueryLen = 12
	maxQueryLen = 512

	defaultMinTTL = 300
)
