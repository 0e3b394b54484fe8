package ruledb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/gemini-oss/dnshield/rules"
)

// encodeRule serializes a Rule to a compact binary record:
// type(1) action(1) source(1) priority(4) domainLen(2) domain commentLen(2) comment
func encodeRule(r *rules.Rule) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(r.Type))
	buf.WriteByte(byte(r.Action))
	buf.WriteByte(byte(r.Source))
	binary.Write(&buf, binary.BigEndian, r.Priority)
	writeString(&buf, r.Domain)
	writeString(&buf, r.Comment)
	return buf.Bytes()
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func decodeRule(raw []byte) (*rules.Rule, error) {
	if len(raw) < 7 {
		return nil, fmt.Errorf("ruledb: truncated rule record (%d bytes)", len(raw))
	}
	r := &rules.Rule{}
	r.Type = rules.Type(raw[0])
	r.Action = rules.Action(raw[1])
	r.Source = rules.Source(raw[2])
	r.Priority = binary.BigEndian.Uint32(raw[3:7])
	rest := raw[7:]

	domain, rest, err := readString(rest)
	if err != nil {
		return nil, err
	}
	r.Domain = domain

	comment, _, err := readString(rest)
	if err != nil {
		return nil, err
	}
	r.Comment = comment

	if r.Type == rules.Regex {
		if err := r.Compile(); err != nil {
			return nil, fmt.Errorf("ruledb: recompiling regex rule %q: %w", r.Domain, err)
		}
	}
	return r, nil
}

func readString(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("ruledb: truncated string length")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	b = b[2:]
	if len(b) < n {
		return "", nil, fmt.Errorf("ruledb: truncated string body")
	}
	return string(b[:n]), b[n:], nil
}
