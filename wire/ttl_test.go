package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpdateTTL_ClampsAndRewrites(t *testing.T) {
	raw := buildResponse(t, 1, "example.com", 5, [4]byte{1, 1, 1, 1}, false)

	out, err := UpdateTTL(raw, 999)
	require.NoError(t, err)

	resp, err := ParseResponse(out)
	require.NoError(t, err)
	require.Equal(t, uint32(300), resp.MinTTLSecs)

	// Original buffer must be untouched.
	orig, err := ParseResponse(raw)
	require.NoError(t, err)
	require.Equal(t, uint32(5), orig.MinTTLSecs)
}

func TestUpdateTTL_ClampsLowEnd(t *testing.T) {
	raw := buildResponse(t, 1, "example.com", 600, [4]byte{1, 1, 1, 1}, false)

	out, err := UpdateTTL(raw, 1)
	require.NoError(t, err)

	resp, err := ParseResponse(out)
	require.NoError(t, err)
	require.Equal(t, uint32(30), resp.MinTTLSecs)
}

func TestUpdateTTL_NoAnswers(t *testing.T) {
	qname, _ := EncodeName("none.example")
	buf := make([]byte, 12)
	putHeader(buf, 1, flagQR, 1, 0, 0, 0)
	buf = append(buf, qname...)
	buf = append(buf, byte(TypeA>>8), byte(TypeA), byte(ClassIN>>8), byte(ClassIN))

	_, err := UpdateTTL(buf, 60)
	require.ErrorIs(t, err, ErrNoAnswerToRewrite)
}
