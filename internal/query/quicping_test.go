package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildQuicInitialPacket(t *testing.T) {
	packet, err := buildQuicInitialPacket()
	require.NoError(t, err)

	// Exactly the minimum Initial size; anything smaller gets dropped by
	// conforming servers.
	require.Len(t, packet, quicMinInitialSize)

	// Long header, fixed bit, Initial type, 1-byte packet number.
	assert.Equal(t, byte(0xC0), packet[0])

	// Version 1.
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, packet[1:5])

	// 8-byte DCID and SCID, each with a 1-byte length prefix.
	assert.Equal(t, byte(8), packet[5])
	assert.Equal(t, byte(8), packet[14])

	// Zero-length token after the connection IDs.
	assert.Equal(t, byte(0x00), packet[23])

	// Two-byte varint length field covering packet number + padding.
	lengthValue := int(packet[24]&0x3F)<<8 | int(packet[25])
	assert.Equal(t, byte(0x40), packet[24]&0xC0)
	assert.Equal(t, quicMinInitialSize-26, lengthValue)

	// Tail is all PADDING frames.
	for _, b := range packet[27:] {
		if b != 0x00 {
			t.Fatalf("expected zero padding, found byte %#x", b)
		}
	}
}

func TestBuildQuicInitialPacketRandomCIDs(t *testing.T) {
	a, err := buildQuicInitialPacket()
	require.NoError(t, err)
	b, err := buildQuicInitialPacket()
	require.NoError(t, err)

	assert.NotEqual(t, a[6:14], b[6:14], "DCIDs should be random per probe")
}

func TestIsQuicReply(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{"too short", []byte{0xC0, 0x00, 0x00, 0x00}, false},
		{"long header v1", []byte{0xC0, 0x00, 0x00, 0x00, 0x01}, true},
		{"long header v2", []byte{0xC0, 0x6b, 0x33, 0x43, 0xcf}, true},
		{"version negotiation", []byte{0xC0, 0x00, 0x00, 0x00, 0x00}, true},
		{"long header unknown version", []byte{0xC0, 0xde, 0xad, 0xbe, 0xef}, false},
		{"long header missing fixed bit", []byte{0x80, 0x00, 0x00, 0x00, 0x01}, false},
		{"short header with fixed bit", []byte{0x40, 0x01, 0x02, 0x03, 0x04}, true},
		{"short header without fixed bit", []byte{0x00, 0x01, 0x02, 0x03, 0x04}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isQuicReply(tt.data))
		})
	}
}
