package query

import (
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

// Hytale transports the game itself over QUIC on the game port, so a server
// that answers a QUIC Initial is alive even when no query plugin is
// installed. This driver crafts a minimum-size Initial and treats any reply
// carrying the fixed bit (and, for long headers, a recognized version) as
// evidence of life. It never completes a handshake and never knows player
// counts.
const (
	quicMinInitialSize = 1200

	quicVersion1           = 0x00000001
	quicVersion2           = 0x6b3343cf
	quicVersionNegotiation = 0x00000000
)

// QuicPingDriver probes for a QUIC endpoint on the game port.
type QuicPingDriver struct{}

func (d *QuicPingDriver) Protocol() models.QueryProtocol { return models.ProtocolQuic }

func (d *QuicPingDriver) DefaultPort() int { return 5520 }

func (d *QuicPingDriver) IsApplicable(host string, port int) bool { return true }

// Probe sends the Initial packet and waits for one datagram back.
func (d *QuicPingDriver) Probe(host string, port int, timeout time.Duration) Result {
	start := time.Now()

	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return failure(models.ProtocolQuic, err.Error())
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return failure(models.ProtocolQuic, err.Error())
	}

	packet, err := buildQuicInitialPacket()
	if err != nil {
		return failure(models.ProtocolQuic, err.Error())
	}
	if _, err := conn.Write(packet); err != nil {
		return failure(models.ProtocolQuic, err.Error())
	}

	buf := make([]byte, 2048)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return failure(models.ProtocolQuic, "Timeout")
		}
		return failure(models.ProtocolQuic, err.Error())
	}

	if !isQuicReply(buf[:n]) {
		return failure(models.ProtocolQuic, "Non-QUIC response")
	}

	elapsed := time.Since(start)
	log.Debug().
		Str("host", host).
		Int("port", port).
		Dur("elapsed", elapsed).
		Msg("QUIC ping succeeded")

	// Presence check only: counts stay nil, never zero.
	return success(models.ProtocolQuic, nil, nil, "", "", "", elapsed)
}

// buildQuicInitialPacket assembles a 1200-byte long-header Initial:
// flags 0xC0 (long header, fixed bit, Initial, 1-byte packet number),
// version, random 8-byte DCID/SCID each with a 1-byte length prefix, a
// zero-length token, a 2-byte varint length covering packet number plus
// padding, a 1-byte packet number, and zero padding to exactly 1200 bytes.
func buildQuicInitialPacket() ([]byte, error) {
	packet := make([]byte, 0, quicMinInitialSize)

	packet = append(packet, 0xC0)
	packet = append(packet,
		byte(quicVersion1>>24), byte(quicVersion1>>16), byte(quicVersion1>>8), byte(quicVersion1))

	cids := make([]byte, 16)
	if _, err := rand.Read(cids); err != nil {
		return nil, fmt.Errorf("generate connection IDs: %w", err)
	}
	packet = append(packet, 8)
	packet = append(packet, cids[:8]...)
	packet = append(packet, 8)
	packet = append(packet, cids[8:]...)

	// Token length varint: zero-length token.
	packet = append(packet, 0x00)

	// Two-byte varint (01xxxxxx xxxxxxxx) covering the packet number byte
	// and the padding that brings the datagram to exactly 1200 bytes.
	const lengthFieldSize = 2
	const packetNumberSize = 1
	payloadLen := quicMinInitialSize - len(packet) - lengthFieldSize - packetNumberSize
	lengthValue := packetNumberSize + payloadLen
	packet = append(packet, byte(0x40|((lengthValue>>8)&0x3F)), byte(lengthValue&0xFF))

	// Packet number, then PADDING frames (0x00) out to the minimum size.
	packet = append(packet, 0x00)
	packet = append(packet, make([]byte, quicMinInitialSize-len(packet))...)

	return packet, nil
}

// isQuicReply reports whether a datagram plausibly came from a QUIC
// endpoint: fixed bit set, and for long headers a version we recognize
// (v1, the v2 codepoint, or the version-negotiation sentinel 0).
func isQuicReply(data []byte) bool {
	if len(data) < 5 {
		return false
	}

	first := data[0]
	longHeader := first&0x80 != 0

	if !longHeader {
		return first&0x40 != 0
	}

	if first&0x40 == 0 {
		return false
	}

	version := uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
	return version == quicVersion1 || version == quicVersion2 || version == quicVersionNegotiation
}
