package query

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

// HyQuery wire format, little-endian throughout:
//
//	request:  "HYQUERY\0" + query type byte (0x00 = basic)
//	response: "HYREPLY\0" + response type byte +
//	          name (u16 length-prefixed UTF-8) +
//	          motd (u16 length-prefixed UTF-8) +
//	          online players (u32) + max players (u32) + port (u32) +
//	          version (u16 length-prefixed UTF-8)
var (
	hyRequestMagic  = []byte("HYQUERY\x00")
	hyResponseMagic = []byte("HYREPLY\x00")
)

const hyTypeBasic = 0x00

// HyQueryDriver speaks the native Hytale query plugin protocol over UDP on
// the game port. It is the only driver that can read the MOTD.
type HyQueryDriver struct{}

func (d *HyQueryDriver) Protocol() models.QueryProtocol { return models.ProtocolHyQuery }

func (d *HyQueryDriver) DefaultPort() int { return 5520 }

func (d *HyQueryDriver) IsApplicable(host string, port int) bool { return true }

// Probe sends a basic HyQuery request and parses the reply. Timeouts,
// transport errors and malformed frames all come back as offline results.
func (d *HyQueryDriver) Probe(host string, port int, timeout time.Duration) Result {
	start := time.Now()

	conn, err := net.DialTimeout("udp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return failure(models.ProtocolHyQuery, err.Error())
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return failure(models.ProtocolHyQuery, err.Error())
	}

	request := append(append([]byte{}, hyRequestMagic...), hyTypeBasic)
	if _, err := conn.Write(request); err != nil {
		return failure(models.ProtocolHyQuery, err.Error())
	}

	buf := make([]byte, 65535)
	n, err := conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return failure(models.ProtocolHyQuery, "Timeout")
		}
		return failure(models.ProtocolHyQuery, err.Error())
	}

	res := parseHyQueryResponse(buf[:n], time.Since(start))
	if res.Online {
		log.Debug().
			Str("host", host).
			Int("port", port).
			Str("name", res.ServerName).
			Msg("HyQuery probe succeeded")
	}

	return res
}

func parseHyQueryResponse(data []byte, elapsed time.Duration) Result {
	r := &byteReader{buf: data}

	magic, err := r.bytes(len(hyResponseMagic))
	if err != nil {
		return failure(models.ProtocolHyQuery, "Response too short")
	}
	for i := range hyResponseMagic {
		if magic[i] != hyResponseMagic[i] {
			return failure(models.ProtocolHyQuery, "Invalid response magic")
		}
	}

	if _, err := r.byte(); err != nil { // response type, unused for basic replies
		return failure(models.ProtocolHyQuery, "Response too short")
	}

	name, err := r.lpString()
	if err != nil {
		return failure(models.ProtocolHyQuery, "Parse error: truncated server name")
	}
	motd, err := r.lpString()
	if err != nil {
		return failure(models.ProtocolHyQuery, "Parse error: truncated motd")
	}
	players, err := r.uint32()
	if err != nil {
		return failure(models.ProtocolHyQuery, "Parse error: truncated player count")
	}
	maxPlayers, err := r.uint32()
	if err != nil {
		return failure(models.ProtocolHyQuery, "Parse error: truncated max players")
	}
	if _, err := r.uint32(); err != nil { // advertised port, unused
		return failure(models.ProtocolHyQuery, "Parse error: truncated port")
	}
	version, err := r.lpString()
	if err != nil {
		return failure(models.ProtocolHyQuery, "Parse error: truncated version")
	}

	return success(models.ProtocolHyQuery,
		intPtr(int(players)), intPtr(int(maxPlayers)),
		name, version, motd, elapsed)
}

// byteReader is a bounds-checked cursor over one datagram.
type byteReader struct {
	buf []byte
	pos int
}

var errShortBuffer = fmt.Errorf("short buffer")

func (r *byteReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.buf) {
		return nil, errShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// lpString reads a u16 length-prefixed UTF-8 string.
func (r *byteReader) lpString() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
