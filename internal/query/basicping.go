package query

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// BasicPingDriver is the probe of last resort: an ICMP echo (unprivileged
// datagram ICMP where the platform allows it), falling back to a raw TCP
// connect to the game port. Either success means "online, counts unknown".
type BasicPingDriver struct{}

func (d *BasicPingDriver) Protocol() models.QueryProtocol { return models.ProtocolBasicPing }

func (d *BasicPingDriver) DefaultPort() int { return 5520 }

// IsApplicable is always true: this driver exists to catch everything.
func (d *BasicPingDriver) IsApplicable(host string, port int) bool { return true }

// Probe tries ICMP first, then TCP. Counts stay nil, never zero.
func (d *BasicPingDriver) Probe(host string, port int, timeout time.Duration) Result {
	start := time.Now()

	if icmpEcho(host, timeout) {
		elapsed := time.Since(start)
		log.Debug().Str("host", host).Dur("elapsed", elapsed).Msg("BasicPing ICMP succeeded")
		return success(models.ProtocolBasicPing, nil, nil, "", "", "", elapsed)
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout)
	if err != nil {
		return failure(models.ProtocolBasicPing, "Host unreachable")
	}
	_ = conn.Close()

	elapsed := time.Since(start)
	log.Debug().Str("host", host).Int("port", port).Dur("elapsed", elapsed).Msg("BasicPing TCP succeeded")
	return success(models.ProtocolBasicPing, nil, nil, "", "", "", elapsed)
}

// icmpEcho sends one echo request and waits for one reply. Any failure
// (no raw-socket privilege, resolution failure, timeout) just reports false
// so the TCP leg can run.
func icmpEcho(host string, timeout time.Duration) bool {
	addr, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return false
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return false
	}
	defer func() { _ = conn.Close() }()

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Body: &icmp.Echo{
			ID:   os.Getpid() & 0xffff,
			Seq:  1,
			Data: []byte("hol-ping"),
		},
	}
	wire, err := msg.Marshal(nil)
	if err != nil {
		return false
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	if _, err := conn.WriteTo(wire, &net.UDPAddr{IP: addr.IP}); err != nil {
		return false
	}

	buf := make([]byte, 1500)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return false
	}

	reply, err := icmp.ParseMessage(ipv4.ICMPTypeEchoReply.Protocol(), buf[:n])
	if err != nil {
		return false
	}
	return reply.Type == ipv4.ICMPTypeEchoReply
}
