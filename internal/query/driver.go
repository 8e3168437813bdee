// Package query probes Hytale game servers over the protocols the ecosystem
// ships: the HyQuery plugin (binary UDP), the Nitrado Query plugin (HTTPS),
// a QUIC presence ping, and an ICMP/TCP reachability fallback. A Service
// orchestrates the drivers with a cached-preference fast path.
package query

import (
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
)

// Driver is one probing protocol implementation. Probe never returns an
// error: every transport or parse failure is folded into an offline Result
// with a diagnostic message.
type Driver interface {
	// Protocol returns the tag stamped on results from this driver.
	Protocol() models.QueryProtocol

	// DefaultPort returns the port this protocol listens on by convention.
	DefaultPort() int

	// IsApplicable is a hint whether probing host:port with this protocol
	// makes sense. The orchestrator may still call inapplicable drivers as
	// a fallback.
	IsApplicable(host string, port int) bool

	// Probe queries host:port and reports status within the timeout.
	Probe(host string, port int, timeout time.Duration) Result
}

// Result is the outcome of a single probe. PlayerCount and MaxPlayers are
// nil when the protocol cannot read them: nil means unknown, which is
// distinct from a confirmed-empty zero.
type Result struct {
	Online         bool
	PlayerCount    *int
	MaxPlayers     *int
	ServerName     string
	Version        string
	MOTD           string
	ResponseTimeMs int64
	Protocol       models.QueryProtocol
	Error          string // set only when Online is false
}

func success(proto models.QueryProtocol, players, maxPlayers *int, name, version, motd string, elapsed time.Duration) Result {
	return Result{
		Online:         true,
		PlayerCount:    players,
		MaxPlayers:     maxPlayers,
		ServerName:     name,
		Version:        version,
		MOTD:           motd,
		ResponseTimeMs: elapsed.Milliseconds(),
		Protocol:       proto,
	}
}

func failure(proto models.QueryProtocol, msg string) Result {
	return Result{Protocol: proto, Error: msg}
}

func intPtr(v int) *int { return &v }
