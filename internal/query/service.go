package query

import (
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds each driver call. With four drivers and no cached
// preference a full fallback chain takes at most 4x this.
const DefaultTimeout = 3 * time.Second

// Target is the immutable description of what to probe, derived from a
// server record.
type Target struct {
	Host      string
	Port      int                   // game port
	QueryPort *int                  // optional override for query protocols
	Preferred *models.QueryProtocol // last protocol that succeeded, if any
}

// TargetFor derives a probe target from a server record.
func TargetFor(s *models.Server) Target {
	return Target{
		Host:      s.Host,
		Port:      s.Port,
		QueryPort: s.QueryPort,
		Preferred: s.PreferredProtocol,
	}
}

// Service orchestrates the drivers: cached preference first, then the fixed
// priority order HyQuery, Nitrado, QUIC, BasicPing.
type Service struct {
	drivers []Driver
	timeout time.Duration
}

// NewService builds the orchestrator with the standard driver chain.
func NewService(timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		drivers: []Driver{
			&HyQueryDriver{},
			NewNitradoDriver(),
			&QuicPingDriver{},
			&BasicPingDriver{},
		},
		timeout: timeout,
	}
}

// NewServiceWithDrivers builds an orchestrator over an explicit driver
// chain, in priority order.
func NewServiceWithDrivers(timeout time.Duration, drivers ...Driver) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{drivers: drivers, timeout: timeout}
}

// Probe queries the target. A cached preferred protocol (other than the
// FAILED tag) is tried first and short-circuits on success; otherwise every
// applicable driver runs in priority order until one reports online.
func (s *Service) Probe(target Target) Result {
	if target.Preferred != nil && *target.Preferred != models.ProtocolFailed {
		if res, ok := s.tryPreferred(target); ok {
			return res
		}
	}

	return s.tryAll(target)
}

func (s *Service) tryPreferred(target Target) (Result, bool) {
	for _, d := range s.drivers {
		if d.Protocol() != *target.Preferred {
			continue
		}
		res := d.Probe(target.Host, s.portFor(d, target), s.timeout)
		if res.Online {
			log.Debug().
				Str("host", target.Host).
				Str("protocol", string(d.Protocol())).
				Msg("Preferred protocol succeeded")
			return res, true
		}
		break
	}
	return Result{}, false
}

func (s *Service) tryAll(target Target) Result {
	for _, d := range s.drivers {
		port := s.portFor(d, target)
		if !d.IsApplicable(target.Host, port) {
			continue
		}

		res := d.Probe(target.Host, port, s.timeout)
		if res.Online {
			log.Debug().
				Str("host", target.Host).
				Int("port", port).
				Str("protocol", string(d.Protocol())).
				Msg("Probe succeeded")
			return res
		}
	}

	log.Debug().Str("host", target.Host).Int("port", target.Port).Msg("All protocols failed")
	return failure(models.ProtocolFailed, "All query protocols failed")
}

// portFor picks the port a driver should use: HyQuery, QUIC and BasicPing
// always take the game port; other protocols take the explicit query-port
// override when set, else their own default.
func (s *Service) portFor(d Driver, target Target) int {
	switch d.Protocol() {
	case models.ProtocolHyQuery, models.ProtocolQuic, models.ProtocolBasicPing:
		return target.Port
	}
	if target.QueryPort != nil {
		return *target.QueryPort
	}
	return d.DefaultPort()
}
