package query

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/rs/zerolog/log"
)

const nitradoAcceptHeader = "application/x.hytale.nitrado.query+json;version=1"

// NitradoDriver queries the HTTPS REST endpoint the Nitrado Query plugin
// exposes on its own port (5523 by convention).
type NitradoDriver struct {
	// Client is the HTTP client used for queries. Per-probe deadlines are
	// applied via request context on top of whatever the client enforces.
	Client *http.Client
}

// NewNitradoDriver returns a driver with a default client.
func NewNitradoDriver() *NitradoDriver {
	return &NitradoDriver{Client: &http.Client{}}
}

func (d *NitradoDriver) Protocol() models.QueryProtocol { return models.ProtocolNitrado }

func (d *NitradoDriver) DefaultPort() int { return 5523 }

func (d *NitradoDriver) IsApplicable(host string, port int) bool { return true }

// nitradoResponse covers both response shapes the plugin ecosystem produces:
// the flat wrapper format and the official nested format. Which one arrived
// is decided by which discriminating field is present.
type nitradoResponse struct {
	// Flat: { online, serverName, players, maxPlayers, version, motd }
	Online     *bool  `json:"online"`
	ServerName string `json:"serverName"`
	Players    *int   `json:"players"`
	MaxPlayers *int   `json:"maxPlayers"`
	Version    string `json:"version"`
	MOTD       string `json:"motd"`

	// Nested: { Server: {Name, Version, MaxPlayers}, Universe: {CurrentPlayers} }
	Server *struct {
		Name       string `json:"Name"`
		Version    string `json:"Version"`
		MaxPlayers *int   `json:"MaxPlayers"`
	} `json:"Server"`
	Universe *struct {
		CurrentPlayers *int `json:"CurrentPlayers"`
	} `json:"Universe"`
}

// Probe issues a GET to the plugin endpoint and accepts either body shape.
// A non-200 status, an unreadable body, or a body matching neither shape is
// a failure. An explicit online:false is an authoritative offline.
func (d *NitradoDriver) Probe(host string, port int, timeout time.Duration) Result {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	url := fmt.Sprintf("https://%s:%d/Nitrado/Query", host, port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return failure(models.ProtocolNitrado, err.Error())
	}
	req.Header.Set("Accept", nitradoAcceptHeader)

	resp, err := d.Client.Do(req)
	if err != nil {
		return failure(models.ProtocolNitrado, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return failure(models.ProtocolNitrado, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(models.ProtocolNitrado, err.Error())
	}

	res := parseNitradoResponse(body, time.Since(start))
	if res.Online {
		log.Debug().
			Str("host", host).
			Int("port", port).
			Str("name", res.ServerName).
			Msg("Nitrado probe succeeded")
	}

	return res
}

func parseNitradoResponse(body []byte, elapsed time.Duration) Result {
	var r nitradoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return failure(models.ProtocolNitrado, "Parse error: "+err.Error())
	}

	switch {
	case r.Online != nil:
		if !*r.Online {
			return failure(models.ProtocolNitrado, "Server offline")
		}
		return success(models.ProtocolNitrado,
			intOrZero(r.Players), intOrZero(r.MaxPlayers),
			r.ServerName, r.Version, r.MOTD, elapsed)

	case r.Server != nil:
		players := 0
		if r.Universe != nil && r.Universe.CurrentPlayers != nil {
			players = *r.Universe.CurrentPlayers
		}
		return success(models.ProtocolNitrado,
			intPtr(players), intOrZero(r.Server.MaxPlayers),
			r.Server.Name, r.Server.Version, "", elapsed)

	default:
		return failure(models.ProtocolNitrado, "Unrecognized response shape")
	}
}

func intOrZero(v *int) *int {
	if v == nil {
		return intPtr(0)
	}
	return v
}
