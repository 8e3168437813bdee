package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/google/uuid"
)

const serverColumns = `id, name, slug, host, port, query_port, website_url, version,
	is_online, player_count, max_players, uptime_percentage, preferred_protocol, last_pinged_at,
	owner_id, verified_at, verification_method, claim_token, claim_token_expiry, created_at`

// InsertServer creates a server row. Listing CRUD lives outside this core;
// this exists for seeding and tests.
func (s *Store) InsertServer(srv *models.Server) error {
	var preferred, method, ownerID sql.NullString
	if srv.PreferredProtocol != nil {
		preferred = sql.NullString{String: string(*srv.PreferredProtocol), Valid: true}
	}
	if srv.VerificationMethod != nil {
		method = sql.NullString{String: string(*srv.VerificationMethod), Valid: true}
	}
	if srv.OwnerID != nil {
		ownerID = sql.NullString{String: srv.OwnerID.String(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		srv.ID.String(), srv.Name, srv.Slug, srv.Host, srv.Port, nullInt(srv.QueryPort),
		srv.WebsiteURL, srv.Version,
		srv.IsOnline, nullInt(srv.PlayerCount), nullInt(srv.MaxPlayers), srv.UptimePercentage,
		preferred, nullTime(srv.LastPingedAt),
		ownerID, nullTime(srv.VerifiedAt), method,
		nullString(srv.ClaimToken), nullTime(srv.ClaimTokenExpiry), srv.CreatedAt,
	)
	return err
}

// GetServer retrieves a server by id. Returns (nil, nil) when not found.
func (s *Store) GetServer(id uuid.UUID) (*models.Server, error) {
	row := s.db.QueryRow(`SELECT `+serverColumns+` FROM servers WHERE id = ?`, id.String())

	srv, err := scanServer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return srv, nil
}

// ListServers retrieves every server, most recently created first.
func (s *Store) ListServers() ([]models.Server, error) {
	rows, err := s.db.Query(`SELECT ` + serverColumns + ` FROM servers ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectServers(rows)
}

// ServersNeedingPing returns up to limit servers most overdue for a probe:
// never-probed servers first, then oldest last_pinged_at.
func (s *Store) ServersNeedingPing(limit int) ([]models.Server, error) {
	rows, err := s.db.Query(`
		SELECT `+serverColumns+` FROM servers
		ORDER BY last_pinged_at IS NOT NULL, last_pinged_at ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectServers(rows)
}

// StatusUpdate is the per-server outcome of one scheduler batch entry.
// Player counts and preferred protocol are touched only when online.
type StatusUpdate struct {
	ServerID    uuid.UUID
	Online      bool
	PlayerCount *int
	MaxPlayers  *int
	Protocol    models.QueryProtocol
	PingedAt    time.Time
}

// ApplyStatusBatch persists one scheduler run: every server update and every
// history insert in a single transaction, so readers observe the batch
// atomically.
func (s *Store) ApplyStatusBatch(updates []StatusUpdate, history []models.StatusHistory) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if u.Online {
			_, err = tx.Exec(`
				UPDATE servers
				SET is_online = 1, last_pinged_at = ?, player_count = ?, max_players = ?, preferred_protocol = ?
				WHERE id = ?`,
				u.PingedAt, nullInt(u.PlayerCount), nullInt(u.MaxPlayers), string(u.Protocol), u.ServerID.String())
		} else {
			_, err = tx.Exec(`
				UPDATE servers SET is_online = 0, last_pinged_at = ? WHERE id = ?`,
				u.PingedAt, u.ServerID.String())
		}
		if err != nil {
			return fmt.Errorf("update server %s: %w", u.ServerID, err)
		}
	}

	for _, h := range history {
		_, err = tx.Exec(`
			INSERT INTO server_status_history
				(server_id, is_online, player_count, max_players, response_time_ms, protocol, error_message, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			h.ServerID.String(), h.IsOnline, nullInt(h.PlayerCount), nullInt(h.MaxPlayers),
			nullInt64(h.ResponseTimeMs), string(h.Protocol), h.ErrorMessage, h.RecordedAt)
		if err != nil {
			return fmt.Errorf("insert history for %s: %w", h.ServerID, err)
		}
	}

	return tx.Commit()
}

// SetUptimePercentage stores a recomputed rolling uptime value.
func (s *Store) SetUptimePercentage(serverID uuid.UUID, pct float64) error {
	_, err := s.db.Exec(`UPDATE servers SET uptime_percentage = ? WHERE id = ?`, pct, serverID.String())
	return err
}

// SetClaimToken stores the shared claim token and its expiry on a server.
func (s *Store) SetClaimToken(serverID uuid.UUID, token string, expiry time.Time) error {
	_, err := s.db.Exec(`
		UPDATE servers SET claim_token = ?, claim_token_expiry = ? WHERE id = ?`,
		token, expiry, serverID.String())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanServer(row rowScanner) (*models.Server, error) {
	var (
		srv                         models.Server
		id                          string
		queryPort, players, maxPl   sql.NullInt64
		preferred, method, ownerID  sql.NullString
		claimToken                  sql.NullString
		lastPinged, verified, tokEx sql.NullTime
	)

	err := row.Scan(
		&id, &srv.Name, &srv.Slug, &srv.Host, &srv.Port, &queryPort, &srv.WebsiteURL, &srv.Version,
		&srv.IsOnline, &players, &maxPl, &srv.UptimePercentage, &preferred, &lastPinged,
		&ownerID, &verified, &method, &claimToken, &tokEx, &srv.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	srv.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("bad server id %q: %w", id, err)
	}

	srv.QueryPort = intPtr(queryPort)
	srv.PlayerCount = intPtr(players)
	srv.MaxPlayers = intPtr(maxPl)
	srv.LastPingedAt = timePtr(lastPinged)
	srv.VerifiedAt = timePtr(verified)
	srv.ClaimToken = stringPtr(claimToken)
	srv.ClaimTokenExpiry = timePtr(tokEx)

	if preferred.Valid {
		p := models.QueryProtocol(preferred.String)
		srv.PreferredProtocol = &p
	}
	if method.Valid {
		m := models.VerificationMethod(method.String)
		srv.VerificationMethod = &m
	}
	if ownerID.Valid {
		oid, err := uuid.Parse(ownerID.String)
		if err != nil {
			return nil, fmt.Errorf("bad owner id %q: %w", ownerID.String, err)
		}
		srv.OwnerID = &oid
	}

	return &srv, nil
}

func collectServers(rows *sql.Rows) ([]models.Server, error) {
	var servers []models.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, rows.Err()
}
