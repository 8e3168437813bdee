package storage

import (
	"database/sql"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/google/uuid"
)

// HistoryCounts are the aggregates the uptime job works from.
type HistoryCounts struct {
	Total  int64
	Online int64
}

// CountHistorySince returns how many probes (total and online) were recorded
// for a server since the given instant.
func (s *Store) CountHistorySince(serverID uuid.UUID, since time.Time) (HistoryCounts, error) {
	var c HistoryCounts
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(is_online), 0)
		FROM server_status_history
		WHERE server_id = ? AND recorded_at >= ?`,
		serverID.String(), since).Scan(&c.Total, &c.Online)
	return c, err
}

// AverageResponseTimeSince returns the mean response time of online probes
// since the given instant, or nil when there were none.
func (s *Store) AverageResponseTimeSince(serverID uuid.UUID, since time.Time) (*int64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT AVG(response_time_ms)
		FROM server_status_history
		WHERE server_id = ? AND recorded_at >= ? AND is_online = 1`,
		serverID.String(), since).Scan(&avg)
	if err != nil {
		return nil, err
	}
	if !avg.Valid {
		return nil, nil
	}
	v := int64(avg.Float64)
	return &v, nil
}

// HistorySince returns the raw history records for a server since the given
// instant, oldest first, for dashboard charts.
func (s *Store) HistorySince(serverID uuid.UUID, since time.Time) ([]models.StatusHistory, error) {
	rows, err := s.db.Query(`
		SELECT id, server_id, is_online, player_count, max_players, response_time_ms,
		       protocol, error_message, recorded_at
		FROM server_status_history
		WHERE server_id = ? AND recorded_at >= ?
		ORDER BY recorded_at ASC`,
		serverID.String(), since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []models.StatusHistory
	for rows.Next() {
		var (
			h               models.StatusHistory
			sid             string
			players, maxPl  sql.NullInt64
			responseTime    sql.NullInt64
		)
		if err := rows.Scan(&h.ID, &sid, &h.IsOnline, &players, &maxPl, &responseTime,
			&h.Protocol, &h.ErrorMessage, &h.RecordedAt); err != nil {
			return nil, err
		}
		h.ServerID, err = uuid.Parse(sid)
		if err != nil {
			return nil, err
		}
		h.PlayerCount = intPtr(players)
		h.MaxPlayers = intPtr(maxPl)
		h.ResponseTimeMs = int64Ptr(responseTime)
		records = append(records, h)
	}
	return records, rows.Err()
}

// DeleteHistoryBefore removes history records older than the cutoff and
// returns how many were deleted.
func (s *Store) DeleteHistoryBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM server_status_history WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
