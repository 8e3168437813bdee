package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/google/uuid"
)

const initiationColumns = `id, server_id, user_id, method, status, initiated_at, expires_at,
	attempt_count, last_attempt_at, cancelled_at, completed_at`

// GetInitiation retrieves the (server, user) claim initiation, or (nil, nil)
// when the user has none.
func (s *Store) GetInitiation(serverID, userID uuid.UUID) (*models.ClaimInitiation, error) {
	row := s.db.QueryRow(`
		SELECT `+initiationColumns+` FROM claim_initiations
		WHERE server_id = ? AND user_id = ?`,
		serverID.String(), userID.String())

	init, err := scanInitiation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return init, nil
}

// SaveInitiation inserts the initiation or, when the (server, user) row
// already exists, replaces its mutable fields.
func (s *Store) SaveInitiation(init *models.ClaimInitiation) error {
	_, err := s.db.Exec(`
		INSERT INTO claim_initiations (`+initiationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(server_id, user_id) DO UPDATE SET
			method = excluded.method,
			status = excluded.status,
			initiated_at = excluded.initiated_at,
			expires_at = excluded.expires_at,
			attempt_count = excluded.attempt_count,
			last_attempt_at = excluded.last_attempt_at,
			cancelled_at = excluded.cancelled_at,
			completed_at = excluded.completed_at`,
		init.ID.String(), init.ServerID.String(), init.UserID.String(),
		string(init.Method), string(init.Status), init.InitiatedAt, init.ExpiresAt,
		init.AttemptCount, nullTime(init.LastAttemptAt), nullTime(init.CancelledAt), nullTime(init.CompletedAt))
	return err
}

// InitiationsForUser returns every initiation a user has made, newest first.
func (s *Store) InitiationsForUser(userID uuid.UUID) ([]models.ClaimInitiation, error) {
	rows, err := s.db.Query(`
		SELECT `+initiationColumns+` FROM claim_initiations
		WHERE user_id = ? ORDER BY initiated_at DESC`, userID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectInitiations(rows)
}

// InitiationsForServer returns every initiation targeting a server.
func (s *Store) InitiationsForServer(serverID uuid.UUID) ([]models.ClaimInitiation, error) {
	rows, err := s.db.Query(`
		SELECT `+initiationColumns+` FROM claim_initiations
		WHERE server_id = ? ORDER BY initiated_at DESC`, serverID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectInitiations(rows)
}

// CountActiveClaims counts PENDING, unexpired initiations for a server.
func (s *Store) CountActiveClaims(serverID uuid.UUID, now time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM claim_initiations
		WHERE server_id = ? AND status = 'PENDING' AND expires_at > ?`,
		serverID.String(), now).Scan(&n)
	return n, err
}

// MarkInitiationExpired transitions one PENDING initiation to EXPIRED.
func (s *Store) MarkInitiationExpired(id uuid.UUID, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE claim_initiations SET status = 'EXPIRED', completed_at = ?
		WHERE id = ? AND status = 'PENDING'`, now, id.String())
	return err
}

// MarkInitiationCancelled transitions one PENDING initiation to CANCELLED.
func (s *Store) MarkInitiationCancelled(id uuid.UUID, now time.Time) error {
	_, err := s.db.Exec(`
		UPDATE claim_initiations SET status = 'CANCELLED', cancelled_at = ?, completed_at = ?
		WHERE id = ? AND status = 'PENDING'`, now, now, id.String())
	return err
}

// ExpirePendingClaims bulk-transitions every PENDING initiation whose expiry
// has passed to EXPIRED and returns how many rows changed.
func (s *Store) ExpirePendingClaims(now time.Time) (int64, error) {
	res, err := s.db.Exec(`
		UPDATE claim_initiations SET status = 'EXPIRED', completed_at = ?
		WHERE status = 'PENDING' AND expires_at <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteTerminalClaimsBefore removes settled initiations (and their audit
// attempts) completed before the cutoff. Returns deleted initiation count.
func (s *Store) DeleteTerminalClaimsBefore(cutoff time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		DELETE FROM claim_attempts WHERE attempted_at < ?`, cutoff); err != nil {
		return 0, err
	}

	res, err := tx.Exec(`
		DELETE FROM claim_initiations
		WHERE status != 'PENDING' AND completed_at IS NOT NULL AND completed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, tx.Commit()
}

// FinalizeVerifiedClaim is the race's linearization point. In one
// transaction it re-checks the server is still unverified via a conditional
// update (compare-and-set on verified_at IS NULL); when the guard holds it
// crowns the winner's initiation VERIFIED, flips every other PENDING
// initiation for the server to CLAIMED_BY_OTHER, sets the ownership fields
// and clears the shared token. Returns false when another user won first.
func (s *Store) FinalizeVerifiedClaim(serverID, winnerID uuid.UUID, method models.VerificationMethod, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		UPDATE servers
		SET owner_id = ?, verification_method = ?, verified_at = ?,
		    claim_token = NULL, claim_token_expiry = NULL
		WHERE id = ? AND verified_at IS NULL`,
		winnerID.String(), string(method), now, serverID.String())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		// Someone else verified between our strategy check and here.
		return false, nil
	}

	if _, err := tx.Exec(`
		UPDATE claim_initiations SET status = 'VERIFIED', completed_at = ?
		WHERE server_id = ? AND user_id = ? AND status = 'PENDING'`,
		now, serverID.String(), winnerID.String()); err != nil {
		return false, err
	}

	if _, err := tx.Exec(`
		UPDATE claim_initiations SET status = 'CLAIMED_BY_OTHER', completed_at = ?
		WHERE server_id = ? AND user_id != ? AND status = 'PENDING'`,
		now, serverID.String(), winnerID.String()); err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// InsertAttempt appends one verification attempt to the audit log.
func (s *Store) InsertAttempt(a *models.ClaimAttempt) error {
	_, err := s.db.Exec(`
		INSERT INTO claim_attempts
			(server_id, user_id, method, successful, failure_reason, source_ip, country_code, attempted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ServerID.String(), a.UserID.String(), string(a.Method),
		a.Successful, a.FailureReason, a.SourceIP, a.CountryCode, a.AttemptedAt)
	return err
}

// CountAttemptsByUserSince counts audit rows for a user after the given
// instant. Rate limits are derived from this rather than a separate counter.
func (s *Store) CountAttemptsByUserSince(userID uuid.UUID, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM claim_attempts WHERE user_id = ? AND attempted_at > ?`,
		userID.String(), since).Scan(&n)
	return n, err
}

func scanInitiation(row rowScanner) (*models.ClaimInitiation, error) {
	var (
		init                       models.ClaimInitiation
		id, serverID, userID       string
		lastAttempt, cancelled, completed sql.NullTime
	)

	err := row.Scan(&id, &serverID, &userID, &init.Method, &init.Status,
		&init.InitiatedAt, &init.ExpiresAt, &init.AttemptCount,
		&lastAttempt, &cancelled, &completed)
	if err != nil {
		return nil, err
	}

	if init.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("bad initiation id %q: %w", id, err)
	}
	if init.ServerID, err = uuid.Parse(serverID); err != nil {
		return nil, fmt.Errorf("bad server id %q: %w", serverID, err)
	}
	if init.UserID, err = uuid.Parse(userID); err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", userID, err)
	}

	init.LastAttemptAt = timePtr(lastAttempt)
	init.CancelledAt = timePtr(cancelled)
	init.CompletedAt = timePtr(completed)

	return &init, nil
}

func collectInitiations(rows *sql.Rows) ([]models.ClaimInitiation, error) {
	var initiations []models.ClaimInitiation
	for rows.Next() {
		init, err := scanInitiation(rows)
		if err != nil {
			return nil, err
		}
		initiations = append(initiations, *init)
	}
	return initiations, rows.Err()
}
