package storage

import (
	"database/sql"
	"fmt"

	"github.com/Mark-Dyer/hytaleonlinelist/internal/models"
	"github.com/google/uuid"
)

// GetUser retrieves a user by id. Returns (nil, nil) when not found.
func (s *Store) GetUser(id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRow(`
		SELECT id, username, email, email_verified FROM users WHERE id = ?`, id.String())

	var (
		u   models.User
		uid string
	)
	err := row.Scan(&uid, &u.Username, &u.Email, &u.EmailVerified)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if u.ID, err = uuid.Parse(uid); err != nil {
		return nil, fmt.Errorf("bad user id %q: %w", uid, err)
	}
	return &u, nil
}

// InsertUser creates a user row. Account management lives outside this
// core; this exists for seeding and tests.
func (s *Store) InsertUser(u *models.User) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, username, email, email_verified) VALUES (?, ?, ?, ?)`,
		u.ID.String(), u.Username, u.Email, u.EmailVerified)
	return err
}
