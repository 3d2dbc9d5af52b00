package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"

	"golang.org/x/crypto/bcrypt"
)

// ErrBadCredentials is returned when an offline sign-in does not match the
// cached profile
var ErrBadCredentials = errors.New("store: credentials do not match cached profile")

// CacheProfile stores (or refreshes) the identity of a user who signed in
// while online, so the same credentials keep working offline. The password is
// kept only as a bcrypt hash
func (s *Store) CacheProfile(ctx context.Context, p models.Profile, password string) error {
	if p.RemoteID == "" || p.Email == "" {
		return fmt.Errorf("%w: profile needs a remote id and email", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password for profile cache: %w", err)
	}
	scope, err := json.Marshal(p.OfficeScope)
	if err != nil {
		return fmt.Errorf("failed to encode office scope: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO local_profiles (remote_id, email, role, full_name, office_scope, password_hash, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (remote_id) DO UPDATE SET
			email = excluded.email,
			role = excluded.role,
			full_name = excluded.full_name,
			office_scope = excluded.office_scope,
			password_hash = excluded.password_hash,
			last_login_at = excluded.last_login_at`,
		p.RemoteID, strings.ToLower(p.Email), string(p.Role), p.FullName,
		string(scope), string(hash), fmtTime(p.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("failed to cache profile: %w", err)
	}
	s.logger.Info("Cached profile for offline sign-in", "email", p.Email, "role", p.Role)
	return nil
}

// VerifyOfflineCredentials checks an email/password pair against the cached
// profiles. A miss and a wrong password both come back as ErrBadCredentials so
// the caller cannot tell which field was wrong
func (s *Store) VerifyOfflineCredentials(ctx context.Context, email, password string) (*models.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT remote_id, email, role, full_name, office_scope, password_hash, last_login_at
		FROM local_profiles WHERE email = ?`, strings.ToLower(email))

	var (
		p         models.Profile
		role      string
		scope     sql.NullString
		hash      string
		lastLogin string
	)
	err := row.Scan(&p.RemoteID, &p.Email, &role, &p.FullName, &scope, &hash, &lastLogin)
	if err == sql.ErrNoRows {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cached profile: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrBadCredentials
	}

	p.Role = models.Role(role)
	p.LastLoginAt = parseTime(lastLogin)
	if scope.Valid && scope.String != "" {
		if err := json.Unmarshal([]byte(scope.String), &p.OfficeScope); err != nil {
			return nil, fmt.Errorf("failed to decode office scope: %w", err)
		}
	}

	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`UPDATE local_profiles SET last_login_at = ? WHERE remote_id = ?`,
		fmtTime(now), p.RemoteID); err != nil {
		s.logger.Warn("Failed to stamp offline login time", "error", err)
	} else {
		p.LastLoginAt = now
	}
	return &p, nil
}
