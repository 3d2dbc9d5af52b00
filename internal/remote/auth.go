package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Guizzs26/go-offline-sync/internal/models"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"
)

// ErrAuthFailed means the backend rejected the email/password pair
var ErrAuthFailed = errors.New("remote: authentication failed")

// Authenticate verifies credentials against the backend user table and
// returns the matching profile. Unknown email and wrong password are not
// distinguished
func (c *Client) Authenticate(ctx context.Context, email, password string) (*models.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		p        models.Profile
		id       int64
		role     string
		hash     string
		officeID []int64
	)
	err := c.pool.QueryRow(ctx, `
		SELECT id, email, role, full_name, password_hash, office_ids
		FROM app_users
		WHERE email = $1 AND deleted_at IS NULL`,
		strings.ToLower(email),
	).Scan(&id, &p.Email, &role, &p.FullName, &hash, &officeID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuthFailed
	}
	if err != nil {
		return nil, classify("authenticate", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrAuthFailed
	}

	p.RemoteID = fmt.Sprintf("%d", id)
	p.Role = models.Role(role)
	p.OfficeScope = officeID
	p.LastLoginAt = time.Now().UTC()
	return &p, nil
}
