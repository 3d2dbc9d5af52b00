package remote

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict means the backend rejected a write because of a uniqueness
	// constraint. The engine treats the remote copy as the winner
	ErrConflict = errors.New("remote: row conflicts with existing backend data")

	// ErrNotFound means the referenced backend row does not exist (yet)
	ErrNotFound = errors.New("remote: row not found on backend")

	// ErrUnavailable means the backend could not be reached or answered with a
	// transient failure. The change stays queued for the next cycle
	ErrUnavailable = errors.New("remote: backend unavailable")
)

// classify maps driver-level failures onto the three error categories the
// engine distinguishes. Anything ambiguous is treated as unavailable so the
// queued change is retried rather than dropped
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23505 unique_violation
		if pgErr.Code == "23505" {
			return fmt.Errorf("%s: %w: %s", op, ErrConflict, pgErr.ConstraintName)
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}
