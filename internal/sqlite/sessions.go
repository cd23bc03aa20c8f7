package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pavel-fokin/files-manager/internal/files"
)

// ResolveIdentity maps a session token to the user it was issued for
func (r *Repository) ResolveIdentity(ctx context.Context, token string) (string, error) {
	var userID string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM sessions WHERE token = ?`, token).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", files.ErrUnauthorized
		}
		return "", fmt.Errorf("failed to find session: %w", err)
	}
	return userID, nil
}

// PutSession records a session token issued for userID by the auth service
func (r *Repository) PutSession(ctx context.Context, token, userID string) error {
	query := `
	INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)
	ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id
	`
	if _, err := r.db.ExecContext(ctx, query, token, userID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// CountUsers returns the number of distinct users holding a session
func (r *Repository) CountUsers(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT user_id) FROM sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
