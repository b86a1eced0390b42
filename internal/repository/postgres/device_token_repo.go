package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeviceTokenRepository stores one push token per user. It implements
// notify.TokenLookup.
type DeviceTokenRepository struct {
	db *pgxpool.Pool
}

func NewDeviceTokenRepository(db *pgxpool.Pool) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Upsert registers or replaces the user's device token.
func (r *DeviceTokenRepository) Upsert(ctx context.Context, userID int64, token string) error {
	query := `
		INSERT INTO device_tokens (user_id, token, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE SET token = EXCLUDED.token, updated_at = NOW()
	`

	if _, err := r.db.Exec(ctx, query, userID, token); err != nil {
		return fmt.Errorf("failed to upsert device token: %w", err)
	}
	return nil
}

// DeviceToken resolves the user's registered token; empty when none.
func (r *DeviceTokenRepository) DeviceToken(ctx context.Context, userID int64) (string, error) {
	query := `SELECT token FROM device_tokens WHERE user_id = $1`

	var token string
	err := r.db.QueryRow(ctx, query, userID).Scan(&token)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find device token: %w", err)
	}
	return token, nil
}
