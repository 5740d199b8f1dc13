package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/storylab/scribe/internal/repository"
)

// SettingsRepo implements repository.SettingsRepository. Settings are a
// single row keyed by a fixed id.
type SettingsRepo struct {
	db *DB
}

// NewSettingsRepo creates a new settings repository
func NewSettingsRepo(db *DB) *SettingsRepo {
	return &SettingsRepo{db: db}
}

// Get returns the current connection settings
func (r *SettingsRepo) Get(ctx context.Context) (*repository.Settings, error) {
	query := `
		SELECT mode, provider, api_key, model, endpoint, temperature, max_tokens, updated_at
		FROM settings
		WHERE id = 1
	`
	var s repository.Settings
	err := r.db.Pool.QueryRow(ctx, query).Scan(
		&s.Mode, &s.Provider, &s.APIKey, &s.Model, &s.Endpoint,
		&s.Temperature, &s.MaxTokens, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

// Save upserts the settings record
func (r *SettingsRepo) Save(ctx context.Context, s *repository.Settings) error {
	s.UpdatedAt = time.Now()

	query := `
		INSERT INTO settings (id, mode, provider, api_key, model, endpoint, temperature, max_tokens, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			mode = EXCLUDED.mode,
			provider = EXCLUDED.provider,
			api_key = EXCLUDED.api_key,
			model = EXCLUDED.model,
			endpoint = EXCLUDED.endpoint,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			updated_at = EXCLUDED.updated_at
	`
	_, err := r.db.Pool.Exec(ctx, query,
		s.Mode, s.Provider, s.APIKey, s.Model, s.Endpoint,
		s.Temperature, s.MaxTokens, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
