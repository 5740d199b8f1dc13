package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/storylab/scribe/internal/repository"
)

// CompendiumRepo implements repository.CompendiumRepository
type CompendiumRepo struct {
	db *DB
}

// NewCompendiumRepo creates a new compendium entry repository
func NewCompendiumRepo(db *DB) *CompendiumRepo {
	return &CompendiumRepo{db: db}
}

// Create creates a new compendium entry
func (r *CompendiumRepo) Create(ctx context.Context, entry *repository.CompendiumEntry) error {
	query := `
		INSERT INTO compendium_entries (id, title, body, description, category, position, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.Title, entry.Body, entry.Description,
		entry.Category, entry.Position, entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create compendium entry: %w", err)
	}
	return nil
}

// GetByID retrieves a compendium entry by ID
func (r *CompendiumRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.CompendiumEntry, error) {
	query := `
		SELECT id, title, body, description, category, position, created_at, updated_at
		FROM compendium_entries
		WHERE id = $1
	`
	var entry repository.CompendiumEntry
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&entry.ID, &entry.Title, &entry.Body, &entry.Description,
		&entry.Category, &entry.Position, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get compendium entry: %w", err)
	}
	return &entry, nil
}

// List retrieves compendium entries in prompt injection order
func (r *CompendiumRepo) List(ctx context.Context, limit, offset int) ([]*repository.CompendiumEntry, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM compendium_entries`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count compendium entries: %w", err)
	}

	query := `
		SELECT id, title, body, description, category, position, created_at, updated_at
		FROM compendium_entries
		ORDER BY position, created_at
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list compendium entries: %w", err)
	}
	defer rows.Close()

	var entries []*repository.CompendiumEntry
	for rows.Next() {
		var entry repository.CompendiumEntry
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Body, &entry.Description,
			&entry.Category, &entry.Position, &entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan compendium entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate compendium entries: %w", err)
	}

	return entries, total, nil
}

// Update updates a compendium entry
func (r *CompendiumRepo) Update(ctx context.Context, entry *repository.CompendiumEntry) error {
	query := `
		UPDATE compendium_entries
		SET title = $2, body = $3, description = $4, category = $5, position = $6, updated_at = $7
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		entry.ID, entry.Title, entry.Body, entry.Description,
		entry.Category, entry.Position, entry.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update compendium entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a compendium entry
func (r *CompendiumRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM compendium_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete compendium entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
