package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/storylab/scribe/internal/repository"
)

// PromptRepo implements repository.PromptRepository
type PromptRepo struct {
	db *DB
}

// NewPromptRepo creates a new prompt template repository
func NewPromptRepo(db *DB) *PromptRepo {
	return &PromptRepo{db: db}
}

// Create creates a new prompt template
func (r *PromptRepo) Create(ctx context.Context, tpl *repository.PromptTemplate) error {
	query := `
		INSERT INTO prompt_templates (id, name, text, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool.Exec(ctx, query,
		tpl.ID, tpl.Name, tpl.Text, tpl.Active, tpl.CreatedAt, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create prompt template: %w", err)
	}
	return nil
}

// GetByID retrieves a prompt template by ID
func (r *PromptRepo) GetByID(ctx context.Context, id uuid.UUID) (*repository.PromptTemplate, error) {
	query := `
		SELECT id, name, text, active, created_at, updated_at
		FROM prompt_templates
		WHERE id = $1
	`
	return r.scanTemplate(ctx, query, id)
}

// GetActive retrieves the template currently selected for generation.
// Returns ErrNotFound when no template is active.
func (r *PromptRepo) GetActive(ctx context.Context) (*repository.PromptTemplate, error) {
	query := `
		SELECT id, name, text, active, created_at, updated_at
		FROM prompt_templates
		WHERE active
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.scanTemplate(ctx, query)
}

func (r *PromptRepo) scanTemplate(ctx context.Context, query string, args ...any) (*repository.PromptTemplate, error) {
	var tpl repository.PromptTemplate
	err := r.db.Pool.QueryRow(ctx, query, args...).Scan(
		&tpl.ID, &tpl.Name, &tpl.Text, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get prompt template: %w", err)
	}
	return &tpl, nil
}

// List retrieves prompt templates with pagination
func (r *PromptRepo) List(ctx context.Context, limit, offset int) ([]*repository.PromptTemplate, int, error) {
	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM prompt_templates`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count prompt templates: %w", err)
	}

	query := `
		SELECT id, name, text, active, created_at, updated_at
		FROM prompt_templates
		ORDER BY created_at
		LIMIT $1 OFFSET $2
	`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list prompt templates: %w", err)
	}
	defer rows.Close()

	var templates []*repository.PromptTemplate
	for rows.Next() {
		var tpl repository.PromptTemplate
		if err := rows.Scan(&tpl.ID, &tpl.Name, &tpl.Text, &tpl.Active, &tpl.CreatedAt, &tpl.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan prompt template: %w", err)
		}
		templates = append(templates, &tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate prompt templates: %w", err)
	}

	return templates, total, nil
}

// Update updates a prompt template
func (r *PromptRepo) Update(ctx context.Context, tpl *repository.PromptTemplate) error {
	query := `
		UPDATE prompt_templates
		SET name = $2, text = $3, active = $4, updated_at = $5
		WHERE id = $1
	`
	tag, err := r.db.Pool.Exec(ctx, query, tpl.ID, tpl.Name, tpl.Text, tpl.Active, tpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update prompt template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete deletes a prompt template
func (r *PromptRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM prompt_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete prompt template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
