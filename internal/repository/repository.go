// Package repository defines domain models and data access interfaces for
// connection settings, prose prompt templates, and compendium entries.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Settings is the resolved connection configuration, persisted after a
// successful connection test. A single record per deployment.
type Settings struct {
	Mode        string  `json:"mode"` // "local" or "remote"
	Provider    string  `json:"provider,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model,omitempty"`
	Endpoint    string  `json:"endpoint"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	UpdatedAt   time.Time
}

// PromptTemplate is author-supplied prose guidance inserted into assembled
// prompts ahead of the beat instruction.
type PromptTemplate struct {
	ID        uuid.UUID
	Name      string
	Text      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompendiumEntry is a titled reference note (character, location, lore)
// injected into prompts as grounding context. Body is the canonical text;
// Description is a short summary used as a fallback when Body is empty.
type CompendiumEntry struct {
	ID          uuid.UUID
	Title       string
	Body        string
	Description string
	Category    string
	Position    int // injection order within the prompt
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SettingsRepository persists the single connection settings record
type SettingsRepository interface {
	// Get returns the current settings, or ErrNotFound if none were saved.
	Get(ctx context.Context) (*Settings, error)

	// Save upserts the settings record.
	Save(ctx context.Context, s *Settings) error
}

// PromptRepository defines operations for prompt template persistence
type PromptRepository interface {
	Create(ctx context.Context, tpl *PromptTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*PromptTemplate, error)
	GetActive(ctx context.Context) (*PromptTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*PromptTemplate, int, error)
	Update(ctx context.Context, tpl *PromptTemplate) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// CompendiumRepository defines operations for compendium entry persistence
type CompendiumRepository interface {
	Create(ctx context.Context, entry *CompendiumEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*CompendiumEntry, error)

	// List returns entries ordered by Position then creation time; this is
	// the order they appear in assembled prompts.
	List(ctx context.Context, limit, offset int) ([]*CompendiumEntry, int, error)
	Update(ctx context.Context, entry *CompendiumEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
}
