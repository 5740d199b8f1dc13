// Package service implements the application's use cases over the
// repositories, the prompt assembler, and the inference client.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/storylab/scribe/internal/connection"
	"github.com/storylab/scribe/internal/llm"
	"github.com/storylab/scribe/internal/prompt"
	"github.com/storylab/scribe/internal/repository"
)

// ErrBeatRequired is returned when a generation request has no beat.
var ErrBeatRequired = errors.New("beat is required")

// maxCompendiumEntries caps how many reference entries are injected into a
// single prompt. Entries beyond the cap are omitted and the truncation is
// logged.
const maxCompendiumEntries = 200

// GenerationRequest describes one beat expansion.
type GenerationRequest struct {
	// Beat is the authorial instruction to expand. Required.
	Beat string `json:"beat"`

	// SceneContext is the prose preceding the beat; may be empty. Only its
	// final tokens are carried into the prompt.
	SceneContext string `json:"scene_context"`

	// Narrative configuration; empty fields fall back to defaults.
	POVCharacter string `json:"pov_character"`
	Tense        string `json:"tense"`
	POV          string `json:"pov"`

	// TemplateID selects a prose prompt template. When nil the active
	// template is used; when none is active the prompt has no template block.
	TemplateID *uuid.UUID `json:"template_id"`

	// SkipCompendium leaves reference material out of the prompt.
	SkipCompendium bool `json:"skip_compendium"`
}

// EngineFactory builds an inference client for the session's current
// endpoint. Generation calls construct a fresh client so concurrent calls
// never share decoder state.
type EngineFactory func(endpoint, apiKey string) llm.Engine

// GenerationService assembles prompts from stored material and drives the
// inference backend. It reads the connection session to find the backend
// but never mutates it.
type GenerationService struct {
	promptRepo     repository.PromptRepository
	compendiumRepo repository.CompendiumRepository
	settingsRepo   repository.SettingsRepository
	session        *connection.Session
	engineFactory  EngineFactory
	logger         *slog.Logger
}

// NewGenerationService creates a new GenerationService
func NewGenerationService(
	promptRepo repository.PromptRepository,
	compendiumRepo repository.CompendiumRepository,
	settingsRepo repository.SettingsRepository,
	session *connection.Session,
	engineFactory EngineFactory,
	logger *slog.Logger,
) *GenerationService {
	if engineFactory == nil {
		engineFactory = func(endpoint, apiKey string) llm.Engine {
			return llm.NewCompletionClient(llm.WithBaseURL(endpoint), llm.WithAPIKey(apiKey))
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationService{
		promptRepo:     promptRepo,
		compendiumRepo: compendiumRepo,
		settingsRepo:   settingsRepo,
		session:        session,
		engineFactory:  engineFactory,
		logger:         logger,
	}
}

// Generate expands the beat and invokes onToken synchronously for every
// token in the backend's emission order. It returns when the stream ends,
// the backend signals stop, or ctx is cancelled; a cancelled call stops
// invoking onToken immediately.
func (s *GenerationService) Generate(ctx context.Context, req GenerationRequest, onToken func(string)) error {
	if req.Beat == "" {
		return ErrBeatRequired
	}
	if !s.session.Ready() {
		return connection.ErrNotReady
	}

	opts, err := s.resolveOptions(ctx, req, false)
	if err != nil {
		return err
	}
	assembled := prompt.Assemble(req.Beat, req.SceneContext, opts)

	state := s.session.Snapshot()
	genOpts, apiKey := s.generateOptions(ctx)
	engine := s.engineFactory(state.Endpoint, apiKey)

	chunks, err := engine.GenerateStream(ctx, assembled, genOpts)
	if err != nil {
		return fmt.Errorf("starting generation: %w", err)
	}

	for chunk := range chunks {
		if chunk.Err != nil {
			return chunk.Err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if chunk.Token != "" {
			onToken(chunk.Token)
		}
	}
	return nil
}

// Preview assembles the prompt in preview mode without touching the network:
// a human-readable approximation with template markers and reference
// material suppressed.
func (s *GenerationService) Preview(ctx context.Context, req GenerationRequest) (string, error) {
	if req.Beat == "" {
		return "", ErrBeatRequired
	}
	opts, err := s.resolveOptions(ctx, req, true)
	if err != nil {
		return "", err
	}
	return prompt.Assemble(req.Beat, req.SceneContext, opts), nil
}

// resolveOptions builds assembler options from the request and stored
// material. Missing templates degrade to no template block; repository
// failures on reference material are real errors, not silently empty prompts.
func (s *GenerationService) resolveOptions(ctx context.Context, req GenerationRequest, preview bool) (prompt.Options, error) {
	opts := prompt.Options{
		POVCharacter: req.POVCharacter,
		Tense:        prompt.Tense(req.Tense),
		POV:          req.POV,
		Preview:      preview,
	}

	tpl, err := s.lookupTemplate(ctx, req.TemplateID)
	if err != nil {
		return prompt.Options{}, err
	}
	if tpl != nil {
		opts.Template = tpl.Text
	}

	if !preview && !req.SkipCompendium {
		entries, total, err := s.compendiumRepo.List(ctx, maxCompendiumEntries, 0)
		if err != nil {
			return prompt.Options{}, fmt.Errorf("loading compendium entries: %w", err)
		}
		if total > maxCompendiumEntries {
			s.logger.Warn("compendium exceeds prompt cap, extra entries omitted",
				"total", total, "limit", maxCompendiumEntries)
		}
		opts.Entries = make([]prompt.Entry, len(entries))
		for i, e := range entries {
			opts.Entries[i] = prompt.Entry{
				ID:          e.ID.String(),
				Title:       e.Title,
				Body:        e.Body,
				Description: e.Description,
			}
		}
	}

	return opts, nil
}

func (s *GenerationService) lookupTemplate(ctx context.Context, id *uuid.UUID) (*repository.PromptTemplate, error) {
	var (
		tpl *repository.PromptTemplate
		err error
	)
	if id != nil {
		tpl, err = s.promptRepo.GetByID(ctx, *id)
	} else {
		tpl, err = s.promptRepo.GetActive(ctx)
	}
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading prompt template: %w", err)
	}
	return tpl, nil
}

// generateOptions resolves sampling parameters and credential from persisted
// settings, falling back to client defaults when none are saved yet.
func (s *GenerationService) generateOptions(ctx context.Context) (llm.GenerateOptions, string) {
	settings, err := s.settingsRepo.Get(ctx)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("failed to load settings, using defaults", "error", err)
		}
		return llm.GenerateOptions{}, ""
	}
	return llm.GenerateOptions{
		Temperature: settings.Temperature,
		MaxTokens:   settings.MaxTokens,
	}, settings.APIKey
}
