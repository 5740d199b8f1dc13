package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/storylab/scribe/internal/auth"
	"github.com/storylab/scribe/internal/connection"
	"github.com/storylab/scribe/internal/repository"
	"github.com/storylab/scribe/internal/service"
)

// Handlers bundles the HTTP handlers and their dependencies.
type Handlers struct {
	generation     *service.GenerationService
	manager        *connection.Manager
	session        *connection.Session
	promptRepo     repository.PromptRepository
	compendiumRepo repository.CompendiumRepository
	authMW         *auth.Middleware
	logger         *slog.Logger
}

// NewHandlers creates the handler set
func NewHandlers(
	generation *service.GenerationService,
	manager *connection.Manager,
	promptRepo repository.PromptRepository,
	compendiumRepo repository.CompendiumRepository,
	authMW *auth.Middleware,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		generation:     generation,
		manager:        manager,
		session:        manager.Session(),
		promptRepo:     promptRepo,
		compendiumRepo: compendiumRepo,
		authMW:         authMW,
		logger:         logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleGenerate streams a beat expansion token by token over SSE. Each
// token is flushed as its frame completes; nothing is buffered ahead of
// delivery to the client.
func (h *Handlers) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// The stream headers are committed on the first event, so a failure
	// before any token was produced surfaces as a plain JSON status instead
	// of a 200 event-stream.
	started := false
	sendEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.Header().Set("X-Accel-Buffering", "no")
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}

	err := h.generation.Generate(r.Context(), req, func(token string) {
		sendEvent("token", map[string]string{"text": token})
	})
	if err != nil {
		if errors.Is(err, r.Context().Err()) {
			return // client disconnected
		}
		if !started {
			switch {
			case errors.Is(err, service.ErrBeatRequired):
				writeError(w, http.StatusBadRequest, err.Error())
			case errors.Is(err, connection.ErrNotReady):
				writeError(w, http.StatusServiceUnavailable, err.Error())
			default:
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		sendEvent("error", map[string]string{"message": err.Error()})
		return
	}
	sendEvent("done", struct{}{})
}

func (h *Handlers) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req service.GenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	preview, err := h.generation.Preview(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrBeatRequired) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"prompt": preview})
}

// connectionTestRequest mirrors connection.TestParams on the wire.
type connectionTestRequest struct {
	Mode        string  `json:"mode"`
	Endpoint    string  `json:"endpoint"`
	Provider    string  `json:"provider"`
	APIKey      string  `json:"api_key"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Revalidate  bool    `json:"revalidate"`
}

func (h *Handlers) handleConnectionTest(w http.ResponseWriter, r *http.Request) {
	var req connectionTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	state, err := h.manager.Test(r.Context(), connection.TestParams{
		Mode:        connection.Mode(req.Mode),
		Endpoint:    req.Endpoint,
		Provider:    req.Provider,
		APIKey:      req.APIKey,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Revalidate:  req.Revalidate,
	})
	if err != nil {
		var cfgErr *connection.ConfigError
		switch {
		case errors.Is(err, connection.ErrTestInFlight):
			writeError(w, http.StatusConflict, err.Error())
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			// Exhausted retry budget or transport failure; the state
			// carries the human-readable cause.
			writeJSON(w, http.StatusBadGateway, state)
		}
		return
	}

	writeJSON(w, http.StatusOK, state)
}

func (h *Handlers) handleConnectionGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	models := h.session.Catalog()
	writeJSON(w, http.StatusOK, map[string]any{"models": models})
}

func (h *Handlers) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, ok := h.authMW.ExchangeAPIKey(req.APIKey)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid API key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// promptPayload is the wire form of a prompt template.
type promptPayload struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Text      string    `json:"text"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func promptToPayload(tpl *repository.PromptTemplate) promptPayload {
	return promptPayload{
		ID:        tpl.ID,
		Name:      tpl.Name,
		Text:      tpl.Text,
		Active:    tpl.Active,
		CreatedAt: tpl.CreatedAt,
		UpdatedAt: tpl.UpdatedAt,
	}
}

func (h *Handlers) handlePromptCreate(w http.ResponseWriter, r *http.Request) {
	var req promptPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := time.Now()
	tpl := &repository.PromptTemplate{
		ID:        uuid.New(),
		Name:      req.Name,
		Text:      req.Text,
		Active:    req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.promptRepo.Create(r.Context(), tpl); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, promptToPayload(tpl))
}

func (h *Handlers) handlePromptList(w http.ResponseWriter, r *http.Request) {
	templates, total, err := h.promptRepo.List(r.Context(), 100, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payloads := make([]promptPayload, len(templates))
	for i, tpl := range templates {
		payloads[i] = promptToPayload(tpl)
	}
	writeJSON(w, http.StatusOK, map[string]any{"prompts": payloads, "total": total})
}

func (h *Handlers) handlePromptGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	tpl, err := h.promptRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prompt template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, promptToPayload(tpl))
}

func (h *Handlers) handlePromptUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req promptPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tpl := &repository.PromptTemplate{
		ID:        id,
		Name:      req.Name,
		Text:      req.Text,
		Active:    req.Active,
		UpdatedAt: time.Now(),
	}
	if err := h.promptRepo.Update(r.Context(), tpl); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prompt template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, promptToPayload(tpl))
}

func (h *Handlers) handlePromptDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.promptRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prompt template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// compendiumPayload is the wire form of a compendium entry.
type compendiumPayload struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func entryToPayload(e *repository.CompendiumEntry) compendiumPayload {
	return compendiumPayload{
		ID:          e.ID,
		Title:       e.Title,
		Body:        e.Body,
		Description: e.Description,
		Category:    e.Category,
		Position:    e.Position,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func (h *Handlers) handleCompendiumCreate(w http.ResponseWriter, r *http.Request) {
	var req compendiumPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now()
	entry := &repository.CompendiumEntry{
		ID:          uuid.New(),
		Title:       req.Title,
		Body:        req.Body,
		Description: req.Description,
		Category:    req.Category,
		Position:    req.Position,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.compendiumRepo.Create(r.Context(), entry); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, entryToPayload(entry))
}

func (h *Handlers) handleCompendiumList(w http.ResponseWriter, r *http.Request) {
	entries, total, err := h.compendiumRepo.List(r.Context(), 200, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payloads := make([]compendiumPayload, len(entries))
	for i, e := range entries {
		payloads[i] = entryToPayload(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": payloads, "total": total})
}

func (h *Handlers) handleCompendiumGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	entry, err := h.compendiumRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "compendium entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entryToPayload(entry))
}

func (h *Handlers) handleCompendiumUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	var req compendiumPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	entry := &repository.CompendiumEntry{
		ID:          id,
		Title:       req.Title,
		Body:        req.Body,
		Description: req.Description,
		Category:    req.Category,
		Position:    req.Position,
		UpdatedAt:   time.Now(),
	}
	if err := h.compendiumRepo.Update(r.Context(), entry); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "compendium entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entryToPayload(entry))
}

func (h *Handlers) handleCompendiumDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	if err := h.compendiumRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "compendium entry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
