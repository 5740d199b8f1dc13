package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/storylab/scribe/internal/llm"
	"github.com/storylab/scribe/internal/repository"
)

type fakeBackend struct {
	mu          sync.Mutex
	healthCalls int
	failUntil   int // health fails while healthCalls <= failUntil
	block       chan struct{}

	models    []llm.Model
	modelsErr error
}

func (f *fakeBackend) Health(ctx context.Context) error {
	f.mu.Lock()
	f.healthCalls++
	calls := f.healthCalls
	failUntil := f.failUntil
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if calls <= failUntil {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeBackend) ListModels(ctx context.Context) ([]llm.Model, error) {
	return f.models, f.modelsErr
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls
}

type fakeSettingsRepo struct {
	mu    sync.Mutex
	saved *repository.Settings
}

func (r *fakeSettingsRepo) Get(ctx context.Context) (*repository.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		return nil, repository.ErrNotFound
	}
	return r.saved, nil
}

func (r *fakeSettingsRepo) Save(ctx context.Context, s *repository.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = s
	return nil
}

func newTestManager(backend *fakeBackend, settings *fakeSettingsRepo, maxAttempts int) *Manager {
	session := NewSession(ModeLocal, "http://localhost:8080")
	return NewManager(session, settings, Config{
		MaxAttempts:  maxAttempts,
		ProbeTimeout: 100 * time.Millisecond,
		RetryDelay:   time.Millisecond,
		Factory: func(endpoint, apiKey string) Backend {
			return backend
		},
	})
}

func TestTest_LocalExhaustsBudget(t *testing.T) {
	backend := &fakeBackend{failUntil: 1 << 30}
	m := newTestManager(backend, &fakeSettingsRepo{}, 5)

	state, err := m.Test(context.Background(), TestParams{
		Mode:     ModeLocal,
		Endpoint: "http://localhost:8080",
	})
	if err == nil {
		t.Fatalf("expected error when every probe fails")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if exhausted.Attempts != 5 {
		t.Errorf("expected 5 attempts, got %d", exhausted.Attempts)
	}
	if backend.calls() != 5 {
		t.Errorf("expected 5 probes, got %d", backend.calls())
	}
	if state.Status != StatusError {
		t.Errorf("expected error status, got %s", state.Status)
	}
	if state.LastError == "" {
		t.Errorf("expected a human-readable cause on the session")
	}
}

func TestTest_LocalSucceedsMidBudget(t *testing.T) {
	backend := &fakeBackend{failUntil: 2} // succeeds on attempt 3
	settings := &fakeSettingsRepo{}
	m := newTestManager(backend, settings, 5)

	state, err := m.Test(context.Background(), TestParams{
		Mode:        ModeLocal,
		Endpoint:    "http://localhost:8080",
		Temperature: 0.7,
		MaxTokens:   512,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if state.Status != StatusReady {
		t.Errorf("expected ready, got %s", state.Status)
	}
	if backend.calls() != 3 {
		t.Errorf("expected success on attempt 3 without exhausting the budget, got %d probes", backend.calls())
	}
	if state.Attempt != 3 {
		t.Errorf("expected attempt counter 3, got %d", state.Attempt)
	}

	// Success persists the resolved configuration.
	if settings.saved == nil {
		t.Fatalf("expected settings to be persisted")
	}
	if settings.saved.Mode != "local" || settings.saved.Endpoint != "http://localhost:8080" {
		t.Errorf("persisted wrong settings: %+v", settings.saved)
	}
	if settings.saved.Temperature != 0.7 || settings.saved.MaxTokens != 512 {
		t.Errorf("sampling parameters not persisted: %+v", settings.saved)
	}
}

func TestTest_RemoteMissingCredential(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestManager(backend, &fakeSettingsRepo{}, 5)

	_, err := m.Test(context.Background(), TestParams{
		Mode:     ModeRemote,
		Endpoint: "https://provider.example",
		Model:    "acme/large",
	})

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
	if backend.calls() != 0 {
		t.Errorf("configuration errors must be reported before any network call")
	}
}

func TestTest_RemoteMissingModel(t *testing.T) {
	m := newTestManager(&fakeBackend{}, &fakeSettingsRepo{}, 5)

	_, err := m.Test(context.Background(), TestParams{
		Mode:     ModeRemote,
		Endpoint: "https://provider.example",
		APIKey:   "sk-test",
	})

	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T: %v", err, err)
	}
}

func TestTest_RemoteCatalogBestEffort(t *testing.T) {
	backend := &fakeBackend{modelsErr: errors.New("catalog down")}
	settings := &fakeSettingsRepo{}
	m := newTestManager(backend, settings, 5)

	state, err := m.Test(context.Background(), TestParams{
		Mode:     ModeRemote,
		Endpoint: "https://provider.example",
		APIKey:   "sk-test",
		Model:    "acme/large",
	})
	if err != nil {
		t.Fatalf("catalog failure must not fail the connection test: %v", err)
	}
	if state.Status != StatusReady {
		t.Errorf("expected ready, got %s", state.Status)
	}
	if got := m.Session().Catalog(); len(got) != 0 {
		t.Errorf("expected empty catalog, got %v", got)
	}
	if settings.saved == nil {
		t.Errorf("expected settings persisted despite catalog failure")
	}
}

func TestTest_RemoteCatalogStored(t *testing.T) {
	backend := &fakeBackend{models: []llm.Model{
		{ID: "acme/small:free", Free: true},
		{ID: "acme/large"},
	}}
	m := newTestManager(backend, &fakeSettingsRepo{}, 5)

	_, err := m.Test(context.Background(), TestParams{
		Mode:     ModeRemote,
		Endpoint: "https://provider.example",
		APIKey:   "sk-test",
		Model:    "acme/small:free",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	catalog := m.Session().Catalog()
	if len(catalog) != 2 || catalog[0].ID != "acme/small:free" {
		t.Errorf("expected stored catalog, got %v", catalog)
	}
}

func TestTest_RejectsConcurrentCycle(t *testing.T) {
	block := make(chan struct{})
	backend := &fakeBackend{block: block}
	m := newTestManager(backend, &fakeSettingsRepo{}, 5)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := m.Test(context.Background(), TestParams{Mode: ModeLocal, Endpoint: "http://localhost:8080"})
		done <- err
	}()

	<-started
	// Wait until the first cycle is inside its probe.
	for backend.calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	_, err := m.Test(context.Background(), TestParams{Mode: ModeLocal, Endpoint: "http://localhost:8080"})
	if !errors.Is(err, ErrTestInFlight) {
		t.Fatalf("expected ErrTestInFlight, got %v", err)
	}

	close(block)
	if err := <-done; err != nil {
		t.Fatalf("first cycle should have succeeded: %v", err)
	}
}

func TestTest_FailedRevalidationKeepsReady(t *testing.T) {
	backend := &fakeBackend{}
	m := newTestManager(backend, &fakeSettingsRepo{}, 2)

	if _, err := m.Test(context.Background(), TestParams{Mode: ModeLocal, Endpoint: "http://localhost:8080"}); err != nil {
		t.Fatalf("initial test should succeed: %v", err)
	}
	if !m.Session().Ready() {
		t.Fatalf("expected ready session")
	}

	// Now every probe fails; a user-initiated re-test must not demote the
	// connection that is already serving requests.
	backend.mu.Lock()
	backend.failUntil = 1 << 30
	backend.mu.Unlock()

	state, err := m.Test(context.Background(), TestParams{
		Mode:       ModeLocal,
		Endpoint:   "http://localhost:8080",
		Revalidate: true,
	})
	if err == nil {
		t.Fatalf("expected the re-test itself to fail")
	}
	if state.Status != StatusReady {
		t.Errorf("failed revalidation must leave a ready session ready, got %s", state.Status)
	}
	if state.LastError == "" {
		t.Errorf("the failure cause should still be recorded")
	}

	// Without the revalidation flag the same failure demotes the session.
	state, err = m.Test(context.Background(), TestParams{Mode: ModeLocal, Endpoint: "http://localhost:8080"})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if state.Status != StatusError {
		t.Errorf("initial-style validation failure should mark the session errored, got %s", state.Status)
	}
}
