package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/storylab/scribe/internal/llm"
	"github.com/storylab/scribe/internal/repository"
)

const (
	// DefaultMaxAttempts bounds the local health probe loop. Together with
	// DefaultRetryDelay this accommodates multi-minute model cold starts
	// while still giving up gracefully instead of hanging forever.
	DefaultMaxAttempts = 30

	// DefaultProbeTimeout bounds a single health probe, independent of the
	// overall retry budget.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultRetryDelay is the fixed wait between probe attempts.
	DefaultRetryDelay = 10 * time.Second
)

// Backend is the slice of the inference client the manager needs: a health
// probe and, for remote providers, the model catalog.
type Backend interface {
	Health(ctx context.Context) error
	ListModels(ctx context.Context) ([]llm.Model, error)
}

// BackendFactory builds a backend client for the endpoint under test. The
// manager constructs a fresh client per cycle so a test never shares
// transport state with in-flight generations.
type BackendFactory func(endpoint, apiKey string) Backend

func defaultFactory(endpoint, apiKey string) Backend {
	return llm.NewCompletionClient(llm.WithBaseURL(endpoint), llm.WithAPIKey(apiKey))
}

// TestParams describes one connection test cycle.
type TestParams struct {
	Mode     Mode
	Endpoint string

	// Provider, APIKey and Model apply to remote mode. APIKey and Model are
	// required there; their absence is a ConfigError before any network call.
	Provider string
	APIKey   string
	Model    string

	// Sampling configuration persisted alongside the connection on success.
	Temperature float32
	MaxTokens   int

	// Revalidate marks a user-initiated re-test of a connection that is
	// already serving requests. A failed revalidation records the error but
	// does not demote a ready session.
	Revalidate bool
}

// Config configures a Manager.
type Config struct {
	MaxAttempts  int
	ProbeTimeout time.Duration
	RetryDelay   time.Duration
	Logger       *slog.Logger
	Factory      BackendFactory
}

// Manager is the single writer of a Session. One test cycle runs at a time;
// a Test call while another cycle is in flight is rejected with
// ErrTestInFlight rather than replacing the running cycle.
type Manager struct {
	session  *Session
	settings repository.SettingsRepository
	logger   *slog.Logger
	factory  BackendFactory

	maxAttempts  int
	probeTimeout time.Duration
	retryDelay   time.Duration

	mu       sync.Mutex
	inFlight bool
}

// NewManager creates a manager owning the given session.
func NewManager(session *Session, settings repository.SettingsRepository, cfg Config) *Manager {
	m := &Manager{
		session:      session,
		settings:     settings,
		logger:       cfg.Logger,
		factory:      cfg.Factory,
		maxAttempts:  cfg.MaxAttempts,
		probeTimeout: cfg.ProbeTimeout,
		retryDelay:   cfg.RetryDelay,
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.factory == nil {
		m.factory = defaultFactory
	}
	if m.maxAttempts <= 0 {
		m.maxAttempts = DefaultMaxAttempts
	}
	if m.probeTimeout <= 0 {
		m.probeTimeout = DefaultProbeTimeout
	}
	if m.retryDelay <= 0 {
		m.retryDelay = DefaultRetryDelay
	}
	return m
}

// Session returns the session this manager owns. Callers may read it; only
// the manager writes to it.
func (m *Manager) Session() *Session {
	return m.session
}

// Test runs one connection test cycle and returns the resulting state. On
// success the resolved configuration is persisted to settings storage and
// the session becomes ready. The returned error carries the failure cause;
// the same cause is also recorded on the session.
func (m *Manager) Test(ctx context.Context, params TestParams) (State, error) {
	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return m.session.Snapshot(), ErrTestInFlight
	}
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	wasReady := m.session.Ready()

	// A new cycle discards the prior one's attempt counter.
	m.session.update(func(s *State) {
		s.Mode = params.Mode
		s.Status = StatusTesting
		s.Endpoint = params.Endpoint
		s.Provider = params.Provider
		s.Model = params.Model
		s.Attempt = 0
		s.LastError = ""
	})

	var err error
	switch params.Mode {
	case ModeRemote:
		err = m.testRemote(ctx, params)
	default:
		err = m.testLocal(ctx, params)
	}

	if err != nil {
		m.session.update(func(s *State) {
			s.LastError = err.Error()
			if params.Revalidate && wasReady {
				// The connection was already serving requests; a failed
				// re-test does not retroactively invalidate it.
				s.Status = StatusReady
			} else {
				s.Status = StatusError
			}
		})
		m.logger.Warn("connection test failed",
			"mode", params.Mode, "endpoint", params.Endpoint, "error", err)
		return m.session.Snapshot(), err
	}

	if err := m.persist(ctx, params); err != nil {
		m.session.update(func(s *State) {
			s.Status = StatusError
			s.LastError = err.Error()
		})
		return m.session.Snapshot(), err
	}

	m.session.update(func(s *State) {
		s.Status = StatusReady
		s.LastError = ""
	})
	m.logger.Info("connection ready", "mode", params.Mode, "endpoint", params.Endpoint)
	return m.session.Snapshot(), nil
}

// testLocal polls the endpoint's health resource with a fixed inter-attempt
// delay until it succeeds or the attempt budget runs out. Each probe gets
// its own timeout so one hung request cannot consume the whole budget.
func (m *Manager) testLocal(ctx context.Context, params TestParams) error {
	backend := m.factory(params.Endpoint, params.APIKey)
	start := time.Now()

	attempt := 0
	var lastErr error

	probe := func() error {
		attempt++
		m.session.update(func(s *State) { s.Attempt = attempt })

		probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
		defer cancel()

		if err := backend.Health(probeCtx); err != nil {
			lastErr = err
			m.logger.Debug("health probe failed",
				"endpoint", params.Endpoint, "attempt", attempt, "error", err)
			return err
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(m.retryDelay), uint64(m.maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(probe, policy); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ExhaustedError{
			Attempts: attempt,
			Elapsed:  time.Since(start),
			Last:     lastErr,
		}
	}
	return nil
}

// testRemote validates credentials synchronously and fetches the provider's
// model catalog. The catalog fetch is best-effort: failure leaves the
// catalog empty but does not fail the test, the caller just has to supply a
// model id directly.
func (m *Manager) testRemote(ctx context.Context, params TestParams) error {
	if params.APIKey == "" {
		return &ConfigError{Reason: "remote mode requires a credential"}
	}
	if params.Model == "" {
		return &ConfigError{Reason: "remote mode requires a model id"}
	}

	backend := m.factory(params.Endpoint, params.APIKey)

	models, err := backend.ListModels(ctx)
	if err != nil {
		m.logger.Warn("model catalog unavailable", "provider", params.Provider, "error", err)
		m.session.setCatalog(nil)
		return nil
	}
	m.session.setCatalog(models)
	return nil
}

func (m *Manager) persist(ctx context.Context, params TestParams) error {
	return m.settings.Save(ctx, &repository.Settings{
		Mode:        string(params.Mode),
		Provider:    params.Provider,
		APIKey:      params.APIKey,
		Model:       params.Model,
		Endpoint:    params.Endpoint,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
}
