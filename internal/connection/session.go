// Package connection manages the lifecycle of the link to the inference
// backend: health verification for local endpoints, credential and model
// validation for remote providers, and persistence of the resolved
// configuration.
package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/storylab/scribe/internal/llm"
)

// Mode selects how the backend is reached.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// Status is the session's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusTesting Status = "testing"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// ErrTestInFlight is returned when a connection test is requested while
// another is still running. A new cycle may not start until the running one
// reaches ready or error.
var ErrTestInFlight = errors.New("connection test already in flight")

// ErrNotReady is returned when a generation is requested before a
// connection test has succeeded.
var ErrNotReady = errors.New("connection not ready")

// ConfigError reports a configuration problem detected before any network
// call. It is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "connection config: " + e.Reason
}

// ExhaustedError reports that the health probe retry budget ran out. It is
// distinct from a single transport error so callers can message "gave up
// after N seconds" rather than "one request failed".
type ExhaustedError struct {
	Attempts int
	Elapsed  time.Duration
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("endpoint not healthy after %d attempts over %s: %v",
		e.Attempts, e.Elapsed.Round(time.Second), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// State is a point-in-time snapshot of the session, safe to hand out.
type State struct {
	Mode      Mode   `json:"mode"`
	Status    Status `json:"status"`
	Endpoint  string `json:"endpoint"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

// Session holds the connection state for one deployment. It is created once
// at startup and mutated only by the Manager during a test cycle; everything
// else reads snapshots. This replaces what would otherwise be ambient global
// state with an explicitly owned object.
type Session struct {
	mu      sync.RWMutex
	state   State
	catalog []llm.Model
}

// NewSession returns an idle session pointed at the given endpoint.
func NewSession(mode Mode, endpoint string) *Session {
	return &Session{
		state: State{
			Mode:     mode,
			Status:   StatusIdle,
			Endpoint: endpoint,
		},
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Ready reports whether the session has a verified backend.
func (s *Session) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Status == StatusReady
}

// Catalog returns the most recently retrieved model catalog. Empty unless a
// remote test cycle succeeded in fetching one.
func (s *Session) Catalog() []llm.Model {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]llm.Model, len(s.catalog))
	copy(out, s.catalog)
	return out
}

func (s *Session) update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

func (s *Session) setCatalog(models []llm.Model) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = models
}
