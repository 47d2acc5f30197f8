// Package lifecycle owns the session's open/closed state machine and the
// two request/response calls that mutate it (close-session and
// submit-reflection). Transitions happen only on explicit channel events
// or on the outcome of one of those requests, never inferred from message
// traffic.
package lifecycle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State enumerates the session lifecycle.
type State string

const (
	StateOpen                State = "open"
	StateClosing             State = "closing"
	StateClosed              State = "closed"
	StateReflectionPending   State = "reflection_pending"
	StateReflectionSubmitted State = "reflection_submitted"
)

// MinReflectionLength is the client-side floor for a reflection body.
const MinReflectionLength = 50

// DefaultErrorWindow is how long a transient request error stays visible.
const DefaultErrorWindow = 5 * time.Second

// ValidationError marks input rejected locally, before any request is sent.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// RequestError marks a failed close/reflection request. The state machine
// rolls back to its pre-request value when one occurs.
type RequestError struct {
	Op     string
	Status int
	Err    error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// Snapshot is the externally visible session state.
type Snapshot struct {
	State           State
	ClosedAt        *time.Time
	CloseMessage    string
	NeedsReflection bool
	HasReflection   bool
	// TransientError is the last request failure, empty once its display
	// window has elapsed.
	TransientError string
}

// Config wires a Controller.
type Config struct {
	// BaseURL is the application API root, e.g. https://app.example/api.
	BaseURL string
	// Token is the caller's bearer credential for lifecycle requests.
	Token     string
	SessionID string
	// HasReflection seeds whether the current user already submitted a
	// reflection for this session (from initial view data).
	HasReflection bool
	// HTTPClient defaults to http.DefaultClient.
	HTTPClient *http.Client
	// ErrorWindow overrides DefaultErrorWindow when > 0.
	ErrorWindow time.Duration
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// Controller is the session lifecycle state machine.
type Controller struct {
	mu    sync.Mutex
	state State

	closedAt      *time.Time
	closeMessage  string
	hasReflection bool

	closeInFlight      bool
	reflectionInFlight bool

	transientErr string
	errTimer     *clock.Timer
	errWindow    time.Duration
	clk          clock.Clock
	httpClient   *http.Client
	baseURL      string
	token        string
	sessionID    string
	logger       zerolog.Logger
}

func NewController(cfg Config) (*Controller, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("lifecycle base URL is empty")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("lifecycle session id is empty")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	window := cfg.ErrorWindow
	if window <= 0 {
		window = DefaultErrorWindow
	}
	return &Controller{
		state:         StateOpen,
		hasReflection: cfg.HasReflection,
		errWindow:     window,
		clk:           clk,
		httpClient:    hc,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		token:         cfg.Token,
		sessionID:     cfg.SessionID,
		logger:        log.With().Str("component", "lifecycle").Str("session_id", cfg.SessionID).Logger(),
	}, nil
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:           c.state,
		ClosedAt:        c.closedAt,
		CloseMessage:    c.closeMessage,
		NeedsReflection: c.needsReflectionLocked(),
		HasReflection:   c.hasReflection,
		TransientError:  c.transientErr,
	}
}

// CanSend reports whether the composer may emit messages. Only an open
// session accepts sends; Closing already blocks optimistically.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateOpen
}

func (c *Controller) needsReflectionLocked() bool {
	switch c.state {
	case StateClosed, StateReflectionPending:
		return !c.hasReflection
	default:
		return false
	}
}

// ApplySessionClosed reacts to the server's session_closed event. From
// Closing this confirms the optimistic close; from Open it is a remote
// close. Either way the composer gate shuts here.
func (c *Controller) ApplySessionClosed(closedAt *time.Time, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateReflectionSubmitted {
		// terminal for this session; only reopen can move us
		c.closedAt = closedAt
		c.closeMessage = message
		return
	}
	c.closedAt = closedAt
	c.closeMessage = message
	if c.hasReflection {
		c.state = StateClosed
	} else {
		c.state = StateReflectionPending
	}
	c.logger.Info().Str("state", string(c.state)).Msg("session closed")
}

// ApplySessionReopened returns to Open unconditionally, discarding any
// pending reflection prompt.
func (c *Controller) ApplySessionReopened() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateOpen
	c.closedAt = nil
	c.closeMessage = ""
	c.logger.Info().Msg("session reopened")
}

// RequestClose submits the close-session request, entering the optimistic
// Closing state immediately. The state is confirmed by the server's
// session_closed event, or rolled back to Open on request failure.
func (c *Controller) RequestClose() error {
	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return &ValidationError{Reason: "session is not open"}
	}
	if c.closeInFlight {
		c.mu.Unlock()
		return &ValidationError{Reason: "close request already in flight"}
	}
	c.closeInFlight = true
	c.state = StateClosing
	c.mu.Unlock()

	err := c.post("close-session", c.baseURL+"/sessions/"+c.sessionID+"/close", nil)

	c.mu.Lock()
	c.closeInFlight = false
	if err != nil {
		if c.state == StateClosing {
			c.state = StateOpen
		}
		c.setTransientErrLocked(err.Error())
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("close request failed, rolled back to open")
		return err
	}
	c.mu.Unlock()
	return nil
}

// SubmitReflection validates and submits the post-closure reflection. A
// successful submission is terminal for this session.
func (c *Controller) SubmitReflection(content string) error {
	if len(strings.TrimSpace(content)) < MinReflectionLength {
		return &ValidationError{Reason: fmt.Sprintf("reflection must be at least %d characters", MinReflectionLength)}
	}

	c.mu.Lock()
	if c.hasReflection || c.state == StateReflectionSubmitted {
		c.mu.Unlock()
		return &ValidationError{Reason: "reflection already submitted"}
	}
	if c.state != StateClosed && c.state != StateReflectionPending {
		c.mu.Unlock()
		return &ValidationError{Reason: "session is not awaiting a reflection"}
	}
	if c.reflectionInFlight {
		c.mu.Unlock()
		return &ValidationError{Reason: "reflection request already in flight"}
	}
	c.reflectionInFlight = true
	prev := c.state
	c.mu.Unlock()

	body := map[string]string{"content": content}
	err := c.post("submit-reflection", c.baseURL+"/sessions/"+c.sessionID+"/reflection", body)

	c.mu.Lock()
	c.reflectionInFlight = false
	if err != nil {
		c.state = prev
		c.setTransientErrLocked(err.Error())
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("reflection request failed")
		return err
	}
	c.hasReflection = true
	c.state = StateReflectionSubmitted
	c.mu.Unlock()
	c.logger.Info().Msg("reflection submitted")
	return nil
}

func (c *Controller) post(op, url string, body any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &RequestError{Op: op, Err: err}
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, url, rd)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &RequestError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &RequestError{Op: op, Status: resp.StatusCode}
	}
	return nil
}

func (c *Controller) setTransientErrLocked(msg string) {
	c.transientErr = msg
	if c.errTimer != nil {
		c.errTimer.Stop()
	}
	c.errTimer = c.clk.AfterFunc(c.errWindow, func() {
		c.mu.Lock()
		c.transientErr = ""
		c.errTimer = nil
		c.mu.Unlock()
	})
}

// Stop cancels the transient-error timer. Called on session teardown.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errTimer != nil {
		c.errTimer.Stop()
		c.errTimer = nil
	}
}
