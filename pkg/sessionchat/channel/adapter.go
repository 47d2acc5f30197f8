// Package channel wraps one bidirectional websocket connection to a named
// session room. The adapter owns connect, join handshake, reconnect and
// teardown; everything it hands out has already passed wire.Decode, so the
// rest of the client never sees an unchecked payload.
package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// State is the adapter's observable connection state.
type State string

const (
	StateConnecting State = "connecting"
	StateReady      State = "ready"
	StateErroring   State = "erroring"
	StateClosed     State = "closed"
)

// Config wires an Adapter. One adapter serves exactly one session view;
// nothing here is shared across sessions.
type Config struct {
	// Endpoint is the websocket URL of the event channel.
	Endpoint string
	// Token is the bearer credential. Connect fails without one.
	Token string

	CourseID string
	GroupID  string
	// SessionID is the chat space joined after the transport connects.
	SessionID string

	// MaxDialAttempts bounds the dial retry, 0 means DefaultMaxDialAttempts.
	MaxDialAttempts uint64
	// InitialBackoff seeds the exponential dial backoff, 0 means 500ms.
	InitialBackoff time.Duration

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// OnState, when set, observes connection state transitions.
	OnState func(State)
}

// DefaultMaxDialAttempts bounds the default dial retry policy.
const DefaultMaxDialAttempts = 5

const defaultInitialBackoff = 500 * time.Millisecond

// Adapter is one owned connection to one session room. Construct with New,
// establish with Connect, release with Close; Close is the only path that
// gives the transport back.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	writeMu sync.Mutex

	events    chan wire.Event
	ready     chan struct{}
	readyErr  error
	readyOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("channel endpoint is empty")
	}
	if cfg.SessionID == "" {
		return nil, errors.New("channel session id is empty")
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.MaxDialAttempts == 0 {
		cfg.MaxDialAttempts = DefaultMaxDialAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	return &Adapter{
		cfg:    cfg,
		logger: log.With().Str("component", "channel").Str("session_id", cfg.SessionID).Logger(),
		state:  StateConnecting,
		events: make(chan wire.Event, 64),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Events is the stream of decoded inbound events. It is closed when the
// adapter shuts down, whether by Close or by exhausting reconnects.
func (a *Adapter) Events() <-chan wire.Event { return a.events }

// State returns the current connection state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s State) {
	a.mu.Lock()
	if a.state == StateClosed && s != StateClosed {
		a.mu.Unlock()
		return
	}
	changed := a.state != s
	a.state = s
	a.mu.Unlock()
	if changed && a.cfg.OnState != nil {
		a.cfg.OnState(s)
	}
}

// Connect dials the endpoint, joins the session room and blocks until the
// room acknowledges the join, the server reports an error, or ctx ends.
// Dial failures are retried with bounded exponential backoff; an absent
// credential fails immediately and is never retried.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.Token == "" {
		return &AuthenticationError{Reason: "no credential token supplied"}
	}

	if err := a.dial(ctx); err != nil {
		return err
	}
	go a.readLoop()

	select {
	case <-a.ready:
		if a.readyErr != nil {
			return a.readyErr
		}
		return nil
	case <-a.done:
		return errors.New("channel closed during handshake")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "waiting for room_joined")
	}
}

// dial establishes the transport and emits the join_room request. Retries
// follow the configured bounded exponential backoff.
func (a *Adapter) dial(ctx context.Context) error {
	attempts := 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, a.cfg.MaxDialAttempts-1), ctx)

	op := func() error {
		attempts++
		hdr := http.Header{}
		hdr.Set("Authorization", "Bearer "+a.cfg.Token)
		conn, resp, err := a.cfg.Dialer.DialContext(ctx, a.cfg.Endpoint, hdr)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				return backoff.Permanent(&AuthenticationError{Reason: "credential rejected by channel endpoint"})
			}
			a.logger.Warn().Err(err).Int("attempt", attempts).Msg("channel dial failed")
			return err
		}
		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		return a.Emit(wire.JoinRoom{
			CourseID:    a.cfg.CourseID,
			GroupID:     a.cfg.GroupID,
			ChatSpaceID: a.cfg.SessionID,
		})
	}

	if err := backoff.Retry(op, policy); err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return authErr
		}
		connErr := &ConnectionError{Attempts: attempts, Err: err}
		a.setState(StateErroring)
		return connErr
	}
	return nil
}

// Emit encodes and writes one outbound event.
func (a *Adapter) Emit(ev wire.Event) error {
	frame, err := wire.Encode(ev)
	if err != nil {
		return err
	}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.New("channel is not connected")
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return errors.Wrapf(conn.WriteMessage(websocket.TextMessage, frame), "emitting %s", ev.EventType())
}

// readLoop decodes inbound frames and routes them. room_joined flips the
// adapter to ready; a server error event makes the error state visible
// without tearing the transport down. On transport failure the loop
// redials and rejoins; the events channel closes only when the loop ends
// for good.
func (a *Adapter) readLoop() {
	defer close(a.events)
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, frame, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.done:
				return
			default:
			}
			a.logger.Warn().Err(err).Msg("channel read failed, reconnecting")
			_ = conn.Close()
			a.setState(StateConnecting)
			if dialErr := a.dial(context.Background()); dialErr != nil {
				a.logger.Error().Err(dialErr).Msg("channel reconnect exhausted")
				a.setState(StateErroring)
				return
			}
			continue
		}

		ev, err := wire.Decode(frame)
		if err != nil {
			// boundary validation: malformed payloads stop here
			a.logger.Warn().Err(err).Msg("dropping undecodable channel frame")
			continue
		}

		switch ev := ev.(type) {
		case wire.RoomJoined:
			a.setState(StateReady)
			a.signalReady(nil)
			continue
		case wire.ChannelError:
			a.setState(StateErroring)
			a.signalReady(errors.Errorf("channel error: %s", ev.Message))
		}

		select {
		case a.events <- ev:
		case <-a.done:
			return
		}
	}
}

func (a *Adapter) signalReady(err error) {
	a.readyOnce.Do(func() {
		a.readyErr = err
		close(a.ready)
	})
}

// Close leaves the room and releases the transport. It is safe to call on
// every exit path, including after a failed setup, and runs at most once.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		close(a.done)
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn != nil {
			// best effort: the room should see us leave before the
			// transport drops
			_ = a.Emit(wire.LeaveRoom{RoomID: a.cfg.SessionID})
			_ = conn.Close()
		}
		a.setStateClosed()
		a.logger.Info().Msg("channel closed")
	})
}

func (a *Adapter) setStateClosed() {
	a.mu.Lock()
	changed := a.state != StateClosed
	a.state = StateClosed
	a.mu.Unlock()
	if changed && a.cfg.OnState != nil {
		a.cfg.OnState(StateClosed)
	}
}
