// Package sessionchat is the client for one CoRegula discussion session: a
// live, ordered view of a group chat backed by the real-time event
// channel, with the composer, presence and lifecycle machinery around it.
//
// Ownership model: one Session owns one channel adapter, one transcript,
// one lifecycle controller, one presence aggregator and one composer.
// Nothing is shared across sessions; Close releases the whole set exactly
// once.
package sessionchat

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hshinosa/coregula/pkg/sessionchat/channel"
	"github.com/hshinosa/coregula/pkg/sessionchat/composer"
	"github.com/hshinosa/coregula/pkg/sessionchat/grouping"
	"github.com/hshinosa/coregula/pkg/sessionchat/lifecycle"
	"github.com/hshinosa/coregula/pkg/sessionchat/presence"
	"github.com/hshinosa/coregula/pkg/sessionchat/transcript"
	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// Config assembles one session view.
type Config struct {
	// Endpoint is the websocket URL of the event channel.
	Endpoint string
	// APIBaseURL is the application API root for lifecycle requests.
	APIBaseURL string
	// Token is the caller's credential, used as a bearer credential on
	// both the channel and the lifecycle requests.
	Token string

	CourseID  string
	GroupID   string
	SessionID string

	// SelfID identifies the current user (excluded from mention
	// candidates, owns the reflection state).
	SelfID string
	// Members is the group roster, supplied as initial view data.
	Members []composer.Member
	// HasReflection seeds whether the current user already submitted a
	// reflection for this session.
	HasReflection bool

	// OnUpdate, when set, fires after every state change driven by an
	// inbound event. Renderers hang off this.
	OnUpdate func()
	// OnChannelState observes adapter connection transitions.
	OnChannelState func(channel.State)

	// MaxDialAttempts / InitialBackoff tune the channel dial policy.
	MaxDialAttempts uint64
	InitialBackoff  time.Duration

	// HTTPClient, Dialer and Clock default to the standard implementations;
	// tests inject their own.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Clock      clock.Clock
}

// Session is the live client-side view of one discussion session.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	adapter    *channel.Adapter
	lifecycle  *lifecycle.Controller
	presence   *presence.Aggregator
	composer   *composer.Composer
	transcript *transcript.Transcript

	mu      sync.Mutex // guards transcript and lastError
	lastErr string

	joined       bool
	dispatchDone chan struct{}
	closeOnce    sync.Once
}

// New builds the session view. The channel is not touched until Join.
func New(cfg Config) (*Session, error) {
	if cfg.SessionID == "" {
		return nil, errors.New("session id is empty")
	}

	s := &Session{
		cfg:          cfg,
		logger:       log.With().Str("component", "sessionchat").Str("session_id", cfg.SessionID).Logger(),
		transcript:   transcript.New(),
		dispatchDone: make(chan struct{}),
	}

	adapter, err := channel.New(channel.Config{
		Endpoint:        cfg.Endpoint,
		Token:           cfg.Token,
		CourseID:        cfg.CourseID,
		GroupID:         cfg.GroupID,
		SessionID:       cfg.SessionID,
		MaxDialAttempts: cfg.MaxDialAttempts,
		InitialBackoff:  cfg.InitialBackoff,
		Dialer:          cfg.Dialer,
		OnState:         cfg.OnChannelState,
	})
	if err != nil {
		return nil, err
	}
	s.adapter = adapter

	ctrl, err := lifecycle.NewController(lifecycle.Config{
		BaseURL:       cfg.APIBaseURL,
		Token:         cfg.Token,
		SessionID:     cfg.SessionID,
		HasReflection: cfg.HasReflection,
		HTTPClient:    cfg.HTTPClient,
		Clock:         cfg.Clock,
	})
	if err != nil {
		return nil, err
	}
	s.lifecycle = ctrl

	s.presence = presence.NewAggregator(presence.Options{
		Clock: cfg.Clock,
		EmitTyping: func(isTyping bool) {
			if err := adapter.Emit(wire.Typing{RoomID: cfg.SessionID, IsTyping: isTyping}); err != nil {
				s.logger.Debug().Err(err).Msg("typing emit failed")
			}
		},
	})

	comp, err := composer.New(composer.Config{
		RoomID:      cfg.SessionID,
		CourseID:    cfg.CourseID,
		GroupID:     cfg.GroupID,
		SelfID:      cfg.SelfID,
		Members:     cfg.Members,
		Gate:        ctrl.CanSend,
		Emit:        func(ev wire.SendMessage) error { return adapter.Emit(ev) },
		OnKeystroke: func() { s.presence.Keystroke() },
	})
	if err != nil {
		return nil, err
	}
	s.composer = comp

	return s, nil
}

// Join connects the channel and starts dispatching inbound events. On any
// setup failure the adapter is released before returning; a joined session
// must be released with Close.
func (s *Session) Join(ctx context.Context) error {
	if err := s.adapter.Connect(ctx); err != nil {
		s.adapter.Close()
		return err
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()
	go s.dispatch()
	s.logger.Info().Msg("joined session room")
	return nil
}

// dispatch applies inbound events to the owning component, strictly in
// channel-delivery order.
func (s *Session) dispatch() {
	defer close(s.dispatchDone)
	for ev := range s.adapter.Events() {
		switch ev := ev.(type) {
		case wire.ChatHistory:
			s.mu.Lock()
			s.transcript.ApplyHistory(ev.Messages)
			s.mu.Unlock()
		case wire.ReceiveMessage:
			s.mu.Lock()
			s.transcript.ApplyCreated(ev.Message)
			s.mu.Unlock()
		case wire.MessageDeleted:
			s.mu.Lock()
			s.transcript.ApplyDeleted(ev.MessageID)
			s.mu.Unlock()
		case wire.UserTyping:
			s.presence.ApplyTyping(ev)
		case wire.OnlineUsers:
			s.presence.ApplySnapshot(ev.Users)
		case wire.UserJoined:
			s.presence.ApplyJoined(ev.UserID, ev.UserName)
		case wire.UserLeft:
			s.presence.ApplyLeft(ev.UserID)
		case wire.SessionClosed:
			s.lifecycle.ApplySessionClosed(ev.ClosedAt, ev.Message)
		case wire.SessionReopened:
			s.lifecycle.ApplySessionReopened()
		case wire.ChannelError:
			s.mu.Lock()
			s.lastErr = ev.Message
			s.mu.Unlock()
			s.logger.Warn().Str("message", ev.Message).Msg("channel reported error")
		default:
			s.logger.Debug().Str("type", ev.EventType()).Msg("unhandled channel event")
		}
		if s.cfg.OnUpdate != nil {
			s.cfg.OnUpdate()
		}
	}
}

// Transcript returns the live entries in delivery order.
func (s *Session) Transcript() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Entries()
}

// Processed returns the transcript with display grouping applied. The
// projection is recomputed from the current transcript on every call.
func (s *Session) Processed() []grouping.ProcessedEntry {
	return grouping.Groupings(s.Transcript())
}

// Composer exposes the draft state machine.
func (s *Session) Composer() *composer.Composer { return s.composer }

// Lifecycle returns the current session lifecycle snapshot.
func (s *Session) Lifecycle() lifecycle.Snapshot { return s.lifecycle.Snapshot() }

// RequestClose submits the lecturer's close-session request.
func (s *Session) RequestClose() error { return s.lifecycle.RequestClose() }

// SubmitReflection submits the post-closure reflection.
func (s *Session) SubmitReflection(content string) error {
	return s.lifecycle.SubmitReflection(content)
}

// Online returns the presence set.
func (s *Session) Online() []wire.User { return s.presence.Online() }

// TypingNames returns who is currently typing.
func (s *Session) TypingNames() []string { return s.presence.TypingNames() }

// Blur retracts the local typing indicator.
func (s *Session) Blur() { s.presence.Blur() }

// ChannelState reports the adapter's connection state.
func (s *Session) ChannelState() channel.State { return s.adapter.State() }

// LastChannelError returns the most recent server-reported error banner.
func (s *Session) LastChannelError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// DeleteMessage asks the room to remove one message. Gated like sends:
// a closed session rejects it locally.
func (s *Session) DeleteMessage(messageID string) error {
	if messageID == "" {
		return errors.New("message id is empty")
	}
	if !s.lifecycle.CanSend() {
		return errors.New("session is closed")
	}
	return s.adapter.Emit(wire.DeleteMessage{RoomID: s.cfg.SessionID, MessageID: messageID})
}

// Close leaves the room, releases the transport and cancels every pending
// timer. Safe to call more than once and on never-joined sessions.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.adapter.Close()
		s.presence.Stop()
		s.lifecycle.Stop()
		s.mu.Lock()
		joined := s.joined
		s.mu.Unlock()
		if joined {
			select {
			case <-s.dispatchDone:
			case <-time.After(2 * time.Second):
				s.logger.Warn().Msg("dispatch loop did not stop in time")
			}
		}
		s.logger.Info().Msg("session view torn down")
	})
}
