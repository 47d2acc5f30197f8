// Package composer manages the outgoing-message draft for a session:
// mention detection and autocomplete, reply targeting, attachment staging
// and transcoding, and the send gate.
package composer

import (
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// State enumerates the composer's coarse states. Attachments overlay any
// text state and are reported separately via HasAttachments.
type State string

const (
	StateIdle       State = "idle"
	StateDrafting   State = "drafting_text"
	StateMentioning State = "mentioning"
	StateSending    State = "sending"
)

// Member is one group participant, the candidate pool for mentions.
type Member struct {
	ID    string
	Name  string
	Email string
}

// FileSource supplies one selected file. Open is called once at stage time
// for the preview sniff and once per send for the transcode.
type FileSource interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// PendingAttachment is a staged, not-yet-sent file.
type PendingAttachment struct {
	LocalID        string
	Name           string
	MimeType       string
	PreviewDataURI string // set for image MIME types only
	src            FileSource
}

// ValidationError marks a send blocked locally; nothing is emitted.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Config wires a Composer.
type Config struct {
	RoomID   string
	CourseID string
	GroupID  string
	// SelfID is excluded from mention candidates.
	SelfID string
	// Members is the group roster, supplied as initial view data.
	Members []Member
	// Gate reports whether the session currently accepts sends.
	Gate func() bool
	// Emit publishes the finished send_message event on the channel.
	Emit func(wire.SendMessage) error
	// OnKeystroke, when set, is invoked on every text edit so the typing
	// indicator can piggyback on draft activity.
	OnKeystroke func()
}

// Composer is the outgoing-draft state machine.
type Composer struct {
	cfg    Config
	logger zerolog.Logger

	mu          sync.Mutex
	text        string
	cursor      int
	replyTo     string
	attachments []PendingAttachment
	sending     bool

	mentioning   bool
	mentionStart int // index of the '@' in text
	mentionQuery string
	selection    int
}

func New(cfg Config) (*Composer, error) {
	if cfg.RoomID == "" {
		return nil, errors.New("composer room id is empty")
	}
	if cfg.Emit == nil {
		return nil, errors.New("composer emit function is nil")
	}
	if cfg.Gate == nil {
		cfg.Gate = func() bool { return true }
	}
	return &Composer{
		cfg:    cfg,
		logger: log.With().Str("component", "composer").Str("room_id", cfg.RoomID).Logger(),
	}, nil
}

// State reports the coarse composer state.
func (c *Composer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.sending:
		return StateSending
	case c.mentioning:
		return StateMentioning
	case strings.TrimSpace(c.text) != "" || len(c.attachments) > 0:
		return StateDrafting
	default:
		return StateIdle
	}
}

// Text returns the current draft text.
func (c *Composer) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}

// SetText replaces the draft text and cursor position and re-runs mention
// detection: the nearest '@' left of the cursor with no whitespace between
// it and the cursor opens the mention filter.
func (c *Composer) SetText(text string, cursor int) {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}
	c.mu.Lock()
	c.text = text
	c.cursor = cursor
	at := strings.LastIndex(text[:cursor], "@")
	if at >= 0 {
		q := text[at+1 : cursor]
		if !strings.ContainsAny(q, " \t\n") {
			if !c.mentioning || c.mentionStart != at {
				c.selection = 0
			}
			c.mentioning = true
			c.mentionStart = at
			c.mentionQuery = q
		} else {
			c.exitMentionLocked()
		}
	} else {
		c.exitMentionLocked()
	}
	c.mu.Unlock()
	if c.cfg.OnKeystroke != nil {
		c.cfg.OnKeystroke()
	}
}

func (c *Composer) exitMentionLocked() {
	c.mentioning = false
	c.mentionStart = 0
	c.mentionQuery = ""
	c.selection = 0
}

// MentionQuery returns the active filter and whether mention mode is on.
func (c *Composer) MentionQuery() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mentionQuery, c.mentioning
}

// Candidates returns the members matching the active filter, excluding
// self, by case-insensitive containment on name or email.
func (c *Composer) Candidates() []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mentioning {
		return nil
	}
	return c.candidatesLocked()
}

func (c *Composer) candidatesLocked() []Member {
	q := strings.ToLower(c.mentionQuery)
	out := make([]Member, 0, len(c.cfg.Members))
	for _, m := range c.cfg.Members {
		if m.ID == c.cfg.SelfID {
			continue
		}
		if q == "" ||
			strings.Contains(strings.ToLower(m.Name), q) ||
			strings.Contains(strings.ToLower(m.Email), q) {
			out = append(out, m)
		}
	}
	return out
}

// MoveSelection cycles the autocomplete selection, wrapping in both
// directions.
func (c *Composer) MoveSelection(delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mentioning {
		return
	}
	n := len(c.candidatesLocked())
	if n == 0 {
		c.selection = 0
		return
	}
	c.selection = ((c.selection+delta)%n + n) % n
}

// Selection returns the current autocomplete index.
func (c *Composer) Selection() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// PickSelected inserts the currently selected candidate, if any.
func (c *Composer) PickSelected() bool {
	c.mu.Lock()
	if !c.mentioning {
		c.mu.Unlock()
		return false
	}
	cands := c.candidatesLocked()
	if len(cands) == 0 {
		c.mu.Unlock()
		return false
	}
	idx := c.selection
	if idx >= len(cands) {
		idx = 0
	}
	m := cands[idx]
	c.mu.Unlock()
	return c.Pick(m)
}

// Pick replaces the active '@query' span with '@Full Name ' and exits
// mention mode, leaving the cursor after the inserted mention.
func (c *Composer) Pick(m Member) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mentioning {
		return false
	}
	inserted := "@" + m.Name + " "
	c.text = c.text[:c.mentionStart] + inserted + c.text[c.cursor:]
	c.cursor = c.mentionStart + len(inserted)
	c.exitMentionLocked()
	return true
}

// CancelMention exits mention mode without touching the text.
func (c *Composer) CancelMention() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exitMentionLocked()
}

// SetReplyTo targets a transcript entry for the next send.
func (c *Composer) SetReplyTo(entryID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyTo = entryID
}

// ClearReply drops the reply target.
func (c *Composer) ClearReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replyTo = ""
}

// ReplyTo returns the current reply target, if any.
func (c *Composer) ReplyTo() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}
