package composer

import (
	"strings"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// Send validates the draft, transcodes staged attachments, extracts
// mentions, and emits the send_message event. A successful send clears
// text, reply target and staged attachments atomically. Sends are rejected
// locally while the session is closed, while a previous send is still in
// flight, or when the draft is empty.
func (c *Composer) Send() error {
	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return &ValidationError{Reason: "send already in flight"}
	}
	text := strings.TrimSpace(c.text)
	staged := make([]PendingAttachment, len(c.attachments))
	copy(staged, c.attachments)
	if text == "" && len(staged) == 0 {
		c.mu.Unlock()
		return &ValidationError{Reason: "empty message"}
	}
	if !c.cfg.Gate() {
		c.mu.Unlock()
		return &ValidationError{Reason: "session is closed"}
	}
	c.sending = true
	replyTo := c.replyTo
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
	}()

	ev := wire.SendMessage{
		RoomID:      c.cfg.RoomID,
		CourseID:    c.cfg.CourseID,
		GroupID:     c.cfg.GroupID,
		Content:     text,
		ReplyTo:     replyTo,
		Attachments: c.transcodeAll(staged),
		Mentions:    ExtractMentions(text, c.cfg.Members),
	}
	if err := c.cfg.Emit(ev); err != nil {
		c.logger.Warn().Err(err).Msg("send failed, draft preserved")
		return err
	}

	c.mu.Lock()
	c.text = ""
	c.cursor = 0
	c.replyTo = ""
	c.attachments = nil
	c.exitMentionLocked()
	c.mu.Unlock()
	return nil
}
