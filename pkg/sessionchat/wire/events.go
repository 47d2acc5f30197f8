package wire

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event names carried on the channel. The set is closed: Decode rejects
// anything not listed here so downstream components never see an
// unchecked payload shape.
const (
	// inbound
	TypeRoomJoined      = "room_joined"
	TypeChatHistory     = "chat_history"
	TypeReceiveMessage  = "receive_message"
	TypeMessageDeleted  = "message_deleted"
	TypeUserTyping      = "user_typing"
	TypeOnlineUsers     = "online_users"
	TypeUserJoined      = "user_joined"
	TypeUserLeft        = "user_left"
	TypeSessionClosed   = "session_closed"
	TypeSessionReopened = "session_reopened"
	TypeError           = "error"

	// outbound
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeSendMessage   = "send_message"
	TypeDeleteMessage = "delete_message"
	TypeTyping        = "typing"
)

// SenderKind distinguishes who authored a message.
type SenderKind string

const (
	SenderHuman     SenderKind = "human"
	SenderAI        SenderKind = "ai"
	SenderAutomated SenderKind = "automated"
	SenderSystem    SenderKind = "system"
)

// Event is one decoded channel event.
type Event interface {
	EventType() string
}

// Attachment is the inlined, self-contained form of a sent file.
type Attachment struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	DataURI  string `json:"dataUri"`
}

// Message is the wire form of one transcript entry.
type Message struct {
	ID               string       `json:"id"`
	SenderID         string       `json:"senderId"`
	SenderName       string       `json:"senderName"`
	SenderKind       SenderKind   `json:"senderKind"`
	Content          string       `json:"content"`
	CreatedAt        time.Time    `json:"createdAt"`
	IsIntervention   bool         `json:"isIntervention,omitempty"`
	ReplyTo          string       `json:"replyTo,omitempty"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	MentionedUserIDs []string     `json:"mentionedUserIds,omitempty"`
}

// User is a participant as reported by presence events.
type User struct {
	ID   string `json:"userId"`
	Name string `json:"userName"`
}

type RoomJoined struct {
	RoomID string `json:"roomId"`
}

type ChatHistory struct {
	Messages []Message `json:"messages"`
}

type ReceiveMessage struct {
	Message
}

type MessageDeleted struct {
	MessageID string `json:"messageId"`
}

type UserTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

type OnlineUsers struct {
	Users []User `json:"users"`
}

type UserJoined struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeft struct {
	UserID string `json:"userId"`
}

type SessionClosed struct {
	ClosedAt *time.Time `json:"closedAt,omitempty"`
	Message  string     `json:"message,omitempty"`
}

type SessionReopened struct{}

type ChannelError struct {
	Message string `json:"message"`
}

type JoinRoom struct {
	CourseID    string `json:"courseId"`
	GroupID     string `json:"groupId"`
	ChatSpaceID string `json:"chatSpaceId"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

type SendMessage struct {
	RoomID      string       `json:"roomId"`
	CourseID    string       `json:"courseId"`
	GroupID     string       `json:"groupId"`
	Content     string       `json:"content"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Mentions    []string     `json:"mentions,omitempty"`
}

type DeleteMessage struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type Typing struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

func (RoomJoined) EventType() string      { return TypeRoomJoined }
func (ChatHistory) EventType() string     { return TypeChatHistory }
func (ReceiveMessage) EventType() string  { return TypeReceiveMessage }
func (MessageDeleted) EventType() string  { return TypeMessageDeleted }
func (UserTyping) EventType() string      { return TypeUserTyping }
func (OnlineUsers) EventType() string     { return TypeOnlineUsers }
func (UserJoined) EventType() string      { return TypeUserJoined }
func (UserLeft) EventType() string        { return TypeUserLeft }
func (SessionClosed) EventType() string   { return TypeSessionClosed }
func (SessionReopened) EventType() string { return TypeSessionReopened }
func (ChannelError) EventType() string    { return TypeError }
func (JoinRoom) EventType() string        { return TypeJoinRoom }
func (LeaveRoom) EventType() string       { return TypeLeaveRoom }
func (SendMessage) EventType() string     { return TypeSendMessage }
func (DeleteMessage) EventType() string   { return TypeDeleteMessage }
func (Typing) EventType() string          { return TypeTyping }

// ErrUnknownEvent is returned by Decode for event names outside the contract.
var ErrUnknownEvent = errors.New("unknown channel event")

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decode parses one channel frame into its typed event and validates the
// fields downstream components rely on. Payloads that do not decode into
// the declared shape are rejected here, never handed on.
func Decode(frame []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, errors.Wrap(err, "malformed channel frame")
	}
	if env.Type == "" {
		return nil, errors.New("channel frame has no type")
	}

	unmarshal := func(v any) error {
		if len(env.Data) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(env.Data, v), "decoding %s", env.Type)
	}

	switch env.Type {
	case TypeRoomJoined:
		var ev RoomJoined
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeChatHistory:
		var ev ChatHistory
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		for i, m := range ev.Messages {
			if err := validateMessage(m); err != nil {
				return nil, errors.Wrapf(err, "chat_history message %d", i)
			}
		}
		return ev, nil
	case TypeReceiveMessage:
		var ev ReceiveMessage
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if err := validateMessage(ev.Message); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeMessageDeleted:
		var ev MessageDeleted
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.MessageID == "" {
			return nil, errors.New("message_deleted without messageId")
		}
		return ev, nil
	case TypeUserTyping:
		var ev UserTyping
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, errors.New("user_typing without userId")
		}
		return ev, nil
	case TypeOnlineUsers:
		var ev OnlineUsers
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeUserJoined:
		var ev UserJoined
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, errors.New("user_joined without userId")
		}
		return ev, nil
	case TypeUserLeft:
		var ev UserLeft
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		if ev.UserID == "" {
			return nil, errors.New("user_left without userId")
		}
		return ev, nil
	case TypeSessionClosed:
		var ev SessionClosed
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	case TypeSessionReopened:
		return SessionReopened{}, nil
	case TypeError:
		var ev ChannelError
		if err := unmarshal(&ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, errors.Wrap(ErrUnknownEvent, env.Type)
	}
}

// Encode wraps an event into the channel frame envelope.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil event")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", ev.EventType())
	}
	return json.Marshal(envelope{Type: ev.EventType(), Data: data})
}

func validateMessage(m Message) error {
	if m.ID == "" {
		return errors.New("message without id")
	}
	if m.SenderID == "" && m.SenderKind != SenderSystem {
		return errors.New("message without senderId")
	}
	switch m.SenderKind {
	case SenderHuman, SenderAI, SenderAutomated, SenderSystem, "":
	default:
		return errors.Errorf("unknown sender kind %q", m.SenderKind)
	}
	return nil
}
