package transcript

import (
	"time"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

// Entry is one live message in the reconciled transcript. Entries are
// immutable once appended; deletion removes the entry wholesale.
type Entry struct {
	ID               string
	SenderID         string
	SenderName       string
	SenderKind       wire.SenderKind
	Content          string
	CreatedAt        time.Time
	IsIntervention   bool
	ReplyTo          string
	Attachments      []wire.Attachment
	MentionedUserIDs []string
}

func entryFromWire(m wire.Message) Entry {
	return Entry{
		ID:               m.ID,
		SenderID:         m.SenderID,
		SenderName:       m.SenderName,
		SenderKind:       m.SenderKind,
		Content:          m.Content,
		CreatedAt:        m.CreatedAt,
		IsIntervention:   m.IsIntervention,
		ReplyTo:          m.ReplyTo,
		Attachments:      m.Attachments,
		MentionedUserIDs: m.MentionedUserIDs,
	}
}

// Transcript merges a one-time history snapshot with incremental
// create/delete events into an ordered, deduplicated view. Each id appears
// at most once; duplicate creates and deletes of unknown ids are no-ops,
// which keeps the view stable under at-least-once redelivery after a
// reconnect.
type Transcript struct {
	entries []Entry
	byID    map[string]int // id -> index into entries
}

func New() *Transcript {
	return &Transcript{byID: map[string]int{}}
}

// ApplyHistory replaces the transcript wholesale with the server's ordered
// snapshot. Duplicate ids inside the snapshot keep the first occurrence.
func (t *Transcript) ApplyHistory(messages []wire.Message) {
	t.entries = t.entries[:0]
	t.byID = make(map[string]int, len(messages))
	for _, m := range messages {
		if _, ok := t.byID[m.ID]; ok {
			continue
		}
		t.byID[m.ID] = len(t.entries)
		t.entries = append(t.entries, entryFromWire(m))
	}
}

// ApplyCreated appends a newly received message. Appending a known id is a
// no-op; the first delivery wins.
func (t *Transcript) ApplyCreated(m wire.Message) bool {
	if _, ok := t.byID[m.ID]; ok {
		return false
	}
	t.byID[m.ID] = len(t.entries)
	t.entries = append(t.entries, entryFromWire(m))
	return true
}

// ApplyDeleted removes the entry with the given id, if present.
func (t *Transcript) ApplyDeleted(id string) bool {
	idx, ok := t.byID[id]
	if !ok {
		return false
	}
	t.entries = append(t.entries[:idx], t.entries[idx+1:]...)
	delete(t.byID, id)
	for i := idx; i < len(t.entries); i++ {
		t.byID[t.entries[i].ID] = i
	}
	return true
}

// Contains reports whether an id is currently live.
func (t *Transcript) Contains(id string) bool {
	_, ok := t.byID[id]
	return ok
}

func (t *Transcript) Len() int { return len(t.entries) }

// Entries returns the live entries in delivery order. The returned slice is
// a copy; callers may hold it across further mutations.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}
