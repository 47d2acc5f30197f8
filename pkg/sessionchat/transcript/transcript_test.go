package transcript

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hshinosa/coregula/pkg/sessionchat/wire"
)

func msg(id string) wire.Message {
	return wire.Message{
		ID:         id,
		SenderID:   "u1",
		SenderName: "Ada",
		SenderKind: wire.SenderHuman,
		Content:    "msg " + id,
		CreatedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func ids(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestTranscript_AppendKeepsDeliveryOrder(t *testing.T) {
	tr := New()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, tr.ApplyCreated(msg(id)))
	}
	require.Equal(t, []string{"a", "b", "c"}, ids(tr.Entries()))
}

func TestTranscript_DuplicateCreateIsNoop(t *testing.T) {
	tr := New()
	require.True(t, tr.ApplyCreated(msg("a")))
	require.True(t, tr.ApplyCreated(msg("b")))
	// at-least-once redelivery after a reconnect
	require.False(t, tr.ApplyCreated(msg("a")))
	require.Equal(t, []string{"a", "b"}, ids(tr.Entries()))
}

func TestTranscript_DeleteUnknownIsNoop(t *testing.T) {
	tr := New()
	require.True(t, tr.ApplyCreated(msg("a")))
	require.False(t, tr.ApplyDeleted("nope"))
	require.Equal(t, []string{"a"}, ids(tr.Entries()))
}

func TestTranscript_DeleteRemovesAndReindexes(t *testing.T) {
	tr := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		tr.ApplyCreated(msg(id))
	}
	require.True(t, tr.ApplyDeleted("b"))
	require.Equal(t, []string{"a", "c", "d"}, ids(tr.Entries()))
	require.False(t, tr.Contains("b"))

	// later deletes still hit the right entries
	require.True(t, tr.ApplyDeleted("d"))
	require.Equal(t, []string{"a", "c"}, ids(tr.Entries()))
}

func TestTranscript_HistoryReplacesWholesale(t *testing.T) {
	tr := New()
	tr.ApplyCreated(msg("old"))
	tr.ApplyHistory([]wire.Message{msg("a"), msg("b")})
	require.Equal(t, []string{"a", "b"}, ids(tr.Entries()))
	require.False(t, tr.Contains("old"))
}

func TestTranscript_HistoryDedupsFirstWins(t *testing.T) {
	tr := New()
	first := msg("a")
	first.Content = "first"
	second := msg("a")
	second.Content = "second"
	tr.ApplyHistory([]wire.Message{first, second, msg("b")})
	entries := tr.Entries()
	require.Equal(t, []string{"a", "b"}, ids(entries))
	require.Equal(t, "first", entries[0].Content)
}

func TestTranscript_LiveSetMatchesEventSequence(t *testing.T) {
	// arbitrary interleaving of creates and deletes: the transcript holds
	// exactly the live ids, each once, in original delivery order
	type op struct {
		create bool
		id     string
	}
	seq := []op{
		{true, "a"}, {true, "b"}, {false, "a"}, {true, "a"},
		{true, "c"}, {false, "x"}, {true, "b"}, {false, "c"},
		{true, "d"}, {true, "e"}, {false, "e"},
	}
	tr := New()
	live := map[string]bool{}
	var order []string
	for _, o := range seq {
		if o.create {
			if tr.ApplyCreated(msg(o.id)) {
				live[o.id] = true
				order = append(order, o.id)
			}
		} else {
			if tr.ApplyDeleted(o.id) {
				delete(live, o.id)
				for i, id := range order {
					if id == o.id {
						order = append(order[:i], order[i+1:]...)
						break
					}
				}
			}
		}
	}
	require.Equal(t, order, ids(tr.Entries()))
	require.Equal(t, len(live), tr.Len())
	for id := range live {
		require.True(t, tr.Contains(id), fmt.Sprintf("missing live id %s", id))
	}
}

func TestTranscript_EntriesReturnsCopy(t *testing.T) {
	tr := New()
	tr.ApplyCreated(msg("a"))
	snapshot := tr.Entries()
	tr.ApplyCreated(msg("b"))
	require.Len(t, snapshot, 1)
}
