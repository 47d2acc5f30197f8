package grouping

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hshinosa/coregula/pkg/sessionchat/transcript"
)

func entry(id, sender string, at time.Time) transcript.Entry {
	return transcript.Entry{ID: id, SenderID: sender, SenderName: sender, CreatedAt: at, Content: id}
}

func TestGroupings_EmptyAndSingle(t *testing.T) {
	require.Empty(t, Groupings(nil))

	out := Groupings([]transcript.Entry{entry("a", "u1", time.Now())})
	require.Len(t, out, 1)
	require.True(t, out[0].IsFirstInGroup)
	require.True(t, out[0].IsLastInGroup)
	require.True(t, out[0].ShowAvatar)
	require.True(t, out[0].ShowName)
	require.True(t, out[0].ShowTimestamp)
	require.False(t, out[0].IsGrouped)
}

func TestGroupings_SameSenderSameMinute(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	out := Groupings([]transcript.Entry{
		entry("a", "u1", base),
		entry("b", "u1", base.Add(20*time.Second)),
		entry("c", "u1", base.Add(40*time.Second)),
	})
	require.True(t, out[0].IsFirstInGroup)
	require.False(t, out[0].IsLastInGroup)
	require.True(t, out[1].IsGrouped)
	require.False(t, out[1].ShowAvatar)
	require.False(t, out[1].ShowTimestamp)
	require.True(t, out[2].IsLastInGroup)
	require.True(t, out[2].ShowTimestamp)
}

func TestGroupings_SenderChangeBreaksGroup(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	out := Groupings([]transcript.Entry{
		entry("a", "u1", base),
		entry("b", "u2", base.Add(5*time.Second)),
	})
	require.True(t, out[0].IsLastInGroup)
	require.True(t, out[1].IsFirstInGroup)
}

func TestGroupings_MinuteBoundaryIsExact(t *testing.T) {
	// one second apart but straddling the minute: never grouped
	out := Groupings([]transcript.Entry{
		entry("a", "u1", time.Date(2024, 1, 1, 12, 0, 59, 0, time.UTC)),
		entry("b", "u1", time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC)),
	})
	require.True(t, out[1].IsFirstInGroup)
	require.False(t, out[1].IsGrouped)
	require.True(t, out[0].IsLastInGroup)

	// fifty seconds apart inside the same minute: grouped
	out = Groupings([]transcript.Entry{
		entry("a", "u1", time.Date(2024, 1, 1, 12, 1, 0, 0, time.UTC)),
		entry("b", "u1", time.Date(2024, 1, 1, 12, 1, 50, 0, time.UTC)),
	})
	require.True(t, out[1].IsGrouped)
}

func TestGroupings_PureAndIdempotent(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 10, 0, time.UTC)
	entries := []transcript.Entry{
		entry("a", "u1", base),
		entry("b", "u1", base.Add(10*time.Second)),
		entry("c", "u2", base.Add(20*time.Second)),
	}
	first := Groupings(entries)
	second := Groupings(entries)
	require.Equal(t, first, second)

	// a fresh slice with equal contents projects identically
	clone := append([]transcript.Entry(nil), entries...)
	require.Equal(t, first, Groupings(clone))
}
