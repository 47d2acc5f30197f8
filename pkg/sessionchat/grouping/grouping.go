// Package grouping derives per-message display flags from transcript
// adjacency. It is a pure projection: same transcript in, same flags out,
// no state carried between calls.
package grouping

import (
	"time"

	"github.com/hshinosa/coregula/pkg/sessionchat/transcript"
)

// ProcessedEntry is a transcript entry plus its display flags.
type ProcessedEntry struct {
	transcript.Entry

	IsFirstInGroup bool
	IsLastInGroup  bool
	ShowAvatar     bool
	ShowName       bool
	ShowTimestamp  bool
	IsGrouped      bool
}

// Groupings computes display flags for every entry. Two adjacent entries
// group together only when they share a sender and fall in the same local
// calendar minute; a one-second gap straddling a minute boundary breaks
// the group.
func Groupings(entries []transcript.Entry) []ProcessedEntry {
	out := make([]ProcessedEntry, len(entries))
	for i, e := range entries {
		first := true
		if i > 0 {
			prev := entries[i-1]
			first = prev.SenderID != e.SenderID || !sameMinute(prev.CreatedAt, e.CreatedAt)
		}
		last := true
		if i < len(entries)-1 {
			next := entries[i+1]
			last = next.SenderID != e.SenderID || !sameMinute(next.CreatedAt, e.CreatedAt)
		}
		out[i] = ProcessedEntry{
			Entry:          e,
			IsFirstInGroup: first,
			IsLastInGroup:  last,
			ShowAvatar:     first,
			ShowName:       first,
			ShowTimestamp:  last,
			IsGrouped:      !first,
		}
	}
	return out
}

// sameMinute buckets by the viewer's local calendar minute, not a sliding
// 60s window.
func sameMinute(a, b time.Time) bool {
	a, b = a.Local(), b.Local()
	return a.Year() == b.Year() &&
		a.Month() == b.Month() &&
		a.Day() == b.Day() &&
		a.Hour() == b.Hour() &&
		a.Minute() == b.Minute()
}
