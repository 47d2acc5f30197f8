package composer

import (
	"regexp"
	"strings"
)

// mentionPattern captures '@' followed by one or more whitespace-separated
// words. The capture is intentionally greedy; resolution against the
// member roster decides where the mention actually ends.
var mentionPattern = regexp.MustCompile(`@(\w+(?:[ ]\w+)*)`)

// ExtractMentions re-derives mentioned user ids from the message text at
// send time. The roster is the source of truth, not whatever was picked in
// the autocomplete: a later-edited message re-extracts correctly, and a
// hand-typed '@Name' resolves just as well. For each captured phrase the
// longest word-prefix matching a member name wins.
func ExtractMentions(text string, members []Member) []string {
	var ids []string
	seen := map[string]bool{}
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		phrase := match[1]
		if id, ok := resolveMention(phrase, members); ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

func resolveMention(phrase string, members []Member) (string, bool) {
	words := strings.Split(phrase, " ")
	for n := len(words); n > 0; n-- {
		candidate := strings.Join(words[:n], " ")
		for _, m := range members {
			if strings.EqualFold(m.Name, candidate) {
				return m.ID, true
			}
		}
	}
	return "", false
}
