package synth

import "strings"

// Segment is one synthesizable slice of a reply, ordered by Index.
type Segment struct {
	Index int
	Text  string
}

// terminalRunes end a sentence for segmentation purposes.
var terminalRunes = map[rune]bool{
	'。': true, '！': true, '？': true,
	'.': true, '!': true, '?': true,
}

// SplitSegments breaks text into sentence groups for synthesis. Text at or
// under threshold runes stays whole. Longer text is split at sentence
// terminals, then adjacent sentences are greedily coalesced while the
// joined group stays under softBudget runes. Groups are joined with a
// CJK full stop so the backend still sees sentence boundaries.
func SplitSegments(text string, threshold, softBudget int) []Segment {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len([]rune(trimmed)) <= threshold {
		return []Segment{{Index: 0, Text: trimmed}}
	}

	sentences := splitSentences(trimmed)
	if len(sentences) <= 1 {
		return []Segment{{Index: 0, Text: trimmed}}
	}

	var groups []string
	var cur strings.Builder
	curLen := 0
	for _, s := range sentences {
		n := len([]rune(s))
		if curLen == 0 {
			cur.WriteString(s)
			curLen = n
			continue
		}
		// Joining costs one rune for the separator.
		if curLen+1+n < softBudget {
			cur.WriteRune('。')
			cur.WriteString(s)
			curLen += 1 + n
			continue
		}
		groups = append(groups, cur.String())
		cur.Reset()
		cur.WriteString(s)
		curLen = n
	}
	if curLen > 0 {
		groups = append(groups, cur.String())
	}

	segments := make([]Segment, len(groups))
	for i, g := range groups {
		segments[i] = Segment{Index: i, Text: g}
	}
	return segments
}

// splitSentences cuts text at sentence terminals, dropping the terminal
// rune and discarding empty pieces.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		if terminalRunes[r] {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}
