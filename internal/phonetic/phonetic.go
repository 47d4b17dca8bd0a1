// Package phonetic prepares reply text for synthesis: it strips markup and
// symbol noise the dialogue model tends to emit, and annotates characters
// with more than one common Mandarin reading so the synthesis backend does
// not have to guess.
package phonetic

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	urlPattern          = regexp.MustCompile(`https?://\S+`)
	fencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	inlineCodePattern   = regexp.MustCompile("`[^`]*`")
	markdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
)

// Normalize removes markup and symbol noise from model text so the spoken
// output sounds conversational. CJK sentence punctuation is preserved.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = fencedCodePattern.ReplaceAllString(raw, " ")
	raw = inlineCodePattern.ReplaceAllString(raw, " ")
	raw = markdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = urlPattern.ReplaceAllString(raw, " ")

	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"<", " ",
		">", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and symbol-heavy glyphs sound unnatural when spoken.
			continue
		case isSpeechSafePunctuation(r):
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '-',
		'。', '，', '！', '？', '、', '；', '：':
		return true
	default:
		return false
	}
}

// heteronyms maps characters with several common Mandarin readings to the
// bopomofo form a conversational assistant almost always intends. The
// annotation format 字[ㄅㄆㄇ] is what grapheme-to-phoneme aware backends
// accept inline.
var heteronyms = map[rune]string{
	'行': "ㄒㄧㄥˊ",
	'得': "ㄉㄜ˙",
	'地': "ㄉㄜ˙",
	'著': "ㄓㄜ˙",
	'了': "ㄌㄜ˙",
	'嗯': "ㄣ",
	'喔': "ㄛ",
	'欸': "ㄟ",
	'說': "ㄕㄨㄛ",
	'數': "ㄕㄨˋ",
	'重': "ㄓㄨㄥˋ",
	'還': "ㄏㄞˊ",
}

// Annotate appends an inline pronunciation hint after every character that
// has an entry in the heteronym table. Text without such characters passes
// through unchanged.
func Annotate(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		b.WriteRune(r)
		if hint, ok := heteronyms[r]; ok {
			b.WriteByte('[')
			b.WriteString(hint)
			b.WriteByte(']')
		}
	}
	return b.String()
}

// Prepare is the full pipeline used ahead of a backend call.
func Prepare(text string) string {
	return Annotate(Normalize(text))
}
