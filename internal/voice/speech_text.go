package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// maxSpokenSentences caps how much of a model reply is read to the caller.
// Longer answers are cut at a sentence boundary.
const maxSpokenSentences = 4

var (
	replyLinkPattern   = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)
	replyURLPattern    = regexp.MustCompile(`https?://\S+`)
	replyBulletPattern = regexp.MustCompile(`(?m)^\s*(?:[-*•]|\d+[.)])\s+`)
	sentenceEnd        = regexp.MustCompile(`[.!?](?:\s|$)`)

	abbreviations = map[string]*strings.Replacer{
		"en": strings.NewReplacer("Dr. ", "Doctor ", "appt.", "appointment", "appt", "appointment", "w/ ", "with "),
		"es": strings.NewReplacer("Dr. ", "Doctor ", "Dra. ", "Doctora ", "Sr. ", "Señor ", "Sra. ", "Señora "),
	}
	markupStripper = strings.NewReplacer("*", " ", "_", " ", "#", " ", "`", " ", "|", " ", "~", " ", "<", " ", ">", " ")
)

// spokenReply turns model text into something a phone voice can read:
// markdown and list markers go, links keep their label, ampersands and common
// abbreviations become words, and the reply is cut to a few sentences.
// Slashes and colons stay so dates and times read correctly.
func spokenReply(raw, language string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = replyLinkPattern.ReplaceAllString(text, "$1")
	text = replyURLPattern.ReplaceAllString(text, " ")
	text = replyBulletPattern.ReplaceAllString(text, "")

	if language == "es" {
		text = strings.ReplaceAll(text, "&", " y ")
	} else {
		language = "en"
		text = strings.ReplaceAll(text, "&", " and ")
	}
	text = abbreviations[language].Replace(text)
	text = markupStripper.Replace(text)
	return limitSentences(collapseForSpeech(text), maxSpokenSentences)
}

// collapseForSpeech drops emoji, joiners and control runes and folds
// whitespace runs into single spaces.
func collapseForSpeech(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if r == '\u200d' || r == '\ufe0f' || unicode.IsControl(r) || unicode.In(r, unicode.So, unicode.Sk) {
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

func limitSentences(text string, max int) string {
	ends := sentenceEnd.FindAllStringIndex(text, max+1)
	if len(ends) <= max {
		return text
	}
	return strings.TrimSpace(text[:ends[max-1][0]+1])
}
