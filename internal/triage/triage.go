// Package triage screens caller transcripts for emergency and high-urgency
// language before any model call is made.
package triage

import (
	"regexp"
	"strings"
	"time"
)

// Level is the urgency assigned to a transcript fragment.
type Level string

const (
	LevelEmergency Level = "EMERGENCY"
	LevelHigh      Level = "HIGH"
	LevelNormal    Level = "NORMAL"
	LevelLow       Level = "LOW"
)

// Action tags recommended to the caller of DetectUrgency.
const (
	ActionTransferEmergency = "transfer_emergency"
	ActionOfferStaff        = "offer_staff_transfer"
	ActionContinue          = "continue"
)

// Result is produced once per transcript fragment and never mutated.
type Result struct {
	Level          Level         `json:"level"`
	MatchedKeyword string        `json:"matched_keyword,omitempty"`
	Action         string        `json:"action"`
	Message        string        `json:"message"`
	Latency        time.Duration `json:"latency_ns"`
}

// IsEmergency reports whether the LLM must be bypassed for this turn.
func (r Result) IsEmergency() bool { return r.Level == LevelEmergency }

type pattern struct {
	keyword string
	re      *regexp.Regexp
}

// Order matters: the first matching pattern is reported.
var emergencyPatterns = compile([]string{
	`chest pains?`,
	`heart attack`,
	`can'?t breathe`,
	`cannot breathe`,
	`can not breathe`,
	`trouble breathing`,
	`difficulty breathing`,
	`not breathing`,
	`choking`,
	`stroke`,
	`face (is )?drooping`,
	`slurred speech`,
	`unconscious`,
	`passed out and (won'?t|will not) wake`,
	`seizure`,
	`severe bleeding`,
	`bleeding (heavily|a lot|won'?t stop)`,
	`suicid(e|al)`,
	`kill myself`,
	`end my life`,
	`want to die`,
	`overdos(e|ed)`,
	`took too many (pills|tablets)`,
	`poison(ed|ing)?`,
	`throat('?s| is)? (swelling|closing)`,
	`tongue (is )?swelling`,
	`anaphyla(xis|ctic)`,
	`allergic reaction`,
	// Spanish
	`dolor (de|en el) pecho`,
	`ataque al coraz[oó]n`,
	`no puedo respirar`,
	`dificultad para respirar`,
	`derrame cerebral`,
	`inconsciente`,
	`convulsi[oó]n`,
	`sangrado (grave|abundante)`,
	`suicid(io|arme)`,
	`quiero morir`,
	`matarme`,
	`sobredosis`,
	`envenenad[oa]`,
	`garganta (se )?(hincha|cierra)`,
	`reacci[oó]n al[eé]rgica`,
})

var highPatterns = compile([]string{
	`getting worse`,
	`worsening`,
	`high fever`,
	`fever of 10[3-9]`,
	`faint(ed|ing)?`,
	`passed out`,
	`dizzy`,
	`blood in (my )?(urine|stool|vomit)`,
	`coughing (up )?blood`,
	`vomiting blood`,
	`severe pain`,
	`really bad pain`,
	`broken bone`,
	`can'?t (move|walk|feel)`,
	`deep cut`,
	`infection`,
	`swollen`,
	`pregnan(t|cy) .*bleeding`,
	// Spanish
	`empeorando`,
	`fiebre alta`,
	`me desmay[eé]`,
	`desmayo`,
	`mareado`,
	`sangre en (la )?(orina|heces|v[oó]mito)`,
	`tos con sangre`,
	`dolor (fuerte|severo)`,
	`hueso roto`,
	`infecci[oó]n`,
})

func compile(exprs []string) []pattern {
	out := make([]pattern, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, pattern{
			keyword: expr,
			re:      regexp.MustCompile(`(?i)` + expr),
		})
	}
	return out
}

var messages = map[string]map[Level]string{
	"en": {
		LevelEmergency: "This sounds like it may be an emergency. I am notifying our staff right now. If this is life-threatening, please hang up and call 911 immediately.",
		LevelHigh:      "I understand this is urgent. Would you like me to connect you with a member of our staff right away?",
	},
	"es": {
		LevelEmergency: "Esto parece ser una emergencia. Estoy avisando a nuestro personal ahora mismo. Si su vida corre peligro, por favor cuelgue y llame al 911 de inmediato.",
		LevelHigh:      "Entiendo que esto es urgente. ¿Desea que lo comunique con un miembro de nuestro personal ahora mismo?",
	},
}

// apostrophes folds the typographic apostrophes speech backends emit onto
// the ASCII form the patterns are written with.
var apostrophes = strings.NewReplacer("\u2019", "'", "\u2018", "'", "\u02bc", "'")

// NormalizeLanguage maps free-form language tags onto the supported set.
func NormalizeLanguage(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	switch {
	case strings.HasPrefix(l, "es"), l == "spanish", l == "español", l == "espanol":
		return "es"
	default:
		return "en"
	}
}

// DetectUrgency classifies a transcript fragment. It does no I/O and keeps
// no state, so the same input always yields the same result.
func DetectUrgency(transcript, language string) Result {
	start := time.Now()
	lang := NormalizeLanguage(language)
	text := apostrophes.Replace(strings.ToLower(transcript))

	if kw, ok := firstMatch(emergencyPatterns, text); ok {
		return Result{
			Level:          LevelEmergency,
			MatchedKeyword: kw,
			Action:         ActionTransferEmergency,
			Message:        messages[lang][LevelEmergency],
			Latency:        time.Since(start),
		}
	}
	if kw, ok := firstMatch(highPatterns, text); ok {
		return Result{
			Level:          LevelHigh,
			MatchedKeyword: kw,
			Action:         ActionOfferStaff,
			Message:        messages[lang][LevelHigh],
			Latency:        time.Since(start),
		}
	}
	return Result{
		Level:   LevelNormal,
		Action:  ActionContinue,
		Latency: time.Since(start),
	}
}

func firstMatch(patterns []pattern, text string) (string, bool) {
	for _, p := range patterns {
		if m := p.re.FindString(text); m != "" {
			return m, true
		}
	}
	return "", false
}
