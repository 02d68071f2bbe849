// Package routing picks the cheapest model tier that can handle a caller
// utterance.
package routing

import (
	"regexp"
	"strings"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/triage"
)

// Tier is the model class used for one turn.
type Tier string

const (
	TierFast            Tier = "fast"
	TierCapable         Tier = "capable"
	TierEmergencyBypass Tier = "emergency_bypass"
)

// longUtteranceWords is the word count above which unclassified input is
// treated as complex.
const longUtteranceWords = 20

// Keywords are anchored on word boundaries so short stems do not fire inside
// unrelated words ("pagoda", "in charge"). RE2 boundaries are ASCII only, so
// stems ending in an accented letter are left open on that side.
var complexPatterns = compileAll([]string{
	// insurance verification
	`\binsurance\b`, `\bcoverage\b`, `\bcovered\b`, `\bco-?pays?\b`, `\bdeductibles?\b`, `\beligib`, `\bprior auth`,
	`\bmedicaid\b`, `\bmedicare\b`, `\bseguros?\b`,
	// workers comp, accident, injury
	`\bworkers'? ?comp\b`, `\bwork(place)? injury\b`, `\baccidents?\b`, `\binjur(y|ies|ed)\b`, `\blawyers?\b`, `\battorneys?\b`,
	`\baccidentes?\b`, `\blesi[oó]n`,
	// prescription refill combined with medication terms
	`\b(refill|renew|prescription|receta)\b.*(medication|medicine|pills|mg|dose|pharmacy|medicamento|farmacia)`,
	`\b(medication|medicine|pills|pharmacy|medicamento|farmacia)\b.*\b(refill|renew|prescription|receta)`,
	// billing and payment
	`\bbill(s|ed|ing)?\b`, `\binvoices?\b`, `\bpayments?\b`, `\bpay my\b`, `\bbalance\b`, `\brefunds?\b`,
	`\bcharged\b`, `\b(a|the|this|that|extra|late|double) charges?\b`,
	`\bfacturas?\b`, `\bpagos?\b`, `\bcobr(o|os|ar|aron|ado|an)\b`, `\bcobró`,
	// complaint or frustration
	`\bcomplain`, `\bfrustrat`, `\bupset\b`, `\bunacceptable\b`, `\bridiculous\b`, `\bangry\b`, `\bquejas?\b`, `\bmolest[oa]s?\b`,
	// speak to a human
	`\bspeak (to|with) (a |the )?(human|person|someone|staff|doctor|nurse|manager|receptionist)\b`,
	`\btalk (to|with) (a |the )?(human|person|someone|staff|doctor|nurse|manager|receptionist)\b`,
	`\breal person\b`, `\bhablar con\b`,
	// records and referrals
	`\bmedical records?\b`, `\brecords request\b`, `\breferrals?\b`, `\blab results\b`, `\btest results\b`, `\bexpediente\b`, `\breferencia\b`,
	// new patients
	`\bnew patient`, `\bfirst (time|visit)\b`, `\bpaciente nuevo\b`, `\bnuevo paciente\b`, `\bprimera (vez|cita)\b`,
})

var simplePatterns = compileAll([]string{
	// hours, location, contact
	`\bhours\b`, `\bopen\b`, `\bclosed?\b`, `\bwhen are you\b`, `\bwhat time\b`, `\baddress\b`, `\blocated\b`, `\blocation\b`,
	`\bdirections\b`, `\bwhere are you\b`, `\bphone number\b`, `\bfax\b`, `\bemail\b`, `\bparking\b`,
	`\bhorarios?\b`, `\babiert[oa]s?\b`, `\bdirecci[oó]n`, `\bd[oó]nde est[aá]n\b`, `\btel[eé]fono\b`,
	// confirmations and small talk
	`^\s*(yes|yeah|yep|no|nope|ok(ay)?|sure|correct|right|confirm(ed)?|that'?s (right|correct)|s[ií]|claro|correcto|vale)\W*$`,
	`^\s*(hi|hello|hey|good (morning|afternoon|evening)|hola|buen(os|as) (d[ií]as|tardes|noches))\b`,
	`\bthank(s| you)\b`, `\bgracias\b`, `\b(good)?bye\b`, `\badi[oó]s\b`,
})

func compileAll(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, expr := range exprs {
		out = append(out, regexp.MustCompile(`(?i)`+expr))
	}
	return out
}

// ClassifyQuery triages the transcript and returns the tier for this turn.
func ClassifyQuery(transcript, language string) Tier {
	return ClassifyWithTriage(transcript, triage.DetectUrgency(transcript, language))
}

// ClassifyWithTriage applies the routing rules to an already triaged
// transcript. Rule order: triage level, complex patterns, simple patterns,
// then utterance length.
func ClassifyWithTriage(transcript string, urgency triage.Result) Tier {
	switch urgency.Level {
	case triage.LevelEmergency:
		return TierEmergencyBypass
	case triage.LevelHigh:
		return TierCapable
	}

	text := strings.ToLower(strings.TrimSpace(transcript))
	if anyMatch(complexPatterns, text) {
		return TierCapable
	}
	if anyMatch(simplePatterns, text) {
		return TierFast
	}
	if len(strings.Fields(text)) > longUtteranceWords {
		return TierCapable
	}
	return TierFast
}

func anyMatch(patterns []*regexp.Regexp, text string) bool {
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
