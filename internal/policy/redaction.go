// Package policy holds data-handling rules applied before caller speech
// leaves the process.
package policy

import "regexp"

var (
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ssnPattern      = regexp.MustCompile(`\b\d{3}[- ]\d{2}[- ]\d{4}\b`)
	dobPattern      = regexp.MustCompile(`\b(?:0?[1-9]|1[0-2])[/\-.](?:0?[1-9]|[12]\d|3[01])[/\-.](?:19|20)?\d{2}\b`)
	memberIDPattern = regexp.MustCompile(`(?i)\b(member|policy|insurance|medicare|medicaid|mrn)\s*(?:id|number|#|no\.?)?\s*(?:is\s*)?[:#]?\s*[A-Z0-9\-]*\d[A-Z0-9\-]*\b`)
	cardPattern     = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	phonePattern    = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
)

// RedactPHI masks identifiers a caller may speak: email, SSN, dates of
// birth, insurance member ids, card numbers and phone numbers. Order matters:
// the more specific numeric shapes run before the phone pattern.
func RedactPHI(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range []struct {
		re          *regexp.Regexp
		replacement string
	}{
		{emailPattern, "[REDACTED_EMAIL]"},
		{memberIDPattern, "$1 [REDACTED_ID]"},
		{ssnPattern, "[REDACTED_SSN]"},
		{dobPattern, "[REDACTED_DATE]"},
		{cardPattern, "[REDACTED_CARD]"},
		{phonePattern, "[REDACTED_PHONE]"},
	} {
		next := rule.re.ReplaceAllString(out, rule.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
