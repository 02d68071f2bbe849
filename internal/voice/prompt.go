package voice

import (
	"fmt"
	"strings"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/session"
)

const defaultClinicName = "the clinic"

// BuildSystemPrompt renders the assistant instructions for one call from the
// clinic context. Unset clinic fields are left out rather than invented.
func BuildSystemPrompt(cfg CallConfig) string {
	c := cfg.Clinic
	name := strings.TrimSpace(c.ClinicName)
	if name == "" {
		name = defaultClinicName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are the phone receptionist for %s.", name)
	b.WriteString(" You are speaking with a caller on a live phone line.\n\n")

	facts := clinicFacts(c)
	if len(facts) > 0 {
		b.WriteString("Practice information you may share:\n")
		for _, f := range facts {
			b.WriteString("- ")
			b.WriteString(f)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	b.WriteString("Rules:\n")
	b.WriteString("- Keep every reply to one or two short spoken sentences. No lists, no markdown.\n")
	b.WriteString("- Never diagnose, give medical advice, or suggest medication doses.\n")
	b.WriteString("- If the caller describes a life-threatening emergency, tell them to hang up and call 911.\n")
	b.WriteString("- Offer to have staff call back for insurance, billing, referrals, records or anything you cannot answer.\n")
	b.WriteString("- Do not repeat back insurance numbers, dates of birth or other identifiers.\n")
	if cfg.Language == "es" {
		b.WriteString("- The caller speaks Spanish. Reply only in Spanish.\n")
	} else {
		b.WriteString("- Reply in English unless the caller switches language.\n")
	}

	if extra := strings.TrimSpace(cfg.CustomInstructions); extra != "" {
		b.WriteString("\nPractice-specific instructions:\n")
		b.WriteString(extra)
		b.WriteByte('\n')
	}
	return b.String()
}

func clinicFacts(c session.ClinicContext) []string {
	var out []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, label+": "+v)
		}
	}
	add("Doctor", c.DoctorName)
	add("Address", c.Address)
	add("Phone", c.Phone)
	add("Office hours", c.Hours)
	return out
}
