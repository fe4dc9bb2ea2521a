package nl2sql

import (
	"regexp"
	"strings"
)

// Candidate is a statement pulled out of model output that has not been
// validated yet. It always ends with ';'.
type Candidate string

func (c Candidate) String() string {
	return string(c)
}

var statementPattern = regexp.MustCompile(`(?is)\b(SELECT|INSERT|UPDATE|DELETE|CREATE|ALTER|DROP)\b.*?;`)

// Extract returns the first complete statement in raw model output: the span
// from a leading statement keyword to the first following semicolon.
func Extract(raw string) (Candidate, error) {
	text := strings.TrimSpace(raw)
	text = strings.ReplaceAll(text, "```sql", "")
	text = strings.ReplaceAll(text, "```", "")

	match := statementPattern.FindString(text)
	if match == "" {
		return "", NewError(KindExtractionFailure, "no SQL statement found in model output", nil)
	}
	match = strings.TrimSpace(match)
	if len(match) <= 2 {
		return "", NewError(KindExtractionFailure, "generated statement is incomplete", nil)
	}
	return Candidate(match), nil
}
