package dialog

import (
	"regexp"
	"strings"

	"persona-eval/internal/domain"
)

var (
	fenceStart = regexp.MustCompile("(?is)^\\s*```[a-z]*\\s*")
	fenceEnd   = regexp.MustCompile("(?is)\\s*```\\s*$")
	// una sola letra A-E, opcionalmente rodeada de espacios
	strictChoice = regexp.MustCompile(`^\s*([ABCDE])\s*$`)
)

// cleanOutput quita BOM y fences ``` dejando el texto usable.
func cleanOutput(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = strings.TrimPrefix(s, "\uFEFF")
	s = fenceStart.ReplaceAllString(s, "")
	s = fenceEnd.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// ParseChoice aplica la regla estricta de una letra sobre la salida cruda del modelo.
func ParseChoice(raw string) domain.Choice {
	m := strictChoice.FindStringSubmatch(cleanOutput(raw))
	if m == nil {
		return domain.ChoiceUnknown
	}
	return domain.Choice(m[1])
}
