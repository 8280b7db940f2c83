package stability

import (
	"strings"
	"unicode/utf8"
)

const (
	DefaultPrompt   = "Enhance and clean the image for CNC-ready output on light gray background."
	MaxPromptLength = 1800
)

// SanitizePrompt collapses whitespace runs, substitutes DefaultPrompt for an
// empty instruction and caps the result at MaxPromptLength characters.
func SanitizePrompt(prompt string) string {
	cleaned := strings.Join(strings.Fields(prompt), " ")
	if cleaned == "" {
		return DefaultPrompt
	}
	if utf8.RuneCountInString(cleaned) <= MaxPromptLength {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:MaxPromptLength])
}
