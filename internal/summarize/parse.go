package summarize

import (
	"regexp"
	"strings"
)

var (
	thinkBlock   = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)
	bulletPrefix = regexp.MustCompile(`^\s*[-*+•]\s*`)
	bulletLine   = regexp.MustCompile(`^\s*[-*+•]`)
)

// StripThinking removes <think>...</think> reasoning blocks some models emit.
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// ParseBullets returns the non-empty bullet items of a list reply. Lines
// that are not bullets, such as "No decisions identified.", are ignored.
func ParseBullets(s string) []string {
	items := []string{}
	for _, line := range strings.Split(StripThinking(s), "\n") {
		if !bulletLine.MatchString(line) {
			continue
		}
		item := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}
