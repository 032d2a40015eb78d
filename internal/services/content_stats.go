package services

import (
	"strings"
	"unicode/utf8"

	"github.com/whiskertales/backend/internal/types"
)

// ComputeContentStats derives word/character/line/paragraph counts from
// extracted text. Computed once, when content is present and stats are not.
func ComputeContentStats(content string) types.ContentStatsPayload {
	if strings.TrimSpace(content) == "" {
		return types.ContentStatsPayload{}
	}

	normalized := strings.ReplaceAll(content, "\r\n", "\n")

	lines := 0
	for _, line := range strings.Split(normalized, "\n") {
		if strings.TrimSpace(line) != "" {
			lines++
		}
	}

	paragraphs := 0
	for _, block := range strings.Split(normalized, "\n\n") {
		if strings.TrimSpace(block) != "" {
			paragraphs++
		}
	}

	return types.ContentStatsPayload{
		WordCount:      len(strings.Fields(normalized)),
		CharacterCount: utf8.RuneCountInString(normalized),
		LineCount:      lines,
		ParagraphCount: paragraphs,
	}
}
