package services

import (
	"testing"

	"github.com/whiskertales/backend/internal/types"
)

func TestComputeContentStats(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    types.ContentStatsPayload
	}{
		{
			name:    "empty",
			content: "",
			want:    types.ContentStatsPayload{},
		},
		{
			name:    "whitespace only",
			content: "   \n\t\n  ",
			want:    types.ContentStatsPayload{},
		},
		{
			name:    "two words",
			content: "hello world",
			want: types.ContentStatsPayload{
				WordCount:      2,
				CharacterCount: 11,
				LineCount:      1,
				ParagraphCount: 1,
			},
		},
		{
			name:    "multiple paragraphs",
			content: "first line\nsecond line\n\nnew paragraph",
			want: types.ContentStatsPayload{
				WordCount:      6,
				CharacterCount: 37,
				LineCount:      3,
				ParagraphCount: 2,
			},
		},
		{
			name:    "windows line endings",
			content: "one\r\ntwo",
			want: types.ContentStatsPayload{
				WordCount:      2,
				CharacterCount: 7,
				LineCount:      2,
				ParagraphCount: 1,
			},
		},
		{
			name:    "unicode characters",
			content: "héllo wörld",
			want: types.ContentStatsPayload{
				WordCount:      2,
				CharacterCount: 11,
				LineCount:      1,
				ParagraphCount: 1,
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeContentStats(tc.content)
			if got != tc.want {
				t.Fatalf("ComputeContentStats(%q) = %+v, want %+v", tc.content, got, tc.want)
			}
		})
	}
}
