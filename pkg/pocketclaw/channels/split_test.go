package channels

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{"short", "hello", 10, []string{"hello"}},
		{"exact", "hello", 5, []string{"hello"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline preferred", "line one\nline two", 12, []string{"line one\n", "line two"}},
		{"newline too early", "a\nbcdefghij", 6, []string{"a\nbcde", "fghij"}},
		{"no limit", "anything", 0, []string{"anything"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := SplitMessage(tt.text, tt.maxLen)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("SplitMessage(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSplitMessage_KeepsRunesWhole(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("héllo wörld ", 50)
	chunks := SplitMessage(text, 7)
	if strings.Join(chunks, "") != text {
		t.Fatal("chunks do not reassemble the input")
	}
	for _, c := range chunks {
		if !utf8.ValidString(c) || len(c) > 7 {
			t.Errorf("bad chunk %q", c)
		}
	}
}
