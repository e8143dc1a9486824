package channels

import (
	"strings"
	"unicode/utf8"
)

// SplitMessage cuts text into chunks of at most maxLen bytes for platforms
// with a message size limit. It prefers to cut after a newline in the second
// half of a chunk and never splits a UTF-8 sequence.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 || len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := maxLen
		for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
			cutAt--
		}
		if cutAt == 0 {
			cutAt = maxLen
		}
		if idx := strings.LastIndex(text[:cutAt], "\n"); idx > maxLen/2 {
			cutAt = idx + 1
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
