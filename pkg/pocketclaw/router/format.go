// Package router – format.go holds the text helpers applied on the way in
// and out of the model: internal-reasoning stripping and the XML-like
// transcript format.
package router

import (
	"html"
	"strings"
	"time"
)

const (
	internalOpen  = "<internal>"
	internalClose = "</internal>"
)

// StripInternal removes every <internal>…</internal> span from text,
// nested spans included, and trims surrounding whitespace. Unbalanced
// markers are left as plain text. The result is a fixpoint: stripping it
// again returns it unchanged.
func StripInternal(text string) string {
	for {
		next := stripPass(text)
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

// stripPass removes the outermost balanced spans in one scan. Removing a
// span can splice two fragments into a new marker, which is why
// StripInternal repeats until nothing changes.
func stripPass(text string) string {
	type span struct{ start, end int }

	var (
		opens []int
		cut   []span
	)
	for i := 0; i < len(text); {
		switch {
		case strings.HasPrefix(text[i:], internalOpen):
			opens = append(opens, i)
			i += len(internalOpen)
		case strings.HasPrefix(text[i:], internalClose):
			end := i + len(internalClose)
			if n := len(opens); n > 0 {
				start := opens[n-1]
				opens = opens[:n-1]
				// Drop spans nested inside this one.
				for len(cut) > 0 && cut[len(cut)-1].start >= start {
					cut = cut[:len(cut)-1]
				}
				cut = append(cut, span{start, end})
			}
			i = end
		default:
			i++
		}
	}
	if len(cut) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	prev := 0
	for _, s := range cut {
		b.WriteString(text[prev:s.start])
		prev = s.end
	}
	b.WriteString(text[prev:])
	return b.String()
}

// FormatMessage is one entry of a transcript handed to the model.
type FormatMessage struct {
	Sender  string
	Content string
	Time    time.Time
}

// FormatMessages renders a transcript as
//
//	<messages>
//	<message sender="..." time="...">...</message>
//	</messages>
//
// Sender and content are escaped; times are RFC 3339 in UTC.
func FormatMessages(msgs []FormatMessage) string {
	var b strings.Builder
	b.WriteString("<messages>\n")
	for _, m := range msgs {
		b.WriteString(`<message sender="`)
		b.WriteString(html.EscapeString(m.Sender))
		b.WriteString(`" time="`)
		b.WriteString(m.Time.UTC().Format(time.RFC3339))
		b.WriteString(`">`)
		b.WriteString(html.EscapeString(m.Content))
		b.WriteString("</message>\n")
	}
	b.WriteString("</messages>")
	return b.String()
}
