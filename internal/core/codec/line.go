package codec

import "strings"

// Line is a read cursor over a single decoded protocol line. Tokens are
// consumed from the front with Next, and whatever is left can be taken
// as a single argument with Rest.
type Line struct {
	text string
	pos  int
}

// NewLine strips NUL bytes and the surrounding line terminators/whitespace
// from raw.
func NewLine(raw string) *Line {
	raw = strings.ReplaceAll(raw, "\x00", "")
	return &Line{text: strings.Trim(raw, trimSet)}
}

// Text returns the full trimmed line regardless of how much has been consumed.
func (l *Line) Text() string { return l.text }

// Next returns the next whitespace-delimited token, or "" if the line is exhausted.
func (l *Line) Next() string {
	rest := strings.TrimLeft(l.text[l.pos:], trimSet)
	start := len(l.text) - len(rest)

	end := strings.IndexAny(rest, trimSet)
	if end < 0 {
		end = len(rest)
	}

	l.pos = start + end
	return rest[:end]
}

// Rest consumes and returns the remainder of the line with surrounding
// whitespace trimmed. Internal whitespace (e.g. in a filename) is kept.
func (l *Line) Rest() string {
	rest := strings.Trim(l.text[l.pos:], trimSet)
	l.pos = len(l.text)
	return rest
}

// Exhausted reports whether nothing but whitespace remains.
func (l *Line) Exhausted() bool {
	return strings.Trim(l.text[l.pos:], trimSet) == ""
}
