package stream

import "strings"

// LineBuffer splits arbitrary text chunks into complete lines. A trailing
// partial line is held back and prefixed to the next chunk; it is never
// returned until its newline arrives.
type LineBuffer struct {
	partial strings.Builder
}

// Feed appends chunk and returns every line completed by it, without the
// line terminator ("\n" or "\r\n").
func (b *LineBuffer) Feed(chunk string) []string {
	var out []string
	for {
		i := strings.IndexByte(chunk, '\n')
		if i < 0 {
			b.partial.WriteString(chunk)
			return out
		}
		line := chunk[:i]
		if b.partial.Len() > 0 {
			b.partial.WriteString(line)
			line = b.partial.String()
			b.partial.Reset()
		}
		out = append(out, strings.TrimSuffix(line, "\r"))
		chunk = chunk[i+1:]
	}
}

// Pending returns the unterminated tail currently held.
func (b *LineBuffer) Pending() string {
	return b.partial.String()
}
