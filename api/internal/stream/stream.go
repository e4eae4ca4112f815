package stream

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
)

type Kind string

const (
	KindGemini Kind = "gemini"
	KindOpenAI Kind = "openai"
)

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gemini", "google":
		return KindGemini, nil
	case "openai", "gpt":
		return KindOpenAI, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want gemini|openai)", s)
	}
}

// Frame is one decoded event reduced to its content delta.
type Frame struct {
	Delta    string
	Terminal bool
}

// Decoder yields frames in upstream order. Next returns io.EOF once the
// stream is exhausted or after the terminal frame was handed out.
type Decoder interface {
	Next() (Frame, error)
}

// frameCodec interprets the payload of one complete "data:" line.
// ok=false means the line carries nothing and must be skipped.
type frameCodec interface {
	decode(payload string) (f Frame, ok bool)
}

const readChunk = 4 << 10

type decoder struct {
	r     io.Reader
	codec frameCodec
	lines LineBuffer
	queue []string
	buf   []byte
	done  bool
	err   error
}

func NewDecoder(kind Kind, r io.Reader) (Decoder, error) {
	var c frameCodec
	switch kind {
	case KindOpenAI:
		c = openAICodec{}
	case KindGemini:
		c = geminiCodec{}
	default:
		return nil, fmt.Errorf("stream: no decoder for backend %q", kind)
	}
	return &decoder{r: r, codec: c, buf: make([]byte, readChunk)}, nil
}

func (d *decoder) Next() (Frame, error) {
	for {
		if d.done {
			return Frame{}, io.EOF
		}
		for len(d.queue) > 0 {
			line := d.queue[0]
			d.queue = d.queue[1:]
			payload, ok := eventData(line)
			if !ok {
				continue
			}
			f, ok := d.codec.decode(payload)
			if !ok {
				continue
			}
			if f.Terminal {
				d.done = true
			}
			return f, nil
		}
		if d.err != nil {
			d.done = true
			if errors.Is(d.err, io.EOF) {
				if tail := d.lines.Pending(); tail != "" {
					logDrop("unterminated line at end of stream", tail)
				}
				return Frame{}, io.EOF
			}
			return Frame{}, d.err
		}
		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.queue = append(d.queue, d.lines.Feed(string(d.buf[:n]))...)
		}
		if err != nil {
			d.err = err
		}
	}
}

// Frames adapts a Decoder to a range-over-func sequence. io.EOF ends the
// sequence silently; any other error is yielded once as the last element.
func Frames(d Decoder) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for {
			f, err := d.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Frame{}, err)
				return
			}
			if !yield(f, nil) {
				return
			}
		}
	}
}

const dataMarker = "data:"

func eventData(line string) (string, bool) {
	if !strings.HasPrefix(line, dataMarker) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataMarker):]), true
}
