package stream

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func collect(t *testing.T, kind Kind, r io.Reader) ([]Frame, error) {
	t.Helper()
	d, err := NewDecoder(kind, r)
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	var out []Frame
	for f, err := range Frames(d) {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func deltas(frames []Frame) string {
	var b strings.Builder
	for _, f := range frames {
		b.WriteString(f.Delta)
	}
	return b.String()
}

const openAIStream = `data: {"choices":[{"delta":{"role":"assistant","content":""}}]}

data: {"choices":[{"delta":{"content":"<thinking>ok"}}]}

data: {"choices":[{"delta":{"content":"</thinking>"}}]}

data: {"choices":[{"delta":{},"finish_reason":"stop"}]}

data: [DONE]

`

func TestDecoder_OpenAI(t *testing.T) {
	frames, err := collect(t, KindOpenAI, strings.NewReader(openAIStream))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := deltas(frames); got != "<thinking>ok</thinking>" {
		t.Errorf("unexpected text: %q", got)
	}
	last := frames[len(frames)-1]
	if !last.Terminal {
		t.Errorf("expected terminal frame last, got %+v", last)
	}
	if last.Delta != "" {
		t.Errorf("terminal frame must carry no content, got %q", last.Delta)
	}
}

func TestDecoder_OpenAI_StopsAtDone(t *testing.T) {
	in := openAIStream + `data: {"choices":[{"delta":{"content":"after done"}}]}` + "\n"
	frames, err := collect(t, KindOpenAI, strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(deltas(frames), "after done") {
		t.Error("frames after [DONE] must not be emitted")
	}
}

func TestDecoder_Gemini(t *testing.T) {
	in := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hello\"}],\"role\":\"model\"}}]}\r\n\r\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\", world\"}],\"role\":\"model\"},\"finishReason\":\"STOP\"}]}\r\n\r\n"
	frames, err := collect(t, KindGemini, strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := deltas(frames); got != "Hello, world" {
		t.Errorf("expected 'Hello, world', got %q", got)
	}
	for _, f := range frames {
		if f.Terminal {
			t.Error("gemini stream has no terminal sentinel")
		}
	}
}

func TestDecoder_OneByteReads(t *testing.T) {
	r := iotest.OneByteReader(strings.NewReader(openAIStream))
	frames, err := collect(t, KindOpenAI, r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := deltas(frames); got != "<thinking>ok</thinking>" {
		t.Errorf("unexpected text with one-byte reads: %q", got)
	}
}

func TestDecoder_DropsMalformedLines(t *testing.T) {
	in := "data: {not json\n" +
		": keep-alive comment\n" +
		"event: message\n" +
		"data: {\"choices\":[]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"kept\"}}]}\n"
	frames, err := collect(t, KindOpenAI, strings.NewReader(in))
	if err != nil {
		t.Fatalf("malformed lines must not be fatal: %v", err)
	}
	if len(frames) != 1 || frames[0].Delta != "kept" {
		t.Errorf("expected only the valid frame, got %+v", frames)
	}
}

func TestDecoder_UnterminatedTailIgnored(t *testing.T) {
	in := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"b\"}}]}"
	frames, err := collect(t, KindOpenAI, strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := deltas(frames); got != "a" {
		t.Errorf("a line without newline must not be interpreted, got %q", got)
	}
}

func TestDecoder_ReadErrorSurfaces(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"),
		iotest.ErrReader(boom),
	)
	frames, err := collect(t, KindOpenAI, r)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if deltas(frames) != "x" {
		t.Errorf("frames before the error must be delivered, got %+v", frames)
	}
}

func TestNewDecoder_UnknownKind(t *testing.T) {
	if _, err := NewDecoder(Kind("anthropic"), strings.NewReader("")); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestParseKind(t *testing.T) {
	cases := map[string]Kind{"gemini": KindGemini, " OpenAI ": KindOpenAI, "gpt": KindOpenAI, "google": KindGemini}
	for in, want := range cases {
		got, err := ParseKind(in)
		if err != nil {
			t.Errorf("ParseKind(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseKind(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseKind("claude"); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestLineBuffer(t *testing.T) {
	var b LineBuffer
	if got := b.Feed("data: a"); len(got) != 0 {
		t.Fatalf("partial line must be held, got %q", got)
	}
	got := b.Feed("bc\r\ndata: d\nda")
	if len(got) != 2 || got[0] != "data: abc" || got[1] != "data: d" {
		t.Fatalf("unexpected lines: %q", got)
	}
	if b.Pending() != "da" {
		t.Errorf("expected pending 'da', got %q", b.Pending())
	}
	got = b.Feed("\n")
	if len(got) != 1 || got[0] != "da" {
		t.Errorf("unexpected completion: %q", got)
	}
}
