package feedback

import (
	"strings"

	"github.com/rs/zerolog/log"
)

type regionState uint8

const (
	regionIdle regionState = iota
	regionOpen
	regionClosed
)

// region tracks one tag-delimited span of the accumulated text. cursor is
// the offset the next search starts from; it trails the end of the text by
// len(tag)-1 bytes so a tag split across fragments is still found, and no
// byte is searched more than len(tag) times.
type region struct {
	open, close string

	state  regionState
	start  int // first byte after the opening tag
	end    int // first byte of the closing tag
	cursor int
}

func (g *region) scan(text string) {
	if g.state == regionIdle {
		i := strings.Index(text[g.cursor:], g.open)
		if i < 0 {
			g.cursor = backoff(len(text), len(g.open), g.cursor)
			return
		}
		g.start = g.cursor + i + len(g.open)
		g.cursor = g.start
		g.state = regionOpen
	}
	if g.state == regionOpen {
		i := strings.Index(text[g.cursor:], g.close)
		if i < 0 {
			g.cursor = backoff(len(text), len(g.close), g.cursor)
			return
		}
		g.end = g.cursor + i
		g.state = regionClosed
	}
}

func backoff(textLen, tagLen, cur int) int {
	if next := textLen - tagLen + 1; next > cur {
		return next
	}
	return cur
}

// Parser rebuilds a Result from a response delivered in fragments. It keeps
// per-session state and must be fed from a single goroutine.
type Parser struct {
	text      strings.Builder
	narrative region
	records   region
	result    Result
}

func NewParser() *Parser {
	return &Parser{
		narrative: region{open: NarrativeOpen, close: NarrativeClose},
		records:   region{open: SuggestionsOpen, close: SuggestionsClose},
		result:    Result{Suggestions: []Suggestion{}},
	}
}

// Feed appends the next fragment and returns the state visible so far.
func (p *Parser) Feed(fragment string) Update {
	p.text.WriteString(fragment)
	text := p.text.String()

	if p.narrative.state != regionClosed {
		p.narrative.scan(text)
		if p.narrative.state == regionClosed {
			p.result.Narrative = strings.TrimSpace(text[p.narrative.start:p.narrative.end])
		}
	}
	if p.records.state != regionClosed {
		p.records.scan(text)
		if p.records.state == regionClosed {
			p.result.Suggestions = decodeSuggestions(text[p.records.start:p.records.end])
		}
	}
	return p.update(text)
}

func (p *Parser) update(text string) Update {
	u := Update{
		NarrativeDone:   p.narrative.state == regionClosed,
		SuggestionsDone: p.records.state == regionClosed,
		Suggestions:     p.result.Suggestions,
	}
	switch p.narrative.state {
	case regionOpen:
		u.Narrative = text[p.narrative.start:]
	case regionClosed:
		u.Narrative = p.result.Narrative
	}
	if p.records.state == regionOpen {
		u.Pending = text[p.records.start:]
	}
	return u
}

// Result returns the fields resolved so far. Regions that have not closed
// are reported at their defaults.
func (p *Parser) Result() Result {
	out := Result{
		Narrative:   p.result.Narrative,
		Suggestions: make([]Suggestion, len(p.result.Suggestions)),
	}
	copy(out.Suggestions, p.result.Suggestions)
	return out
}

// Complete reports whether both regions have closed.
func (p *Parser) Complete() bool {
	return p.narrative.state == regionClosed && p.records.state == regionClosed
}

// Text returns everything fed so far.
func (p *Parser) Text() string {
	return p.text.String()
}

// Finish is called once the stream ended. When a region never closed
// incrementally the accumulated text is handed to Assemble.
func (p *Parser) Finish() Result {
	if p.Complete() {
		return p.Result()
	}
	log.Debug().
		Bool("narrative_closed", p.narrative.state == regionClosed).
		Bool("suggestions_closed", p.records.state == regionClosed).
		Int("len", p.text.Len()).
		Msg("feedback: stream ended with open regions, assembling")
	return Assemble(p.Text())
}
