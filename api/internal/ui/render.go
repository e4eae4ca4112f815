package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"essay-proxy/api/internal/feedback"
)

var (
	headerStyle = color.New(color.FgCyan, color.Bold)
	titleStyle  = color.New(color.FgYellow, color.Bold)
	origStyle   = color.New(color.FgRed)
	fixStyle    = color.New(color.FgGreen)
	dimStyle    = color.New(color.Faint)
)

// Renderer prints parser updates as they arrive: the narrative is echoed
// incrementally, suggestions are printed once their region closes.
type Renderer struct {
	w io.Writer

	started        bool
	wrote          bool
	lead           int // leading whitespace skipped in the open narrative
	printed        int // bytes of the open narrative already written
	narrativeDone  bool
	suggestionDone bool
}

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Started reports whether anything was written yet.
func (r *Renderer) Started() bool { return r.started }

func (r *Renderer) Update(u feedback.Update) {
	if !r.narrativeDone {
		r.narrative(u.Narrative, u.NarrativeDone)
	}
	// пока нарратив печатается, список не вклиниваем
	if u.SuggestionsDone && !r.suggestionDone && (r.narrativeDone || !r.wrote) {
		r.suggestions(u.Suggestions)
	}
}

// Final prints whatever the live updates did not cover.
func (r *Renderer) Final(res feedback.Result) {
	if !r.narrativeDone {
		r.narrative(res.Narrative, true)
	}
	if !r.suggestionDone {
		r.suggestions(res.Suggestions)
	}
}

func (r *Renderer) narrative(s string, done bool) {
	if done {
		// закрытый нарратив приходит уже обрезанным
		if !r.wrote {
			if t := strings.TrimSpace(s); t != "" {
				r.header("Feedback")
				fmt.Fprint(r.w, t)
				r.wrote = true
			}
		} else if off := r.printed - r.lead; off < len(s) {
			fmt.Fprint(r.w, s[off:])
		}
		if r.wrote {
			fmt.Fprintln(r.w)
		}
		r.narrativeDone = true
		return
	}
	if !r.wrote {
		t := strings.TrimLeft(s, " \t\r\n")
		if t == "" {
			return
		}
		r.header("Feedback")
		r.lead = len(s) - len(t)
		r.printed = r.lead
		r.wrote = true
	}
	if end := len(s) - partialSuffix(s, feedback.NarrativeClose); end > r.printed {
		fmt.Fprint(r.w, s[r.printed:end])
		r.printed = end
	}
}

// partialSuffix returns how many trailing bytes of s may be the start of tag.
func partialSuffix(s, tag string) int {
	for k := min(len(tag)-1, len(s)); k > 0; k-- {
		if strings.HasSuffix(s, tag[:k]) {
			return k
		}
	}
	return 0
}

func (r *Renderer) suggestions(list []feedback.Suggestion) {
	r.suggestionDone = true
	if len(list) == 0 {
		return
	}
	r.header(fmt.Sprintf("Suggestions (%d)", len(list)))
	for i, s := range list {
		titleStyle.Fprintf(r.w, "%d. %s\n", i+1, s.Title)
		if s.Original != "" {
			origStyle.Fprintf(r.w, "   - %s\n", s.Original)
		}
		if s.Corrected != "" {
			fixStyle.Fprintf(r.w, "   + %s\n", s.Corrected)
		}
		if s.Explanation != "" {
			dimStyle.Fprintf(r.w, "   %s\n", s.Explanation)
		}
	}
}

func (r *Renderer) header(title string) {
	if r.started {
		fmt.Fprintln(r.w)
	}
	r.started = true
	headerStyle.Fprintf(r.w, "%s\n\n", title)
}
