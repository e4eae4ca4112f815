package feedback

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/util"
)

// Assemble extracts a Result from a complete response in one pass. It uses
// the same rules as Parser: first opening tag, first closing tag after it,
// surrounding whitespace trimmed.
func Assemble(text string) Result {
	res := Result{Suggestions: []Suggestion{}}
	if body, ok := between(text, NarrativeOpen, NarrativeClose); ok {
		res.Narrative = strings.TrimSpace(body)
	}
	if body, ok := between(text, SuggestionsOpen, SuggestionsClose); ok {
		res.Suggestions = decodeSuggestions(body)
	}
	return res
}

func between(text, open, close string) (string, bool) {
	i := strings.Index(text, open)
	if i < 0 {
		return "", false
	}
	rest := text[i+len(open):]
	j := strings.Index(rest, close)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// decodeSuggestions never fails: text that is not a JSON array of
// suggestions comes back as a single record carrying the raw text.
func decodeSuggestions(raw string) []Suggestion {
	s := strings.TrimSpace(raw)
	if s == "" {
		return []Suggestion{}
	}
	var out []Suggestion
	err := json.Unmarshal([]byte(s), &out)
	if err != nil {
		// модели любят заворачивать JSON в ```json … ```
		if unfenced := util.StripCodeFences(s); unfenced != s {
			out = nil
			err = json.Unmarshal([]byte(unfenced), &out)
		}
	}
	if err != nil {
		log.Debug().Err(err).Int("len", len(s)).Msg("feedback: suggestions are not valid JSON, degrading")
		return []Suggestion{{Title: FallbackTitle, Explanation: s}}
	}
	if out == nil {
		out = []Suggestion{}
	}
	return out
}
