package feedback

// Suggestion is one discrete editorial change proposed by the model.
// Fields missing from the model output stay empty.
type Suggestion struct {
	Title       string `json:"title"`
	Original    string `json:"original"`
	Corrected   string `json:"corrected"`
	Explanation string `json:"explanation"`
}

// Result is the structured form of a model response.
type Result struct {
	Narrative   string       `json:"narrative"`
	Suggestions []Suggestion `json:"suggestions"`
}

// Update is the parser state exposed after each fragment, for live display.
type Update struct {
	// Narrative holds the text captured after the opening tag while the
	// region is open, and the final trimmed narrative once it closed.
	Narrative     string `json:"narrative"`
	NarrativeDone bool   `json:"narrative_done"`

	// Pending holds the raw records text captured so far while the region
	// is open.
	Pending         string       `json:"pending,omitempty"`
	Suggestions     []Suggestion `json:"suggestions"`
	SuggestionsDone bool         `json:"suggestions_done"`
}

// FallbackTitle marks the synthetic record produced when the suggestions
// region is not valid JSON.
const FallbackTitle = "Suggestions"

const (
	NarrativeOpen    = "<thinking>"
	NarrativeClose   = "</thinking>"
	SuggestionsOpen  = "<suggestions>"
	SuggestionsClose = "</suggestions>"
)
