package review

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// DefaultPrompt only fixes the output contract; deployments ship their own
// wording through PROMPT_FILE.
const DefaultPrompt = `You are an experienced English teacher reviewing a student's essay.
Analyse grammar, vocabulary, sentence structure and coherence, then answer strictly in this format:

<thinking>
[your analysis of the essay]
</thinking>

<suggestions>
[
  {
    "title": "type of the issue",
    "original": "the original sentence",
    "corrected": "the corrected sentence",
    "explanation": "why the change is needed"
  }
]
</suggestions>

Keep the tags exactly as shown so the answer can be parsed.`

const (
	textLead  = "Please review the following essay:\n\n"
	imageLead = "Please review the essay in the image."
)

// LoadPrompt читает промпт из файла; для пустого пути встроенный DefaultPrompt.
func LoadPrompt(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultPrompt, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	p := strings.TrimSpace(string(b))
	if p == "" {
		return "", fmt.Errorf("prompt %s is empty", path)
	}
	return p, nil
}

type promptRef struct {
	v atomic.Pointer[string]
}

func newPromptRef(p string) *promptRef {
	r := &promptRef{}
	r.v.Store(&p)
	return r
}

func (r *promptRef) Load() string   { return *r.v.Load() }
func (r *promptRef) Store(p string) { r.v.Store(&p) }

// SavePrompt writes the prompt to path atomically: a temp file in the same
// directory, then rename.
func SavePrompt(path, text string) error {
	dir, name := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("make dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp: %w", err)
	}
	_ = tmp.Chmod(0o644)
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
