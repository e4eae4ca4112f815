package review

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
)

// Target is the upstream a single request goes to.
type Target struct {
	Kind       stream.Kind
	BaseURL    string
	Credential string
	// ProxyOverride replaces BaseURL when set.
	ProxyOverride string
}

// Base returns the effective upstream base without a trailing slash.
func (t Target) Base() string {
	if o := strings.TrimSpace(t.ProxyOverride); o != "" {
		return strings.TrimRight(o, "/")
	}
	return strings.TrimRight(t.BaseURL, "/")
}

// Input is the essay itself: text, an image, or both.
type Input struct {
	Text      string
	Image     []byte
	ImageMIME string
}

func (in Input) Empty() bool {
	return strings.TrimSpace(in.Text) == "" && len(in.Image) == 0
}

type Job struct {
	Target Target
	Model  string
	Input  Input
	Stream bool
}

// Sink receives the parser state after every fragment.
type Sink func(feedback.Update)

type Backend interface {
	Name() string
	Review(ctx context.Context, job Job, sink Sink) (feedback.Result, error)
}

var (
	ErrMissingCredential = errors.New("credential required")
	ErrEmptyInput        = errors.New("essay text or image required")
	ErrEmptyPrompt       = errors.New("prompt is empty")
)

// UpstreamError is a non-2xx answer from the provider.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %d: %s", e.Status, e.Body)
}

// Unauthorized reports whether the provider rejected the credential.
func (e *UpstreamError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

type Options struct {
	GeminiBaseURL   string
	GeminiAPIKey    string
	GeminiModel     string
	GeminiTransport string

	OpenAIBaseURL string
	OpenAIAPIKey  string
	OpenAIModel   string

	Prompt string

	Cache    Cache
	CacheTTL time.Duration
}

type Service struct {
	opts   Options
	prompt *promptRef

	openai    Backend
	gemini    Backend
	geminiSDK Backend
}

func New(opts Options, httpc *http.Client) *Service {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if httpc == nil {
		httpc = http.DefaultClient
	}
	prompt := newPromptRef(opts.Prompt)
	return &Service{
		opts:      opts,
		prompt:    prompt,
		openai:    &openAIBackend{httpc: httpc, prompt: prompt},
		gemini:    &geminiBackend{httpc: httpc, prompt: prompt},
		geminiSDK: &geminiSDKBackend{prompt: prompt},
	}
}

// Prompt returns the system prompt requests are currently sent with.
func (s *Service) Prompt() string { return s.prompt.Load() }

// SetPrompt swaps the system prompt for requests built after it returns.
func (s *Service) SetPrompt(p string) error {
	p = strings.TrimSpace(p)
	if p == "" {
		return ErrEmptyPrompt
	}
	s.prompt.Store(p)
	return nil
}

// DefaultModel returns the configured model for a backend.
func (s *Service) DefaultModel(kind stream.Kind) string {
	if kind == stream.KindGemini {
		return s.opts.GeminiModel
	}
	return s.opts.OpenAIModel
}

// Target fills in server defaults: base URL and, when the caller sent
// none, the server-held credential.
func (s *Service) Target(kind stream.Kind, credential, override string) Target {
	t := Target{Kind: kind, Credential: strings.TrimSpace(credential), ProxyOverride: strings.TrimSpace(override)}
	switch kind {
	case stream.KindGemini:
		t.BaseURL = s.opts.GeminiBaseURL
		if t.Credential == "" {
			t.Credential = s.opts.GeminiAPIKey
		}
	case stream.KindOpenAI:
		t.BaseURL = s.opts.OpenAIBaseURL
		if t.Credential == "" {
			t.Credential = s.opts.OpenAIAPIKey
		}
	}
	return t
}

func (s *Service) backend(t Target) (Backend, error) {
	switch t.Kind {
	case stream.KindOpenAI:
		return s.openai, nil
	case stream.KindGemini:
		// SDK ходит только на свой endpoint, поэтому override всегда через HTTP
		if s.opts.GeminiTransport == "sdk" && t.ProxyOverride == "" {
			return s.geminiSDK, nil
		}
		return s.gemini, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", t.Kind)
	}
}

// Review runs one essay through the upstream. Updates go to sink while the
// answer streams; the returned Result is final.
func (s *Service) Review(ctx context.Context, job Job, sink Sink) (feedback.Result, error) {
	if job.Input.Empty() {
		return feedback.Result{}, ErrEmptyInput
	}
	if job.Target.Credential == "" {
		return feedback.Result{}, ErrMissingCredential
	}
	if job.Model == "" {
		job.Model = s.DefaultModel(job.Target.Kind)
	}
	b, err := s.backend(job.Target)
	if err != nil {
		return feedback.Result{}, err
	}

	lg := zerolog.Ctx(ctx).With().Str("backend", b.Name()).Str("model", job.Model).Bool("stream", job.Stream).Logger()

	var hash string
	if s.opts.Cache != nil {
		hash = InputHash(s.Prompt(), job.Target.Base(), job.Input)
		if res, ok := s.lookup(ctx, hash, job); ok {
			lg.Info().Msg("review: cache hit")
			if sink != nil {
				sink(feedback.Update{
					Narrative: res.Narrative, NarrativeDone: true,
					Suggestions: res.Suggestions, SuggestionsDone: true,
				})
			}
			return res, nil
		}
	}

	start := time.Now()
	res, err := b.Review(ctx, job, sink)
	if err != nil {
		lg.Warn().Err(err).Dur("took", time.Since(start)).Msg("review failed")
		return res, err
	}
	lg.Info().Int("suggestions", len(res.Suggestions)).Dur("took", time.Since(start)).Msg("review done")

	if s.opts.Cache != nil {
		s.save(ctx, hash, job, res)
	}
	return res, nil
}
