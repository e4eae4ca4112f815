package review

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/store"
	"essay-proxy/api/internal/stream"
)

const openAIChunks = "data: {\"choices\":[{\"delta\":{\"content\":\"<thinking>o\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"k</thinking><suggestions>[]</suggestions>\"}}]}\n\n" +
	"data: [DONE]\n\n"

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

func newService(t *testing.T, opts Options) *Service {
	t.Helper()
	return New(opts, &http.Client{Timeout: 5 * time.Second})
}

func TestReview_OpenAIStream(t *testing.T) {
	var gotBody []byte
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, openAIChunks)
	}))
	defer srv.Close()

	s := newService(t, Options{OpenAIBaseURL: srv.URL, OpenAIModel: "gpt-4o-mini"})
	var updates []feedback.Update
	res, err := s.Review(context.Background(), Job{
		Target: s.Target(stream.KindOpenAI, "sk-test", ""),
		Input:  Input{Text: "My essay."},
		Stream: true,
	}, func(u feedback.Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if res.Narrative != "ok" || len(res.Suggestions) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer credential, got %q", gotAuth)
	}
	if !gjson.GetBytes(gotBody, "stream").Bool() {
		t.Error("stream flag must be sent upstream")
	}
	if m := gjson.GetBytes(gotBody, "model").String(); m != "gpt-4o-mini" {
		t.Errorf("default model expected, got %q", m)
	}
	if !strings.Contains(gjson.GetBytes(gotBody, "messages.1.content").String(), "My essay.") {
		t.Error("essay text must be in the user message")
	}
	if len(updates) != 2 || updates[0].Narrative != "o" || !updates[1].NarrativeDone {
		t.Errorf("unexpected updates: %+v", updates)
	}
}

func TestReview_GeminiBatchWithImage(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"<thinking> fine </thinking><suggestions>[{\"title\":\"x\"}]</suggestions>"}]}}]}`)
	}))
	defer srv.Close()

	s := newService(t, Options{GeminiBaseURL: "http://unused.invalid", GeminiAPIKey: "server-key", GeminiModel: "gemini-1.5-flash"})
	png := []byte("\x89PNG\r\n\x1a\n rest")
	res, err := s.Review(context.Background(), Job{
		Target: s.Target(stream.KindGemini, "", srv.URL),
		Input:  Input{Image: png},
	}, nil)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if gotPath != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "server-key" {
		t.Errorf("server key must be used as fallback, got %q", gotKey)
	}
	if mt := gjson.GetBytes(gotBody, "contents.0.parts.1.inlineData.mimeType").String(); mt != "image/png" {
		t.Errorf("expected sniffed png, got %q", mt)
	}
	if res.Narrative != "fine" || len(res.Suggestions) != 1 || res.Suggestions[0].Title != "x" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestReview_GeminiStreamUsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") || r.URL.Query().Get("alt") != "sse" {
			t.Errorf("unexpected url %s", r.URL)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"<thinking>a</thinking>\"}]}}]}\r\n\r\n")
	}))
	defer srv.Close()

	s := newService(t, Options{GeminiBaseURL: srv.URL, GeminiModel: "gemini-1.5-flash"})
	res, err := s.Review(context.Background(), Job{
		Target: s.Target(stream.KindGemini, "client-key", ""),
		Input:  Input{Text: "essay"},
		Stream: true,
	}, nil)
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if res.Narrative != "a" {
		t.Errorf("expected narrative 'a', got %q", res.Narrative)
	}
}

func TestReview_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	s := newService(t, Options{OpenAIBaseURL: srv.URL})

	_, err := s.Review(context.Background(), Job{Target: s.Target(stream.KindOpenAI, "", ""), Input: Input{Text: "x"}}, nil)
	if !errors.Is(err, ErrMissingCredential) {
		t.Errorf("expected ErrMissingCredential, got %v", err)
	}

	_, err = s.Review(context.Background(), Job{Target: s.Target(stream.KindOpenAI, "k", "")}, nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}

	_, err = s.Review(context.Background(), Job{Target: s.Target(stream.KindOpenAI, "k", ""), Input: Input{Text: "x"}}, nil)
	var ue *UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ue.Unauthorized() || !strings.Contains(ue.Body, "bad key") {
		t.Errorf("unexpected upstream error: %+v", ue)
	}
}

func TestConsumeStream_PartialOnReadError(t *testing.T) {
	boom := errors.New("reset")
	body := io.MultiReader(
		strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"<thinking>x</thinking>\"}}]}\n"),
		errReader{boom},
	)
	res, err := ConsumeStream(context.Background(), stream.KindOpenAI, body, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
	if res.Narrative != "x" {
		t.Errorf("partial result expected, got %+v", res)
	}
}

func TestConsumeStream_UnclosedRecordsFallBack(t *testing.T) {
	in := "data: {\"choices\":[{\"delta\":{\"content\":\"<thinking>n</thinking><suggestions>[\"}}]}\n"
	res, err := ConsumeStream(context.Background(), stream.KindOpenAI, strings.NewReader(in), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Narrative != "n" || res.Suggestions == nil || len(res.Suggestions) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

type memCache struct {
	rows  map[string]feedback.Result
	saved int
}

func (m *memCache) FindByHash(_ context.Context, hash, backend, model string, _ time.Duration) (*store.ReviewRow, error) {
	res, ok := m.rows[hash+backend+model]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ReviewRow{InputHash: hash, Backend: backend, Model: model, Result: res}, nil
}

func (m *memCache) Upsert(_ context.Context, hash, backend, model string, res feedback.Result) error {
	m.rows[hash+backend+model] = res
	m.saved++
	return nil
}

func TestReview_Cache(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"<thinking>cached</thinking>"}}]}`)
	}))
	defer srv.Close()

	cache := &memCache{rows: map[string]feedback.Result{}}
	s := newService(t, Options{OpenAIBaseURL: srv.URL, OpenAIModel: "m", Cache: cache, CacheTTL: time.Hour})
	job := Job{Target: s.Target(stream.KindOpenAI, "k", ""), Input: Input{Text: "same essay"}}

	for i := 0; i < 2; i++ {
		var last feedback.Update
		res, err := s.Review(context.Background(), job, func(u feedback.Update) { last = u })
		if err != nil {
			t.Fatalf("Review #%d: %v", i, err)
		}
		if res.Narrative != "cached" {
			t.Errorf("Review #%d: unexpected narrative %q", i, res.Narrative)
		}
		if i == 1 && !last.NarrativeDone {
			t.Error("cache hit must still notify the sink")
		}
	}
	if calls != 1 {
		t.Errorf("expected one upstream call, got %d", calls)
	}
	if cache.saved != 1 {
		t.Errorf("expected one save, got %d", cache.saved)
	}
}

func TestInputHash(t *testing.T) {
	a := InputHash("p", "https://g", Input{Text: "x"})
	if a != InputHash("p", "https://g", Input{Text: "x"}) {
		t.Error("hash must be stable")
	}
	if a == InputHash("q", "https://g", Input{Text: "x"}) {
		t.Error("prompt must be part of the hash")
	}
	if a == InputHash("p", "https://relay.example", Input{Text: "x"}) {
		t.Error("upstream base must be part of the hash")
	}
	if InputHash("p", "b", Input{Text: "ab"}) == InputHash("p", "b", Input{Text: "a", Image: []byte("b")}) {
		t.Error("text and image must not run together")
	}
	png := Input{Image: []byte{1, 2}, ImageMIME: "image/png"}
	jpg := Input{Image: []byte{1, 2}, ImageMIME: "image/jpeg"}
	if InputHash("p", "b", png) == InputHash("p", "b", jpg) {
		t.Error("image MIME must be part of the hash")
	}
}

func TestTarget(t *testing.T) {
	s := New(Options{GeminiBaseURL: "https://g", OpenAIBaseURL: "https://o", OpenAIAPIKey: "srv"}, nil)
	tg := s.Target(stream.KindOpenAI, "", " http://proxy/ ")
	if tg.Credential != "srv" || tg.Base() != "http://proxy" {
		t.Errorf("unexpected target: %+v base=%s", tg, tg.Base())
	}
	if got := s.Target(stream.KindGemini, "", "").Base(); got != "https://g" {
		t.Errorf("unexpected gemini base %q", got)
	}
}

func TestBackendSelection(t *testing.T) {
	s := New(Options{GeminiTransport: "sdk"}, nil)
	b, _ := s.backend(Target{Kind: stream.KindGemini})
	if b.Name() != "gemini-sdk" {
		t.Errorf("expected sdk backend, got %s", b.Name())
	}
	b, _ = s.backend(Target{Kind: stream.KindGemini, ProxyOverride: "http://p"})
	if b.Name() != "gemini" {
		t.Errorf("override must use the HTTP backend, got %s", b.Name())
	}
	if _, err := s.backend(Target{Kind: "claude"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt("")
	if err != nil || p != DefaultPrompt {
		t.Fatalf("expected default prompt, got %v", err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte("  custom <thinking>\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if p, err := LoadPrompt(path); err != nil || p != "custom <thinking>" {
		t.Errorf("unexpected prompt %q, %v", p, err)
	}
	if _, err := LoadPrompt(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSetPrompt(t *testing.T) {
	var system string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		system = gjson.GetBytes(b, "messages.0.content").String()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, openAIChunks)
	}))
	defer srv.Close()

	s := newService(t, Options{OpenAIBaseURL: srv.URL})
	if s.Prompt() != DefaultPrompt {
		t.Fatal("expected the default prompt")
	}
	if err := s.SetPrompt("  "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt, got %v", err)
	}
	if err := s.SetPrompt(" Be brief. "); err != nil {
		t.Fatal(err)
	}
	_, err := s.Review(context.Background(), Job{
		Target: s.Target(stream.KindOpenAI, "k", ""),
		Input:  Input{Text: "x"},
		Stream: true,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if system != "Be brief." {
		t.Errorf("new prompt not sent, got %q", system)
	}
}

func TestSavePrompt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prompt.txt")
	if err := SavePrompt(path, "v1"); err != nil {
		t.Fatal(err)
	}
	if err := SavePrompt(path, "v2"); err != nil {
		t.Fatal(err)
	}
	if p, err := LoadPrompt(path); err != nil || p != "v2" {
		t.Errorf("unexpected prompt %q, %v", p, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}

func TestReview_CacheKeyIncludesOverride(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"<thinking>x</thinking>"}}]}`)
	}))
	defer srv.Close()

	cache := &memCache{rows: map[string]feedback.Result{}}
	s := newService(t, Options{OpenAIBaseURL: srv.URL, OpenAIModel: "m", Cache: cache, CacheTTL: time.Hour})
	in := Input{Text: "same essay"}
	for _, override := range []string{"", srv.URL + "/"} {
		job := Job{Target: s.Target(stream.KindOpenAI, "k", override), Input: in}
		if _, err := s.Review(context.Background(), job, nil); err != nil {
			t.Fatalf("Review (override %q): %v", override, err)
		}
	}
	if calls != 1 {
		// одинаковый base после TrimRight: запись общая
		t.Errorf("same effective base should share the entry, got %d calls", calls)
	}
	job := Job{Target: s.Target(stream.KindOpenAI, "k", srv.URL+"/relay"), Input: in}
	_, _ = s.Review(context.Background(), job, nil)
	if calls != 2 {
		t.Errorf("a different upstream base must miss the cache, got %d calls", calls)
	}
}

func TestConsumeStream_TwoFrameNarrative(t *testing.T) {
	in := "data: {\"choices\":[{\"delta\":{\"content\":\"<thinking>ok\"}}]}\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"</thinking>\"}}]}\n" +
		"data: [DONE]\n"
	var updates []feedback.Update
	res, err := ConsumeStream(context.Background(), stream.KindOpenAI, strings.NewReader(in),
		func(u feedback.Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Narrative != "ok" || res.Suggestions == nil || len(res.Suggestions) != 0 {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(updates) != 2 || updates[0].Narrative != "ok" || updates[0].NarrativeDone || !updates[1].NarrativeDone {
		t.Errorf("unexpected updates: %+v", updates)
	}
}
