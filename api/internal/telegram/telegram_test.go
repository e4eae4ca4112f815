package telegram

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/stream"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

type fakeBot struct {
	mu     sync.Mutex
	sent   []tgbotapi.MessageConfig
	edits  []string
	nextID int
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	b.nextID++
	return tgbotapi.Message{MessageID: b.nextID}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := c.(tgbotapi.EditMessageTextConfig); ok {
		b.edits = append(b.edits, e.Text)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) GetFileDirectURL(string) (string, error) {
	return "", errors.New("not used")
}

type fakeReviewer struct {
	jobs    []review.Job
	updates []feedback.Update
	result  feedback.Result
	err     error
}

func (f *fakeReviewer) Target(kind stream.Kind, credential, override string) review.Target {
	return review.Target{Kind: kind, Credential: "server"}
}

func (f *fakeReviewer) Review(_ context.Context, job review.Job, sink review.Sink) (feedback.Result, error) {
	f.jobs = append(f.jobs, job)
	for _, u := range f.updates {
		sink(u)
	}
	return f.result, f.err
}

func command(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(strings.Fields(text)[0])
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func textMessage(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: text}}
}

func TestTextReview_LiveEditsAndSuggestions(t *testing.T) {
	bot := &fakeBot{}
	rv := &fakeReviewer{
		updates: []feedback.Update{{Narrative: "Good"}, {Narrative: "Good start.", NarrativeDone: true}},
		result: feedback.Result{
			Narrative:   "Good start.",
			Suggestions: []feedback.Suggestion{{Title: "Grammar", Original: "He go", Corrected: "He goes", Explanation: "third person"}},
		},
	}
	r := &Router{Bot: bot, Reviewer: rv, GeminiModel: "gemini-1.5-flash", OpenAIModel: "gpt-4o-mini"}

	r.HandleUpdate(context.Background(), textMessage(7, "He go to school."))

	if len(rv.jobs) != 1 {
		t.Fatalf("expected one review, got %d", len(rv.jobs))
	}
	job := rv.jobs[0]
	if job.Target.Kind != stream.KindGemini || !job.Stream || job.Input.Text != "He go to school." {
		t.Errorf("unexpected job: %+v", job)
	}
	if len(bot.edits) == 0 || bot.edits[len(bot.edits)-1] != "💭 Good start." {
		t.Errorf("placeholder must end with the narrative, edits: %q", bot.edits)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected placeholder and one suggestions message, got %d", len(bot.sent))
	}
	last := bot.sent[1]
	for _, want := range []string{"1. Grammar", "❌ He go", "✅ He goes", "💡 third person"} {
		if !strings.Contains(last.Text, want) {
			t.Errorf("suggestions message misses %q: %q", want, last.Text)
		}
	}
	if last.ReplyMarkup == nil {
		t.Error("the last message must carry the rerun keyboard")
	}
}

func TestEngineCommand(t *testing.T) {
	bot := &fakeBot{}
	rv := &fakeReviewer{result: feedback.Result{Suggestions: []feedback.Suggestion{}}}
	r := &Router{Bot: bot, Reviewer: rv}

	r.HandleUpdate(context.Background(), command(1, "/engine openai gpt-4o"))
	r.HandleUpdate(context.Background(), textMessage(1, "essay"))

	if len(rv.jobs) != 1 {
		t.Fatalf("expected one review, got %d", len(rv.jobs))
	}
	if rv.jobs[0].Target.Kind != stream.KindOpenAI || rv.jobs[0].Model != "gpt-4o" {
		t.Errorf("chat preference ignored: %+v", rv.jobs[0])
	}

	r.HandleUpdate(context.Background(), command(1, "/engine claude"))
	if got := bot.sent[len(bot.sent)-1].Text; !strings.Contains(got, "Неизвестный движок") {
		t.Errorf("expected rejection, got %q", got)
	}
}

func TestRerunCallback(t *testing.T) {
	bot := &fakeBot{}
	rv := &fakeReviewer{result: feedback.Result{Suggestions: []feedback.Suggestion{}}}
	r := &Router{Bot: bot, Reviewer: rv}

	r.HandleUpdate(context.Background(), textMessage(3, "essay"))
	r.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    rerunPrefix + "openai",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 3}},
	}})
	if len(rv.jobs) != 2 {
		t.Fatalf("expected a second review, got %d", len(rv.jobs))
	}
	if rv.jobs[1].Target.Kind != stream.KindOpenAI || rv.jobs[1].Input.Text != "essay" {
		t.Errorf("rerun must reuse the essay with the other backend: %+v", rv.jobs[1])
	}
}

func TestReviewError(t *testing.T) {
	bot := &fakeBot{}
	rv := &fakeReviewer{err: &review.UpstreamError{Status: 401, Body: "bad"}}
	r := &Router{Bot: bot, Reviewer: rv}

	r.HandleUpdate(context.Background(), textMessage(5, "essay"))
	if len(bot.edits) != 1 || !strings.Contains(bot.edits[0], "отклонил ключ") {
		t.Errorf("expected a key error, got %q", bot.edits)
	}
	if len(bot.sent) != 1 {
		t.Errorf("no suggestions may be sent after an error, got %d messages", len(bot.sent))
	}
}

func TestFormatSuggestions(t *testing.T) {
	if got := formatSuggestions(nil); len(got) != 1 || got[0] != "✅ Правок нет." {
		t.Errorf("unexpected empty rendering: %q", got)
	}

	long := strings.Repeat("x", 1500)
	list := make([]feedback.Suggestion, 6)
	for i := range list {
		list[i] = feedback.Suggestion{Title: "t", Explanation: long}
	}
	msgs := formatSuggestions(list)
	if len(msgs) < 3 {
		t.Errorf("expected the list to be split, got %d messages", len(msgs))
	}
	total := 0
	for _, m := range msgs {
		if len(m) > maxMessage {
			t.Errorf("message of %d bytes exceeds the limit", len(m))
		}
		total += strings.Count(m, long)
	}
	if total != len(list) {
		t.Errorf("every suggestion must be sent once, got %d", total)
	}

	if got := formatSuggestion(1, feedback.Suggestion{Explanation: "raw"}); got != "1. "+feedback.FallbackTitle+"\n💡 raw" {
		t.Errorf("unexpected rendering %q", got)
	}
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCombineAsOne(t *testing.T) {
	out, err := combineAsOne([][]byte{pngOf(t, 10, 5), pngOf(t, 6, 7)})
	if err != nil {
		t.Fatalf("combineAsOne: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("result must be a jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 12 {
		t.Errorf("expected 10x12, got %dx%d", b.Dx(), b.Dy())
	}
	if _, err := combineAsOne([][]byte{[]byte("not an image")}); err == nil {
		t.Error("expected decode error")
	}
}
