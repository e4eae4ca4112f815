package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/stream"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Reviewer is implemented by *review.Service.
type Reviewer interface {
	Target(kind stream.Kind, credential, override string) review.Target
	Review(ctx context.Context, job review.Job, sink review.Sink) (feedback.Result, error)
}

type Router struct {
	Bot      Bot
	Reviewer Reviewer

	// Defaults / display models
	Default     stream.Kind
	GeminiModel string
	OpenAIModel string

	// EditEvery ограничивает частоту правок живого сообщения.
	EditEvery time.Duration

	prefs   sync.Map // chatID -> chatPrefs
	batches sync.Map // key -> *photoBatch
	last    sync.Map // chatID -> review.Input
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, *upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0:
		r.acceptPhoto(ctx, *msg)
	case strings.TrimSpace(msg.Text) != "":
		r.runReview(ctx, cid, review.Input{Text: msg.Text})
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start":
		r.send(cid, "Пришли текст эссе или фото страниц, верну разбор и список правок.\nКоманды: /health, /engine")
	case "health":
		r.send(cid, "✅ OK")
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "Неизвестная команда")
	}
}

// handleEngineCommand переключает движок для чата.
// Форматы:
//
//	/engine
//	/engine gemini [model]
//	/engine openai [model]
func (r *Router) handleEngineCommand(chatID int64, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		p := r.pref(chatID)
		r.send(chatID, fmt.Sprintf("Текущий движок: %s (%s)\nИспользование: /engine {gemini|openai} [model]", p.Kind, r.modelFor(p)))
		return
	}
	kind, err := stream.ParseKind(fields[0])
	if err != nil {
		r.send(chatID, "Неизвестный движок. Доступны: gemini | openai")
		return
	}
	p := chatPrefs{Kind: kind}
	if len(fields) > 1 {
		p.Model = fields[1]
	}
	r.prefs.Store(chatID, p)
	r.send(chatID, fmt.Sprintf("Ок, переключаю на: %s (%s)", kind, r.modelFor(p)))
}

func (r *Router) pref(chatID int64) chatPrefs {
	if v, ok := r.prefs.Load(chatID); ok {
		return v.(chatPrefs)
	}
	kind := r.Default
	if kind == "" {
		kind = stream.KindGemini
	}
	return chatPrefs{Kind: kind}
}

func (r *Router) modelFor(p chatPrefs) string {
	switch {
	case p.Model != "":
		return p.Model
	case p.Kind == stream.KindOpenAI:
		return r.OpenAIModel
	default:
		return r.GeminiModel
	}
}

// runReview отправляет заглушку, правит её по мере прихода разбора и
// в конце присылает правки отдельными сообщениями.
func (r *Router) runReview(ctx context.Context, chatID int64, in review.Input) {
	r.last.Store(chatID, in)
	p := r.pref(chatID)

	placeholder, err := r.Bot.Send(tgbotapi.NewMessage(chatID, "⏳ Проверяю эссе…"))
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram: send placeholder")
		return
	}
	live := &liveMessage{bot: r.Bot, chatID: chatID, msgID: placeholder.MessageID, every: r.EditEvery}

	job := review.Job{
		Target: r.Reviewer.Target(p.Kind, "", ""),
		Model:  p.Model,
		Input:  in,
		Stream: true,
	}
	res, err := r.Reviewer.Review(ctx, job, live.update)
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Str("backend", string(p.Kind)).Msg("telegram: review failed")
		live.set(errorText(p.Kind, err))
		return
	}

	live.set(formatNarrative(res.Narrative))
	msgs := formatSuggestions(res.Suggestions)
	for i, text := range msgs {
		m := tgbotapi.NewMessage(chatID, text)
		if i == len(msgs)-1 {
			m.ReplyMarkup = makeRerunKeyboard(other(p.Kind))
		}
		if _, err := r.Bot.Send(m); err != nil {
			log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram: send suggestions")
		}
	}
}

func errorText(kind stream.Kind, err error) string {
	var ue *review.UpstreamError
	switch {
	case errors.Is(err, review.ErrMissingCredential):
		return fmt.Sprintf("❌ Для %s не настроен ключ API.", kind)
	case errors.As(err, &ue) && ue.Unauthorized():
		return fmt.Sprintf("❌ %s отклонил ключ API (%d).", kind, ue.Status)
	case errors.As(err, &ue):
		return fmt.Sprintf("❌ %s ответил ошибкой %d. Попробуйте позже или /engine.", kind, ue.Status)
	default:
		return "❌ Не удалось получить разбор. Попробуйте ещё раз."
	}
}

func other(k stream.Kind) stream.Kind {
	if k == stream.KindOpenAI {
		return stream.KindGemini
	}
	return stream.KindOpenAI
}

func (r *Router) send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	_, _ = r.Bot.Send(msg)
}
