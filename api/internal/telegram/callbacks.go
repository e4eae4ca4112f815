package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/stream"
)

func (r *Router) handleCallback(ctx context.Context, cb tgbotapi.CallbackQuery) {
	_, _ = r.Bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	if cb.Message == nil {
		return
	}
	cid := cb.Message.Chat.ID

	if !strings.HasPrefix(cb.Data, rerunPrefix) {
		return
	}
	kind, err := stream.ParseKind(strings.TrimPrefix(cb.Data, rerunPrefix))
	if err != nil {
		return
	}
	v, ok := r.last.Load(cid)
	if !ok {
		r.send(cid, "Не нашёл предыдущее эссе. Пришлите его ещё раз.")
		return
	}
	r.prefs.Store(cid, chatPrefs{Kind: kind})
	r.runReview(ctx, cid, v.(review.Input))
}
