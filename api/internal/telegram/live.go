package telegram

import (
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/util"
)

// liveMessage is one bot message edited in place while the narrative
// streams in.
type liveMessage struct {
	bot    Bot
	chatID int64
	msgID  int
	every  time.Duration

	lastEdit time.Time
	shown    string
}

func (l *liveMessage) update(u feedback.Update) {
	if strings.TrimSpace(u.Narrative) == "" {
		return
	}
	if !l.lastEdit.IsZero() && time.Since(l.lastEdit) < l.every {
		return
	}
	l.set("💭 " + util.Truncate(strings.TrimSpace(u.Narrative), maxMessage))
}

func (l *liveMessage) set(text string) {
	if text == l.shown {
		return
	}
	l.lastEdit = time.Now()
	l.shown = text
	edit := tgbotapi.NewEditMessageText(l.chatID, l.msgID, text)
	if _, err := l.bot.Request(edit); err != nil {
		// "message is not modified" и лимиты на правки не критичны
		log.Debug().Err(err).Int64("chat_id", l.chatID).Msg("telegram: edit live message")
	}
}
