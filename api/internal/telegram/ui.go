package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

const rerunPrefix = "rerun:"

// Кнопка: прогнать то же эссе через другой движок
func makeRerunKeyboard(kind stream.Kind) tgbotapi.InlineKeyboardMarkup {
	btn := tgbotapi.NewInlineKeyboardButtonData("🔁 Проверить через "+string(kind), rerunPrefix+string(kind))
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(btn))
}

func formatNarrative(n string) string {
	n = strings.TrimSpace(n)
	if n == "" {
		return "💭 Модель не прислала разбор."
	}
	return "💭 " + util.Truncate(n, maxMessage)
}

// formatSuggestions раскладывает правки по сообщениям не длиннее maxMessage.
func formatSuggestions(list []feedback.Suggestion) []string {
	if len(list) == 0 {
		return []string{"✅ Правок нет."}
	}
	var (
		out []string
		cur strings.Builder
	)
	for i, s := range list {
		block := util.Truncate(formatSuggestion(i+1, s), maxMessage)
		if cur.Len() > 0 && cur.Len()+len(block)+2 > maxMessage {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(block)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}

func formatSuggestion(n int, s feedback.Suggestion) string {
	var b strings.Builder
	title := strings.TrimSpace(s.Title)
	if title == "" {
		title = feedback.FallbackTitle
	}
	fmt.Fprintf(&b, "%d. %s", n, title)
	if v := strings.TrimSpace(s.Original); v != "" {
		b.WriteString("\n❌ " + v)
	}
	if v := strings.TrimSpace(s.Corrected); v != "" {
		b.WriteString("\n✅ " + v)
	}
	if v := strings.TrimSpace(s.Explanation); v != "" {
		b.WriteString("\n💡 " + v)
	}
	return b.String()
}
