package telegram

import (
	"sync"
	"time"

	"essay-proxy/api/internal/stream"
)

const (
	debounce  = 1200 * time.Millisecond
	maxPixels = 18_000_000

	// запас до лимита Telegram в 4096 символов
	maxMessage = 3900
)

// chatPrefs: выбранный в чате движок; пустая модель значит дефолт сервера.
type chatPrefs struct {
	Kind  stream.Kind
	Model string
}

// photoBatch собирает страницы одного эссе, пришедшие альбомом.
type photoBatch struct {
	ChatID  int64
	Key     string // "grp:<mediaGroupID>" | "chat:<chatID>"
	Caption string

	mu     sync.Mutex
	images [][]byte
	timer  *time.Timer
}
