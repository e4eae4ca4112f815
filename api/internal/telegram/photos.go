package telegram

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/review"
)

const maxDownload = 20 << 20

// acceptPhoto копит фото альбома (несколько страниц эссе) и после паузы
// отправляет их одной склеенной картинкой.
func (r *Router) acceptPhoto(ctx context.Context, msg tgbotapi.Message) {
	cid := msg.Chat.ID
	ph := msg.Photo[len(msg.Photo)-1]
	url, err := r.Bot.GetFileDirectURL(ph.FileID)
	if err != nil {
		r.send(cid, "Не удалось получить фото: "+err.Error())
		return
	}
	imgBytes, err := download(ctx, url)
	if err != nil {
		r.send(cid, "Не удалось скачать фото: "+err.Error())
		return
	}

	key := "chat:" + fmt.Sprint(cid)
	if msg.MediaGroupID != "" {
		key = "grp:" + msg.MediaGroupID
	}

	bi, _ := r.batches.LoadOrStore(key, &photoBatch{ChatID: cid, Key: key, images: make([][]byte, 0, 4)})
	b := bi.(*photoBatch)

	b.mu.Lock()
	b.images = append(b.images, imgBytes)
	if c := strings.TrimSpace(msg.Caption); c != "" {
		b.Caption = c
	}
	first := len(b.images) == 1
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(debounce, func() { r.processBatch(context.WithoutCancel(ctx), key) })
	b.mu.Unlock()

	if first {
		r.send(cid, "📷 Фото принято, жду остальные страницы…")
	}
}

func (r *Router) processBatch(ctx context.Context, key string) {
	bi, ok := r.batches.LoadAndDelete(key)
	if !ok {
		return
	}
	b := bi.(*photoBatch)

	b.mu.Lock()
	images := append([][]byte(nil), b.images...)
	chatID, caption := b.ChatID, b.Caption
	b.mu.Unlock()

	if len(images) == 0 {
		return
	}
	img := images[0]
	if len(images) > 1 {
		merged, err := combineAsOne(images)
		if err != nil {
			r.send(chatID, "Не удалось склеить страницы: "+err.Error())
			return
		}
		img = merged
	}
	log.Debug().Int64("chat_id", chatID).Int("pages", len(images)).Int("bytes", len(img)).Msg("telegram: photo batch ready")
	r.runReview(ctx, chatID, review.Input{Text: caption, Image: img})
}

// combineAsOne склеивает страницы вертикально, по центру, на белом фоне.
func combineAsOne(images [][]byte) ([]byte, error) {
	decoded := make([]image.Image, 0, len(images))
	maxW, sumH := 0, 0
	for _, b := range images {
		img, err := decodeImage(b)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, img)
		if w := img.Bounds().Dx(); w > maxW {
			maxW = w
		}
		sumH += img.Bounds().Dy()
	}
	if maxW == 0 || sumH == 0 {
		return nil, fmt.Errorf("пустые изображения")
	}

	dst := image.NewRGBA(image.Rect(0, 0, maxW, sumH))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	y := 0
	for _, img := range decoded {
		w, h := img.Bounds().Dx(), img.Bounds().Dy()
		x := (maxW - w) / 2
		draw.Draw(dst, image.Rect(x, y, x+w, y+h), img, img.Bounds().Min, draw.Over)
		y += h
	}

	final := image.Image(dst)
	if totalPx := maxW * sumH; totalPx > maxPixels {
		scale := math.Sqrt(float64(maxPixels) / float64(totalPx))
		final = scaleDownNN(dst, max(1, int(float64(maxW)*scale+0.5)), max(1, int(float64(sumH)*scale+0.5)))
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, final, &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func decodeImage(b []byte) (image.Image, error) {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return jpeg.Decode(bytes.NewReader(b))
	}
	if len(b) >= 8 && string(b[:8]) == "\x89PNG\r\n\x1a\n" {
		return png.Decode(bytes.NewReader(b))
	}
	img, _, err := image.Decode(bytes.NewReader(b))
	return img, err
}

func scaleDownNN(src image.Image, newW, newH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	sb := src.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()
	for y := 0; y < newH; y++ {
		sy := sb.Min.Y + (y*srcH)/newH
		for x := 0; x < newW; x++ {
			sx := sb.Min.X + (x*srcW)/newW
			dst.Set(x, y, src.At(sx, sy))
		}
	}
	return dst
}

var downloadClient = &http.Client{Timeout: 60 * time.Second}

func download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownload))
}
