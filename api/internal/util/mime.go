package util

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strings"
)

// defaultImageMIME is what providers get when nothing else is known:
// phone cameras and Telegram both produce JPEG.
const defaultImageMIME = "image/jpeg"

var imageMagic = []struct {
	offset int
	magic  []byte
	mime   string
}{
	{0, []byte{0xFF, 0xD8, 0xFF}, "image/jpeg"},
	{0, []byte("\x89PNG\r\n\x1a\n"), "image/png"},
	{0, []byte("GIF8"), "image/gif"},
	{8, []byte("WEBP"), "image/webp"},
	{4, []byte("ftypheic"), "image/heic"},
	{4, []byte("ftypheif"), "image/heif"},
}

// SniffImageMIME recognises the image formats both providers accept.
// Empty result means unknown.
func SniffImageMIME(b []byte) string {
	for _, m := range imageMagic {
		if len(b) >= m.offset+len(m.magic) && bytes.Equal(b[m.offset:m.offset+len(m.magic)], m.magic) {
			return m.mime
		}
	}
	return ""
}

func MakeDataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64MaybeDataURL принимает голый base64 или data:URI; для data:URI
// вторым значением вернёт MIME из префикса.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hint string
	if rest, ok := strings.CutPrefix(s, "data:"); ok {
		if meta, payload, found := strings.Cut(rest, ","); found {
			hint, _, _ = strings.Cut(meta, ";")
			s = payload
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		var err2 error
		if b, err2 = base64.URLEncoding.DecodeString(s); err2 != nil {
			return nil, "", err
		}
	}
	return b, hint, nil
}

// PickMIME: явный MIME, потом подсказка из data:URI, потом сигнатура.
func PickMIME(explicit, hint string, data []byte) string {
	if exp := strings.TrimSpace(explicit); exp != "" {
		return exp
	}
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if m := SniffImageMIME(data); m != "" {
		return m
	}
	if len(data) > 0 {
		if ct := http.DetectContentType(data); strings.HasPrefix(ct, "image/") {
			return ct
		}
	}
	return defaultImageMIME
}
