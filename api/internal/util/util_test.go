package util

import (
	"encoding/base64"
	"testing"
)

func TestStripCodeFences(t *testing.T) {
	cases := []struct{ in, want string }{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```JSON\n[{\"a\":1}]\n```", "[{\"a\":1}]"},
		{"```\n[1]\n```", "[1]"},
		{"```[1]```", "[1]"},
		{"  not fenced  ", "not fenced"},
	}
	for _, c := range cases {
		if got := StripCodeFences(c.in); got != c.want {
			t.Errorf("StripCodeFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("unexpected truncation: %q", got)
	}
	if got := Truncate("abcdef", 3); got != "abc…" {
		t.Errorf("expected 'abc…', got %q", got)
	}
	// "é" is two bytes; cutting in its middle must back off.
	if got := Truncate("aé", 2); got != "a…" {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
}

func TestDecodeBase64MaybeDataURL(t *testing.T) {
	raw := []byte{0xFF, 0xD8, 0x01}
	b64 := base64.StdEncoding.EncodeToString(raw)

	got, mime, err := DecodeBase64MaybeDataURL("data:image/png;base64," + b64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mime != "image/png" || string(got) != string(raw) {
		t.Errorf("unexpected decode: mime=%q bytes=%v", mime, got)
	}

	if _, _, err := DecodeBase64MaybeDataURL("%%%"); err == nil {
		t.Error("expected error for invalid base64")
	}
}

func TestPickMIME(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF}
	if got := PickMIME("image/webp", "image/png", jpeg); got != "image/webp" {
		t.Errorf("explicit MIME must win, got %q", got)
	}
	if got := PickMIME("", "image/png", jpeg); got != "image/png" {
		t.Errorf("data URL hint must win over sniffing, got %q", got)
	}
	if got := PickMIME("", "", jpeg); got != "image/jpeg" {
		t.Errorf("expected sniffed jpeg, got %q", got)
	}
}

func TestSniffImageMIME(t *testing.T) {
	cases := []struct {
		in   []byte
		want string
	}{
		{[]byte{0xFF, 0xD8, 0xFF, 0xE0}, "image/jpeg"},
		{[]byte("\x89PNG\r\n\x1a\n...."), "image/png"},
		{[]byte("RIFF\x00\x00\x00\x00WEBPVP8 "), "image/webp"},
		{[]byte("\x00\x00\x00\x18ftypheic"), "image/heic"},
		{[]byte("GIF89a"), "image/gif"},
		{[]byte("plain text"), ""},
		{nil, ""},
	}
	for _, c := range cases {
		if got := SniffImageMIME(c.in); got != c.want {
			t.Errorf("SniffImageMIME(%q) = %q, want %q", c.in, got, c.want)
		}
	}
	if got := PickMIME("", "", []byte("plain text")); got != "image/jpeg" {
		t.Errorf("unknown bytes should fall back to jpeg, got %q", got)
	}
}
