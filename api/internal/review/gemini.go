package review

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

const geminiTextPath = "candidates.0.content.parts.0.text"

// geminiBackend talks to the REST API directly, so it also works through a
// proxy override.
type geminiBackend struct {
	httpc  *http.Client
	prompt *promptRef
}

func (b *geminiBackend) Name() string { return string(stream.KindGemini) }

func (b *geminiBackend) Review(ctx context.Context, job Job, sink Sink) (feedback.Result, error) {
	hdr := http.Header{}
	hdr.Set("x-goog-api-key", job.Target.Credential)
	resp, err := postJSON(ctx, b.httpc, geminiURL(job.Target.Base(), job.Model, job.Stream), hdr, b.body(job))
	if err != nil {
		return feedback.Result{}, err
	}
	return finish(ctx, stream.KindGemini, resp, job.Stream, geminiTextPath, sink)
}

func geminiURL(base, model string, streaming bool) string {
	u := base + "/v1beta/models/" + url.PathEscape(model)
	if streaming {
		return u + ":streamGenerateContent?alt=sse"
	}
	return u + ":generateContent"
}

func (b *geminiBackend) body(job Job) map[string]any {
	var parts []any
	if len(job.Input.Image) > 0 {
		text := b.prompt.Load() + "\n\n" + imageLead
		if t := strings.TrimSpace(job.Input.Text); t != "" {
			text += "\n\n" + t
		}
		parts = []any{
			map[string]any{"text": text},
			map[string]any{"inlineData": map[string]any{
				"mimeType": util.PickMIME(job.Input.ImageMIME, "", job.Input.Image),
				"data":     base64.StdEncoding.EncodeToString(job.Input.Image),
			}},
		}
	} else {
		parts = []any{map[string]any{"text": b.prompt.Load() + "\n\n" + textLead + job.Input.Text}}
	}
	return map[string]any{
		"contents": []any{map[string]any{"parts": parts}},
		"generationConfig": map[string]any{
			"temperature":     0.7,
			"topK":            40,
			"topP":            0.95,
			"maxOutputTokens": 8192,
		},
	}
}
