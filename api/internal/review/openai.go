package review

import (
	"context"
	"net/http"
	"strings"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

const openAIMessagePath = "choices.0.message.content"

type openAIBackend struct {
	httpc  *http.Client
	prompt *promptRef
}

func (b *openAIBackend) Name() string { return string(stream.KindOpenAI) }

func (b *openAIBackend) Review(ctx context.Context, job Job, sink Sink) (feedback.Result, error) {
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+strings.TrimPrefix(job.Target.Credential, "Bearer "))
	if job.Stream {
		hdr.Set("Accept", "text/event-stream")
	}
	resp, err := postJSON(ctx, b.httpc, job.Target.Base()+"/v1/chat/completions", hdr, b.body(job))
	if err != nil {
		return feedback.Result{}, err
	}
	return finish(ctx, stream.KindOpenAI, resp, job.Stream, openAIMessagePath, sink)
}

func (b *openAIBackend) body(job Job) map[string]any {
	var user any
	if len(job.Input.Image) > 0 {
		mime := util.PickMIME(job.Input.ImageMIME, "", job.Input.Image)
		text := imageLead
		if t := strings.TrimSpace(job.Input.Text); t != "" {
			text += "\n\n" + t
		}
		user = []any{
			map[string]any{"type": "text", "text": text},
			map[string]any{"type": "image_url", "image_url": map[string]any{"url": util.MakeDataURL(mime, job.Input.Image)}},
		}
	} else {
		user = textLead + job.Input.Text
	}
	return map[string]any{
		"model": job.Model,
		"messages": []any{
			map[string]any{"role": "system", "content": b.prompt.Load()},
			map[string]any{"role": "user", "content": user},
		},
		"temperature": 0.7,
		"max_tokens":  4096,
		"stream":      job.Stream,
	}
}
