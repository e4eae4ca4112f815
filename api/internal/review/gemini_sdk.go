package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

// geminiSDKBackend goes through the official client. It is used when
// GEMINI_TRANSPORT=sdk and no proxy override is requested.
type geminiSDKBackend struct {
	prompt *promptRef
}

func (b *geminiSDKBackend) Name() string { return string(stream.KindGemini) + "-sdk" }

func (b *geminiSDKBackend) Review(ctx context.Context, job Job, sink Sink) (feedback.Result, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(job.Target.Credential))
	if err != nil {
		return feedback.Result{}, fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(strings.TrimSpace(job.Model))
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:     ptrFloat32(0.7),
		TopK:            ptrInt32(40),
		TopP:            ptrFloat32(0.95),
		MaxOutputTokens: ptrInt32(8192),
	}
	parts := b.parts(job.Input)

	if !job.Stream {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			return feedback.Result{}, fmt.Errorf("gemini generate: %w", err)
		}
		return feedback.Assemble(allText(resp)), nil
	}

	p := feedback.NewParser()
	it := m.GenerateContentStream(ctx, parts...)
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return p.Finish(), fmt.Errorf("gemini stream: %w", err)
		}
		txt := allText(resp)
		if txt == "" {
			continue
		}
		u := p.Feed(txt)
		if sink != nil {
			sink(u)
		}
	}
	return p.Finish(), nil
}

func (b *geminiSDKBackend) parts(in Input) []genai.Part {
	if len(in.Image) == 0 {
		return []genai.Part{genai.Text(b.prompt.Load() + "\n\n" + textLead + in.Text)}
	}
	text := b.prompt.Load() + "\n\n" + imageLead
	if t := strings.TrimSpace(in.Text); t != "" {
		text += "\n\n" + t
	}
	return []genai.Part{
		genai.Text(text),
		&genai.Blob{MIMEType: util.PickMIME(in.ImageMIME, "", in.Image), Data: in.Image},
	}
}

// allText склеивает все текстовые части первого кандидата.
func allText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

func ptrFloat32(v float32) *float32 { return &v }
func ptrInt32(v int32) *int32       { return &v }
