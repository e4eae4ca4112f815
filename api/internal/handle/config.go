package handle

import (
	"net/http"

	"essay-proxy/api/internal/stream"
)

type ConfigResponse struct {
	DefaultGeminiModel string   `json:"defaultGeminiModel"`
	DefaultOpenAIModel string   `json:"defaultOpenAIModel"`
	GeminiBaseURL      string   `json:"geminiBaseUrl"`
	OpenAIBaseURL      string   `json:"openaiBaseUrl"`
	HasGeminiKey       bool     `json:"hasGeminiKey"`
	Streaming          bool     `json:"streaming"`
	Backends           []string `json:"backends"`
}

// Config отдаёт клиенту дефолты сервера. Сам ключ наружу не уходит.
func (h *Handle) Config(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ConfigResponse{
		DefaultGeminiModel: h.cfg.GeminiModel,
		DefaultOpenAIModel: h.cfg.OpenAIModel,
		GeminiBaseURL:      h.cfg.GeminiBaseURL,
		OpenAIBaseURL:      h.cfg.OpenAIBaseURL,
		HasGeminiKey:       h.cfg.GeminiAPIKey != "",
		Streaming:          true,
		Backends:           []string{string(stream.KindGemini), string(stream.KindOpenAI)},
	})
}
