package handle

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"essay-proxy/api/internal/review"
)

const maxPromptSize = 2 << 20

type UpdatePromptRequest struct {
	Text string `json:"text"`
}

type UpdatePromptResponse struct {
	OK      bool   `json:"ok"`
	Path    string `json:"path,omitempty"`
	Size    int    `json:"size"`
	Updated string `json:"updated_at"`
}

func (req *UpdatePromptRequest) Validate() error {
	if strings.TrimSpace(req.Text) == "" {
		return errors.New("text is required")
	}
	if len(req.Text) > maxPromptSize {
		return errors.New("text too large (max 2 MiB)")
	}
	return nil
}

// UpdatePrompt заменяет системный промпт ревью на лету. Если задан PROMPT_FILE,
// новый текст сохраняется туда атомарно и переживёт рестарт.
// Без ADMIN_TOKEN ручка выключена.
func (h *Handle) UpdatePrompt(w http.ResponseWriter, r *http.Request) {
	if h.cfg.AdminToken == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not found"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.AdminToken)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization required"})
		return
	}
	defer r.Body.Close()

	var req UpdatePromptRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad json: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if h.cfg.PromptFile != "" {
		if err := review.SavePrompt(h.cfg.PromptFile, req.Text); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("path", h.cfg.PromptFile).Msg("save prompt")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "save prompt failed"})
			return
		}
	}
	if err := h.review.SetPrompt(req.Text); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	zerolog.Ctx(r.Context()).Info().Int("size", len(req.Text)).Str("path", h.cfg.PromptFile).Msg("prompt updated")

	writeJSON(w, http.StatusOK, UpdatePromptResponse{
		OK:      true,
		Path:    h.cfg.PromptFile,
		Size:    len(req.Text),
		Updated: time.Now().UTC().Format(time.RFC3339),
	})
}
