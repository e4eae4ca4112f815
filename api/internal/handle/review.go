package handle

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

const maxReviewBody = 16 << 20

type ReviewRequest struct {
	Backend   string `json:"backend"`
	Model     string `json:"model"`
	Text      string `json:"text"`
	ImageB64  string `json:"image_b64"`
	ImageMIME string `json:"image_mime"`
	// Stream по умолчанию включён.
	Stream *bool `json:"stream"`

	// Только для WebSocket: браузер не может выставить заголовки на сокет.
	APIKey  string `json:"api_key,omitempty"`
	APIBase string `json:"api_base,omitempty"`
}

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// job turns a request into a review job. Credentials and the base override
// come from headers on plain HTTP and from the body on the socket.
func (h *Handle) job(req ReviewRequest, hdr http.Header) (review.Job, error) {
	kind, err := stream.ParseKind(req.Backend)
	if err != nil {
		return review.Job{}, badRequestError{err.Error()}
	}

	credential, override := req.APIKey, req.APIBase
	switch kind {
	case stream.KindOpenAI:
		if v := strings.TrimSpace(hdr.Get("Authorization")); v != "" {
			credential = strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
		}
		if v := hdr.Get(headerAPIBase); v != "" {
			override = v
		}
	case stream.KindGemini:
		if v := hdr.Get(headerGeminiKey); v != "" {
			credential = v
		}
		if v := hdr.Get(headerGeminiProxy); v != "" {
			override = v
		}
	}
	if strings.TrimSpace(override) != "" {
		if _, err := upstreamBase(override, ""); err != nil {
			return review.Job{}, badRequestError{err.Error()}
		}
	}

	in := review.Input{Text: req.Text, ImageMIME: req.ImageMIME}
	if s := strings.TrimSpace(req.ImageB64); s != "" {
		img, hint, err := util.DecodeBase64MaybeDataURL(s)
		if err != nil || len(img) == 0 {
			return review.Job{}, badRequestError{"bad image_b64"}
		}
		in.Image = img
		if in.ImageMIME == "" {
			in.ImageMIME = hint
		}
	}
	if in.Empty() {
		return review.Job{}, badRequestError{review.ErrEmptyInput.Error()}
	}

	return review.Job{
		Target: h.review.Target(kind, credential, override),
		Model:  strings.TrimSpace(req.Model),
		Input:  in,
		Stream: req.Stream == nil || *req.Stream,
	}, nil
}

// reviewStatus maps a review error to the HTTP status and the message the
// client sees.
func reviewStatus(err error) (int, map[string]any) {
	var (
		bad badRequestError
		ue  *review.UpstreamError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest, map[string]any{"error": bad.msg}
	case errors.Is(err, review.ErrEmptyInput):
		return http.StatusBadRequest, map[string]any{"error": err.Error()}
	case errors.Is(err, review.ErrMissingCredential):
		return http.StatusUnauthorized, map[string]any{"error": "Authorization required"}
	case errors.As(err, &ue):
		return http.StatusBadGateway, map[string]any{"error": "upstream error", "status": ue.Status, "body": ue.Body}
	default:
		return http.StatusBadGateway, map[string]any{"error": "API request failed"}
	}
}

func writeReviewError(w http.ResponseWriter, err error) {
	code, body := reviewStatus(err)
	writeJSON(w, code, body)
}

// Review runs the essay through the upstream on the server side. With
// stream=true the answer is an SSE stream of "update" events closed by one
// "result" or "error" event; errors detected before the first update are
// plain JSON with a status code.
func (h *Handle) Review(c *gin.Context) {
	r := c.Request
	lg := zerolog.Ctx(r.Context())

	var req ReviewRequest
	r.Body = http.MaxBytesReader(c.Writer, r.Body, maxReviewBody)
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c.Writer, http.StatusBadRequest, map[string]string{"error": "bad json: " + err.Error()})
		return
	}
	job, err := h.job(req, r.Header)
	if err != nil {
		writeReviewError(c.Writer, err)
		return
	}

	if !job.Stream {
		res, err := h.review.Review(r.Context(), job, nil)
		if err != nil {
			writeReviewError(c.Writer, err)
			return
		}
		writeJSON(c.Writer, http.StatusOK, res)
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("X-Accel-Buffering", "no")
		c.Status(http.StatusOK)
	}
	send := func(event string, data any) {
		start()
		c.SSEvent(event, data)
		c.Writer.Flush()
	}

	res, err := h.review.Review(r.Context(), job, func(u feedback.Update) { send("update", u) })
	if err != nil {
		if errors.Is(err, context.Canceled) {
			lg.Debug().Msg("review: client went away")
			return
		}
		if !started {
			writeReviewError(c.Writer, err)
			return
		}
		_, body := reviewStatus(err)
		send("error", body)
		return
	}
	send("result", res)
}
