package handle

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"essay-proxy/api/internal/stream"
)

const (
	GeminiPrefix = "/api/gemini/"
	OpenAIPrefix = "/api/openai/"

	headerGeminiProxy = "x-gemini-proxy"
	headerAPIBase     = "x-api-base"
	headerGeminiKey   = "x-goog-api-key"

	relayBufSize = 32 << 10
)

// hop-by-hop заголовки не пересылаются ни в одну сторону
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Connection",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

var errBadBase = errors.New("upstream base must be an absolute http(s) URL")

// Gemini proxies /api/gemini/* to the Gemini base (or x-gemini-proxy).
func (h *Handle) Gemini(w http.ResponseWriter, r *http.Request) {
	base, err := upstreamBase(r.Header.Get(headerGeminiProxy), h.cfg.GeminiBaseURL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	out := forwardHeaders(r.Header)
	if h.cfg.GeminiAPIKey != "" && out.Get(headerGeminiKey) == "" && r.URL.Query().Get("key") == "" {
		out.Set(headerGeminiKey, h.cfg.GeminiAPIKey)
	}
	h.proxy(w, r, stream.KindGemini, base, strings.TrimPrefix(r.URL.Path, GeminiPrefix), out)
}

// OpenAI proxies /api/openai/* to the OpenAI base (or x-api-base). The
// caller must bring its own Authorization.
func (h *Handle) OpenAI(w http.ResponseWriter, r *http.Request) {
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Authorization required"})
		return
	}
	base, err := upstreamBase(r.Header.Get(headerAPIBase), h.cfg.OpenAIBaseURL)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.proxy(w, r, stream.KindOpenAI, base, strings.TrimPrefix(r.URL.Path, OpenAIPrefix), forwardHeaders(r.Header))
}

func (h *Handle) proxy(w http.ResponseWriter, r *http.Request, kind stream.Kind, base, path string, hdr http.Header) {
	lg := zerolog.Ctx(r.Context()).With().Str("upstream", string(kind)).Str("path", path).Logger()

	target := base + "/" + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	var body io.Reader
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		body = r.Body
	}
	// контекст входящего запроса: клиент ушёл, апстрим рвётся сразу
	req, err := http.NewRequestWithContext(r.Context(), r.Method, target, body)
	if err != nil {
		lg.Error().Err(err).Msg("proxy: build request")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API request failed"})
		return
	}
	req.Header = hdr
	if body != nil {
		req.ContentLength = r.ContentLength
	}

	resp, err := h.httpc.Do(req)
	if err != nil {
		if r.Context().Err() != nil {
			lg.Debug().Err(err).Msg("proxy: client went away before upstream answered")
		} else {
			lg.Error().Err(err).Msg("proxy: upstream request failed")
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API request failed"})
		return
	}
	defer resp.Body.Close()

	streaming := isStreaming(kind, r.Method, path, r.Header, resp.Header)
	lg.Debug().Int("status", resp.StatusCode).Bool("streaming", streaming).Msg("proxy: upstream answered")

	dst := w.Header()
	copyHeaders(dst, resp.Header)
	SetCORS(dst)

	if !streaming {
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			lg.Error().Err(err).Msg("proxy: read upstream body")
			for k := range dst {
				dst.Del(k)
			}
			SetCORS(dst)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "API request failed"})
			return
		}
		dst.Set("Content-Length", fmt.Sprint(len(b)))
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(b)
		return
	}

	dst.Del("Content-Length")
	if isEventStream(resp.Header) {
		dst.Set("Content-Type", "text/event-stream")
		dst.Set("Cache-Control", "no-cache")
	}
	w.WriteHeader(resp.StatusCode)
	n, err := relay(w, resp.Body)
	if err != nil {
		lg.Debug().Err(err).Int64("bytes", n).Msg("proxy: relay stopped")
		return
	}
	lg.Debug().Int64("bytes", n).Msg("proxy: relay done")
}

// relay copies upstream bytes to the client as they arrive, flushing after
// every write. It stops on the first read or write failure.
func relay(w http.ResponseWriter, src io.Reader) (int64, error) {
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	buf := make([]byte, relayBufSize)
	var total int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := w.Write(buf[:n])
			total += int64(wn)
			if werr != nil {
				return total, fmt.Errorf("write to client: %w", werr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return total, nil
		}
		if rerr != nil {
			return total, fmt.Errorf("read upstream: %w", rerr)
		}
	}
}

func isStreaming(kind stream.Kind, method, path string, reqHdr, respHdr http.Header) bool {
	switch kind {
	case stream.KindGemini:
		if strings.Contains(path, "streamGenerateContent") {
			return true
		}
	case stream.KindOpenAI:
		if method == http.MethodPost && strings.Contains(path, "chat/completions") {
			return true
		}
	}
	return strings.Contains(reqHdr.Get("Accept"), "text/event-stream") || isEventStream(respHdr)
}

func isEventStream(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

// upstreamBase validates an override header; empty means the configured base.
func upstreamBase(override, def string) (string, error) {
	override = strings.TrimSpace(override)
	if override == "" {
		return strings.TrimRight(def, "/"), nil
	}
	u, err := url.Parse(override)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errBadBase
	}
	return strings.TrimRight(override, "/"), nil
}

func forwardHeaders(in http.Header) http.Header {
	out := in.Clone()
	for _, f := range connectionTokens(in) {
		out.Del(f)
	}
	for _, k := range hopHeaders {
		out.Del(k)
	}
	out.Del("Host")
	out.Del(headerGeminiProxy)
	out.Del(headerAPIBase)
	return out
}

func copyHeaders(dst, src http.Header) {
	skip := map[string]bool{}
	for _, f := range connectionTokens(src) {
		skip[http.CanonicalHeaderKey(f)] = true
	}
	for _, k := range hopHeaders {
		skip[k] = true
	}
	for k, vs := range src {
		if skip[k] {
			continue
		}
		dst.Del(k)
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}

func connectionTokens(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				out = append(out, f)
			}
		}
	}
	return out
}
