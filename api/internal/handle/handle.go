package handle

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"essay-proxy/api/internal/config"
	"essay-proxy/api/internal/review"
)

// Pinger reports the health of an optional dependency (the review cache).
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handle struct {
	cfg    *config.Config
	httpc  *http.Client
	review *review.Service
	health Pinger

	upgrader websocket.Upgrader
}

func New(cfg *config.Config, httpc *http.Client, svc *review.Service, health Pinger) *Handle {
	return &Handle{
		cfg:    cfg,
		httpc:  httpc,
		review: svc,
		health: health,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 16 << 10,
			// CORS у нас "*", для сокета та же политика
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// NewUpstreamClient returns the process-wide client for upstream calls. There
// is no overall timeout because streams may legitimately run for minutes;
// only the wait for response headers is bounded.
func NewUpstreamClient(headerTimeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 20
	tr.IdleConnTimeout = 90 * time.Second
	tr.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: tr}
}

// SetCORS adds the headers every response carries.
func SetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handle) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db: not ok\n" + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func NotFound(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not Found", http.StatusNotFound)
}
