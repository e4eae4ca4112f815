package handle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"essay-proxy/api/internal/feedback"
)

const (
	wsMaxMessage   = 16 << 20
	wsReadTimeout  = 30 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type wsMessage struct {
	Type   string           `json:"type"`
	Update *feedback.Update `json:"update,omitempty"`
	Result *feedback.Result `json:"result,omitempty"`
	Error  map[string]any   `json:"error,omitempty"`
	Status int              `json:"status,omitempty"`
}

// ReviewWS serves one review per connection: the client sends a
// ReviewRequest, the server answers with update messages, one result or
// error message, and closes. Closing the socket early cancels the upstream
// call.
func (h *Handle) ReviewWS(w http.ResponseWriter, r *http.Request) {
	lg := zerolog.Ctx(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Warn().Err(err).Msg("ws: upgrade failed")
		return
	}
	defer ws.Close()
	ws.SetReadLimit(wsMaxMessage)

	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	var req ReviewRequest
	if err := ws.ReadJSON(&req); err != nil {
		lg.Debug().Err(err).Msg("ws: bad request message")
		writeWS(ws, wsMessage{Type: "error", Status: http.StatusBadRequest, Error: map[string]any{"error": "bad json"}})
		return
	}
	_ = ws.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// читатель нужен только чтобы заметить close от клиента
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	job, err := h.job(req, http.Header{})
	if err != nil {
		code, body := reviewStatus(err)
		writeWS(ws, wsMessage{Type: "error", Status: code, Error: body})
		return
	}

	res, err := h.review.Review(ctx, job, func(u feedback.Update) {
		if err := writeWS(ws, wsMessage{Type: "update", Update: &u}); err != nil {
			cancel()
		}
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			lg.Debug().Msg("ws: client went away")
			return
		}
		code, body := reviewStatus(err)
		writeWS(ws, wsMessage{Type: "error", Status: code, Error: body})
		return
	}
	if err := writeWS(ws, wsMessage{Type: "result", Result: &res}); err != nil {
		return
	}
	_ = ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(wsWriteTimeout))
}

func writeWS(ws *websocket.Conn, msg wsMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return ws.WriteMessage(websocket.TextMessage, b)
}
