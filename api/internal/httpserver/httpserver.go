package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"essay-proxy/api/internal/handle"
)

const HeaderRequestID = "X-Request-Id"

// New собирает gin-движок со всеми маршрутами гейтвея.
func New(h *handle.Handle) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog(), CORS())

	r.GET("/healthz", gin.WrapF(h.Healthz))
	r.GET("/api/config", gin.WrapF(h.Config))
	r.Any("/api/gemini/*path", gin.WrapF(h.Gemini))
	r.Any("/api/openai/*path", gin.WrapF(h.OpenAI))
	r.POST("/api/review", h.Review)
	r.GET("/api/review/ws", gin.WrapF(h.ReviewWS))
	r.POST("/api/prompt", gin.WrapF(h.UpdatePrompt))
	r.NoRoute(gin.WrapF(handle.NotFound))
	return r
}

// RequestID tags every request with an ID and a request-scoped logger.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		lg := log.With().Str("request_id", id).Logger()
		c.Request = c.Request.WithContext(lg.WithContext(c.Request.Context()))
		c.Next()
	}
}

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zerolog.Ctx(c.Request.Context()).Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Msg("http")
	}
}

// CORS sets the shared headers and answers preflight requests itself.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		handle.SetCORS(c.Writer.Header())
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info().Msg("shutting down")
	return srv.Shutdown(shutdownCtx)
}
