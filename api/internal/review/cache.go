package review

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/store"
)

// Cache is the subset of store.ReviewRepo the service needs.
type Cache interface {
	FindByHash(ctx context.Context, inputHash, backend, model string, maxAge time.Duration) (*store.ReviewRow, error)
	Upsert(ctx context.Context, inputHash, backend, model string, res feedback.Result) error
}

// InputHash identifies an essay together with the prompt it is reviewed
// with and the upstream base it goes to, so a prompt change or a different
// proxy never reuses old entries.
func InputHash(prompt, base string, in Input) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(prompt), []byte(base), []byte(in.Text), []byte(in.ImageMIME)} {
		h.Write(part)
		h.Write([]byte{0})
	}
	h.Write(in.Image)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) lookup(ctx context.Context, hash string, job Job) (feedback.Result, bool) {
	row, err := s.opts.Cache.FindByHash(ctx, hash, string(job.Target.Kind), job.Model, s.opts.CacheTTL)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("review cache lookup failed")
		}
		return feedback.Result{}, false
	}
	return row.Result, true
}

func (s *Service) save(ctx context.Context, hash string, job Job, res feedback.Result) {
	// ответ уже получен, отмена клиента не должна терять кэш
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.opts.Cache.Upsert(ctx, hash, string(job.Target.Kind), job.Model, res); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("review cache save failed")
	}
}
