package review

import (
	"context"
	"fmt"
	"io"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
)

// ConsumeStream decodes an upstream SSE body, feeds every fragment to a
// fresh parser and reports each update to sink. It returns once the terminal
// frame arrives or the body ends. On a read error the partial result is
// returned together with the error.
func ConsumeStream(ctx context.Context, kind stream.Kind, body io.Reader, sink Sink) (feedback.Result, error) {
	dec, err := stream.NewDecoder(kind, body)
	if err != nil {
		return feedback.Result{}, err
	}
	p := feedback.NewParser()
	for f, err := range stream.Frames(dec) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return p.Finish(), fmt.Errorf("read %s stream: %w", kind, err)
		}
		if f.Terminal {
			break
		}
		if f.Delta == "" {
			continue
		}
		u := p.Feed(f.Delta)
		if sink != nil {
			sink(u)
		}
	}
	return p.Finish(), nil
}
