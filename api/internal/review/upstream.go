package review

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

const errorBodyLimit = 64 << 10

func postJSON(ctx context.Context, httpc *http.Client, url string, hdr http.Header, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		x, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, &UpstreamError{Status: resp.StatusCode, Body: util.Truncate(strings.TrimSpace(string(x)), 2000)}
	}
	return resp, nil
}

// finish turns a successful upstream answer into a Result, either by
// streaming it through the parser or by assembling the complete text found
// at textPath.
func finish(ctx context.Context, kind stream.Kind, resp *http.Response, streaming bool, textPath string, sink Sink) (feedback.Result, error) {
	defer resp.Body.Close()
	if streaming {
		return ConsumeStream(ctx, kind, resp.Body, sink)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return feedback.Result{}, fmt.Errorf("read %s response: %w", kind, err)
	}
	v := gjson.GetBytes(b, textPath)
	if !v.Exists() {
		return feedback.Result{}, fmt.Errorf("%s response has no %s", kind, textPath)
	}
	return feedback.Assemble(v.String()), nil
}
