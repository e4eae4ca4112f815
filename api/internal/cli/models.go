package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"essay-proxy/api/internal/config"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/util"
)

type modelsFlags struct {
	key     string
	apiBase string
	all     bool
	direct  bool
}

func newModelsCmd() *cobra.Command {
	var f modelsFlags
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List OpenAI chat models usable with --model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModels(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.key, "key", "", "OpenAI API key (falls back to OPENAI_API_KEY)")
	cmd.Flags().StringVar(&f.apiBase, "api-base", "", "OpenAI-compatible base URL, sent as x-api-base")
	cmd.Flags().BoolVar(&f.all, "all", false, "list every model, not only gpt ones")
	cmd.Flags().BoolVar(&f.direct, "direct", false, "call the provider directly, bypassing the proxy")
	return cmd
}

func runModels(cmd *cobra.Command, f modelsFlags) error {
	cfg := config.Load()
	key := strings.TrimSpace(f.key)
	if key == "" {
		key = cfg.OpenAIAPIKey
	}
	if key == "" {
		return errors.New("no API key: pass --key or set OPENAI_API_KEY")
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+key)
	var base string
	switch {
	case f.direct && f.apiBase != "":
		base = f.apiBase
	case f.direct:
		base = cfg.OpenAIBaseURL
	default:
		server, _ := cmd.Flags().GetString("server")
		base = proxyBase(server, stream.KindOpenAI)
		if f.apiBase != "" {
			hdr.Set("x-api-base", f.apiBase)
		}
	}

	ids, err := listModels(cmd.Context(), strings.TrimRight(base, "/")+"/v1/models", hdr)
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	if !f.all {
		ids = chatModels(ids)
	}
	out := cmd.OutOrStdout()
	if len(ids) == 0 {
		color.New(color.FgYellow).Fprintln(out, "no models available")
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(out, id)
	}
	return nil
}

func listModels(ctx context.Context, url string, hdr http.Header) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = hdr
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, util.Truncate(strings.TrimSpace(string(body)), 300))
	}
	var ids []string
	for _, id := range gjson.GetBytes(body, "data.#.id").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// chatModels оставляет только gpt-модели: embeddings, whisper и tts в ревью не годятся.
func chatModels(ids []string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if strings.Contains(id, "gpt") {
			out = append(out, id)
		}
	}
	return out
}
