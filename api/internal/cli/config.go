package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"essay-proxy/api/internal/handle"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the proxy defaults",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server, _ := cmd.Flags().GetString("server")
			cfg, err := fetchConfig(cmd.Context(), server)
			if err != nil {
				return fmt.Errorf("fetch config: %w", err)
			}
			printConfig(cmd.OutOrStdout(), server, cfg)
			return nil
		},
	}
}

func fetchConfig(ctx context.Context, server string) (handle.ConfigResponse, error) {
	var out handle.ConfigResponse
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/api/config", nil)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return out, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

func printConfig(w io.Writer, server string, cfg handle.ConfigResponse) {
	bold := color.New(color.Bold)
	bold.Fprintf(w, "Server:        %s\n", server)
	fmt.Fprintf(w, "Gemini model:  %s\n", cfg.DefaultGeminiModel)
	fmt.Fprintf(w, "Gemini base:   %s\n", cfg.GeminiBaseURL)
	fmt.Fprintf(w, "OpenAI model:  %s\n", cfg.DefaultOpenAIModel)
	fmt.Fprintf(w, "OpenAI base:   %s\n", cfg.OpenAIBaseURL)
	key := color.New(color.FgRed).Sprint("no")
	if cfg.HasGeminiKey {
		key = color.New(color.FgGreen).Sprint("yes")
	}
	fmt.Fprintf(w, "Server key:    %s\n", key)
	fmt.Fprintf(w, "Backends:      %s\n", strings.Join(cfg.Backends, ", "))
}
