package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"essay-proxy/api/internal/config"
	"essay-proxy/api/internal/feedback"
	"essay-proxy/api/internal/handle"
	"essay-proxy/api/internal/logging"
	"essay-proxy/api/internal/review"
	"essay-proxy/api/internal/stream"
	"essay-proxy/api/internal/ui"
	"essay-proxy/api/internal/util"
)

type reviewFlags struct {
	backend  string
	model    string
	image    string
	key      string
	noStream bool
	direct   bool
	verbose  bool
}

func newReviewCmd() *cobra.Command {
	var f reviewFlags
	cmd := &cobra.Command{
		Use:   "review [file|-]",
		Short: "Review an essay from a file, stdin or an image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd, args, f)
		},
	}
	cmd.Flags().StringVarP(&f.backend, "backend", "b", "gemini", "gemini or openai")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model name (server default when empty)")
	cmd.Flags().StringVar(&f.image, "image", "", "path to a photo of the essay")
	cmd.Flags().StringVar(&f.key, "key", "", "provider API key (falls back to GEMINI_API_KEY / OPENAI_API_KEY)")
	cmd.Flags().BoolVar(&f.noStream, "no-stream", false, "wait for the complete answer")
	cmd.Flags().BoolVar(&f.direct, "direct", false, "call the provider directly, bypassing the proxy")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "debug logging to stderr")
	return cmd
}

func runReview(cmd *cobra.Command, args []string, f reviewFlags) error {
	level := "warn"
	if f.verbose {
		level = "debug"
	}
	logging.Setup(cmd.ErrOrStderr(), level, "console")

	kind, err := stream.ParseKind(f.backend)
	if err != nil {
		return err
	}
	in, err := readInput(cmd.InOrStdin(), args, f.image)
	if err != nil {
		return err
	}

	cfg := config.Load()
	svc := review.New(review.Options{
		GeminiBaseURL: cfg.GeminiBaseURL,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiModel:   cfg.GeminiModel,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIModel:   cfg.OpenAIModel,
	}, handle.NewUpstreamClient(cfg.UpstreamHeaderTimeout))

	override := ""
	if !f.direct {
		server, _ := cmd.Flags().GetString("server")
		override = proxyBase(server, kind)
	}
	job := review.Job{
		Target: svc.Target(kind, f.key, override),
		Model:  f.model,
		Input:  in,
		Stream: !f.noStream,
	}

	sp := ui.NewSpinner(cmd.ErrOrStderr(), "Reviewing...")
	sp.Start()
	var stopOnce sync.Once
	r := ui.NewRenderer(cmd.OutOrStdout())
	sink := func(u feedback.Update) {
		stopOnce.Do(sp.Stop)
		r.Update(u)
	}

	res, err := svc.Review(cmd.Context(), job, sink)
	stopOnce.Do(sp.Stop)
	if err != nil {
		sp.Fail(describe(err, kind))
		return fmt.Errorf("review failed: %w", err)
	}
	r.Final(res)
	return nil
}

// proxyBase maps a backend to its route on the proxy.
func proxyBase(server string, kind stream.Kind) string {
	server = strings.TrimRight(server, "/")
	if kind == stream.KindOpenAI {
		return server + handle.OpenAIPrefix
	}
	return server + handle.GeminiPrefix
}

func readInput(stdin io.Reader, args []string, imagePath string) (review.Input, error) {
	var in review.Input
	if len(args) == 1 {
		var b []byte
		var err error
		if args[0] == "-" {
			b, err = io.ReadAll(stdin)
		} else {
			b, err = os.ReadFile(args[0])
		}
		if err != nil {
			return in, fmt.Errorf("read essay: %w", err)
		}
		in.Text = string(b)
	}
	if imagePath != "" {
		b, err := os.ReadFile(imagePath)
		if err != nil {
			return in, fmt.Errorf("read image: %w", err)
		}
		in.Image = b
		in.ImageMIME = util.PickMIME("", "", b)
	}
	if in.Empty() {
		return in, errors.New("nothing to review: pass a file, - for stdin, or --image")
	}
	return in, nil
}

func describe(err error, kind stream.Kind) string {
	var ue *review.UpstreamError
	switch {
	case errors.Is(err, review.ErrMissingCredential):
		env := "GEMINI_API_KEY"
		if kind == stream.KindOpenAI {
			env = "OPENAI_API_KEY"
		}
		return "no API key: pass --key or set " + env
	case errors.As(err, &ue) && ue.Unauthorized():
		return "the provider rejected the API key"
	case errors.As(err, &ue):
		return fmt.Sprintf("upstream answered %d", ue.Status)
	default:
		return err.Error()
	}
}
