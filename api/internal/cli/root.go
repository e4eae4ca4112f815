// Package cli implements essayctl, a terminal client for the essay proxy.
package cli

import (
	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:8000"

// NewRootCmd builds the command tree. Every call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "essayctl",
		Short: "Review essays through the essay proxy",
		Long: `essayctl sends an essay to Gemini or OpenAI through the essay proxy
and renders the feedback while it streams.

Examples:
  essayctl review essay.txt
  essayctl review --backend openai --key sk-... essay.txt
  essayctl review --image page.jpg
  cat essay.txt | essayctl review -
  essayctl models --key sk-...
  essayctl config`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("server", defaultServer, "essay proxy address")

	root.AddCommand(newReviewCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newModelsCmd())
	return root
}
