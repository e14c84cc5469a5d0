// Package failtriage is the operator command line: it feeds failure records
// through the analysis pipeline and prints the diagnoses.
package failtriage

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "failtriage",
		Short: "Resilient AI triage for end-to-end test failures",
		Long: `failtriage diagnoses failed end-to-end tests.

Failures are sent to remote LLM backends in priority order (OpenAI, then
OpenRouter) behind rate limits, circuit breakers and retries. When none of
them answers, a local keyword heuristic produces the diagnosis instead.

Credentials are read from OPENAI_API_KEY and OPENROUTER_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML config file (default $FAILTRIAGE_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "Write logs as JSON")

	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute runs the root command
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
