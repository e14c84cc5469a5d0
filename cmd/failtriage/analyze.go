package failtriage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/kamilpajak/failtriage/internal/analyzer"
	"github.com/kamilpajak/failtriage/internal/config"
	"github.com/kamilpajak/failtriage/internal/database"
	"github.com/kamilpajak/failtriage/internal/llm"
	"github.com/kamilpajak/failtriage/internal/logging"
	"github.com/kamilpajak/failtriage/internal/metrics"
	"github.com/kamilpajak/failtriage/pkg/models"
)

type analyzeOptions struct {
	*rootOptions
	jsonOutput  bool
	demo        bool
	progress    bool
	metricsFile string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{rootOptions: root}
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Diagnose failure records read from a file or stdin",
		Long: `Analyze reads failure records and prints a diagnosis for each.

Input is a JSON array of records or one JSON record per line:

  {"test_name": "...", "error_message": "...", "stack_trace": "...", "timestamp": "..."}

Use "-" or omit the file to read from stdin.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runAnalyze(cmd, opts, path)
		},
	}
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print results as JSON")
	cmd.Flags().BoolVar(&opts.demo, "demo", false, "Use canned answers instead of remote backends")
	cmd.Flags().BoolVar(&opts.progress, "progress", false, "Print a line per analyzed failure to stderr")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile when done")
	return cmd
}

func runAnalyze(cmd *cobra.Command, opts *analyzeOptions, path string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logJSON {
		cfg.Logging.JSON = true
	}
	stderr := cmd.ErrOrStderr()
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.JSON, stderr)

	failures, err := loadFailures(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return errors.New("no failure records in input")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	extra := []analyzer.Option{analyzer.WithMetrics(m)}
	if opts.demo {
		extra = append(extra, analyzer.WithDemo(true))
	}
	if opts.progress {
		extra = append(extra, analyzer.WithProgress(&analyzer.TextEmitter{W: stderr}))
	}

	if url := cfg.Database.URL; url != "" {
		db, err := openArchive(ctx, url, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		extra = append(extra, analyzer.WithRecorder(database.NewRecorder(db)))
	}

	coord, err := analyzer.NewFromConfig(cfg, llm.CredentialsFromEnv(), logger, extra...)
	if err != nil {
		return err
	}
	defer func() {
		if err := coord.Close(); err != nil {
			logger.Warn("failed to close analyzer", "error", err)
		}
	}()

	stopSpinner := startSpinner(stderr, len(failures), !opts.progress)
	items := coord.AnalyzeBatch(ctx, failures)
	stopSpinner()

	usage := coord.Stats().Snapshot()
	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		if err := outputJSON(out, items, usage); err != nil {
			return err
		}
	} else {
		printItems(out, items)
		printUsage(out, usage)
	}

	if opts.metricsFile != "" {
		if err := metrics.WriteTextfile(opts.metricsFile, reg); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	rejected := 0
	for _, it := range items {
		if it.Result == nil {
			rejected++
		}
	}
	if rejected > 0 {
		return fmt.Errorf("%d of %d failure records could not be analyzed", rejected, len(items))
	}
	return nil
}

func loadFailures(stdin io.Reader, path string) ([]models.FailureRecord, error) {
	if path == "" || path == "-" {
		return readFailures(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()
	return readFailures(f)
}

func openArchive(ctx context.Context, url string, logger *slog.Logger) (*database.DB, error) {
	if err := database.Migrate(url); err != nil {
		return nil, fmt.Errorf("migrate archive: %w", err)
	}
	db, err := database.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	logger.Debug("recording analyses to postgres")
	return db, nil
}

// startSpinner animates on w while the batch runs. It is a no-op unless w is
// a terminal.
func startSpinner(w io.Writer, total int, enabled bool) (stop func()) {
	if !enabled || !isTerminal(w) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = fmt.Sprintf(" Analyzing %d failure(s)...", total)
	s.Start()
	return s.Stop
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
