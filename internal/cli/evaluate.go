package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sop-monitor/backend/internal/bootstrap"
	"github.com/sop-monitor/backend/internal/ingestion"
	"github.com/sop-monitor/backend/internal/pipeline"
	"github.com/sop-monitor/backend/internal/report"
	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/internal/storage/sqlite"
)

// Exit codes for evaluate.
const (
	ExitCompliant    = 0
	ExitDeviations   = 1
	ExitHighSeverity = 2
)

type evaluateOptions struct {
	sopPath          string
	sopName          string
	observationsPath string
	outputDir        string
	threshold        float64
	workers          int
	provider         string
	quiet            bool
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	opts := &evaluateOptions{}

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate an observation sequence against an SOP",
		Long: `Evaluate matches every observation to its closest SOP step, checks tools and
safety equipment, and classifies deviations.

Exit status is 2 when any high-severity deviation is found, 1 for any other
deviation or an error, and 0 when the sequence is fully compliant.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (opts.sopPath == "") == (opts.sopName == "") {
				return fmt.Errorf("exactly one of --sop or --sop-name is required")
			}

			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("threshold") {
				cfg.Compliance.Threshold = opts.threshold
			}
			if cmd.Flags().Changed("workers") {
				cfg.Compliance.Workers = opts.workers
			}
			if cmd.Flags().Changed("provider") {
				cfg.Embedding.Provider = opts.provider
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			observations, err := ingestion.LoadObservationsFile(opts.observationsPath)
			if err != nil {
				return fmt.Errorf("loading observations: %w", err)
			}
			if err := ingestion.ValidateObservations(observations); err != nil {
				return err
			}

			req := pipeline.Request{SOPName: opts.sopName, Observations: observations}
			var store pipeline.Store
			if opts.sopPath != "" {
				sop, err := ingestion.LoadSOPFile(opts.sopPath)
				if err != nil {
					return fmt.Errorf("loading SOP: %w", err)
				}
				req.SOP = sop
			} else {
				client, err := sqlite.NewClient(cfg.SQLite.Path)
				if err != nil {
					return err
				}
				defer client.Close()
				if err := client.InitSchema(); err != nil {
					return err
				}
				store = client
			}

			provider, err := bootstrap.NewProvider(cfg)
			if err != nil {
				return err
			}
			defer provider.Close()

			evaluator, err := bootstrap.NewEvaluator(cfg, provider)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			resp, err := pipeline.NewRunner(evaluator, store).Run(ctx, req)
			if err != nil {
				return err
			}

			now := time.Now()
			summaryText := report.SummaryReport(resp.TaskName, resp.Results, resp.Summary, now)
			if !opts.quiet {
				fmt.Fprint(cmd.OutOrStdout(), summaryText)
			}

			if opts.outputDir != "" {
				written, err := writeReports(opts.outputDir, reportBaseName(opts.observationsPath), resp, summaryText, now)
				if err != nil {
					return err
				}
				for _, path := range written {
					fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", path)
				}
			}

			if code := exitCodeFor(resp.Summary); code != ExitCompliant {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.sopPath, "sop", "", "SOP file (JSON or YAML)")
	cmd.Flags().StringVar(&opts.sopName, "sop-name", "", "name of an SOP in the library")
	cmd.Flags().StringVar(&opts.observationsPath, "observations", "", "observations file (JSON or YAML)")
	cmd.Flags().StringVarP(&opts.outputDir, "output", "o", "", "directory for alert, summary and JSON reports")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0.70, "similarity threshold in (0, 1)")
	cmd.Flags().IntVar(&opts.workers, "workers", 1, "observations evaluated concurrently")
	cmd.Flags().StringVar(&opts.provider, "provider", "lexical", "similarity provider (lexical, openai)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the summary report")
	_ = cmd.MarkFlagRequired("observations")

	return cmd
}

func exitCodeFor(summary models.SequenceSummary) int {
	switch {
	case summary.HighSeverityCount > 0:
		return ExitHighSeverity
	case summary.TotalDeviations > 0:
		return ExitDeviations
	default:
		return ExitCompliant
	}
}

// reportBaseName is the observations file name without directory or extension.
func reportBaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func writeReports(dir, name string, resp *pipeline.Response, summaryText string, now time.Time) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	alertsPath := filepath.Join(dir, name+"_alerts.txt")
	summaryPath := filepath.Join(dir, name+"_summary.txt")
	jsonPath := filepath.Join(dir, name+"_compliance.json")

	if err := writeFile(alertsPath, func(f *os.File) error {
		return report.WriteAlerts(f, report.Alerts(resp.Results), now)
	}); err != nil {
		return nil, err
	}
	if err := os.WriteFile(summaryPath, []byte(summaryText), 0o644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", summaryPath, err)
	}
	if err := writeFile(jsonPath, func(f *os.File) error {
		return report.ExportJSON(f, resp.Results, resp.Summary, now)
	}); err != nil {
		return nil, err
	}

	return []string{alertsPath, summaryPath, jsonPath}, nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}
