// Package cli implements the sopcheck command line tool.
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sop-monitor/backend/pkg/config"
	"github.com/sop-monitor/backend/pkg/logger"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersionInfo sets the version information injected via ldflags.
func SetVersionInfo(version, commit string) {
	appVersion = version
	appCommit = commit
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sopcheck",
		Short: "Evaluate observed work against standard operating procedures",
		Long: `sopcheck compares a recorded sequence of worker observations with an SOP,
flags deviations with a severity rating and writes alert, summary and JSON
compliance reports.

SOPs can be read from a file or from the local SOP library.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logger.Init(opts.logLevel, "console", "stderr")
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(newEvaluateCmd(opts))
	root.AddCommand(newSOPCmd(opts))
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "sopcheck %s\ncommit: %s\n", appVersion, appCommit)
		},
	})

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
