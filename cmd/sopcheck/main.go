package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sop-monitor/backend/internal/cli"
	"github.com/sop-monitor/backend/pkg/logger"
)

// Set by ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.SetVersionInfo(version, commit)

	err := cli.Execute()
	logger.Sync()

	var exitErr *cli.ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Err == nil) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cli.ExitCode(err))
}
