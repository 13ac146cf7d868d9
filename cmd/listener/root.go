package main

import (
	"errors"
	"os"

	"github.com/go-logr/logr"
	"github.com/outpost-run/outpost/internal/config"
	"github.com/outpost-run/outpost/internal/logsetup"
	"github.com/spf13/cobra"
)

var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes are part of the contract with the wrapper script that
// restarts the listener: 3 means a new version was published and the
// wrapper should swap the binary before re-executing.
const (
	exitOK             = 0
	exitRuntimeFailure = 1
	exitConfigError    = 2
	exitUpdateRequired = 3
)

// errConfiguration marks user errors that must exit with exitConfigError.
var errConfiguration = errors.New("invalid configuration")

type rootFlags struct {
	agentRoot  string `env:"AGENT_ROOT"`
	logOptions *logsetup.Options
}

var rootArgs = rootFlags{
	logOptions: logsetup.DefaultOptions(),
}

var logger logr.Logger
var exitCode = exitOK

var rootCmd = &cobra.Command{
	Use:               "outpost-listener",
	Short:             "Self-hosted job execution agent",
	SilenceUsage:      true,
	PersistentPreRunE: runRoot,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, config.ErrNotConfigured) || errors.Is(err, errConfiguration) {
			os.Exit(exitConfigError)
		}

		os.Exit(exitRuntimeFailure)
	}

	os.Exit(exitCode)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootArgs.agentRoot, "agent-root", "", defaultAgentRoot(), "Directory holding the runner settings, credentials and work folder.")
	rootArgs.logOptions.BindFlags(rootCmd.PersistentFlags())
}

func defaultAgentRoot() string {
	if root := os.Getenv("OUTPOST_AGENT_ROOT"); root != "" {
		return root
	}

	root, err := os.Getwd()
	if err != nil {
		return "."
	}

	return root
}

func runRoot(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = rootArgs.logOptions.Build()
	return err
}
