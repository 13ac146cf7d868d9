package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/outpost-run/outpost/internal/logsetup"
	"github.com/outpost-run/outpost/internal/pluginhost"
	"github.com/outpost-run/outpost/internal/plugins/artifact"
	"github.com/spf13/cobra"
)

var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:          "outpost-plugin",
	Short:        "Artifact transfer plugin, spawned by the worker per operation",
	SilenceUsage: true,
	RunE:         runPlugin,
}

type rootFlags struct {
	socket     string        `env:"SOCKET"`
	timeout    time.Duration `env:"TIMEOUT"`
	logOptions *logsetup.Options
}

var rootArgs = rootFlags{
	logOptions: logsetup.DefaultOptions(),
}

var logger logr.Logger

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errConfiguration) {
			os.Exit(2)
		}

		os.Exit(1)
	}
}

// errConfiguration marks user errors, exit code 2 like the other
// binaries.
var errConfiguration = errors.New("invalid configuration")

func init() {
	rootCmd.Version = fmt.Sprintf("%s (sha %s, built %s)", version, commit, date)
	rootCmd.Flags().StringVarP(&rootArgs.socket, "socket", "", "", "Path of the unix socket the worker accepts this plugin on.")
	rootCmd.Flags().DurationVarP(&rootArgs.timeout, "timeout", "", 0, "Timeout per transfer. Zero leaves the bound to the owning step.")
	rootArgs.logOptions.BindFlags(rootCmd.Flags())
}

func runPlugin(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = rootArgs.logOptions.Build()
	if err != nil {
		return err
	}

	if rootArgs.socket == "" {
		return fmt.Errorf("%w: --socket is required", errConfiguration)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: rootArgs.timeout}

	logger.V(1).Info("plugin connected", "socket", rootArgs.socket, "version", version)

	return pluginhost.Serve(ctx, rootArgs.socket, artifact.Operations(httpClient))
}
