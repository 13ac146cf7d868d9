package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/outpost-run/outpost/internal/actions"
	"github.com/outpost-run/outpost/internal/dockersetup"
	"github.com/outpost-run/outpost/internal/ipc"
	"github.com/outpost-run/outpost/internal/logsetup"
	"github.com/outpost-run/outpost/internal/otelsetup"
	"github.com/outpost-run/outpost/internal/pluginhost"
	"github.com/outpost-run/outpost/internal/processor"
	"github.com/outpost-run/outpost/internal/runtime"
	"github.com/outpost-run/outpost/internal/worker"
	"github.com/spf13/cobra"
)

var (
	version = "0.0.0-dev"
	commit  = "none"
	date    = "unknown"
)

const otelName = "github.com/outpost-run/outpost"

// errConfiguration marks user errors. The exit code mapping matches
// the listener: 1 runtime failure, 2 configuration error.
var errConfiguration = errors.New("invalid configuration")

var rootCmd = &cobra.Command{
	Use:          "outpost-worker",
	Short:        "Per job worker process, spawned by the listener",
	SilenceUsage: true,
	RunE:         runWorker,
}

type rootFlags struct {
	socket            string        `env:"SOCKET"`
	shell             string        `env:"SHELL"`
	nodeBin           string        `env:"NODE_BIN"`
	pluginBin         string        `env:"PLUGIN_BIN"`
	pull              string        `env:"PULL"`
	actionsDir        string        `env:"ACTIONS_DIR"`
	tempDir           string        `env:"TEMP_DIR"`
	stepTimeout       time.Duration `env:"STEP_TIMEOUT"`
	heartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL"`
	logOptions        *logsetup.Options
	otelOptions       otelsetup.Options
	dockerOptions     dockersetup.Options
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

func init() {
	rootCmd.Version = fmt.Sprintf("%s (sha %s, built %s)", version, commit, date)
	rootCmd.Flags().StringVarP(&rootArgs.socket, "socket", "", "", "Path of the unix socket the listener accepts this worker on.")
	rootCmd.Flags().StringVarP(&rootArgs.shell, "shell", "", "bash", "Shell used for script steps.")
	rootCmd.Flags().StringVarP(&rootArgs.nodeBin, "node-bin", "", "node", "Node binary used for node action steps.")
	rootCmd.Flags().StringVarP(&rootArgs.pluginBin, "plugin-bin", "", defaultPluginBin(), "Path to the plugin binary spawned per artifact operation.")
	rootCmd.Flags().StringVarP(&rootArgs.pull, "pull", "", string(runtime.PullImagePolicyMissing), "Pull container images before running. One of [Always, Missing, Never].")
	rootCmd.Flags().StringVarP(&rootArgs.actionsDir, "actions-dir", "", "", "Directory action references resolve against. Defaults to the temp dir.")
	rootCmd.Flags().StringVarP(&rootArgs.tempDir, "temp-dir", "", os.TempDir(), "Directory for per job scratch files.")
	rootCmd.Flags().DurationVarP(&rootArgs.stepTimeout, "step-timeout", "", 0, "Default timeout per step. Steps without an explicit timeout run unbounded when zero.")
	rootCmd.Flags().DurationVarP(&rootArgs.heartbeatInterval, "heartbeat-interval", "", worker.DefaultHeartbeatInterval, "Interval between heartbeat frames to the listener.")
	rootArgs.logOptions.BindFlags(rootCmd.Flags())
	rootArgs.otelOptions.BindFlags(rootCmd.Flags())
	rootArgs.dockerOptions.BindFlags(rootCmd.Flags())
}

func runWorker(cmd *cobra.Command, args []string) error {
	var err error
	logger, err = rootArgs.logOptions.Build()
	if err != nil {
		return err
	}

	if rootArgs.socket == "" {
		return fmt.Errorf("%w: --socket is required", errConfiguration)
	}

	rootArgs.dockerOptions.SetDefaultOptions(cmd.Flags())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootArgs.otelOptions.ServiceName = "outpost-worker"
	traceProvider, err := rootArgs.otelOptions.BuildTraceProvider(ctx)
	if err != nil {
		return fmt.Errorf("build trace provider: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if err := traceProvider.Shutdown(shutdownCtx); err != nil {
			logger.V(1).Info("trace provider shutdown", "error", err)
		}
	}()

	celEnv, err := processor.NewConditionEnv()
	if err != nil {
		return fmt.Errorf("build condition environment: %w", err)
	}

	actionsDir := rootArgs.actionsDir
	if actionsDir == "" {
		actionsDir = rootArgs.tempDir
	}

	opts := []processor.EngineOption{
		processor.WithActionResolver(actions.NewResolver(actionsDir)),
		processor.WithShell(rootArgs.shell),
		processor.WithNodeBin(rootArgs.nodeBin),
		processor.WithPullPolicy(runtime.PullImagePolicy(rootArgs.pull)),
		processor.WithPluginHost(pluginhost.NewHost(rootArgs.pluginBin,
			pluginhost.WithLogger(logger),
		)),
		processor.WithBuilders(
			processor.WithRecover(),
			processor.WithLogger(logger),
			processor.WithTrace(traceProvider.Tracer(otelName)),
			processor.WithCondition(celEnv),
			processor.WithEnv(),
			processor.WithOutputVars(),
			processor.WithTimeout(rootArgs.stepTimeout),
		),
	}

	// A missing container runtime only matters once a job carries a
	// container action, so it downgrades to a log line here.
	if dockerClient, err := rootArgs.dockerOptions.Build(); err != nil {
		logger.V(1).Info("container runtime unavailable", "error", err)
	} else {
		defer dockerClient.Close()
		opts = append(opts, processor.WithContainer(runtime.NewDocker(dockerClient,
			runtime.WithLogger(logger),
		)))
	}

	runner := worker.NewRunner(processor.NewEngine(opts...),
		worker.WithLogger(logger),
		worker.WithTempDir(rootArgs.tempDir),
		worker.WithHeartbeatInterval(rootArgs.heartbeatInterval),
	)

	ch, err := ipc.Dial(rootArgs.socket)
	if err != nil {
		return fmt.Errorf("dial listener socket: %w", err)
	}
	defer ch.Close()

	logger.V(1).Info("worker connected", "socket", rootArgs.socket, "version", version)

	return runner.Run(ctx, ch)
}

func defaultPluginBin() string {
	executable, err := os.Executable()
	if err != nil {
		return "outpost-plugin"
	}

	return filepath.Join(filepath.Dir(executable), "outpost-plugin")
}
