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

	"github.com/gofrs/flock"
	"github.com/outpost-run/outpost/internal/broker"
	"github.com/outpost-run/outpost/internal/config"
	"github.com/outpost-run/outpost/internal/dispatch"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:  "run",
	RunE: runRun,
}

type runFlags struct {
	once         bool          `env:"ONCE"`
	slots        int           `env:"SLOTS"`
	workerBin    string        `env:"WORKER_BIN"`
	socketDir    string        `env:"SOCKET_DIR"`
	pollInterval time.Duration `env:"POLL_INTERVAL"`
}

var runArgs runFlags

func init() {
	runCmd.Flags().BoolVarP(&runArgs.once, "once", "", false, "Exit after a single job finished, regardless of the configured ephemeral setting.")
	runCmd.Flags().IntVarP(&runArgs.slots, "slots", "", 1, "Number of jobs executed concurrently.")
	runCmd.Flags().StringVarP(&runArgs.workerBin, "worker-bin", "", defaultWorkerBin(), "Path to the worker binary spawned per job.")
	runCmd.Flags().StringVarP(&runArgs.socketDir, "socket-dir", "", os.TempDir(), "Directory for the per job worker sockets.")
	runCmd.Flags().DurationVarP(&runArgs.pollInterval, "poll-interval", "", time.Second, "Interval between job polls while the service reports no work.")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := config.NewStore(rootArgs.agentRoot)
	settings, err := store.Settings()
	if err != nil {
		return err
	}

	credentials, err := store.Credentials()
	if err != nil {
		return err
	}

	// Two listeners sharing an agent root would race on the work folder
	// and the session. The lock is held for the lifetime of the process.
	lock := flock.New(filepath.Join(rootArgs.agentRoot, ".listener.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock agent root: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: agent root %s is in use by another listener", errConfiguration, rootArgs.agentRoot)
	}

	defer func() {
		_ = lock.Unlock()
	}()

	client := broker.NewClient(settings.ServerURL, credentials.Token, settings.Name,
		broker.WithLogger(logger),
	)

	if err := client.CreateSession(ctx); err != nil {
		if errors.Is(err, broker.ErrSessionConflict) {
			return fmt.Errorf("another listener already holds a session for runner %s: %w", settings.Name, err)
		}

		return fmt.Errorf("create session: %w", err)
	}

	defer func() {
		deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()

		if err := client.DeleteSession(deleteCtx); err != nil {
			logger.Error(err, "delete session")
		}
	}()

	spawner := dispatch.NewProcessSpawner(runArgs.workerBin,
		dispatch.WithSpawnerLogger(logger),
		dispatch.WithSocketDir(runArgs.socketDir),
		dispatch.WithWorkDir(settings.WorkFolder),
	)

	scheduler := dispatch.NewScheduler(client, spawner,
		dispatch.WithLogger(logger),
		dispatch.WithSlots(runArgs.slots),
		dispatch.WithEphemeral(settings.Ephemeral || runArgs.once),
		dispatch.WithPollInterval(runArgs.pollInterval),
	)

	logger.Info("listener started", "runner", settings.Name, "server", settings.ServerURL, "version", version)

	reason, err := scheduler.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("listener stopped", "reason", reason)

	if reason == dispatch.StopReasonUpdate && !settings.DisableUpdate {
		exitCode = exitUpdateRequired
	}

	return nil
}

// defaultWorkerBin resolves the worker binary next to the listener so a
// relocated installation keeps working without flags.
func defaultWorkerBin() string {
	executable, err := os.Executable()
	if err != nil {
		return "outpost-worker"
	}

	return filepath.Join(filepath.Dir(executable), "outpost-worker")
}
