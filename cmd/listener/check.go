package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/outpost-run/outpost/internal/config"
	"github.com/outpost-run/outpost/internal/dockersetup"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the runner configuration and its environment",
	RunE:  runCheck,
}

type checkFlags struct {
	timeout       time.Duration `env:"TIMEOUT"`
	dockerOptions dockersetup.Options
}

var checkArgs checkFlags

func init() {
	checkCmd.Flags().DurationVarP(&checkArgs.timeout, "timeout", "", 10*time.Second, "Timeout per connectivity check.")
	checkArgs.dockerOptions.BindFlags(checkCmd.Flags())

	rootCmd.AddCommand(checkCmd)
}

type check struct {
	name     string
	optional bool
	run      func(ctx context.Context) error
}

func runCheck(cmd *cobra.Command, args []string) error {
	checkArgs.dockerOptions.SetDefaultOptions(cmd.Flags())

	store := config.NewStore(rootArgs.agentRoot)

	checks := []check{
		{
			name: "settings",
			run: func(ctx context.Context) error {
				_, err := store.Settings()
				return err
			},
		},
		{
			name: "credentials",
			run: func(ctx context.Context) error {
				_, err := store.Credentials()
				return err
			},
		},
		{
			name: "service connectivity",
			run:  checkConnectivity(store),
		},
		{
			name: "work folder",
			run:  checkWorkFolder(store),
		},
		{
			name:     "node runtime",
			optional: true,
			run: func(ctx context.Context) error {
				_, err := exec.LookPath("node")
				return err
			},
		},
		{
			name:     "container runtime",
			optional: true,
			run:      checkDocker,
		},
	}

	var failed int
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(cmd.Context(), checkArgs.timeout)
		err := c.run(ctx)
		cancel()

		switch {
		case err == nil:
			cmd.Printf("PASS  %s\n", c.name)
		case c.optional:
			cmd.Printf("WARN  %s: %s\n", c.name, err)
		default:
			cmd.Printf("FAIL  %s: %s\n", c.name, err)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}

	return nil
}

func checkConnectivity(store *config.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		settings, err := store.Settings()
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, settings.ServerURL, nil)
		if err != nil {
			return err
		}

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("service responded with status %d", resp.StatusCode)
		}

		return nil
	}
}

func checkWorkFolder(store *config.Store) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		settings, err := store.Settings()
		if err != nil {
			return err
		}

		if err := os.MkdirAll(settings.WorkFolder, 0755); err != nil {
			return err
		}

		probe := filepath.Join(settings.WorkFolder, ".write-probe")
		if err := os.WriteFile(probe, nil, 0644); err != nil {
			return err
		}

		return os.Remove(probe)
	}
}

func checkDocker(ctx context.Context) error {
	cli, err := checkArgs.dockerOptions.Build()
	if err != nil {
		return err
	}
	defer cli.Close()

	_, err = cli.Ping(ctx)
	return err
}
