package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outpost-run/outpost/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:  "configure",
	RunE: runConfigure,
}

type configureFlags struct {
	url           string   `env:"URL"`
	token         string   `env:"TOKEN"`
	name          string   `env:"NAME"`
	work          string   `env:"WORK"`
	labels        []string `env:"LABELS"`
	runnerGroup   string   `env:"RUNNERGROUP"`
	replace       bool     `env:"REPLACE"`
	ephemeral     bool     `env:"EPHEMERAL"`
	unattended    bool     `env:"UNATTENDED"`
	disableUpdate bool     `env:"DISABLEUPDATE"`
}

var configureArgs configureFlags

func init() {
	configureCmd.Flags().StringVarP(&configureArgs.url, "url", "", "", "URL of the orchestration service.")
	configureCmd.Flags().StringVarP(&configureArgs.token, "token", "", "", "Registration token.")
	configureCmd.Flags().StringVarP(&configureArgs.name, "name", "", defaultRunnerName(), "Name of the runner.")
	configureCmd.Flags().StringVarP(&configureArgs.work, "work", "", "_work", "Work folder, relative paths resolve against the agent root.")
	configureCmd.Flags().StringSliceVarP(&configureArgs.labels, "labels", "", nil, "Labels the service matches jobs against.")
	configureCmd.Flags().StringVarP(&configureArgs.runnerGroup, "runnergroup", "", "", "Runner group to register with.")
	configureCmd.Flags().BoolVarP(&configureArgs.replace, "replace", "", false, "Replace an existing configuration under the agent root.")
	configureCmd.Flags().BoolVarP(&configureArgs.ephemeral, "ephemeral", "", false, "Deregister after one job finished.")
	configureCmd.Flags().BoolVarP(&configureArgs.unattended, "unattended", "", false, "Fail instead of prompting for missing values.")
	configureCmd.Flags().BoolVarP(&configureArgs.disableUpdate, "disableupdate", "", false, "Never exit for a self update.")

	rootCmd.AddCommand(configureCmd)
}

// promptMissing asks on stdin for a value not given as a flag. In
// unattended mode missing values are an error instead.
func promptMissing(cmd *cobra.Command, label string, value *string) error {
	if *value != "" {
		return nil
	}

	if configureArgs.unattended {
		return fmt.Errorf("missing value for %s", label)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: ", label)

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return err
	}

	*value = strings.TrimSpace(line)
	if *value == "" {
		return fmt.Errorf("missing value for %s", label)
	}

	return nil
}

func defaultRunnerName() string {
	name, err := os.Hostname()
	if err != nil {
		return "outpost-runner"
	}

	return name
}

func runConfigure(cmd *cobra.Command, args []string) error {
	if err := promptMissing(cmd, "URL of the orchestration service", &configureArgs.url); err != nil {
		return fmt.Errorf("%w: --url is required", errConfiguration)
	}

	if err := promptMissing(cmd, "Registration token", &configureArgs.token); err != nil {
		return fmt.Errorf("%w: --token is required", errConfiguration)
	}

	store := config.NewStore(rootArgs.agentRoot)
	if store.IsConfigured() && !configureArgs.replace {
		return fmt.Errorf("%w: agent root %s is already configured, use --replace to overwrite", errConfiguration, rootArgs.agentRoot)
	}

	work := configureArgs.work
	if !filepath.IsAbs(work) {
		work = filepath.Join(rootArgs.agentRoot, work)
	}

	settings := &config.Settings{
		Name:          configureArgs.name,
		ServerURL:     configureArgs.url,
		WorkFolder:    work,
		Labels:        configureArgs.labels,
		RunnerGroup:   configureArgs.runnerGroup,
		Ephemeral:     configureArgs.ephemeral,
		DisableUpdate: configureArgs.disableUpdate,
	}

	if err := store.SaveSettings(settings); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}

	credentials := &config.Credentials{
		Scheme: "Bearer",
		Token:  configureArgs.token,
	}

	if err := store.SaveCredentials(credentials); err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}

	logger.Info("runner configured", "name", settings.Name, "server", settings.ServerURL, "work", settings.WorkFolder)

	return nil
}
