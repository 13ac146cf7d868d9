package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:  "version",
	RunE: runVersion,
}

type versionFlags struct {
	json bool `env:"JSON"`
}

var versionArgs versionFlags

func init() {
	versionCmd.Flags().BoolVarP(&versionArgs.json, "json", "", false, "")
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	if versionArgs.json {
		fmt.Printf(`{"version":"%s","sha":"%s","date":"%s"}`+"\n", version, commit, date)
		return nil
	}

	fmt.Printf("Version:\t%s\nCommit SHA:\t%s\nBuild date:\t%s\n", version, commit, date)

	return nil
}
