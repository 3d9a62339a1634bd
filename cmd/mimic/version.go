package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/mimic"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func newVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// The version does not depend on configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "mimic %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)

			check, _ := cmd.Flags().GetBool("check")
			if !check {
				return nil
			}
			releasesURL, _ := cmd.Flags().GetString("releases-url")
			release, err := mimic.LatestRelease(cmd.Context(), nil, releasesURL)
			if err != nil {
				return err
			}
			if mimic.IsNewer(Version, release.TagName) {
				fmt.Fprintf(cmd.OutOrStdout(), "update available: %s (published %s) %s\n", release.TagName, release.PublishedAt.Format(time.DateOnly), release.URL)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "up to date")
			return nil
		},
	}
	versionCmd.Flags().Bool("check", false, "Check GitHub for a newer release")
	versionCmd.Flags().String("releases-url", mimic.ReleasesURL, "Releases endpoint queried by --check")
	versionCmd.Flags().MarkHidden("releases-url")
	return versionCmd
}
