package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newChromeCommand(c *cli) *cobra.Command {
	chromeCmd := &cobra.Command{
		Use:   "chrome",
		Short: "Configure the Chrome executables tried by serve --chrome",
	}

	addPathCmd := &cobra.Command{
		Use:   "add-path <path>",
		Short: "Try this Chrome executable before the platform defaults",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.config.AddChromePath(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
			return nil
		},
	}

	pathsCmd := &cobra.Command{
		Use:   "paths",
		Short: "List the configured Chrome executables",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, path := range c.config.ChromePaths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
		},
	}

	chromeCmd.AddCommand(addPathCmd, pathsCmd)
	return chromeCmd
}
