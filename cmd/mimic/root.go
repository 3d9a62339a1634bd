package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tfkr-ae/mimic"
)

// cli carries the state shared by every subcommand of one invocation.
type cli struct {
	v      *viper.Viper
	config *mimic.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &cli{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "mimic",
		Short:         "Serve substituted content for matching requests through an intercepting proxy",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config-dir", "", "Directory holding config.yaml, the CA and the default storage")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().String("storage-dir", "", "Directory holding the mapping index and content")
	rootCmd.PersistentFlags().String("storage-backend", "", "Mapping storage backend (file, sqlite)")
	c.v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	c.v.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	c.v.BindPFlag("storage_dir", rootCmd.PersistentFlags().Lookup("storage-dir"))
	c.v.BindPFlag("storage_backend", rootCmd.PersistentFlags().Lookup("storage-backend"))

	rootCmd.AddCommand(
		newServeCommand(c),
		newMappingsCommand(c),
		newChromeCommand(c),
		newVersionCommand(),
	)
	return rootCmd
}

// load reads the configuration and builds the logger. Flags that were not set on the
// command line fall through to config.yaml and then to the defaults.
func (c *cli) load(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	if configDir == "" {
		userDir, err := os.UserConfigDir()
		if err != nil {
			return fmt.Errorf("%w : %w", ErrConfigDir, err)
		}
		configDir = filepath.Join(userDir, "mimic")
	}

	config, err := mimic.LoadConfig(configDir, c.v)
	if err != nil {
		return fmt.Errorf("%w : %w", ErrLoadConfig, err)
	}
	c.config = config

	logger, err := newLogger(cmd.ErrOrStderr(), config.LogLevel, config.LogFormat)
	if err != nil {
		return err
	}
	c.logger = logger
	return nil
}
