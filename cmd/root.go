package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/voltree/internal/config"
	"github.com/agentic-research/voltree/internal/logging"
)

var (
	configPath string
	verbose    bool

	cfg       *config.Config
	logCloser io.Closer
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (.hcl, .json or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

var rootCmd = &cobra.Command{
	Use:          "voltree",
	Short:        "voltree: metadata store for reconstruction volumes",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			c.Log.Level = "debug"
		}
		logger, closer, err := logging.Setup(c.LoggingOptions())
		if err != nil {
			return fmt.Errorf("set up logging: %w", err)
		}
		c.Apply()
		cfg, logCloser = c, closer
		logger.Debug("configuration loaded", "config", configPath, "workers", c.MaxLoadWorkers)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser == nil {
			return nil
		}
		err := logCloser.Close()
		logCloser = nil
		return err
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Debug("command failed", "err", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
