// Package cli provides the command-line interface for pbtransfer.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/raphaelgruber/pbtransfer/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose    bool
	configPath string

	// Global config and logger
	cfg        config.Config
	logger     *slog.Logger
	logCleanup func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pbtransfer",
	Short: "Migrate records and attachments between record stores",
	Long: `pbtransfer copies the records of configured collections from a source
store to a destination store, re-uploading file attachments and re-linking
self-referencing hierarchies under the identifiers the destination assigns.

The destination collections are cleared before each transfer.

Stores are PocketBase instances or SurrealDB databases, configured through
DONOR_* and RECIPIENT_* environment variables or a YAML file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if configPath == "" {
			configPath = os.Getenv("PBTRANSFER_CONFIG")
		}
		if configPath != "" {
			var err error
			cfg, err = config.LoadFile(configPath, cfg)
			if err != nil {
				return err
			}
		}
		if verbose {
			cfg.LogLevel = "DEBUG"
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			if err := logCleanup(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// setupLogging builds the global logger. console receives text logs, the
// configured log file receives JSON.
func setupLogging(console io.Writer) {
	logger, logCleanup = config.SetupLogger(console, cfg.LogFile, cfg.Level())
	slog.SetDefault(logger)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $PBTRANSFER_CONFIG)")

	// Add subcommands
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(failuresCmd)
}
