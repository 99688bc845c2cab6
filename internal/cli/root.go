// Package cli provides the command-line interface for itchgrab.
package cli

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/avollmer/itchgrab/internal/config"
	"github.com/avollmer/itchgrab/internal/itchio"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool
	apiKey  string

	// Global config and log cleanup
	cfg        config.Config
	logCleanup func() error
)

// ErrMissingAPIKey aborts a command before any network call is made.
var ErrMissingAPIKey = errors.New("API key is required. Provide it via --api-key flag or ITCH_API_KEY environment variable")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "itchgrab",
	Short: "Download your itch.io library from the command line",
	Long: `Itchgrab lists the packages you own on itch.io and downloads them
concurrently, optionally extracting zip archives.

The API key comes from --api-key, the ITCH_API_KEY environment variable,
or the config file ($ITCHGRAB_CONFIG, default ~/.config/itchgrab/config.yaml).`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Nothing to set up for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if apiKey != "" {
			cfg.APIKey = apiKey
		}

		// Keep stderr quiet unless asked; the log file gets everything.
		stderrLevel := slog.LevelWarn
		if verbose {
			stderrLevel = slog.LevelDebug
		}
		logger, cleanup := config.SetupLogger(cfg.LogFile, stderrLevel, cfg.LogLevel)
		slog.SetDefault(logger)
		logCleanup = cleanup

		if cfg.APIKey == "" {
			return ErrMissingAPIKey
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

// newClient builds the API client from the resolved config.
func newClient() *itchio.Client {
	c := itchio.New(cfg.APIKey, cfg.APIURL, slog.Default())
	c.Pace = cfg.Pacing
	return c
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&apiKey, "api-key", "k", "", "itch.io API key (overrides ITCH_API_KEY)")

	// Add subcommands
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(dlCmd)
}
