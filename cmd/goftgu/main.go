package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/4xmen/goftgu/pkg/config"
	"github.com/4xmen/goftgu/pkg/i18n"
	"github.com/4xmen/goftgu/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "goftgu",
	Short: "Goftgu - direct and group chat server",
	Long: `Goftgu serves direct and group conversations over HTTP and websockets,
backed by a single SQLite database.

Running goftgu without a subcommand starts the server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Goftgu version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(tokenCmd)
}

// loadConfig reads the configuration and applies the process-wide settings
// that every command shares.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log.Init(log.Config{
		Level:      cfg.LogLevel,
		JSONOutput: cfg.LogJSON,
	})
	i18n.SetLocale(cfg.Locale)
	return cfg, nil
}
