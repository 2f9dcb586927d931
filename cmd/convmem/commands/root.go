// Package commands provides the CLI commands for convmem.
package commands

import (
	"context"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/vianexus/agentmemory/internal/config"
	"github.com/vianexus/agentmemory/internal/logging"
	"github.com/vianexus/agentmemory/internal/session"
)

// Version is set at build time.
var Version = "0.1.0"

// Global flags
var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:     "convmem",
	Short:   "convmem - conversation memory administration",
	Long:    `convmem manages conversation sessions stored in a volatile, file or object backend: create, list, inspect, clone, branch and delete.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config (env vars override)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(appendCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(deleteCmd)
}

// Execute runs the root command.
func Execute() error {
	// .env is optional; ignore absence.
	godotenv.Load()
	return rootCmd.Execute()
}

// newManager builds a session manager from the configured backend.
func newManager(ctx context.Context) (*session.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	logging.Init(logging.Config{Level: logging.ParseLevel(level), Pretty: cfg.Log.Pretty})

	backend, err := config.BuildBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return session.New(backend, cfg.CacheCapacity), nil
}
