package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abhisek/studysync/internal/app"
	"github.com/abhisek/studysync/internal/config"
	"github.com/abhisek/studysync/internal/logging"
	"github.com/abhisek/studysync/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "studysync",
	Short: "TOEIC study sessions that keep working offline",
	Long: `studysync runs timed TOEIC practice sessions (parts 5, 6 and 7), buffers
answers locally while the shared store is unreachable, reconciles them when
it is back, and reports weekly and monthly progress.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("db", "", "Path to the local SQLite database (overrides STUDYSYNC_DB)")
	pf.String("config", "", "Path to a config file (default ./studysync.yaml or $XDG_CONFIG_HOME/studysync/studysync.yaml)")
	pf.String("remote", "", "Remote store driver: postgres or memory")
	pf.String("log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(questionsCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cfg.DB, err = resolveDBPath(cmd, cfg.DB); err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	if v, _ := cmd.Flags().GetString("remote"); v != "" {
		cfg.Remote.Driver = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	return cfg, nil
}

// openApp loads the configuration and wires every service. Callers must
// Close the returned App.
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Out: os.Stderr})
	return app.New(cmd.Context(), cfg, app.Options{Logger: log})
}

// resolveDBPath returns the database path using --db flag (highest priority),
// then the configured path, then STUDYSYNC_DB, then the default XDG path.
func resolveDBPath(cmd *cobra.Command, configured string) (string, error) {
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		return p, store.EnsureDir(p)
	}
	if configured != "" {
		return configured, store.EnsureDir(configured)
	}
	return store.DefaultDBPath()
}
