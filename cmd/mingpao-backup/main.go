package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yellowcandle/mingpao-backup/internal/archiver"
	"github.com/yellowcandle/mingpao-backup/internal/config"
	"github.com/yellowcandle/mingpao-backup/internal/fetch"
	"github.com/yellowcandle/mingpao-backup/internal/filter"
	"github.com/yellowcandle/mingpao-backup/internal/ratelimit"
	"github.com/yellowcandle/mingpao-backup/internal/storage"
	"github.com/yellowcandle/mingpao-backup/internal/urlgen"
	"github.com/yellowcandle/mingpao-backup/internal/wayback"
)

var version = "dev"

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:           "mingpao-backup",
	Short:         "Archive Ming Pao Canada articles to the Internet Archive",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(rangeCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and initializes logging from it.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if err := setupLogging(cfg.Logging); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig) error {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	out := os.Stderr
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})))
	return nil
}

func openStore(cfg config.Config) (*storage.Store, error) {
	store, err := storage.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

// newOrchestrator wires the full pipeline: one rate-limited HTTP client is
// shared by discovery, filtering and archiving so the aggregate request rate
// stays within the archive service's tolerance.
func newOrchestrator(cfg config.Config, store *storage.Store) *archiver.Orchestrator {
	limiter := ratelimit.New(cfg.Archiving.RateLimitInterval(), cfg.Archiving.MaxBurst)
	client := fetch.NewClient(limiter, cfg.Archiving.RequestTimeout())

	gen := urlgen.New(client, cfg.BaseURL, cfg.Archiving.WaybackFirstIndex)
	kf := filter.New(client, cfg.Keywords)
	saver := wayback.New(client, cfg.Archiving)

	return archiver.New(cfg, store, gen, kf, saver)
}
