package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/codefacts"
	"github.com/jward/codefacts/internal/config"
)

var (
	flagStore   string
	flagConfig  string
	flagFormat  string
	flagVerbose bool
)

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// cfg is loaded once in PersistentPreRunE; flags are applied over it.
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "codefacts",
	Short:         "Index C# sources into a queryable SQLite fact store",
	Long:          "codefacts extracts types, methods, lines, variables, references and invocations from C# sources with tree-sitter and stores them in SQLite behind read-only views.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagStore, "store", "", "store path (default: "+config.DefaultStorePath+" relative to repo root)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: "+config.FileName+" in the repo root, if present)")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "json", "output format: json|text")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(lookupCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(mcpCmd)
}

// loadConfig reads the config file and applies the persistent flags.
func loadConfig(cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting cwd: %w", err)
	}
	repoRoot := findRepoRoot(cwd)

	path, optional := flagConfig, false
	if path == "" {
		path, optional = filepath.Join(repoRoot, config.FileName), true
	}
	loaded, err := config.Load(path, optional)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("store") {
		loaded.Store = flagStore
	}
	if !filepath.IsAbs(loaded.Store) {
		loaded.Store = filepath.Join(repoRoot, loaded.Store)
	}
	cfg = loaded
	return nil
}

// newLogger returns the stderr logger for engine and script events.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openEngine opens the configured store. With mustExist the store has to
// have been created by an earlier scan.
func openEngine(mustExist bool) (*codefacts.Engine, error) {
	if mustExist {
		if _, err := os.Stat(cfg.Store); os.IsNotExist(err) {
			return nil, fmt.Errorf("store not found: %s (run 'codefacts scan' first)", cfg.Store)
		}
	} else if err := os.MkdirAll(filepath.Dir(cfg.Store), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", filepath.Dir(cfg.Store), err)
	}

	engine, err := codefacts.New(cfg.Store,
		codefacts.WithLogger(newLogger()),
		codefacts.WithWorkers(cfg.Scan.Workers),
		codefacts.WithExtraIgnores(cfg.Scan.ExtraIgnores...),
	)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return engine, nil
}

// queryOptions returns the configured query limits.
func queryOptions() codefacts.QueryOptions {
	return codefacts.QueryOptions{
		MaxRows: cfg.Query.MaxRows,
		Timeout: time.Duration(cfg.Query.TimeoutMS) * time.Millisecond,
	}
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}
