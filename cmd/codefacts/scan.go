package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/codefacts"
	"github.com/jward/codefacts/internal/watch"
)

var (
	flagChangedOnly bool
	flagWorkers     int
	flagForce       bool
)

var scanCmd = &cobra.Command{
	Use:   "scan [root]",
	Short: "Scan a directory, .csproj or .sln into the store",
	Long:  "Discovers C# sources under root, extracts and binds their facts, and commits them to the store in one transaction. Without --changed-only the store is rebuilt from scratch.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runScan,
}

var watchCmd = &cobra.Command{
	Use:   "watch [root]",
	Short: "Rescan changed files as they are saved",
	Long:  "Runs one scan, then watches root and performs a changed-only scan after each quiet batch of .cs, .csproj or .sln changes.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func init() {
	scanCmd.Flags().BoolVar(&flagChangedOnly, "changed-only", false, "re-extract only files whose content changed")
	scanCmd.Flags().IntVar(&flagWorkers, "workers", 0, "extraction workers (default: number of CPUs)")
	scanCmd.Flags().BoolVar(&flagForce, "force", false, "delete the store before scanning")

	watchCmd.Flags().IntVar(&flagWorkers, "workers", 0, "extraction workers (default: number of CPUs)")
	watchCmd.Flags().Int("debounce-ms", 0, "quiet interval before a rescan (default from config)")
}

// scanRoot returns the root from args, the config, or the default.
func scanRoot(args []string) (string, error) {
	root := cfg.Scan.Root
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving path %q: %w", root, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("%w: %s", codefacts.ErrInvalidRoot, abs)
	}
	return abs, nil
}

func applyScanFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("workers") {
		cfg.Scan.Workers = flagWorkers
	}
	if cmd.Flags().Changed("changed-only") {
		cfg.Scan.ChangedOnly = flagChangedOnly
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	applyScanFlags(cmd)
	root, err := scanRoot(args)
	if err != nil {
		return outputError("scan", err)
	}

	if flagForce {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.Store + suffix); err != nil && !os.IsNotExist(err) {
				return outputError("scan", fmt.Errorf("removing store for --force: %w", err))
			}
		}
	}

	engine, err := openEngine(false)
	if err != nil {
		return outputError("scan", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := engine.Scan(ctx, root, codefacts.ScanOptions{ChangedOnly: cfg.Scan.ChangedOnly})
	if err != nil {
		return outputError("scan", err)
	}
	return outputResult(CLIResult{Command: "scan", Results: scanSummaryToCLI(summary)})
}

func runWatch(cmd *cobra.Command, args []string) error {
	applyScanFlags(cmd)
	if cmd.Flags().Changed("debounce-ms") {
		cfg.Watch.DebounceMS, _ = cmd.Flags().GetInt("debounce-ms")
	}
	root, err := scanRoot(args)
	if err != nil {
		return outputError("watch", err)
	}

	engine, err := openEngine(false)
	if err != nil {
		return outputError("watch", err)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger()
	rescan := func(ctx context.Context, changedOnly bool) error {
		summary, err := engine.Scan(ctx, root, codefacts.ScanOptions{ChangedOnly: changedOnly})
		if err != nil {
			return err
		}
		printScanLine(summary)
		return nil
	}
	if err := rescan(ctx, cfg.Scan.ChangedOnly); err != nil {
		return outputError("watch", err)
	}

	// A .csproj or .sln root watches the directory that holds it.
	dir := root
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		dir = filepath.Dir(root)
	}
	w, err := watch.New(dir, time.Duration(cfg.Watch.DebounceMS)*time.Millisecond,
		watch.WithLogger(logger),
		watch.WithExtraIgnores(cfg.Scan.ExtraIgnores...),
	)
	if err != nil {
		return outputError("watch", err)
	}
	defer w.Close()

	fmt.Fprintf(os.Stderr, "%s %s\n", dimStyle.Render("watching"), dir)
	return w.Run(ctx, func(ctx context.Context, paths []string) error {
		logger.Debug("watch.rescan", "paths", len(paths))
		return rescan(ctx, true)
	})
}
