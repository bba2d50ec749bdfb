package codefacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jward/codefacts/internal/discover"
	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/facts"
	"github.com/jward/codefacts/internal/store"
)

// Engine orchestrates a scan: discovery, change detection, extraction,
// binding and persistence, plus read-only query access to the result.
type Engine struct {
	store        *store.Store
	registry     *extract.Registry
	logger       *slog.Logger
	workers      int
	extraIgnores []string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger for scan events. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithWorkers bounds the extraction and binding pools. Values below one
// mean runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithExtraIgnores skips additional directory names during discovery.
func WithExtraIgnores(names ...string) Option {
	return func(e *Engine) {
		e.extraIgnores = append(e.extraIgnores, names...)
	}
}

// New creates an Engine backed by a SQLite store at storePath, migrating the
// schema as needed.
func New(storePath string, opts ...Option) (*Engine, error) {
	if strings.TrimSpace(storePath) == "" {
		return nil, ErrNoStorePath
	}
	s, err := store.NewStore(storePath)
	if err != nil {
		return nil, fmt.Errorf("codefacts: create store: %w", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		s.Close()
		return nil, fmt.Errorf("codefacts: migrate: %w", err)
	}

	e := &Engine{
		store:    s,
		registry: extract.NewRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		workers:  runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store returns the underlying Store for direct access.
func (e *Engine) Store() *Store {
	return e.store
}

// Scan indexes root, a directory, .csproj project or .sln solution. With
// ChangedOnly, files whose content hash matches the store keep their facts;
// otherwise the store is rebuilt. Nothing is persisted unless the whole scan
// succeeds.
func (e *Engine) Scan(ctx context.Context, root string, opts ScanOptions) (*ScanSummary, error) {
	start := time.Now()
	if strings.TrimSpace(root) == "" {
		return nil, ErrInvalidRoot
	}
	if _, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, root)
	}
	e.logger.Info("scan.start", "root", root, "changed_only", opts.ChangedOnly, "workers", e.workers)

	found, err := discover.Files(ctx, root, discover.Options{ExtraIgnores: e.extraIgnores})
	if err != nil {
		return nil, err
	}

	// ---- Phase A: serial fingerprinting and classification ----
	plan, err := e.prepare(ctx, found, opts.ChangedOnly)
	if err != nil {
		return nil, err
	}
	e.logger.Info("scan.classify",
		"discovered", plan.discovered,
		"changed", len(plan.items),
		"unchanged", plan.unchanged,
		"removed", len(plan.removed),
	)

	// ---- Phase B: parallel extraction and binding ----
	results, err := e.extractAll(ctx, plan.items)
	if err != nil {
		return nil, err
	}
	defer closeAll(results)

	table, err := e.symbolTable(ctx, plan, results, opts.ChangedOnly)
	if err != nil {
		return nil, err
	}
	if err := e.bindAll(ctx, results, table); err != nil {
		return nil, err
	}

	// ---- Phase C: serial commit ----
	bundles := make([]*facts.FileFacts, len(results))
	entities := 0
	for i, res := range results {
		bundles[i] = res.Facts
		entities += res.Facts.EntityCount()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.logger.Info("scan.persist", "files", len(bundles), "removed", len(plan.removed), "entities", entities)

	sum := &ScanSummary{
		ScanID:      uuid.NewString(),
		Root:        root,
		StorePath:   e.store.Path(),
		Discovered:  plan.discovered,
		Extracted:   len(results),
		Unchanged:   plan.unchanged,
		Removed:     len(plan.removed),
		EntityCount: entities,
		FullRebuild: !opts.ChangedOnly,
		Elapsed:     time.Since(start),
	}
	err = e.store.CommitScan(ctx, bundles, plan.removed, !opts.ChangedOnly, store.ScanState{
		ScanID:         sum.ScanID,
		Root:           root,
		LastScanAt:     time.Now(),
		FilesScanned:   sum.Discovered,
		FilesExtracted: sum.Extracted,
		FilesUnchanged: sum.Unchanged,
		FilesRemoved:   sum.Removed,
		FullRebuild:    sum.FullRebuild,
		Duration:       sum.Elapsed,
	})
	if err != nil {
		return nil, fmt.Errorf("codefacts: persist: %w", err)
	}
	e.logger.Info("scan.done",
		"scan_id", sum.ScanID,
		"extracted", sum.Extracted,
		"entities", sum.EntityCount,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}
