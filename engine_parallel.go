package codefacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/jward/codefacts/internal/binder"
	"github.com/jward/codefacts/internal/discover"
	"github.com/jward/codefacts/internal/extract"
	"github.com/jward/codefacts/internal/facts"
	"github.com/jward/codefacts/internal/store"
)

// workItem holds everything an extraction worker needs.
type workItem struct {
	path    string // relative to the discovery base, slash separated
	content []byte
	ex      extract.Extractor
	file    facts.Fingerprint
}

// scanPlan is the outcome of Phase A.
type scanPlan struct {
	items      []workItem
	discovered int
	unchanged  int
	removed    []string // normalized paths
}

// prepare does Phase A: read and hash every candidate, then classify it
// against the persisted fingerprints. An unreadable file aborts the scan.
func (e *Engine) prepare(ctx context.Context, found *discover.Result, changedOnly bool) (*scanPlan, error) {
	indexed, err := e.store.IndexedFileHashes(ctx)
	if err != nil {
		return nil, fmt.Errorf("codefacts: load fingerprints: %w", err)
	}

	plan := &scanPlan{}
	seen := make(map[string]bool, len(found.Files))
	for _, rel := range found.Files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ex := e.registry.For(rel)
		if ex == nil {
			continue
		}
		plan.discovered++
		key := facts.NormalizePath(rel)
		seen[key] = true

		content, err := os.ReadFile(filepath.Join(found.Base, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("codefacts: read %s: %w", rel, err)
		}
		hash := store.ContentHash(content)
		if changedOnly {
			if old, ok := indexed[key]; ok && old == hash {
				plan.unchanged++
				continue
			}
		}
		plan.items = append(plan.items, workItem{
			path:    rel,
			content: content,
			ex:      ex,
			file:    facts.Fingerprint{Path: rel, Hash: hash, Language: ex.Language()},
		})
	}

	for key := range indexed {
		if !seen[key] {
			plan.removed = append(plan.removed, key)
		}
	}
	sort.Strings(plan.removed)
	return plan, nil
}

// extractAll runs every work item through its extractor on a bounded pool.
// Results keep the order of items. On error every produced tree is released.
func (e *Engine) extractAll(ctx context.Context, items []workItem) ([]*extract.Result, error) {
	results := make([]*extract.Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := item.ex.Extract(gctx, item.file, item.content)
			if err != nil {
				return fmt.Errorf("codefacts: extract %s: %w", item.path, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		closeAll(results)
		return nil, err
	}
	return results, nil
}

// symbolTable builds the cross-file table from the fresh bundles plus, on a
// changed-only scan, the persisted symbols of every file left untouched.
func (e *Engine) symbolTable(ctx context.Context, plan *scanPlan, results []*extract.Result, changedOnly bool) (*binder.SymbolTable, error) {
	var bundles []*facts.FileFacts
	if changedOnly && plan.unchanged > 0 {
		except := make([]string, 0, len(plan.items)+len(plan.removed))
		for _, item := range plan.items {
			except = append(except, item.path)
		}
		except = append(except, plan.removed...)
		persisted, err := e.store.LoadSymbols(ctx, except)
		if err != nil {
			return nil, fmt.Errorf("codefacts: load symbols: %w", err)
		}
		bundles = persisted
	}
	for _, res := range results {
		bundles = append(bundles, res.Facts)
	}
	table := binder.NewSymbolTable(bundles...)
	e.logger.Debug("scan.symbols", "types", table.Len(), "bundles", len(bundles))
	return table, nil
}

// bindAll classifies references and refines inheritance for every result.
// The table is shared read-only; each worker writes only its own bundle.
func (e *Engine) bindAll(ctx context.Context, results []*extract.Result, table *binder.SymbolTable) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, res := range results {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			refs := binder.Bind(res, table)
			inh := binder.RefineInheritance(table, res.Facts)
			res.Facts.References = refs
			res.Facts.Inheritances = inh
			return nil
		})
	}
	return g.Wait()
}

func closeAll(results []*extract.Result) {
	for _, res := range results {
		if res != nil {
			res.Close()
		}
	}
}
