// Package discover turns a scan root into the ordered set of C# source files
// to index. A root is a directory, a .csproj project or a .sln solution.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/codefacts/internal/facts"
)

var (
	// ErrProjectNotFound is returned when a referenced project or file does
	// not exist.
	ErrProjectNotFound = errors.New("project not found")
	// ErrEscapesRoot is returned when a resolved path lies outside the root.
	ErrEscapesRoot = errors.New("path escapes root")
)

var skipDirs = map[string]struct{}{
	"bin":          {},
	"obj":          {},
	".git":         {},
	".vs":          {},
	".idea":        {},
	"node_modules": {},
	"packages":     {},
	"testresults":  {},
}

// IgnoredDir reports whether a directory name is always skipped: the fixed
// build and tool directories, extra, and hidden directories.
func IgnoredDir(name string, extra ...string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if _, ok := skipDirs[strings.ToLower(name)]; ok {
		return true
	}
	for _, n := range extra {
		if strings.EqualFold(n, name) {
			return true
		}
	}
	return false
}

// Options tune discovery.
type Options struct {
	// Extensions selects source files. Defaults to ".cs".
	Extensions []string
	// ExtraIgnores are additional directory names to skip.
	ExtraIgnores []string
}

// Result lists discovered files as slash-separated paths relative to Base.
type Result struct {
	Base     string
	Files    []string
	Projects []string
}

// Files resolves root into source files. The output is sorted and
// deduplicated case-insensitively.
func Files(ctx context.Context, root string, opts Options) (*Result, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("discover: %s: %w", root, ErrProjectNotFound)
	}

	d := newDiscoverer(abs, info, opts)
	switch {
	case info.IsDir():
		err = d.walkDir(ctx, abs, d.addFile)
	case strings.EqualFold(filepath.Ext(abs), ".sln"):
		err = d.solution(ctx, abs)
	case strings.EqualFold(filepath.Ext(abs), ".csproj"):
		err = d.project(ctx, abs)
	default:
		return nil, fmt.Errorf("discover: %s: unsupported root", root)
	}
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	return d.result(), nil
}

type discoverer struct {
	base   string
	exts   []string
	extra  []string
	gi     *ignore.GitIgnore
	files  map[string]string // normalized -> relative path
	visits map[string]bool   // normalized project paths
	order  []string
}

func newDiscoverer(abs string, info os.FileInfo, opts Options) *discoverer {
	base := abs
	if !info.IsDir() {
		base = filepath.Dir(abs)
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".cs"}
	}
	d := &discoverer{
		base:   base,
		exts:   exts,
		extra:  opts.ExtraIgnores,
		files:  make(map[string]string),
		visits: make(map[string]bool),
	}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(base, ".gitignore")); err == nil {
		d.gi = gi
	}
	return d
}

func (d *discoverer) result() *Result {
	files := make([]string, 0, len(d.files))
	for _, rel := range d.files {
		files = append(files, rel)
	}
	sort.Slice(files, func(i, j int) bool {
		return facts.NormalizePath(files[i]) < facts.NormalizePath(files[j])
	})
	return &Result{Base: d.base, Files: files, Projects: d.order}
}

// rel returns abs relative to the base, or ErrEscapesRoot.
func (d *discoverer) rel(abs string) (string, error) {
	rel, err := filepath.Rel(d.base, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", abs, ErrEscapesRoot)
	}
	return filepath.ToSlash(rel), nil
}

func (d *discoverer) isSource(name string) bool {
	ext := filepath.Ext(name)
	for _, e := range d.exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func (d *discoverer) addFile(abs string) error {
	rel, err := d.rel(abs)
	if err != nil {
		return err
	}
	key := facts.NormalizePath(rel)
	if _, ok := d.files[key]; !ok {
		d.files[key] = rel
	}
	return nil
}

// walkDir visits source files under dir, skipping ignored directories,
// hidden entries, symlinks and gitignored paths.
func (d *discoverer) walkDir(ctx context.Context, dir string, visit func(abs string) error) error {
	return filepath.WalkDir(dir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := e.Name()
		if e.IsDir() {
			if path == dir {
				return nil
			}
			if IgnoredDir(name, d.extra...) || d.ignored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || e.Type()&fs.ModeSymlink != 0 || !d.isSource(name) {
			return nil
		}
		if d.ignored(path, false) {
			return nil
		}
		return visit(path)
	})
}

func (d *discoverer) ignored(abs string, dir bool) bool {
	if d.gi == nil {
		return false
	}
	rel, err := d.rel(abs)
	if err != nil {
		return false
	}
	if dir {
		rel += "/"
	}
	return d.gi.MatchesPath(rel)
}
