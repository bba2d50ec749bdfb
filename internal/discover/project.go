package discover

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/jward/codefacts/internal/facts"
)

// msbuildProject is the subset of a .csproj file that selects sources.
// Element names match regardless of the legacy MSBuild namespace.
type msbuildProject struct {
	XMLName    xml.Name        `xml:"Project"`
	Sdk        string          `xml:"Sdk,attr"`
	Properties []propertyGroup `xml:"PropertyGroup"`
	Items      []itemGroup     `xml:"ItemGroup"`
}

type propertyGroup struct {
	EnableDefaultItems        string `xml:"EnableDefaultItems"`
	EnableDefaultCompileItems string `xml:"EnableDefaultCompileItems"`
}

type itemGroup struct {
	Compile          []item `xml:"Compile"`
	ProjectReference []item `xml:"ProjectReference"`
}

type item struct {
	Include string `xml:"Include,attr"`
	Remove  string `xml:"Remove,attr"`
}

// defaultCompileItems reports whether the project globs its own directory.
// Only SDK-style projects do, and either property can switch it off.
func (p *msbuildProject) defaultCompileItems() bool {
	if strings.TrimSpace(p.Sdk) == "" {
		return false
	}
	for _, pg := range p.Properties {
		if strings.EqualFold(strings.TrimSpace(pg.EnableDefaultItems), "false") ||
			strings.EqualFold(strings.TrimSpace(pg.EnableDefaultCompileItems), "false") {
			return false
		}
	}
	return true
}

func (p *msbuildProject) compile(attr func(item) string) []string {
	var out []string
	for _, ig := range p.Items {
		for _, it := range ig.Compile {
			out = append(out, splitItems(attr(it))...)
		}
	}
	return out
}

func (p *msbuildProject) references() []string {
	var out []string
	for _, ig := range p.Items {
		for _, it := range ig.ProjectReference {
			out = append(out, splitItems(it.Include)...)
		}
	}
	return out
}

// splitItems splits a semicolon list and drops entries that need MSBuild
// property evaluation.
func splitItems(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" || strings.Contains(part, "$(") || strings.Contains(part, "@(") {
			continue
		}
		out = append(out, strings.ReplaceAll(part, `\`, "/"))
	}
	return out
}

func hasWildcard(p string) bool {
	return strings.ContainsAny(p, "*?")
}

// splitGlob separates the literal directory prefix of a glob from the part
// that needs matching.
func splitGlob(p string) (fixed, rest string) {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if hasWildcard(s) {
			return strings.Join(segs[:i], "/"), strings.Join(segs[i:], "/")
		}
	}
	return p, ""
}

// anchored compiles MSBuild globs relative to one directory. Gitignore
// patterns with a leading slash match from that directory only.
func anchored(patterns []string) *ignore.GitIgnore {
	lines := make([]string, len(patterns))
	for i, p := range patterns {
		lines[i] = "/" + strings.TrimPrefix(p, "./")
	}
	return ignore.CompileIgnoreLines(lines...)
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// project expands a .csproj into its compile items and follows project
// references. Each project is visited at most once.
func (d *discoverer) project(ctx context.Context, abs string) error {
	key := facts.NormalizePath(abs)
	if d.visits[key] {
		return nil
	}
	d.visits[key] = true

	rel, err := d.rel(abs)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", rel, ErrProjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", rel, err)
	}
	var p msbuildProject
	if err := xml.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &p); err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	d.order = append(d.order, rel)

	dir := filepath.Dir(abs)
	removed := anchored(p.compile(func(it item) string { return it.Remove }))
	accept := func(path string) error {
		if r, err := filepath.Rel(dir, path); err == nil && removed.MatchesPath(filepath.ToSlash(r)) {
			return nil
		}
		return d.addFile(path)
	}

	if p.defaultCompileItems() {
		if err := d.walkDir(ctx, dir, accept); err != nil {
			return err
		}
	}
	for _, inc := range p.compile(func(it item) string { return it.Include }) {
		if err := d.include(ctx, dir, inc, accept); err != nil {
			return fmt.Errorf("%s: %w", rel, err)
		}
	}
	for _, ref := range p.references() {
		if err := d.project(ctx, filepath.Join(dir, filepath.FromSlash(ref))); err != nil {
			return err
		}
	}
	return nil
}

func (d *discoverer) include(ctx context.Context, dir, pattern string, accept func(string) error) error {
	if !hasWildcard(pattern) {
		abs := filepath.Join(dir, filepath.FromSlash(pattern))
		if _, err := d.rel(abs); err != nil {
			return err
		}
		if _, err := os.Stat(abs); err != nil {
			return fmt.Errorf("compile item %s: %w", pattern, ErrProjectNotFound)
		}
		if !d.isSource(abs) {
			return nil
		}
		return accept(abs)
	}

	fixed, rest := splitGlob(pattern)
	from := filepath.Join(dir, filepath.FromSlash(fixed))
	if _, err := d.rel(from); err != nil {
		return err
	}
	if info, err := os.Stat(from); err != nil || !info.IsDir() {
		return nil
	}
	m := anchored([]string{rest})
	return d.walkDir(ctx, from, func(path string) error {
		r, err := filepath.Rel(from, path)
		if err != nil || !m.MatchesPath(filepath.ToSlash(r)) {
			return nil
		}
		return accept(path)
	})
}

// slnProjectRe matches a project entry of a .sln file:
//
//	Project("{type-guid}") = "Name", "src\Name\Name.csproj", "{project-guid}"
var slnProjectRe = regexp.MustCompile(`^Project\("\{[^}]*\}"\)\s*=\s*"[^"]*"\s*,\s*"([^"]+)"`)

// solution expands every C# project listed in a .sln file. Solution
// folders and other project types are ignored.
func (d *discoverer) solution(ctx context.Context, abs string) error {
	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("read solution: %w", err)
	}
	dir := filepath.Dir(abs)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		m := slnProjectRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil || !strings.EqualFold(filepath.Ext(m[1]), ".csproj") {
			continue
		}
		ref := strings.ReplaceAll(m[1], `\`, "/")
		if err := d.project(ctx, filepath.Join(dir, filepath.FromSlash(ref))); err != nil {
			return err
		}
	}
	return sc.Err()
}
