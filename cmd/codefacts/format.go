package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jward/codefacts"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("111")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// newTable returns a bordered table with styled headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func formatScanText(w io.Writer, s CLIScanSummary) {
	mode := "changed-only"
	if s.FullRebuild {
		mode = "full rebuild"
	}
	fmt.Fprintln(w, titleStyle.Render("Scan "+s.ScanID))
	t := newTable("ROOT", "MODE", "DISCOVERED", "EXTRACTED", "UNCHANGED", "REMOVED", "ENTITIES", "ELAPSED").
		Row(s.Root, mode, itoa(s.Discovered), itoa(s.Extracted), itoa(s.Unchanged),
			itoa(s.Removed), itoa(s.Entities), (time.Duration(s.ElapsedMS) * time.Millisecond).String())
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, dimStyle.Render("Store: "+s.Store))
}

// printScanLine writes a one-line scan summary to stderr for watch mode.
func printScanLine(s *codefacts.ScanSummary) {
	fmt.Fprintf(os.Stderr, "%s %d extracted, %d unchanged, %d removed %s\n",
		successStyle.Render("scanned"), s.Extracted, s.Unchanged, s.Removed,
		dimStyle.Render(s.Elapsed.Round(time.Millisecond).String()))
}

func formatQueryText(w io.Writer, r CLIQueryResult) {
	t := newTable(r.Columns...)
	for _, row := range r.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = cellText(v)
		}
		t.Row(cells...)
	}
	fmt.Fprintln(w, t.Render())
	footer := fmt.Sprintf("%d rows in %dms", len(r.Rows), r.ElapsedMS)
	if r.Truncated {
		footer += " (truncated)"
	}
	fmt.Fprintln(w, dimStyle.Render(footer))
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func formatValidationText(w io.Writer, v CLIValidation) {
	if v.OK {
		fmt.Fprintln(w, successStyle.Render("ok"))
		return
	}
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("rejected:"), v.Reason)
}

func formatSchemaText(w io.Writer, views []CLIView) {
	for i, v := range views {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, titleStyle.Render(v.Name))
		t := newTable("COLUMN", "TYPE")
		for _, c := range v.Columns {
			t.Row(c.Name, c.Type)
		}
		fmt.Fprintln(w, t.Render())
	}
}

func formatTypesText(w io.Writer, types []CLIType) {
	t := newTable("FULL NAME", "KIND", "ACCESS", "METHODS", "FILE", "LINES")
	for _, tr := range types {
		t.Row(tr.FullName, tr.Kind, tr.Access, itoa(tr.MethodCount), tr.File,
			fmt.Sprintf("%d-%d", tr.StartLine, tr.EndLine))
	}
	fmt.Fprintln(w, t.Render())
}

func formatHierarchyText(w io.Writer, h CLITypeHierarchy) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(h.Type.FullName), dimStyle.Render(h.Type.Kind+" in "+h.Type.File))
	relations := func(title string, rels []CLITypeRelation) {
		if len(rels) == 0 {
			return
		}
		fmt.Fprintln(w, headerStyle.Render(title))
		t := newTable("NAME", "RELATION", "DECLARED IN")
		for _, r := range rels {
			where := "(external)"
			if r.Type != nil {
				where = r.Type.File
			}
			t.Row(r.Name, r.Relation, where)
		}
		fmt.Fprintln(w, t.Render())
	}
	relations("Bases", h.Bases)
	relations("Derived", h.Derived)
	if len(h.Members) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Members"))
		t := newTable("NAME", "KIND", "TYPE", "LINE")
		for _, m := range h.Members {
			t.Row(m.Name, m.Kind, m.DataType, itoa(m.Line))
		}
		fmt.Fprintln(w, t.Render())
	}
}

func formatLineText(w io.Writer, d CLILineDetail) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render(fmt.Sprintf("%s:%d", d.File, d.Line)), dimStyle.Render(fmt.Sprintf("depth %d", d.BlockDepth)))
	fmt.Fprintln(w, d.Text)
	if len(d.Owners) > 0 {
		names := make([]string, len(d.Owners))
		for i, o := range d.Owners {
			names[i] = o.Name
		}
		fmt.Fprintf(w, "in %s\n", strings.Join(names, " < "))
	}
	if len(d.References) > 0 {
		t := newTable("NAME", "KIND", "CONTAINER", "SYMBOL TYPE")
		for _, r := range d.References {
			t.Row(r.Name, r.Kind, r.ContainerType, r.SymbolType)
		}
		fmt.Fprintln(w, t.Render())
	}
}

func formatCallGraphText(w io.Writer, g CLICallGraph) {
	t := newTable("CALLER", "CALLEE", "FILE", "LINE")
	for _, e := range g.Edges {
		t.Row(e.Caller, e.Callee, e.File, itoa(e.Line))
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("%d nodes from %s", len(g.Nodes), g.Root)))
}

func formatSummaryText(w io.Writer, s CLIProjectSummary) {
	fmt.Fprintln(w, titleStyle.Render("Project Summary"))
	fmt.Fprintf(w, "Files: %d  Lines: %d  Methods: %d\n", s.FileCount, s.LineCount, s.MethodCount)

	if len(s.KindCounts) > 0 {
		kinds := make([]string, 0, len(s.KindCounts))
		for kind := range s.KindCounts {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		t := newTable("KIND", "TYPES")
		for _, kind := range kinds {
			t.Row(kind, itoa(s.KindCounts[kind]))
		}
		fmt.Fprintln(w, t.Render())
	}
	if len(s.TopTypes) > 0 {
		fmt.Fprintln(w, headerStyle.Render("Top Types by Methods"))
		formatTypesText(w, s.TopTypes)
	}
}

func formatScriptText(w io.Writer, r CLIScriptReport) {
	for _, row := range r.Rows {
		fmt.Fprintln(w, cellText(row))
	}
	if r.Value != nil {
		fmt.Fprintln(w, dimStyle.Render("=> "+cellText(r.Value)))
	}
}

// outputResultText dispatches to the appropriate text formatter based on the
// result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIScanSummary:
		formatScanText(w, v)
	case CLIQueryResult:
		formatQueryText(w, v)
		return nil
	case CLIValidation:
		formatValidationText(w, v)
	case []CLIView:
		formatSchemaText(w, v)
	case []CLIType:
		formatTypesText(w, v)
	case CLITypeHierarchy:
		formatHierarchyText(w, v)
	case CLILineDetail:
		formatLineText(w, v)
	case CLICallGraph:
		formatCallGraphText(w, v)
	case CLIProjectSummary:
		formatSummaryText(w, v)
	case CLIScriptReport:
		formatScriptText(w, v)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}

	// Pagination footer.
	if result.TotalCount != nil {
		count := *result.TotalCount
		if shown := resultLen(result.Results); shown < count {
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("Showing %d of %d results", shown, count)))
		}
	}
	return nil
}

// resultLen returns the length of a result slice, or 1 for a single value.
func resultLen(v any) int {
	switch r := v.(type) {
	case []CLIType:
		return len(r)
	case []CLIView:
		return len(r)
	case nil:
		return 0
	default:
		return 1
	}
}

func itoa(n int) string { return strconv.Itoa(n) }

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format flag value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
