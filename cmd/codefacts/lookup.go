package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jward/codefacts"
)

var (
	flagLimit  int
	flagOffset int
	flagSort   string
	flagOrder  string

	flagKind       string
	flagAccess     string
	flagNamespace  string
	flagPathPrefix string
	flagModifiers  []string
)

var lookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Typed lookups over the indexed facts",
	Long:  "Canned queries for common questions. Line numbers are 1-based.",
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List declared types with optional filters",
	Args:  cobra.NoArgs,
	RunE:  runTypes,
}

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search types by glob pattern",
	Long:  "Search for types matching a glob pattern. Use * as wildcard (e.g. 'I*Repository'). A pattern containing a dot matches full names.",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

var hierarchyCmd = &cobra.Command{
	Use:   "hierarchy <full-name>",
	Short: "Show bases, derived types and members of a type",
	Args:  cobra.ExactArgs(1),
	RunE:  runHierarchy,
}

var lineCmd = &cobra.Command{
	Use:   "line <file> <line>",
	Short: "Show the facts recorded for one source line",
	Args:  cobra.ExactArgs(2),
	RunE:  runLine,
}

var callersCmd = &cobra.Command{
	Use:   "callers <method>",
	Short: "Find methods that call a method name, transitively up to --max-depth",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallers,
}

var calleesCmd = &cobra.Command{
	Use:   "callees <method>",
	Short: "Find names a method calls, transitively up to --max-depth",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallees,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show counts over the whole index",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func init() {
	lookupCmd.PersistentFlags().IntVar(&flagLimit, "limit", 50, "pagination limit (max 500)")
	lookupCmd.PersistentFlags().IntVar(&flagOffset, "offset", 0, "pagination offset")
	lookupCmd.PersistentFlags().StringVar(&flagSort, "sort", "", "sort field: name|kind|file|method_count")
	lookupCmd.PersistentFlags().StringVar(&flagOrder, "order", "asc", "sort order: asc|desc")

	for _, c := range []*cobra.Command{typesCmd, searchCmd} {
		c.Flags().StringVar(&flagKind, "kind", "", "filter by kind (Class, Interface, Struct, Enum, Record, Delegate)")
		c.Flags().StringVar(&flagAccess, "access", "", "filter by access (Public, Internal, ...)")
		c.Flags().StringVar(&flagNamespace, "namespace", "", "filter by namespace")
		c.Flags().StringVar(&flagPathPrefix, "path-prefix", "", "filter by file path prefix")
		c.Flags().StringSliceVar(&flagModifiers, "modifier", nil, "require a modifier (repeatable)")
	}
	callersCmd.Flags().Int("max-depth", 1, "maximum traversal depth (0-100)")
	calleesCmd.Flags().Int("max-depth", 1, "maximum traversal depth (0-100)")
	summaryCmd.Flags().Int("top", 10, "number of types to list by method count")

	lookupCmd.AddCommand(typesCmd)
	lookupCmd.AddCommand(searchCmd)
	lookupCmd.AddCommand(hierarchyCmd)
	lookupCmd.AddCommand(lineCmd)
	lookupCmd.AddCommand(callersCmd)
	lookupCmd.AddCommand(calleesCmd)
	lookupCmd.AddCommand(summaryCmd)
}

func buildTypeFilter() codefacts.TypeFilter {
	filter := codefacts.TypeFilter{Modifiers: flagModifiers}
	if flagKind != "" {
		filter.Kinds = []string{flagKind}
	}
	if flagAccess != "" {
		filter.Access = &flagAccess
	}
	if flagNamespace != "" {
		filter.Namespace = &flagNamespace
	}
	if flagPathPrefix != "" {
		p := filepath.ToSlash(flagPathPrefix)
		filter.PathPrefix = &p
	}
	return filter
}

// buildPagination creates a Pagination from CLI flags.
func buildPagination() codefacts.Pagination {
	return codefacts.Pagination{Limit: flagLimit, Offset: flagOffset}
}

// buildSort creates a Sort from CLI flags.
func buildSort() codefacts.Sort {
	var field codefacts.SortField
	switch flagSort {
	case "kind":
		field = codefacts.SortByKind
	case "file":
		field = codefacts.SortByFile
	case "method_count":
		field = codefacts.SortByMethodCount
	default:
		field = codefacts.SortByName
	}

	order := codefacts.Asc
	if flagOrder == "desc" {
		order = codefacts.Desc
	}
	return codefacts.Sort{Field: field, Order: order}
}

// parseIntArg parses a positional argument as an integer with a clear error.
func parseIntArg(value, name string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", name, value)
	}
	if n < 1 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", name, value)
	}
	return n, nil
}

func runTypes(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError("types", err)
	}
	defer engine.Close()

	result, err := engine.Lookup().Types(context.Background(), buildTypeFilter(), buildSort(), buildPagination())
	if err != nil {
		return outputError("types", err)
	}
	return outputResult(CLIResult{
		Command:    "types",
		Results:    typesToCLI(result.Items),
		TotalCount: &result.TotalCount,
	})
}

func runSearch(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError("search", err)
	}
	defer engine.Close()

	result, err := engine.Lookup().SearchTypes(context.Background(), args[0], buildTypeFilter(), buildSort(), buildPagination())
	if err != nil {
		return outputError("search", err)
	}
	return outputResult(CLIResult{
		Command:    "search",
		Results:    typesToCLI(result.Items),
		TotalCount: &result.TotalCount,
	})
}

func runHierarchy(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError("hierarchy", err)
	}
	defer engine.Close()

	h, err := engine.Lookup().TypeHierarchy(context.Background(), args[0])
	if err != nil {
		return outputError("hierarchy", err)
	}
	if h == nil {
		return outputError("hierarchy", fmt.Errorf("type not found: %s", args[0]))
	}
	return outputResult(CLIResult{Command: "hierarchy", Results: hierarchyToCLI(h)})
}

func runLine(cmd *cobra.Command, args []string) error {
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return outputError("line", err)
	}
	engine, err := openEngine(true)
	if err != nil {
		return outputError("line", err)
	}
	defer engine.Close()

	d, err := engine.Lookup().LineDetail(context.Background(), filepath.ToSlash(args[0]), line)
	if err != nil {
		return outputError("line", err)
	}
	if d == nil {
		return outputError("line", fmt.Errorf("line not indexed: %s:%d", args[0], line))
	}
	return outputResult(CLIResult{Command: "line", Results: lineDetailToCLI(d)})
}

func runCallers(cmd *cobra.Command, args []string) error {
	return runCallGraph(cmd, "callers", args[0], (*codefacts.QueryBuilder).TransitiveCallers)
}

func runCallees(cmd *cobra.Command, args []string) error {
	return runCallGraph(cmd, "callees", args[0], (*codefacts.QueryBuilder).TransitiveCallees)
}

type graphFn func(*codefacts.QueryBuilder, context.Context, string, int) (*codefacts.CallGraph, error)

func runCallGraph(cmd *cobra.Command, command, name string, fn graphFn) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError(command, err)
	}
	defer engine.Close()

	maxDepth, _ := cmd.Flags().GetInt("max-depth")
	g, err := fn(engine.Lookup(), context.Background(), name, maxDepth)
	if err != nil {
		return outputError(command, err)
	}
	return outputResult(CLIResult{Command: command, Results: callGraphToCLI(g, maxDepth)})
}

func runSummary(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError("summary", err)
	}
	defer engine.Close()

	top, _ := cmd.Flags().GetInt("top")
	s, err := engine.Lookup().ProjectSummary(context.Background(), top)
	if err != nil {
		return outputError("summary", err)
	}
	return outputResult(CLIResult{Command: "summary", Results: summaryToCLI(s)})
}
