package main

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jward/codefacts/internal/runtime"
	"github.com/jward/codefacts/scripts"
)

var scriptCmd = &cobra.Command{
	Use:   "script [file.risor]",
	Short: "Run a Risor report script against the store",
	Long: "Evaluates a Risor script with query(sql, args...), validate(sql), schema(), scan_state(), emit(value), log and the source helpers parse, parse_src, ts_query, node_text, node_child, node_name, node_line, call_target and extract. Imports resolve next to the script.\n" +
		"Use --builtin to run an embedded report instead of a file.",
	Args: cobra.MaximumNArgs(1),
	RunE: runScript,
}

func init() {
	scriptCmd.Flags().String("builtin", "", "run an embedded report (see --list)")
	scriptCmd.Flags().Bool("list", false, "list embedded reports")
}

func runScript(cmd *cobra.Command, args []string) error {
	if list, _ := cmd.Flags().GetBool("list"); list {
		return outputResult(CLIResult{Command: "script", Results: CLIScriptReport{Script: "--list", Rows: stringsToAny(scripts.Reports())}})
	}
	builtin, _ := cmd.Flags().GetString("builtin")
	if builtin == "" && len(args) == 0 {
		return outputError("script", fmt.Errorf("requires a script file or --builtin"))
	}
	if builtin != "" && !slices.Contains(scripts.Reports(), builtin) {
		return outputError("script", fmt.Errorf("unknown builtin report %q", builtin))
	}

	engine, err := openEngine(true)
	if err != nil {
		return outputError("script", err)
	}
	defer engine.Close()

	opts := []runtime.RuntimeOption{
		runtime.WithLogger(newLogger()),
		runtime.WithQueryLimits(queryOptions()),
	}
	var rt *runtime.Runtime
	var path, label string
	if builtin != "" {
		rt = runtime.NewRuntime(engine.Store(), "", append(opts, runtime.WithRuntimeFS(scripts.FS))...)
		path, label = scripts.ReportPath(builtin), builtin
	} else {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return outputError("script", err)
		}
		rt = runtime.NewRuntime(engine.Store(), filepath.Dir(abs), opts...)
		path, label = abs, args[0]
	}

	report, err := rt.RunScript(context.Background(), path, nil)
	if err != nil {
		return outputError("script", err)
	}
	rows := report.Rows
	if rows == nil {
		rows = []any{}
	}
	return outputResult(CLIResult{
		Command: "script",
		Results: CLIScriptReport{Script: label, Value: report.Value, Rows: rows},
	})
}

func stringsToAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
