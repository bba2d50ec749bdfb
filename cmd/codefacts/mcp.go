package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jward/codefacts"
)

const serverVersion = "0.1.0"

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the store to MCP clients over stdio",
	Long:  "Starts an MCP server with read-only tools for querying the store, plus a scan tool that runs a changed-only rescan.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(false)
	if err != nil {
		return err
	}
	defer engine.Close()

	s := newMCPServer(engine)
	return mcpserver.ServeStdio(s)
}

// newMCPServer registers every tool against engine.
func newMCPServer(engine *codefacts.Engine) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("codefacts", serverVersion, mcpserver.WithToolCapabilities(false))

	s.AddTool(queryTool(), makeQueryHandler(engine))
	s.AddTool(validateTool(), makeValidateHandler())
	s.AddTool(schemaTool(), makeSchemaHandler(engine))
	s.AddTool(scanStatusTool(), makeScanStatusHandler(engine))
	s.AddTool(scanTool(), makeScanHandler(engine))
	return s
}

// --- Tool schema builders ---

var readOnlyAnnotation = mcp.ToolAnnotation{
	ReadOnlyHint:    mcp.ToBoolPtr(true),
	DestructiveHint: mcp.ToBoolPtr(false),
	IdempotentHint:  mcp.ToBoolPtr(true),
	OpenWorldHint:   mcp.ToBoolPtr(false),
}

func queryTool() mcp.Tool {
	return mcp.NewTool("query",
		mcp.WithDescription("Run one read-only SELECT (or WITH ... SELECT) statement against the public views: files, types, type_inheritances, type_members, methods, lines, variables, line_variables, invocations, symbol_references, schema_info. Call describe_schema for columns."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("A single SELECT statement"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Fail if the result exceeds this many rows (default from config)"),
		),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("validate_sql",
		mcp.WithDescription("Check whether a statement would be accepted by the query tool without running it. Returns ok and a rejection reason."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The statement to check"),
		),
	)
}

func schemaTool() mcp.Tool {
	return mcp.NewTool("describe_schema",
		mcp.WithDescription("List the public views and their columns."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func scanStatusTool() mcp.Tool {
	return mcp.NewTool("scan_status",
		mcp.WithDescription("Report the last recorded scan: root, time, file counts and whether it was a full rebuild."),
		mcp.WithToolAnnotation(readOnlyAnnotation),
	)
}

func scanTool() mcp.Tool {
	return mcp.NewTool("scan",
		mcp.WithDescription("Rescan sources into the store. Defaults to a changed-only scan of the configured root."),
		mcp.WithToolAnnotation(mcp.ToolAnnotation{
			ReadOnlyHint:    mcp.ToBoolPtr(false),
			DestructiveHint: mcp.ToBoolPtr(false),
			IdempotentHint:  mcp.ToBoolPtr(true),
			OpenWorldHint:   mcp.ToBoolPtr(false),
		}),
		mcp.WithString("root",
			mcp.Description("Directory, .csproj or .sln to scan (default from config)"),
		),
		mcp.WithBoolean("full_rebuild",
			mcp.Description("Rebuild the store from scratch instead of re-extracting changed files"),
		),
	)
}

// --- Handler factories ---

func makeQueryHandler(engine *codefacts.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText := req.GetString("sql", "")
		if strings.TrimSpace(sqlText) == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}
		opts := queryOptions()
		if n := req.GetInt("max_rows", 0); n > 0 {
			opts.MaxRows = n
		}

		res, err := engine.Query(ctx, sqlText, opts)
		if err != nil {
			var rejected *codefacts.RejectedError
			if errors.As(err, &rejected) {
				return mcp.NewToolResultError(fmt.Sprintf("rejected: %s (call validate_sql to check statements)", rejected.Reason)), nil
			}
			return mcp.NewToolResultError(err.Error()), nil
		}
		return jsonResult(queryResultToCLI(res))
	}
}

func makeValidateHandler() mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sqlText := req.GetString("sql", "")
		if sqlText == "" {
			return mcp.NewToolResultError("sql is required"), nil
		}
		v := codefacts.ValidateSQL(sqlText)
		return jsonResult(CLIValidation{OK: v.OK, Reason: v.Reason})
	}
}

func makeSchemaHandler(engine *codefacts.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		views, err := engine.Schema(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("schema failed: %v", err)), nil
		}
		return jsonResult(viewsToCLI(views))
	}
}

func makeScanStatusHandler(engine *codefacts.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := engine.ScanState(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan status failed: %v", err)), nil
		}
		if st == nil {
			return mcp.NewToolResultText("No scan recorded yet. Call the scan tool first."), nil
		}
		return jsonResult(map[string]any{
			"scan_id":         st.ScanID,
			"root":            st.Root,
			"last_scan_at":    st.LastScanAt,
			"files_scanned":   st.FilesScanned,
			"files_extracted": st.FilesExtracted,
			"files_unchanged": st.FilesUnchanged,
			"files_removed":   st.FilesRemoved,
			"full_rebuild":    st.FullRebuild,
			"duration_ms":     st.Duration.Milliseconds(),
		})
	}
}

func makeScanHandler(engine *codefacts.Engine) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		root := req.GetString("root", cfg.Scan.Root)
		abs, err := filepath.Abs(root)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resolving root: %v", err)), nil
		}
		full := req.GetBool("full_rebuild", false)

		summary, err := engine.Scan(ctx, abs, codefacts.ScanOptions{ChangedOnly: !full})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
		}
		return jsonResult(scanSummaryToCLI(summary))
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
