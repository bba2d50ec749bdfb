package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jward/codefacts"
)

var (
	flagMaxRows   int
	flagTimeoutMS int
)

var queryCmd = &cobra.Command{
	Use:   "query <sql> [args...]",
	Short: "Run a read-only SQL query against the public views",
	Long:  "Validates the statement, then runs it on a read-only connection within the row and time limits. Extra arguments bind to ? placeholders.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

var validateCmd = &cobra.Command{
	Use:   "validate <sql>",
	Short: "Check whether a statement would be accepted, without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "List the public views and their columns",
	Args:  cobra.NoArgs,
	RunE:  runSchema,
}

func init() {
	queryCmd.Flags().IntVar(&flagMaxRows, "max-rows", 0, "maximum rows before the query fails (default from config)")
	queryCmd.Flags().IntVar(&flagTimeoutMS, "timeout-ms", 0, "query timeout in milliseconds (default from config)")
}

func runQuery(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("max-rows") {
		cfg.Query.MaxRows = flagMaxRows
	}
	if cmd.Flags().Changed("timeout-ms") {
		cfg.Query.TimeoutMS = flagTimeoutMS
	}

	engine, err := openEngine(true)
	if err != nil {
		return outputError("query", err)
	}
	defer engine.Close()

	params := make([]any, len(args)-1)
	for i, a := range args[1:] {
		params[i] = a
	}
	res, err := engine.Query(context.Background(), args[0], queryOptions(), params...)
	if err != nil {
		return outputError("query", err)
	}
	out := queryResultToCLI(res)
	count := len(out.Rows)
	return outputResult(CLIResult{Command: "query", Results: out, TotalCount: &count})
}

// runValidate needs no store; validation is purely syntactic.
func runValidate(cmd *cobra.Command, args []string) error {
	v := codefacts.ValidateSQL(args[0])
	return outputResult(CLIResult{Command: "validate", Results: CLIValidation{OK: v.OK, Reason: v.Reason}})
}

func runSchema(cmd *cobra.Command, args []string) error {
	engine, err := openEngine(true)
	if err != nil {
		return outputError("schema", err)
	}
	defer engine.Close()

	views, err := engine.Schema(context.Background())
	if err != nil {
		return outputError("schema", err)
	}
	return outputResult(CLIResult{Command: "schema", Results: viewsToCLI(views)})
}

// --- Helpers ---

// outputResult marshals a CLIResult to stdout in the selected format.
func outputResult(result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(os.Stdout, result)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error is written to stdout as a
// CLIResult envelope, with the rejection reason or exceeded limit broken
// out. In text mode it goes to stderr.
func outputError(command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render("Error:"), err)
		return err
	}
	result := CLIResult{Command: command, Error: err.Error()}
	var rejected *codefacts.RejectedError
	var limit *codefacts.LimitError
	switch {
	case errors.As(err, &rejected):
		result.ErrorKind = "rejected"
		result.Results = CLIValidation{OK: false, Reason: rejected.Reason}
	case errors.As(err, &limit):
		result.ErrorKind = "limit"
		result.Results = CLILimit{Limit: limit.Limit, Value: limit.Value}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(result)
	return err
}
