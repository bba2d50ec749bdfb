// Package codefacts indexes C# source trees into structured facts held in an
// embedded SQLite store, and exposes them through a read-only SQL surface.
//
// # Pipeline
//
// A scan runs in three phases:
//
//  1. Prepare (serial): discover candidate files from a directory, .csproj or
//     .sln root, fingerprint each by content hash, and classify it as
//     unchanged, changed or removed against the store.
//
//  2. Extract and bind (parallel): parse every changed file with
//     tree-sitter, record types, methods, lines, variables, invocations and
//     usages, then classify reference sites against one cross-file symbol
//     table built from the fresh files plus the persisted unchanged ones.
//
//  3. Commit (serial): replace the facts of every changed file and drop the
//     removed ones in a single transaction.
//
// # Usage
//
//	e, err := codefacts.New(".codefacts/index.db")
//	if err != nil { ... }
//	defer e.Close()
//
//	sum, err := e.Scan(ctx, "src/App.sln", codefacts.ScanOptions{ChangedOnly: true})
//	res, err := e.Query(ctx, "SELECT name, kind FROM types", codefacts.QueryOptions{MaxRows: 100})
//
// # Query surface
//
// Queries see only the public views (files, types, type_inheritances,
// type_members, methods, lines, variables, line_variables, invocations,
// symbol_references, schema_info). Every statement passes [Engine.Validate]
// first and then runs on a separate read-only connection inside a read
// transaction. Row and time limits surface as [*LimitError]; rejected
// statements as [*RejectedError].
package codefacts
