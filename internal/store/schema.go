package store

// migration is one additive schema step. Steps apply in version order and
// are recorded in meta_schema.
type migration struct {
	version int
	ddl     string
}

var migrations = []migration{
	{1, factTablesDDL},
	{2, publicViewsDDL},
	{3, typeMembersDDL},
	{4, typeParametersDDL},
}

// SchemaVersion is the newest version this build knows how to apply.
var SchemaVersion = migrations[len(migrations)-1].version

const metaDDL = `
CREATE TABLE IF NOT EXISTS meta_schema (
  version         INTEGER PRIMARY KEY,
  applied_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS meta_capabilities (
  name            TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta_scan_state (
  id              INTEGER PRIMARY KEY CHECK (id = 1),
  scan_id         TEXT NOT NULL,
  root            TEXT NOT NULL,
  last_scan_at    TIMESTAMP NOT NULL,
  files_scanned   INTEGER NOT NULL,
  files_extracted INTEGER NOT NULL,
  files_unchanged INTEGER NOT NULL,
  files_removed   INTEGER NOT NULL,
  full_rebuild    BOOLEAN NOT NULL,
  duration_ms     INTEGER NOT NULL
);
`

const factTablesDDL = `
CREATE TABLE IF NOT EXISTS fact_files (
  file_key        TEXT PRIMARY KEY,
  path            TEXT NOT NULL,
  hash            TEXT NOT NULL,
  language        TEXT NOT NULL,
  line_count      INTEGER NOT NULL DEFAULT 0,
  indexed_at      TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_types (
  type_key        TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  access          TEXT NOT NULL,
  modifiers       TEXT NOT NULL DEFAULT '[]',
  full_name       TEXT NOT NULL,
  namespace       TEXT,
  parent_type_key TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS fact_type_inheritances (
  type_key        TEXT NOT NULL REFERENCES fact_types(type_key) ON DELETE CASCADE,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  base_name       TEXT NOT NULL,
  relation        TEXT NOT NULL,
  ordinal         INTEGER NOT NULL,
  PRIMARY KEY (type_key, ordinal)
);

CREATE TABLE IF NOT EXISTS fact_methods (
  method_key      TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  name            TEXT NOT NULL,
  return_type     TEXT,
  parameters      TEXT NOT NULL,
  parameter_count INTEGER NOT NULL,
  access          TEXT NOT NULL,
  modifiers       TEXT NOT NULL DEFAULT '[]',
  kind            TEXT NOT NULL,
  parent_method_key TEXT,
  type_key        TEXT,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS fact_lines (
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  line            INTEGER NOT NULL,
  text            TEXT NOT NULL,
  method_key      TEXT,
  block_depth     INTEGER NOT NULL,
  usage_count     INTEGER NOT NULL,
  PRIMARY KEY (file_key, line)
);

CREATE TABLE IF NOT EXISTS fact_variables (
  variable_key    TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  method_key      TEXT NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  type_name       TEXT,
  line            INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_line_variables (
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  line            INTEGER NOT NULL,
  variable_key    TEXT NOT NULL,
  PRIMARY KEY (file_key, line, variable_key)
);

CREATE TABLE IF NOT EXISTS fact_invocations (
  invocation_key  TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  method_key      TEXT,
  line            INTEGER NOT NULL,
  expression      TEXT NOT NULL,
  target_name     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fact_symbol_references (
  reference_key   TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  line            INTEGER NOT NULL,
  method_key      TEXT,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  container_type  TEXT,
  symbol_type     TEXT
);

CREATE INDEX IF NOT EXISTS idx_fact_types_file ON fact_types(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_types_full_name ON fact_types(full_name);
CREATE INDEX IF NOT EXISTS idx_fact_inheritances_file ON fact_type_inheritances(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_methods_file ON fact_methods(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_methods_parent ON fact_methods(parent_method_key);
CREATE INDEX IF NOT EXISTS idx_fact_lines_method ON fact_lines(method_key);
CREATE INDEX IF NOT EXISTS idx_fact_variables_file ON fact_variables(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_variables_method ON fact_variables(method_key);
CREATE INDEX IF NOT EXISTS idx_fact_line_variables_variable ON fact_line_variables(variable_key);
CREATE INDEX IF NOT EXISTS idx_fact_invocations_file ON fact_invocations(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_invocations_target ON fact_invocations(target_name);
CREATE INDEX IF NOT EXISTS idx_fact_references_file ON fact_symbol_references(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_references_name ON fact_symbol_references(name);
`

// Public views. These are the only contract for query consumers; later
// versions may add views or columns but never remove them.
const publicViewsDDL = `
CREATE VIEW IF NOT EXISTS files AS
SELECT file_key, path, language, hash, line_count, indexed_at
FROM fact_files;

CREATE VIEW IF NOT EXISTS types AS
SELECT t.type_key, f.path, t.name, t.kind, t.access, t.modifiers, t.full_name,
       t.namespace, t.parent_type_key, p.full_name AS parent_type_name,
       t.start_line, t.end_line
FROM fact_types t
JOIN fact_files f ON f.file_key = t.file_key
LEFT JOIN fact_types p ON p.type_key = t.parent_type_key;

CREATE VIEW IF NOT EXISTS type_inheritances AS
SELECT i.type_key, t.full_name AS type_name, i.base_name, i.relation, i.ordinal, f.path
FROM fact_type_inheritances i
JOIN fact_types t ON t.type_key = i.type_key
JOIN fact_files f ON f.file_key = i.file_key;

CREATE VIEW IF NOT EXISTS methods AS
SELECT m.method_key, f.path, t.full_name AS type_name, m.name, m.return_type,
       m.parameters, m.parameter_count, m.access, m.modifiers, m.kind,
       m.parent_method_key, pm.name AS parent_method_name,
       m.start_line, m.end_line
FROM fact_methods m
JOIN fact_files f ON f.file_key = m.file_key
LEFT JOIN fact_types t ON t.type_key = m.type_key
LEFT JOIN fact_methods pm ON pm.method_key = m.parent_method_key;

CREATE VIEW IF NOT EXISTS lines AS
SELECT f.path, l.line, l.text, l.method_key, m.name AS method_name,
       l.block_depth, l.usage_count
FROM fact_lines l
JOIN fact_files f ON f.file_key = l.file_key
LEFT JOIN fact_methods m ON m.method_key = l.method_key;

CREATE VIEW IF NOT EXISTS variables AS
SELECT v.variable_key, f.path, v.method_key, m.name AS method_name,
       v.name, v.kind, v.type_name, v.line
FROM fact_variables v
JOIN fact_files f ON f.file_key = v.file_key
LEFT JOIN fact_methods m ON m.method_key = v.method_key;

CREATE VIEW IF NOT EXISTS line_variables AS
SELECT f.path, lv.line, lv.variable_key, v.name AS variable_name,
       v.kind AS variable_kind, v.method_key AS declaring_method_key
FROM fact_line_variables lv
JOIN fact_files f ON f.file_key = lv.file_key
LEFT JOIN fact_variables v ON v.variable_key = lv.variable_key;

CREATE VIEW IF NOT EXISTS invocations AS
SELECT i.invocation_key, f.path, i.method_key, m.name AS method_name,
       i.line, i.expression, i.target_name
FROM fact_invocations i
JOIN fact_files f ON f.file_key = i.file_key
LEFT JOIN fact_methods m ON m.method_key = i.method_key;

CREATE VIEW IF NOT EXISTS symbol_references AS
SELECT r.reference_key, f.path, r.line, r.method_key, m.name AS method_name,
       r.name, r.kind, r.container_type, r.symbol_type
FROM fact_symbol_references r
JOIN fact_files f ON f.file_key = r.file_key
LEFT JOIN fact_methods m ON m.method_key = r.method_key;

CREATE VIEW IF NOT EXISTS schema_info AS
SELECT version, applied_at FROM meta_schema
WHERE version = (SELECT MAX(version) FROM meta_schema);
`

const typeMembersDDL = `
CREATE TABLE IF NOT EXISTS fact_type_members (
  member_key      TEXT PRIMARY KEY,
  file_key        TEXT NOT NULL REFERENCES fact_files(file_key) ON DELETE CASCADE,
  type_key        TEXT NOT NULL,
  type_name       TEXT NOT NULL,
  name            TEXT NOT NULL,
  kind            TEXT NOT NULL,
  data_type       TEXT,
  is_static       BOOLEAN NOT NULL DEFAULT FALSE,
  line            INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_type_members_file ON fact_type_members(file_key);
CREATE INDEX IF NOT EXISTS idx_fact_type_members_type ON fact_type_members(type_key);

CREATE VIEW IF NOT EXISTS type_members AS
SELECT tm.member_key, f.path, tm.type_key, tm.type_name, tm.name, tm.kind,
       tm.data_type, tm.is_static, tm.line
FROM fact_type_members tm
JOIN fact_files f ON f.file_key = tm.file_key;
`

const typeParametersDDL = `
ALTER TABLE fact_types ADD COLUMN type_parameters TEXT NOT NULL DEFAULT '[]';
ALTER TABLE fact_type_members ADD COLUMN type_parameters TEXT NOT NULL DEFAULT '[]';
`

// publicViews lists the query surface in a stable order.
var publicViews = []string{
	"files", "types", "type_inheritances", "type_members", "methods", "lines",
	"variables", "line_variables", "invocations", "symbol_references", "schema_info",
}
