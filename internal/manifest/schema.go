// Package manifest records merge runs in a SQLite ledger so past runs can be
// inspected and completed groups skipped when a run is resumed.
package manifest

// CreateRunsTableSQL creates the runs table. One row per invocation; the plan
// column holds the snappy-compressed JSON of every planned group.
const CreateRunsTableSQL = `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    status TEXT NOT NULL,
    limit_bytes INTEGER NOT NULL,
    total_bytes INTEGER NOT NULL,
    file_count INTEGER NOT NULL,
    group_count INTEGER NOT NULL,
    output_base TEXT NOT NULL,
    tool TEXT NOT NULL,
    plan BLOB,
    started_at INTEGER NOT NULL,
    finished_at INTEGER,
    succeeded INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0
)`

// CreateRunGroupsTableSQL creates the per-group progress table.
const CreateRunGroupsTableSQL = `
CREATE TABLE IF NOT EXISTS run_groups (
    run_id TEXT NOT NULL,
    group_index INTEGER NOT NULL,
    output TEXT NOT NULL,
    fingerprint TEXT NOT NULL,
    member_count INTEGER NOT NULL,
    total_bytes INTEGER NOT NULL,
    status TEXT NOT NULL,
    output_bytes INTEGER,
    exit_code INTEGER,
    error TEXT,
    started_at INTEGER,
    finished_at INTEGER,
    PRIMARY KEY (run_id, group_index),
    FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
)`

// CreateRunMembersTableSQL creates the group membership table.
const CreateRunMembersTableSQL = `
CREATE TABLE IF NOT EXISTS run_members (
    run_id TEXT NOT NULL,
    group_index INTEGER NOT NULL,
    position INTEGER NOT NULL,
    input_id TEXT NOT NULL,
    size_bytes INTEGER NOT NULL,
    PRIMARY KEY (run_id, group_index, position),
    FOREIGN KEY (run_id, group_index) REFERENCES run_groups(run_id, group_index) ON DELETE CASCADE
)`

// CreateLedgerIndexesSQL creates the lookup indexes.
var CreateLedgerIndexesSQL = []string{
	// Resume lookups only ever ask for successful merges
	`CREATE INDEX IF NOT EXISTS idx_run_groups_done ON run_groups(fingerprint, output)
		WHERE status = 'succeeded'`,

	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,

	`CREATE INDEX IF NOT EXISTS idx_run_members_input ON run_members(input_id)`,
}

// AllSchemaSQL returns all SQL statements needed to initialize the ledger.
func AllSchemaSQL() []string {
	statements := []string{
		CreateRunsTableSQL,
		CreateRunGroupsTableSQL,
		CreateRunMembersTableSQL,
	}
	statements = append(statements, CreateLedgerIndexesSQL...)
	return statements
}
