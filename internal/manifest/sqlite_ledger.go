package manifest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/golang/snappy"
	_ "github.com/mattn/go-sqlite3"
)

var _ Ledger = (*SQLiteLedger)(nil)

// SQLiteLedger implements Ledger on a SQLite database in WAL mode with one
// writer connection and a small pool of readers.
type SQLiteLedger struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool
	dbPath string
	mu     sync.Mutex // Serializes writes
}

// NewLedger opens (creating if needed) the ledger at dbPath.
func NewLedger(dbPath string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("manifest: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	l := &SQLiteLedger{db: db, readDB: readDB, dbPath: dbPath}
	if err := l.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("manifest: failed to initialize schema: %w", err)
	}
	return l, nil
}

// initSchema creates all required tables and indexes.
func (l *SQLiteLedger) initSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Path returns the database file path.
func (l *SQLiteLedger) Path() string {
	return l.dbPath
}

// BeginRun stores the run, its groups and their members in one transaction.
func (l *SQLiteLedger) BeginRun(ctx context.Context, run *RunRecord, groups []GroupPlan) error {
	blob, err := encodePlan(groups)
	if err != nil {
		return writeFailed("encode plan", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return writeFailed("begin transaction", err)
	}
	defer tx.Rollback()

	status := run.Status
	if status == "" {
		status = RunRunning
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			run_id, status, limit_bytes, total_bytes, file_count, group_count,
			output_base, tool, plan, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, string(status), run.LimitBytes, run.TotalBytes, run.FileCount, run.GroupCount,
		run.OutputBase, run.Tool, blob, toMillis(run.StartedAt),
	)
	if err != nil {
		return writeFailed(fmt.Sprintf("insert run %s", run.RunID), err)
	}

	groupStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_groups (
			run_id, group_index, output, fingerprint, member_count, total_bytes, status
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return writeFailed("prepare group insert", err)
	}
	defer groupStmt.Close()

	memberStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_members (run_id, group_index, position, input_id, size_bytes)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return writeFailed("prepare member insert", err)
	}
	defer memberStmt.Close()

	for _, g := range groups {
		if _, err := groupStmt.ExecContext(ctx, run.RunID, g.Index, g.Output, g.Fingerprint,
			len(g.Members), g.TotalBytes(), string(GroupPending)); err != nil {
			return writeFailed(fmt.Sprintf("insert group %d", g.Index), err)
		}
		for pos, m := range g.Members {
			if _, err := memberStmt.ExecContext(ctx, run.RunID, g.Index, pos, m.ID, m.SizeBytes); err != nil {
				return writeFailed(fmt.Sprintf("insert member %d of group %d", pos, g.Index), err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return writeFailed("commit run", err)
	}
	return nil
}

// RecordGroupStart marks a group as running.
func (l *SQLiteLedger) RecordGroupStart(ctx context.Context, runID string, index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		"UPDATE run_groups SET status = ?, started_at = ? WHERE run_id = ? AND group_index = ?",
		string(GroupRunning), toMillis(time.Now()), runID, index,
	)
	if err != nil {
		return writeFailed(fmt.Sprintf("start group %d of run %s", index, runID), err)
	}
	return expectRow(res, runID, index)
}

// RecordGroupResult stores the final state of a group.
func (l *SQLiteLedger) RecordGroupResult(ctx context.Context, runID string, index int, result GroupResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		UPDATE run_groups
		SET status = ?, output_bytes = ?, exit_code = ?, error = ?, finished_at = ?
		WHERE run_id = ? AND group_index = ?`,
		string(result.Status), result.OutputBytes, result.ExitCode, nullString(result.Error),
		toMillis(time.Now()), runID, index,
	)
	if err != nil {
		return writeFailed(fmt.Sprintf("record group %d of run %s", index, runID), err)
	}
	return expectRow(res, runID, index)
}

// FinishRun stores the run's final status and counts.
func (l *SQLiteLedger) FinishRun(ctx context.Context, runID string, status RunStatus, counts RunCounts) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, succeeded = ?, failed = ?, skipped = ?
		WHERE run_id = ?`,
		string(status), toMillis(time.Now()), counts.Succeeded, counts.Failed, counts.Skipped, runID,
	)
	if err != nil {
		return writeFailed(fmt.Sprintf("finish run %s", runID), err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return runNotFound(runID)
	}
	return nil
}

const runColumns = `run_id, status, limit_bytes, total_bytes, file_count, group_count,
	output_base, tool, started_at, finished_at, succeeded, failed, skipped`

// ListRuns returns the most recent runs first.
func (l *SQLiteLedger) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, rowid DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (l *SQLiteLedger) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	row := l.readDB.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	return run, err
}

const groupColumns = `run_id, group_index, output, fingerprint, member_count, total_bytes,
	status, output_bytes, exit_code, error, started_at, finished_at`

// GetGroups returns a run's groups in index order.
func (l *SQLiteLedger) GetGroups(ctx context.Context, runID string) ([]*GroupRecord, error) {
	rows, err := l.readDB.QueryContext(ctx,
		"SELECT "+groupColumns+" FROM run_groups WHERE run_id = ? ORDER BY group_index", runID)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to get groups for run %s: %w", runID, err)
	}
	defer rows.Close()

	var groups []*GroupRecord
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		if _, err := l.GetRun(ctx, runID); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// GetPlan decodes the plan stored with the run.
func (l *SQLiteLedger) GetPlan(ctx context.Context, runID string) ([]GroupPlan, error) {
	var blob []byte
	err := l.readDB.QueryRowContext(ctx, "SELECT plan FROM runs WHERE run_id = ?", runID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, runNotFound(runID)
	}
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to read plan for run %s: %w", runID, err)
	}
	return decodePlan(blob)
}

// FindCompleted returns the latest successful group with the given
// fingerprint and output, or nil.
func (l *SQLiteLedger) FindCompleted(ctx context.Context, fingerprint, output string) (*GroupRecord, error) {
	row := l.readDB.QueryRowContext(ctx,
		"SELECT "+groupColumns+` FROM run_groups
		WHERE fingerprint = ? AND output = ? AND status = 'succeeded'
		ORDER BY finished_at DESC LIMIT 1`,
		fingerprint, output)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

// DeleteRunsBefore removes finished runs started before cutoff, with their
// groups and members.
func (l *SQLiteLedger) DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.db.ExecContext(ctx,
		"DELETE FROM runs WHERE started_at < ? AND status != ?",
		toMillis(cutoff), string(RunRunning))
	if err != nil {
		return 0, writeFailed("delete old runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, writeFailed("delete old runs", err)
	}
	return int(n), nil
}

// Close closes the read pool, then the writer.
func (l *SQLiteLedger) Close() error {
	if err := l.readDB.Close(); err != nil {
		l.db.Close()
		return err
	}
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		run        RunRecord
		status     string
		startedAt  int64
		finishedAt sql.NullInt64
	)
	err := s.Scan(&run.RunID, &status, &run.LimitBytes, &run.TotalBytes, &run.FileCount, &run.GroupCount,
		&run.OutputBase, &run.Tool, &startedAt, &finishedAt, &run.Succeeded, &run.Failed, &run.Skipped)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("manifest: failed to scan run: %w", err)
	}
	run.Status = RunStatus(status)
	run.StartedAt = fromMillis(startedAt)
	run.FinishedAt = nullTime(finishedAt)
	return &run, nil
}

func scanGroup(s scanner) (*GroupRecord, error) {
	var (
		g           GroupRecord
		status      string
		outputBytes sql.NullInt64
		exitCode    sql.NullInt64
		errText     sql.NullString
		startedAt   sql.NullInt64
		finishedAt  sql.NullInt64
	)
	err := s.Scan(&g.RunID, &g.Index, &g.Output, &g.Fingerprint, &g.MemberCount, &g.TotalBytes,
		&status, &outputBytes, &exitCode, &errText, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("manifest: failed to scan group: %w", err)
	}
	g.Status = GroupStatus(status)
	g.OutputBytes = outputBytes.Int64
	g.ExitCode = int(exitCode.Int64)
	g.Error = errText.String
	g.StartedAt = nullTime(startedAt)
	g.FinishedAt = nullTime(finishedAt)
	return &g, nil
}

// encodePlan stores the plan as snappy-compressed JSON. Member lists of
// large runs repeat long directory prefixes and compress well.
func encodePlan(groups []GroupPlan) ([]byte, error) {
	raw, err := json.Marshal(groups)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decodePlan(blob []byte) ([]GroupPlan, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	raw, err := snappy.Decode(nil, blob)
	if err != nil {
		return nil, fmt.Errorf("manifest: failed to decompress plan: %w", err)
	}
	var groups []GroupPlan
	if err := json.Unmarshal(raw, &groups); err != nil {
		return nil, fmt.Errorf("manifest: failed to unmarshal plan: %w", err)
	}
	return groups, nil
}

func expectRow(res sql.Result, runID string, index int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return writeFailed("rows affected", err)
	}
	if n == 0 {
		return smerrors.NewManifestError(smerrors.CodeRunNotFound,
			fmt.Sprintf("manifest: run %s has no group %d", runID, index), nil)
	}
	return nil
}

func writeFailed(op string, err error) error {
	return smerrors.NewManifestError(smerrors.CodeLedgerWriteFailed, "manifest: "+op, err)
}

func runNotFound(runID string) error {
	return smerrors.NewManifestError(smerrors.CodeRunNotFound, fmt.Sprintf("manifest: run %s not found", runID), nil)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
