package manifest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/partition"
)

func newTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := NewLedger(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func samplePlan() []GroupPlan {
	return []GroupPlan{
		{Index: 0, Output: "out_0.root", Fingerprint: "fp0", Members: []partition.FileEntry{
			{ID: "a.root", SizeBytes: 20}, {ID: "b.root", SizeBytes: 20},
		}},
		{Index: 1, Output: "out_1.root", Fingerprint: "fp1", Members: []partition.FileEntry{
			{ID: "c.root", SizeBytes: 20},
		}},
	}
}

func beginSample(t *testing.T, l *SQLiteLedger, runID string, started time.Time) {
	t.Helper()
	run := &RunRecord{
		RunID:      runID,
		LimitBytes: 50,
		TotalBytes: 60,
		FileCount:  3,
		GroupCount: 2,
		OutputBase: "out.root",
		Tool:       "/usr/bin/hadd",
		StartedAt:  started,
	}
	if err := l.BeginRun(context.Background(), run, samplePlan()); err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
}

func TestLedger_BeginAndGet(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	beginSample(t, l, "run-1", time.Now())

	run, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunRunning || run.GroupCount != 2 || run.TotalBytes != 60 || run.FinishedAt != nil {
		t.Errorf("unexpected run record: %+v", run)
	}

	groups, err := l.GetGroups(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].Status != GroupPending || groups[0].MemberCount != 2 || groups[0].TotalBytes != 40 {
		t.Errorf("unexpected group 0: %+v", groups[0])
	}
	if groups[1].Output != "out_1.root" || groups[1].Fingerprint != "fp1" {
		t.Errorf("unexpected group 1: %+v", groups[1])
	}

	plan, err := l.GetPlan(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetPlan failed: %v", err)
	}
	if len(plan) != 2 || plan[0].Members[1].ID != "b.root" || plan[1].TotalBytes() != 20 {
		t.Errorf("plan did not survive the round trip: %+v", plan)
	}
}

func TestLedger_GroupLifecycle(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	beginSample(t, l, "run-1", time.Now())

	if err := l.RecordGroupStart(ctx, "run-1", 0); err != nil {
		t.Fatalf("RecordGroupStart failed: %v", err)
	}
	if err := l.RecordGroupResult(ctx, "run-1", 0, GroupResult{Status: GroupSucceeded, OutputBytes: 38}); err != nil {
		t.Fatalf("RecordGroupResult failed: %v", err)
	}
	if err := l.RecordGroupStart(ctx, "run-1", 1); err != nil {
		t.Fatalf("RecordGroupStart failed: %v", err)
	}
	if err := l.RecordGroupResult(ctx, "run-1", 1, GroupResult{Status: GroupFailed, ExitCode: 3, Error: "boom"}); err != nil {
		t.Fatalf("RecordGroupResult failed: %v", err)
	}
	if err := l.FinishRun(ctx, "run-1", RunFailed, RunCounts{Succeeded: 1, Failed: 1}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	groups, err := l.GetGroups(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetGroups failed: %v", err)
	}
	if groups[0].Status != GroupSucceeded || groups[0].OutputBytes != 38 || groups[0].StartedAt == nil || groups[0].FinishedAt == nil {
		t.Errorf("unexpected group 0: %+v", groups[0])
	}
	if groups[1].Status != GroupFailed || groups[1].ExitCode != 3 || groups[1].Error != "boom" {
		t.Errorf("unexpected group 1: %+v", groups[1])
	}

	run, err := l.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != RunFailed || run.Succeeded != 1 || run.Failed != 1 || run.FinishedAt == nil {
		t.Errorf("unexpected run: %+v", run)
	}
}

func TestLedger_FindCompleted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	beginSample(t, l, "run-1", time.Now())

	g, err := l.FindCompleted(ctx, "fp0", "out_0.root")
	if err != nil || g != nil {
		t.Fatalf("pending group should not count as completed: %+v, %v", g, err)
	}

	if err := l.RecordGroupResult(ctx, "run-1", 0, GroupResult{Status: GroupSucceeded, OutputBytes: 10}); err != nil {
		t.Fatal(err)
	}
	if err := l.RecordGroupResult(ctx, "run-1", 1, GroupResult{Status: GroupFailed}); err != nil {
		t.Fatal(err)
	}

	g, err = l.FindCompleted(ctx, "fp0", "out_0.root")
	if err != nil || g == nil || g.RunID != "run-1" || g.Index != 0 {
		t.Errorf("expected completed group 0, got %+v, %v", g, err)
	}
	if g, _ := l.FindCompleted(ctx, "fp0", "elsewhere.root"); g != nil {
		t.Error("a different output must not match")
	}
	if g, _ := l.FindCompleted(ctx, "fp1", "out_1.root"); g != nil {
		t.Error("a failed group must not match")
	}
}

func TestLedger_ListRuns(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	beginSample(t, l, "old", base)
	beginSample(t, l, "mid", base.Add(time.Minute))
	beginSample(t, l, "new", base.Add(2*time.Minute))

	runs, err := l.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != "new" || runs[1].RunID != "mid" {
		t.Errorf("unexpected order: %v", runIDs(runs))
	}

	all, err := l.ListRuns(ctx, 0)
	if err != nil || len(all) != 3 {
		t.Errorf("expected 3 runs, got %d (%v)", len(all), err)
	}
}

func TestLedger_DeleteRunsBefore(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	old := time.Now().Add(-48 * time.Hour)
	beginSample(t, l, "finished", old)
	beginSample(t, l, "still-running", old)
	beginSample(t, l, "recent", time.Now())
	if err := l.FinishRun(ctx, "finished", RunSucceeded, RunCounts{Succeeded: 2}); err != nil {
		t.Fatal(err)
	}
	if err := l.FinishRun(ctx, "recent", RunSucceeded, RunCounts{Succeeded: 2}); err != nil {
		t.Fatal(err)
	}

	n, err := l.DeleteRunsBefore(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteRunsBefore failed: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d runs, want 1", n)
	}
	if _, err := l.GetRun(ctx, "finished"); !errors.Is(err, smerrors.New(smerrors.ErrCategoryManifest, smerrors.CodeRunNotFound, "")) {
		t.Errorf("expected RUN_NOT_FOUND after delete, got %v", err)
	}
	if g, _ := l.FindCompleted(ctx, "fp0", "out_0.root"); g != nil {
		t.Error("groups of deleted runs should be gone")
	}
	if _, err := l.GetRun(ctx, "still-running"); err != nil {
		t.Errorf("running run should be kept: %v", err)
	}
}

func TestLedger_NotFound(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	if _, err := l.GetRun(ctx, "nope"); smerrors.GetCode(err) != smerrors.CodeRunNotFound {
		t.Errorf("GetRun: got %v", err)
	}
	if _, err := l.GetGroups(ctx, "nope"); smerrors.GetCode(err) != smerrors.CodeRunNotFound {
		t.Errorf("GetGroups: got %v", err)
	}
	if _, err := l.GetPlan(ctx, "nope"); smerrors.GetCode(err) != smerrors.CodeRunNotFound {
		t.Errorf("GetPlan: got %v", err)
	}
	if err := l.RecordGroupStart(ctx, "nope", 0); smerrors.GetCode(err) != smerrors.CodeRunNotFound {
		t.Errorf("RecordGroupStart: got %v", err)
	}
	if err := l.FinishRun(ctx, "nope", RunSucceeded, RunCounts{}); smerrors.GetCode(err) != smerrors.CodeRunNotFound {
		t.Errorf("FinishRun: got %v", err)
	}
}

func TestLedger_DuplicateRunID(t *testing.T) {
	l := newTestLedger(t)
	beginSample(t, l, "run-1", time.Now())

	err := l.BeginRun(context.Background(), &RunRecord{RunID: "run-1", StartedAt: time.Now()}, nil)
	if smerrors.GetCode(err) != smerrors.CodeLedgerWriteFailed {
		t.Errorf("expected LEDGER_WRITE_FAILED, got %v", err)
	}
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := NewLedger(path)
	if err != nil {
		t.Fatal(err)
	}
	beginSample(t, l, "run-1", time.Now())
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	l2, err := NewLedger(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer l2.Close()
	if _, err := l2.GetRun(context.Background(), "run-1"); err != nil {
		t.Errorf("run lost across reopen: %v", err)
	}
}

func TestPlanCodec(t *testing.T) {
	blob, err := encodePlan(samplePlan())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := decodePlan([]byte("not snappy at all")); err == nil {
		t.Error("expected decode error for garbage")
	}
	plan, err := decodePlan(blob)
	if err != nil || len(plan) != 2 {
		t.Errorf("decode failed: %v", err)
	}
	if plan, err := decodePlan(nil); err != nil || plan != nil {
		t.Errorf("empty blob should decode to nil plan")
	}
}

func runIDs(runs []*RunRecord) []string {
	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.RunID
	}
	return ids
}
