package observability

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunStats_ConcurrentRecord(t *testing.T) {
	s := NewRunStats()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := StatusSucceeded
			if i%5 == 0 {
				status = StatusFailed
			}
			s.Record(GroupStat{Index: i, Status: status, Files: 2, InputBytes: 10, OutputBytes: 9})
		}(i)
	}
	wg.Wait()

	sum := s.Summary()
	if sum.Groups != 20 || sum.Succeeded != 16 || sum.Failed != 4 {
		t.Errorf("unexpected counts: %+v", sum)
	}
	if sum.Files != 40 || sum.InputBytes != 200 || sum.OutputBytes != 180 {
		t.Errorf("unexpected totals: %+v", sum)
	}

	groups := s.Groups()
	for i, g := range groups {
		if g.Index != i {
			t.Fatalf("Groups not ordered by index: %d at %d", g.Index, i)
		}
	}
}

func TestRunStats_Slowest(t *testing.T) {
	s := NewRunStats()
	s.Record(GroupStat{Index: 0, Status: StatusSucceeded, Duration: time.Second})
	s.Record(GroupStat{Index: 1, Status: StatusFailed, Duration: 3 * time.Second})
	s.Record(GroupStat{Index: 2, Status: StatusSkipped, Duration: time.Hour})

	sum := s.Summary()
	if sum.Slowest == nil || sum.Slowest.Index != 1 {
		t.Errorf("expected group 1 as slowest, got %+v", sum.Slowest)
	}
	if sum.Skipped != 1 {
		t.Errorf("expected 1 skipped, got %d", sum.Skipped)
	}

	if NewRunStats().Summary().Slowest != nil {
		t.Error("empty stats should have no slowest group")
	}
}

func TestMetrics_Observe(t *testing.T) {
	m := NewMetrics()
	m.Observe(GroupStat{Status: StatusSucceeded, Files: 3, InputBytes: 300, OutputBytes: 280, Duration: 2 * time.Second})
	m.Observe(GroupStat{Status: StatusFailed, Files: 2, InputBytes: 100})
	m.Observe(GroupStat{Status: StatusSkipped, Files: 1, InputBytes: 50})

	if got := testutil.ToFloat64(m.Groups.WithLabelValues(StatusSucceeded)); got != 1 {
		t.Errorf("succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Groups.WithLabelValues(StatusFailed)); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.InputBytes); got != 300 {
		t.Errorf("input bytes = %v, want 300 (only successful merges)", got)
	}
	if got := testutil.ToFloat64(m.InputFiles); got != 3 {
		t.Errorf("input files = %v, want 3", got)
	}
	if got := testutil.CollectAndCount(m.MergeDuration); got != 1 {
		t.Errorf("histogram series = %d, want 1", got)
	}
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.PlannedGroups.Set(4)
	m.Observe(GroupStat{Status: StatusSucceeded, Files: 1, InputBytes: 10, OutputBytes: 10})
	m.RunFinished(time.Unix(1700000000, 0))

	path := filepath.Join(t.TempDir(), "splitmerge.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(raw)
	for _, want := range []string{
		`splitmerge_groups_total{status="succeeded"} 1`,
		`splitmerge_groups_total{status="failed"} 0`,
		"splitmerge_planned_groups 4",
		"splitmerge_last_run_timestamp_seconds 1.7e+09",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
