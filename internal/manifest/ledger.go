package manifest

import (
	"context"
	"time"

	"github.com/arkilian/splitmerge/internal/partition"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// GroupStatus is the lifecycle state of one group within a run.
type GroupStatus string

const (
	GroupPending   GroupStatus = "pending"
	GroupRunning   GroupStatus = "running"
	GroupSucceeded GroupStatus = "succeeded"
	GroupFailed    GroupStatus = "failed"
	GroupSkipped   GroupStatus = "skipped"
)

// Ledger records runs and the progress of their groups.
type Ledger interface {
	Reader

	// BeginRun stores the run and its full plan. Every group starts pending.
	BeginRun(ctx context.Context, run *RunRecord, groups []GroupPlan) error

	// RecordGroupStart marks a group as running.
	RecordGroupStart(ctx context.Context, runID string, index int) error

	// RecordGroupResult stores the final state of a group.
	RecordGroupResult(ctx context.Context, runID string, index int, result GroupResult) error

	// FinishRun stores the run's final status and counts.
	FinishRun(ctx context.Context, runID string, status RunStatus, counts RunCounts) error

	// FindCompleted returns the latest successful group, from any run, that
	// merged the same members into the same output. It returns nil when
	// there is none.
	FindCompleted(ctx context.Context, fingerprint, output string) (*GroupRecord, error)

	// DeleteRunsBefore removes finished runs started before cutoff.
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close closes the ledger database.
	Close() error
}

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunID      string
	Status     RunStatus
	LimitBytes int64
	TotalBytes int64
	FileCount  int
	GroupCount int
	OutputBase string
	Tool       string
	StartedAt  time.Time
	FinishedAt *time.Time
	RunCounts
}

// RunCounts are the per-status group totals of a run.
type RunCounts struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// GroupPlan is one planned group as stored with its run.
type GroupPlan struct {
	Index       int                   `json:"index"`
	Output      string                `json:"output"`
	Fingerprint string                `json:"fingerprint"`
	Members     []partition.FileEntry `json:"members"`
}

// TotalBytes returns the sum of member sizes.
func (p GroupPlan) TotalBytes() int64 {
	var total int64
	for _, m := range p.Members {
		total += m.SizeBytes
	}
	return total
}

// GroupResult is the outcome reported for a finished group.
type GroupResult struct {
	Status      GroupStatus
	OutputBytes int64
	ExitCode    int
	Error       string
}

// GroupRecord is one row of the run_groups table.
type GroupRecord struct {
	RunID       string
	Index       int
	Output      string
	Fingerprint string
	MemberCount int
	TotalBytes  int64
	Status      GroupStatus
	OutputBytes int64
	ExitCode    int
	Error       string
	StartedAt   *time.Time
	FinishedAt  *time.Time
}
