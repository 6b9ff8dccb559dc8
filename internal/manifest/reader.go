package manifest

import "context"

// Reader is the read-only view of the ledger used by the history and show
// commands.
type Reader interface {
	// ListRuns returns the most recent runs first. A non-positive limit
	// returns every run.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// GetRun returns one run, or a RUN_NOT_FOUND error.
	GetRun(ctx context.Context, runID string) (*RunRecord, error)

	// GetGroups returns a run's groups in index order.
	GetGroups(ctx context.Context, runID string) ([]*GroupRecord, error)

	// GetPlan decodes the plan stored with the run.
	GetPlan(ctx context.Context, runID string) ([]GroupPlan, error)
}
