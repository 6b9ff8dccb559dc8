package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/manifest"
	"github.com/arkilian/splitmerge/internal/merge"
	"github.com/arkilian/splitmerge/internal/observability"
	"github.com/arkilian/splitmerge/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// StatusNotStarted marks groups that were never scheduled because the run
// was interrupted.
const StatusNotStarted = "not_started"

// Config holds configuration for the runner.
type Config struct {
	// Concurrency is the number of groups merged at once (default: 1).
	Concurrency int

	// WorkDir holds per-run downloads and staged outputs for object storage.
	WorkDir string

	// DownloadConcurrency bounds parallel input downloads per group (default: 4).
	DownloadConcurrency int

	// Resume skips groups whose members were already merged into the same
	// output by an earlier run, if that output still exists.
	Resume bool

	// Tool is recorded in the ledger.
	Tool string
}

// Tracker is told about every merge that starts and finishes. Track returns
// false when no new merge may start.
type Tracker interface {
	Track() bool
	Untrack()
}

// Runner executes plans.
type Runner struct {
	config   Config
	invoker  merge.Invoker
	verifier *merge.Verifier
	store    storage.ObjectStorage
	ledger   manifest.Ledger
	metrics  *observability.Metrics
	tracker  Tracker
	drain    <-chan struct{}
	logger   zerolog.Logger
}

// Option configures optional runner dependencies.
type Option func(*Runner)

// WithStorage makes the runner download members from, and upload outputs
// to, store.
func WithStorage(store storage.ObjectStorage) Option {
	return func(r *Runner) { r.store = store }
}

// WithLedger records progress in ledger.
func WithLedger(ledger manifest.Ledger) Option {
	return func(r *Runner) { r.ledger = ledger }
}

// WithMetrics reports group outcomes to metrics.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

// WithDrain stops scheduling when drain is closed and consults tracker
// before each merge. Running merges are left to finish.
func WithDrain(tracker Tracker, drain <-chan struct{}) Option {
	return func(r *Runner) {
		r.tracker = tracker
		r.drain = drain
	}
}

// New creates a runner.
func New(cfg Config, invoker merge.Invoker, verifier *merge.Verifier, logger zerolog.Logger, opts ...Option) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.DownloadConcurrency <= 0 {
		cfg.DownloadConcurrency = 4
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if verifier == nil {
		verifier = merge.NewVerifier()
	}
	r := &Runner{
		config:   cfg,
		invoker:  invoker,
		verifier: verifier,
		logger:   logger.With().Str("component", "runner").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GroupOutcome is the result of one planned group.
type GroupOutcome struct {
	Index       int
	Output      string
	Files       int
	InputBytes  int64
	OutputBytes int64
	Status      string
	ExitCode    int
	Duration    time.Duration
	Err         error
}

// Report summarizes an executed plan.
type Report struct {
	RunID      string
	Outcomes   []GroupOutcome
	Succeeded  int
	Failed     int
	Skipped    int
	NotStarted int
	Stats      observability.Summary
}

// Err is nil when every group merged or was skipped. Otherwise it wraps
// each group failure, or context.Canceled when groups were never started.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Outcomes {
		if o.Status == observability.StatusFailed {
			errs = append(errs, fmt.Errorf("group %d (%s): %w", o.Index, o.Output, o.Err))
		}
	}
	if r.NotStarted > 0 {
		errs = append(errs, fmt.Errorf("%d group(s) not started: %w", r.NotStarted, context.Canceled))
	}
	if len(errs) == 0 {
		return nil
	}
	if r.Failed == 0 {
		return errors.Join(errs...)
	}
	return smerrors.NewMergeError(smerrors.CodeMergeFailed,
		fmt.Sprintf("%d of %d groups failed", r.Failed, len(r.Outcomes)), errors.Join(errs...))
}

// Execute runs every group of plan. A failing group does not stop the
// others; cancelling ctx or closing the drain channel stops new groups from
// starting.
func (r *Runner) Execute(ctx context.Context, plan *Plan) (*Report, error) {
	logger := r.logger.With().Str("run_id", plan.RunID).Logger()
	if plan.Remote && r.store == nil {
		return nil, smerrors.NewValidationError(smerrors.CodeInvalidConfig,
			"runner: plan uses object storage but no store is configured")
	}

	// Ledger writes outlive cancellation so an interrupted run is recorded
	ledgerCtx := context.WithoutCancel(ctx)
	if r.ledger != nil {
		if err := r.ledger.BeginRun(ledgerCtx, r.runRecord(plan), groupPlans(plan)); err != nil {
			return nil, err
		}
	}
	if r.metrics != nil {
		r.metrics.PlannedGroups.Set(float64(len(plan.Groups)))
	}

	logger.Info().
		Int("groups", len(plan.Groups)).
		Int("concurrency", r.config.Concurrency).
		Bool("resume", r.config.Resume).
		Msg("run started")

	stats := observability.NewRunStats()
	outcomes := make([]GroupOutcome, len(plan.Groups))
	for i, g := range plan.Groups {
		outcomes[i] = GroupOutcome{Index: g.Index, Output: g.Output, Files: g.Len(),
			InputBytes: g.TotalBytes(), Status: StatusNotStarted}
	}

	sem := semaphore.NewWeighted(int64(r.config.Concurrency))
	var wg sync.WaitGroup

	for i := range plan.Groups {
		if r.stopped(ctx) {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if r.stopped(ctx) {
			sem.Release(1)
			break
		}
		if r.tracker != nil && !r.tracker.Track() {
			sem.Release(1)
			break
		}

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			if r.tracker != nil {
				defer r.tracker.Untrack()
			}

			outcome := r.runGroup(ctx, ledgerCtx, logger, plan, plan.Groups[i])
			outcomes[i] = outcome
			stat := observability.GroupStat{
				Index:       outcome.Index,
				Output:      outcome.Output,
				Status:      outcome.Status,
				Files:       outcome.Files,
				InputBytes:  outcome.InputBytes,
				OutputBytes: outcome.OutputBytes,
				Duration:    outcome.Duration,
			}
			stats.Record(stat)
			if r.metrics != nil {
				r.metrics.Observe(stat)
			}
		}(i)
	}
	wg.Wait()

	report := &Report{RunID: plan.RunID, Outcomes: outcomes, Stats: stats.Summary()}
	for _, o := range outcomes {
		switch o.Status {
		case observability.StatusSucceeded:
			report.Succeeded++
		case observability.StatusFailed:
			report.Failed++
		case observability.StatusSkipped:
			report.Skipped++
		default:
			report.NotStarted++
		}
	}

	status := manifest.RunSucceeded
	switch {
	case report.NotStarted > 0:
		status = manifest.RunCancelled
	case report.Failed > 0:
		status = manifest.RunFailed
	}
	if r.ledger != nil {
		counts := manifest.RunCounts{Succeeded: report.Succeeded, Failed: report.Failed, Skipped: report.Skipped}
		if err := r.ledger.FinishRun(ledgerCtx, plan.RunID, status, counts); err != nil {
			logger.Warn().Err(err).Msg("failed to record run result")
		}
	}
	if r.metrics != nil {
		r.metrics.RunFinished(time.Now())
	}

	logger.Info().
		Str("status", string(status)).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Int("skipped", report.Skipped).
		Int("not_started", report.NotStarted).
		Dur("elapsed", report.Stats.Elapsed).
		Msg("run finished")

	return report, nil
}

func (r *Runner) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-r.drain:
		return true
	default:
		return false
	}
}

// runGroup performs the full workflow for one group:
// resume check → fetch → merge → verify → publish → record.
func (r *Runner) runGroup(ctx, ledgerCtx context.Context, runLogger zerolog.Logger, plan *Plan, g PlannedGroup) GroupOutcome {
	logger := runLogger.With().Int("group", g.Index).Str("output", g.Output).Logger()
	outcome := GroupOutcome{
		Index:      g.Index,
		Output:     g.Output,
		Files:      g.Len(),
		InputBytes: g.TotalBytes(),
	}
	start := time.Now()

	if r.config.Resume && r.ledger != nil {
		if done := r.findCompleted(ctx, ledgerCtx, logger, g); done != nil {
			outcome.Status = observability.StatusSkipped
			outcome.OutputBytes = done.OutputBytes
			r.recordResult(ledgerCtx, logger, plan.RunID, g.Index, manifest.GroupResult{
				Status:      manifest.GroupSkipped,
				OutputBytes: done.OutputBytes,
			})
			logger.Info().Str("merged_by", done.RunID).Msg("group already merged, skipping")
			return outcome
		}
	}

	if r.ledger != nil {
		if err := r.ledger.RecordGroupStart(ledgerCtx, plan.RunID, g.Index); err != nil {
			logger.Warn().Err(err).Msg("failed to record group start")
		}
	}

	logger.Info().
		Int("files", outcome.Files).
		Int64("input_bytes", outcome.InputBytes).
		Msg("merging group")

	size, exitCode, err := r.mergeGroup(ctx, logger, plan, g)
	outcome.Duration = time.Since(start)
	outcome.ExitCode = exitCode

	if err != nil {
		outcome.Status = observability.StatusFailed
		outcome.Err = err
		r.recordResult(ledgerCtx, logger, plan.RunID, g.Index, manifest.GroupResult{
			Status:   manifest.GroupFailed,
			ExitCode: exitCode,
			Error:    err.Error(),
		})
		logger.Error().Err(err).Dur("duration", outcome.Duration).Msg("group failed")
		return outcome
	}

	outcome.Status = observability.StatusSucceeded
	outcome.OutputBytes = size
	r.recordResult(ledgerCtx, logger, plan.RunID, g.Index, manifest.GroupResult{
		Status:      manifest.GroupSucceeded,
		OutputBytes: size,
	})
	logger.Info().
		Int64("output_bytes", size).
		Dur("duration", outcome.Duration).
		Msg("group merged")
	return outcome
}

// mergeGroup returns the verified output size and the tool's exit code.
func (r *Runner) mergeGroup(ctx context.Context, logger zerolog.Logger, plan *Plan, g PlannedGroup) (int64, int, error) {
	if !plan.Remote {
		return r.mergeLocal(ctx, g)
	}

	groupDir := filepath.Join(r.config.WorkDir, plan.RunID, fmt.Sprintf("group_%04d", g.Index))
	defer func() {
		if err := os.RemoveAll(groupDir); err != nil {
			logger.Warn().Err(err).Str("dir", groupDir).Msg("cleanup warning")
		}
	}()

	// Step 1: Fetch members in group order
	downloader := storage.NewBatchDownloader(r.store, r.config.DownloadConcurrency, filepath.Join(groupDir, "inputs"))
	sizes := make([]int64, g.Len())
	for i, m := range g.Members {
		sizes[i] = m.SizeBytes
	}
	fetched, err := downloader.Download(ctx, &storage.BatchRequest{ObjectPaths: g.IDs(), Sizes: sizes})
	if err != nil {
		return 0, 0, smerrors.NewStorageError(smerrors.CodeDownloadFailed, "runner: fetch inputs", err)
	}
	if err := fetched.Err(); err != nil {
		return 0, 0, smerrors.NewStorageError(smerrors.CodeDownloadFailed, "runner: fetch inputs", err)
	}
	logger.Debug().Int("downloads", fetched.Downloads).Int("cache_hits", fetched.CacheHits).Msg("inputs fetched")

	// Step 2: Merge into the work dir
	staged := filepath.Join(groupDir, filepath.Base(filepath.FromSlash(g.Output)))
	res, err := r.invoker.Merge(ctx, merge.Request{Inputs: fetched.LocalPaths, Output: staged})
	if err != nil {
		return 0, exitCode(res), err
	}

	// Step 3: Verify before anything is published
	size, err := r.verifier.Verify(staged)
	if err != nil {
		return size, exitCode(res), err
	}

	// Step 4: Publish
	etag, err := r.store.UploadMultipart(ctx, staged, g.Output)
	if err != nil {
		return size, exitCode(res), smerrors.NewStorageError(smerrors.CodeUploadFailed,
			fmt.Sprintf("runner: upload %s", g.Output), err)
	}
	logger.Debug().Str("etag", etag).Msg("output uploaded")
	return size, exitCode(res), nil
}

// mergeLocal merges straight into the output path. An output created by a
// failed merge is removed; one that existed beforehand is left alone.
func (r *Runner) mergeLocal(ctx context.Context, g PlannedGroup) (int64, int, error) {
	_, statErr := os.Stat(g.Output)
	existed := statErr == nil

	res, err := r.invoker.Merge(ctx, merge.Request{Inputs: g.IDs(), Output: g.Output})
	if err == nil {
		var size int64
		size, err = r.verifier.Verify(g.Output)
		if err == nil {
			return size, exitCode(res), nil
		}
	}
	if !existed {
		os.Remove(g.Output)
	}
	return 0, exitCode(res), err
}

// findCompleted returns the earlier successful merge of g, provided its
// output is still there.
func (r *Runner) findCompleted(ctx, ledgerCtx context.Context, logger zerolog.Logger, g PlannedGroup) *manifest.GroupRecord {
	done, err := r.ledger.FindCompleted(ledgerCtx, g.Fingerprint, g.Output)
	if err != nil {
		logger.Warn().Err(err).Msg("resume lookup failed, merging again")
		return nil
	}
	if done == nil {
		return nil
	}

	if r.store != nil {
		info, err := r.store.Stat(ctx, g.Output)
		if err != nil || (done.OutputBytes > 0 && info.SizeBytes != done.OutputBytes) {
			return nil
		}
		return done
	}
	info, err := os.Stat(g.Output)
	if err != nil || (done.OutputBytes > 0 && info.Size() != done.OutputBytes) {
		return nil
	}
	return done
}

func (r *Runner) recordResult(ledgerCtx context.Context, logger zerolog.Logger, runID string, index int, result manifest.GroupResult) {
	if r.ledger == nil {
		return
	}
	if err := r.ledger.RecordGroupResult(ledgerCtx, runID, index, result); err != nil {
		logger.Warn().Err(err).Msg("failed to record group result")
	}
}

func (r *Runner) runRecord(plan *Plan) *manifest.RunRecord {
	return &manifest.RunRecord{
		RunID:      plan.RunID,
		Status:     manifest.RunRunning,
		LimitBytes: plan.LimitBytes,
		TotalBytes: plan.TotalBytes(),
		FileCount:  plan.Files(),
		GroupCount: len(plan.Groups),
		OutputBase: plan.OutputBase,
		Tool:       r.config.Tool,
		StartedAt:  time.Now(),
	}
}

func groupPlans(plan *Plan) []manifest.GroupPlan {
	out := make([]manifest.GroupPlan, len(plan.Groups))
	for i, g := range plan.Groups {
		out[i] = manifest.GroupPlan{
			Index:       g.Index,
			Output:      g.Output,
			Fingerprint: g.Fingerprint,
			Members:     g.Members,
		}
	}
	return out
}

func exitCode(res *merge.Result) int {
	if res == nil {
		return 0
	}
	return res.ExitCode
}
