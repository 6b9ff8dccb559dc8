package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/arkilian/splitmerge/internal/manifest"
	"github.com/arkilian/splitmerge/internal/observability"
	"github.com/arkilian/splitmerge/internal/runner"
	"github.com/arkilian/splitmerge/pkg/types"
	"github.com/fatih/color"
)

var (
	bold  = color.New(color.Bold)
	green = color.New(color.FgGreen)
	red   = color.New(color.FgRed)
	faint = color.New(color.Faint)
)

func size(n int64) string {
	return types.ByteSize(n).String()
}

// printHeader prints the one-line summary shown before merging starts.
func printHeader(w io.Writer, plan *runner.Plan) {
	fmt.Fprintf(w, "Merging %d files, totalling %s\n", plan.Files(), size(plan.TotalBytes()))
	fmt.Fprintf(w, "-- Splitting into %d outputs, each < %s\n", len(plan.Groups), size(plan.LimitBytes))
}

// printPlan prints every group with its members.
func printPlan(w io.Writer, plan *runner.Plan) {
	printHeader(w, plan)
	faint.Fprintf(w, "run %s\n", plan.RunID)
	for _, g := range plan.Groups {
		bold.Fprintf(w, "\n[%d] %s", g.Index, g.Output)
		fmt.Fprintf(w, "  (%d files, %s)\n", g.Len(), size(g.TotalBytes()))
		for _, m := range g.Members {
			fmt.Fprintf(w, "    %-10s %s\n", size(m.SizeBytes), m.ID)
		}
	}
}

// printReport prints one line per output, then the totals.
func printReport(w io.Writer, report *runner.Report) {
	for _, o := range report.Outcomes {
		switch o.Status {
		case observability.StatusSucceeded:
			green.Fprintf(w, "ok      ")
			fmt.Fprintf(w, "%s  %s in %s\n", o.Output, size(o.OutputBytes), o.Duration.Round(time.Millisecond))
		case observability.StatusSkipped:
			faint.Fprintf(w, "skipped %s  already merged\n", o.Output)
		case observability.StatusFailed:
			red.Fprintf(w, "FAILED  ")
			fmt.Fprintf(w, "%s  %v\n", o.Output, o.Err)
		default:
			faint.Fprintf(w, "-       %s  not started\n", o.Output)
		}
	}

	s := report.Stats
	line := fmt.Sprintf("%d succeeded, %d failed, %d skipped", report.Succeeded, report.Failed, report.Skipped)
	if report.NotStarted > 0 {
		line += fmt.Sprintf(", %d not started", report.NotStarted)
	}
	bold.Fprintf(w, "\n%s", line)
	fmt.Fprintf(w, "; %s merged into %s in %s\n", size(s.InputBytes), size(s.OutputBytes), s.Elapsed.Round(time.Millisecond))
}

// printHistory prints one row per run, newest first. Table cells are not
// colored since escape codes upset tabwriter alignment.
func printHistory(w io.Writer, runs []*manifest.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSTARTED\tSTATUS\tFILES\tSIZE\tGROUPS\tOK/FAIL/SKIP\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\t%d/%d/%d\t%s\n",
			r.RunID, r.StartedAt.Local().Format(time.DateTime), r.Status,
			r.FileCount, size(r.TotalBytes), r.GroupCount,
			r.Succeeded, r.Failed, r.Skipped, r.OutputBase)
	}
	tw.Flush()
}

// printRun prints a recorded run and its groups.
func printRun(w io.Writer, run *manifest.RunRecord, groups []*manifest.GroupRecord) {
	bold.Fprintf(w, "run %s", run.RunID)
	fmt.Fprintf(w, "  %s\n", statusText(string(run.Status)))
	fmt.Fprintf(w, "started  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.FinishedAt != nil {
		fmt.Fprintf(w, "finished %s (%s)\n", run.FinishedAt.Local().Format(time.DateTime),
			run.FinishedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(w, "tool     %s\n", run.Tool)
	fmt.Fprintf(w, "limit    %s, %d files, %s\n\n", size(run.LimitBytes), run.FileCount, size(run.TotalBytes))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tOUTPUT\tFILES\tINPUT\tOUTPUT SIZE\tSTATUS\tERROR")
	for _, g := range groups {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			g.Index, g.Output, g.MemberCount, size(g.TotalBytes), size(g.OutputBytes),
			g.Status, g.Error)
	}
	tw.Flush()
}

// printMembers prints the stored plan of a run.
func printMembers(w io.Writer, groups []manifest.GroupPlan) {
	for _, g := range groups {
		bold.Fprintf(w, "\n[%d] %s", g.Index, g.Output)
		fmt.Fprintf(w, "  (%d files, %s)\n", len(g.Members), size(g.TotalBytes()))
		for _, m := range g.Members {
			fmt.Fprintf(w, "    %-10s %s\n", size(m.SizeBytes), m.ID)
		}
	}
}

func statusText(status string) string {
	switch status {
	case string(manifest.RunSucceeded):
		return green.Sprint(status)
	case string(manifest.RunFailed), string(manifest.RunCancelled):
		return red.Sprint(status)
	default:
		return status
	}
}
