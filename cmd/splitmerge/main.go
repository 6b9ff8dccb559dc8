// Command splitmerge merges many files into size-bounded outputs with an
// external merge tool such as hadd.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/arkilian/splitmerge/internal/app"
	"github.com/arkilian/splitmerge/internal/config"
	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/logging"
	"github.com/arkilian/splitmerge/internal/manifest"
	"github.com/urfave/cli/v2"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailed    = 1
	exitInvalid   = 2
	exitCancelled = 130
)

func main() {
	cliApp := newCLI()
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "splitmerge: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "splitmerge",
		Usage:   "merge files into outputs no larger than a size limit",
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		Description: "Inputs are taken in the order given and cut into contiguous groups whose " +
			"total size stays under --size. Each group is merged into one output with the " +
			"merge tool; a single group keeps the --output name, otherwise outputs are " +
			"numbered output_0.root, output_1.root, ...\n\n" +
			"Every option can also be set in a YAML or JSON --config file or through " +
			config.EnvPrefix + "_* environment variables (e.g. " + config.EnvPrefix + "_SIZE).",
		Flags:  runFlags(),
		Action: runAction,
		Commands: []*cli.Command{{
			Name:      "run",
			Usage:     "plan and merge (the default command)",
			ArgsUsage: "[input ...]",
			Flags:     runFlags(),
			Action:    runAction,
		}, {
			Name:      "plan",
			Usage:     "print the groups without merging",
			ArgsUsage: "[input ...]",
			Flags:     planFlags(),
			Action:    planAction,
		}, {
			Name:  "history",
			Usage: "list recent runs from the ledger",
			Flags: append(commonFlags(),
				&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "number of runs to list"},
				&cli.IntFlag{Name: "prune-days", Usage: "first delete finished runs older than this many days"},
			),
			Action: historyAction,
		}, {
			Name:      "show",
			Usage:     "print the groups of a recorded run",
			ArgsUsage: "<run-id>",
			Flags: append(commonFlags(),
				&cli.BoolFlag{Name: "members", Aliases: []string{"m"}, Usage: "also list the files of every group"},
			),
			Action: showAction,
		}},
		// exit codes are handled in main
		ExitErrHandler: func(*cli.Context, error) {},
	}
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML or JSON configuration file"},
		&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "file of environment variables loaded before SPLITMERGE_* overrides"},
		&cli.StringFlag{Name: "data-dir", Usage: "directory for the run ledger and work files"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.StringFlag{Name: "log-format", Usage: "auto, console or json"},
	}
}

func planFlags() []cli.Flag {
	return append(commonFlags(),
		&cli.StringSliceFlag{Name: "files", Aliases: []string{"f"}, Usage: "input files, directories or object keys (repeatable)"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output base name (default \"output.root\")"},
		&cli.Float64Flag{Name: "size", Aliases: []string{"s"}, Usage: "size limit of each output in --unit (default 50)"},
		&cli.StringFlag{Name: "unit", Usage: "size unit: B, KB, MB, GB, TB, KiB, MiB, GiB, TiB (default GB)"},
		&cli.StringFlag{Name: "suffix", Usage: "suffix of files picked from directories (default \".root\")"},
		&cli.StringFlag{Name: "storage", Usage: "where inputs and outputs live: none, local or s3"},
	)
}

func runFlags() []cli.Flag {
	return append(planFlags(),
		&cli.StringFlag{Name: "tool", Usage: "merge tool, a name on PATH or a path (default hadd)"},
		&cli.BoolFlag{Name: "keep", Aliases: []string{"k"}, Value: true, Usage: "pass -k to the merge tool"},
		&cli.BoolFlag{Name: "force", Usage: "pass -f to the merge tool"},
		&cli.IntFlag{Name: "concurrency", Aliases: []string{"j"}, Usage: "groups merged at once (default 1)"},
		&cli.BoolFlag{Name: "resume", Usage: "skip groups an earlier run already merged"},
		&cli.BoolFlag{Name: "dry-run", Aliases: []string{"n"}, Usage: "print the plan and exit"},
		&cli.StringFlag{Name: "metrics-file", Usage: "write Prometheus metrics here after the run"},
	)
}

// loadConfig applies the config file, the environment and then any flag the
// user set, in increasing priority.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if err := config.LoadDotEnv(c.String("env-file"), c.IsSet("env-file")); err != nil {
		return nil, err
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("size") {
		cfg.Size = c.Float64("size")
	}
	if c.IsSet("unit") {
		cfg.Unit = c.String("unit")
	}
	if c.IsSet("suffix") {
		cfg.Suffix = c.String("suffix")
	}
	if c.IsSet("storage") {
		cfg.Storage.Type = c.String("storage")
	}
	if c.IsSet("tool") {
		cfg.Merge.Tool = c.String("tool")
	}
	if c.IsSet("keep") {
		cfg.Merge.KeepPartial = c.Bool("keep")
	}
	if c.IsSet("force") {
		cfg.Merge.Force = c.Bool("force")
	}
	if c.IsSet("concurrency") {
		cfg.Concurrency = c.Int("concurrency")
	}
	if c.IsSet("resume") {
		cfg.Resume = c.Bool("resume")
	}
	if c.IsSet("metrics-file") {
		cfg.MetricsFile = c.String("metrics-file")
	}
	return cfg, nil
}

// inputIDs returns --files followed by the positional arguments.
func inputIDs(c *cli.Context) []string {
	var ids []string
	if c.IsSet("files") {
		ids = append(ids, c.StringSlice("files")...)
	}
	return append(ids, c.Args().Slice()...)
}

// start loads the configuration and opens the application.
func start(c *cli.Context) (*app.App, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, smerrors.Wrap(smerrors.ErrCategoryValidation, smerrors.CodeInvalidConfig, "logging", err)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.Start(c.Context); err != nil {
		return nil, err
	}
	return a, nil
}

func planAction(c *cli.Context) error {
	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.Plan(c.Context, inputIDs(c))
	if err != nil {
		return err
	}
	printPlan(os.Stdout, plan)
	return nil
}

func runAction(c *cli.Context) error {
	if c.Bool("dry-run") {
		return planAction(c)
	}

	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.Close()

	plan, err := a.Plan(c.Context, inputIDs(c))
	if err != nil {
		return err
	}
	printHeader(os.Stdout, plan)

	report, err := a.Execute(plan)
	if err != nil {
		return err
	}
	printReport(os.Stdout, report)
	return report.Err()
}

func historyAction(c *cli.Context) error {
	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.Close()

	if days := c.Int("prune-days"); days > 0 {
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		n, err := a.Ledger().DeleteRunsBefore(c.Context, cutoff)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "pruned %d run(s) started before %s\n", n, cutoff.Format(time.DateOnly))
	}

	runs, err := a.Ledger().ListRuns(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	printHistory(os.Stdout, runs)
	return nil
}

func showAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return smerrors.NewValidationError(smerrors.CodeInvalidInput, "show: expected exactly one run id")
	}
	a, err := start(c)
	if err != nil {
		return err
	}
	defer a.Close()

	runID := c.Args().First()
	run, groups, err := loadRun(c.Context, a.Ledger(), runID)
	if err != nil {
		return err
	}
	printRun(os.Stdout, run, groups)

	if c.Bool("members") {
		plan, err := a.Ledger().GetPlan(c.Context, runID)
		if err != nil {
			return err
		}
		printMembers(os.Stdout, plan)
	}
	return nil
}

func loadRun(ctx context.Context, r manifest.Reader, runID string) (*manifest.RunRecord, []*manifest.GroupRecord, error) {
	run, err := r.GetRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	groups, err := r.GetGroups(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	return run, groups, nil
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, context.Canceled) {
		return exitCancelled
	}
	switch smerrors.GetCategory(err) {
	case smerrors.ErrCategoryValidation, smerrors.ErrCategoryInput:
		return exitInvalid
	}
	switch smerrors.GetCode(err) {
	case smerrors.CodeToolNotFound, smerrors.CodeRunNotFound:
		return exitInvalid
	}
	return exitFailed
}

