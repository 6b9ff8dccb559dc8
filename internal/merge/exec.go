package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/rs/zerolog"
)

// DefaultTool is the ROOT file merger.
const DefaultTool = "hadd"

// defaultLogLimit bounds how much tool output is kept per merge.
const defaultLogLimit = 64 * 1024

// waitDelay bounds how long a cancelled merge may hold its output pipes open
// through orphaned child processes.
const waitDelay = 10 * time.Second

// ExecConfig configures an ExecInvoker.
type ExecConfig struct {
	// ToolPath is a bare command name looked up on PATH, or a path to the
	// executable. Relative paths are made absolute once at construction.
	ToolPath string

	// KeepPartial passes -k so the tool skips corrupt or missing inputs
	// instead of aborting.
	KeepPartial bool

	// Force passes -f so an existing output is overwritten.
	Force bool

	// ExtraArgs are appended after the flags and before the output path.
	ExtraArgs []string

	// LogLimit caps the captured tool output in bytes.
	LogLimit int
}

// DefaultExecConfig returns the configuration matching a plain `hadd -k` call.
func DefaultExecConfig() ExecConfig {
	return ExecConfig{
		ToolPath:    DefaultTool,
		KeepPartial: true,
		LogLimit:    defaultLogLimit,
	}
}

// ExecInvoker runs the merge tool as a child process. Arguments are passed
// as a vector; nothing goes through a shell.
type ExecInvoker struct {
	tool   string
	config ExecConfig
	logger zerolog.Logger
}

// NewExecInvoker resolves the tool once and returns an invoker bound to it.
func NewExecInvoker(cfg ExecConfig, logger zerolog.Logger) (*ExecInvoker, error) {
	tool, err := ResolveTool(cfg.ToolPath)
	if err != nil {
		return nil, err
	}
	if cfg.LogLimit <= 0 {
		cfg.LogLimit = defaultLogLimit
	}
	return &ExecInvoker{
		tool:   tool,
		config: cfg,
		logger: logger.With().Str("component", "merge").Str("tool", tool).Logger(),
	}, nil
}

// ResolveTool returns the absolute path of the merge tool. Bare names are
// searched on PATH only; a match relative to the working directory is
// rejected.
func ResolveTool(toolPath string) (string, error) {
	if strings.TrimSpace(toolPath) == "" {
		toolPath = DefaultTool
	}

	var resolved string
	if strings.ContainsRune(toolPath, '/') || strings.ContainsRune(toolPath, filepath.Separator) {
		abs, err := filepath.Abs(toolPath)
		if err != nil {
			return "", smerrors.NewMergeError(smerrors.CodeToolNotFound, fmt.Sprintf("merge tool %q", toolPath), err)
		}
		resolved = abs
	} else {
		p, err := exec.LookPath(toolPath)
		if err != nil {
			return "", smerrors.NewMergeError(smerrors.CodeToolNotFound,
				fmt.Sprintf("merge tool %q not found on PATH", toolPath), err)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", smerrors.NewMergeError(smerrors.CodeToolNotFound, fmt.Sprintf("merge tool %q", toolPath), err)
		}
		resolved = abs
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", smerrors.NewMergeError(smerrors.CodeToolNotFound, fmt.Sprintf("merge tool %q", resolved), err)
	}
	if info.IsDir() || info.Mode().Perm()&0111 == 0 {
		return "", smerrors.NewMergeError(smerrors.CodeToolNotFound,
			fmt.Sprintf("merge tool %q is not an executable file", resolved), nil)
	}
	return resolved, nil
}

// Tool returns the resolved tool path.
func (e *ExecInvoker) Tool() string {
	return e.tool
}

// Args returns the argument vector for req, without the tool itself.
func (e *ExecInvoker) Args(req Request) []string {
	args := make([]string, 0, len(req.Inputs)+len(e.config.ExtraArgs)+3)
	if e.config.KeepPartial {
		args = append(args, "-k")
	}
	if e.config.Force {
		args = append(args, "-f")
	}
	args = append(args, e.config.ExtraArgs...)
	args = append(args, req.Output)
	args = append(args, req.Inputs...)
	return args
}

// Merge runs the tool for req and waits for it to exit.
func (e *ExecInvoker) Merge(ctx context.Context, req Request) (*Result, error) {
	if len(req.Inputs) == 0 {
		return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput, "merge: request has no inputs")
	}
	if req.Output == "" {
		return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput, "merge: request has no output")
	}
	if dir := filepath.Dir(req.Output); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, smerrors.NewMergeError(smerrors.CodeMergeFailed,
				fmt.Sprintf("merge: create output directory for %s", req.Output), err)
		}
	}

	args := e.Args(req)
	logBuf := newTailBuffer(e.config.LogLimit)

	cmd := exec.CommandContext(ctx, e.tool, args...)
	cmd.Stdout = logBuf
	cmd.Stderr = logBuf
	cmd.WaitDelay = waitDelay

	e.logger.Debug().
		Str("output", req.Output).
		Int("inputs", len(req.Inputs)).
		Strs("args", args).
		Msg("starting merge")

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Output:   req.Output,
		Args:     args,
		Duration: time.Since(start),
		Log:      logBuf.String(),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}

	if runErr != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("merge %s: %w", req.Output, ctx.Err())
		}

		e.logger.Error().
			Str("output", req.Output).
			Int("exit_code", result.ExitCode).
			Str("tool_output", result.Log).
			Msg("merge tool failed")

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return result, smerrors.NewMergeError(smerrors.CodeMergeFailed,
				fmt.Sprintf("merge %s: tool exited with status %d", req.Output, result.ExitCode), runErr).
				WithDetails(map[string]interface{}{"exit_code": result.ExitCode, "output": req.Output})
		}
		return result, smerrors.NewMergeError(smerrors.CodeMergeFailed,
			fmt.Sprintf("merge %s: could not run tool", req.Output), runErr).
			WithDetails(map[string]interface{}{"exit_code": result.ExitCode, "output": req.Output})
	}

	e.logger.Debug().
		Str("output", req.Output).
		Dur("duration", result.Duration).
		Msg("merge finished")
	return result, nil
}

// tailBuffer keeps the last max bytes written to it. exec.Cmd serializes
// writes when Stdout and Stderr are the same writer.
type tailBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = append(b.buf[:0], b.buf[len(b.buf)-b.max:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "..." + string(b.buf)
	}
	return string(b.buf)
}
