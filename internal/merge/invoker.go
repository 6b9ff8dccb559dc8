// Package merge runs the external tool that combines one group of input files
// into a single output file, and checks the file it produced.
package merge

import (
	"context"
	"time"
)

// Request is one merge: every input, in order, into Output.
type Request struct {
	Inputs []string
	Output string
}

// Result describes a completed merge.
type Result struct {
	Output   string
	Args     []string
	ExitCode int
	Duration time.Duration
	// Log holds the tail of the tool's combined stdout and stderr.
	Log string
}

// Invoker merges a group of files. Implementations must not modify inputs.
type Invoker interface {
	Merge(ctx context.Context, req Request) (*Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req Request) (*Result, error)

// Merge calls f.
func (f InvokerFunc) Merge(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
