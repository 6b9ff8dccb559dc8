// Package runner plans a split-merge run and executes it group by group.
package runner

import (
	"context"
	"fmt"
	"path/filepath"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/output"
	"github.com/arkilian/splitmerge/internal/partition"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Resolver turns input identifiers into sized entries.
type Resolver interface {
	Resolve(ctx context.Context, ids []string) ([]partition.FileEntry, error)
	Remote() bool
}

// PlannedGroup is a partition group with the output it merges into.
type PlannedGroup struct {
	partition.Group
	Output      string
	Fingerprint string
}

// Plan is the complete, immutable description of a run.
type Plan struct {
	RunID      string
	LimitBytes int64
	OutputBase string
	// Remote is set when members and outputs are object keys.
	Remote bool
	Groups []PlannedGroup
}

// Files returns the number of input entries across all groups.
func (p *Plan) Files() int {
	n := 0
	for _, g := range p.Groups {
		n += g.Len()
	}
	return n
}

// TotalBytes returns the size of all inputs.
func (p *Plan) TotalBytes() int64 {
	var total int64
	for _, g := range p.Groups {
		total += g.TotalBytes()
	}
	return total
}

// Planner resolves inputs, partitions them and names the outputs.
type Planner struct {
	resolver   Resolver
	namer      output.Namer
	limitBytes int64
	logger     zerolog.Logger
}

// NewPlanner creates a planner for groups of at most limitBytes.
func NewPlanner(resolver Resolver, namer output.Namer, limitBytes int64, logger zerolog.Logger) *Planner {
	return &Planner{
		resolver:   resolver,
		namer:      namer,
		limitBytes: limitBytes,
		logger:     logger.With().Str("component", "planner").Logger(),
	}
}

// Plan builds a run plan for ids. Sizes are measured once, here.
func (p *Planner) Plan(ctx context.Context, ids []string) (*Plan, error) {
	if err := p.namer.Validate(); err != nil {
		return nil, err
	}

	entries, err := p.resolver.Resolve(ctx, ids)
	if err != nil {
		return nil, err
	}

	result, err := partition.Partition(entries, p.limitBytes)
	if err != nil {
		return nil, err
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, smerrors.NewInternalError("planner: failed to generate run id", err)
	}

	plan := &Plan{
		RunID:      runID.String(),
		LimitBytes: p.limitBytes,
		OutputBase: p.namer.Base,
		Remote:     p.resolver.Remote(),
		Groups:     make([]PlannedGroup, result.Len()),
	}
	names := p.namer.Names(result.Len())
	for i, g := range result.Groups {
		plan.Groups[i] = PlannedGroup{
			Group:       g,
			Output:      names[i],
			Fingerprint: g.Fingerprint(),
		}
	}

	if err := checkCollisions(plan); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("run_id", plan.RunID).
		Int("files", plan.Files()).
		Int64("total_bytes", plan.TotalBytes()).
		Int64("limit_bytes", plan.LimitBytes).
		Int("groups", len(plan.Groups)).
		Msg("plan ready")
	return plan, nil
}

// checkCollisions rejects plans where an output would overwrite one of the
// inputs or another output.
func checkCollisions(plan *Plan) error {
	key := func(id string) string {
		if plan.Remote {
			return id
		}
		if abs, err := filepath.Abs(id); err == nil {
			return abs
		}
		return filepath.Clean(id)
	}

	inputs := make(map[string]string)
	for _, g := range plan.Groups {
		for _, m := range g.Members {
			inputs[key(m.ID)] = m.ID
		}
	}

	outputs := make(map[string]int, len(plan.Groups))
	for _, g := range plan.Groups {
		k := key(g.Output)
		if in, ok := inputs[k]; ok {
			return smerrors.NewValidationError(smerrors.CodeOutputCollision,
				fmt.Sprintf("output %s of group %d would overwrite input %s", g.Output, g.Index, in)).
				WithDetails(map[string]interface{}{"output": g.Output, "group": g.Index})
		}
		if prev, ok := outputs[k]; ok {
			return smerrors.NewValidationError(smerrors.CodeOutputCollision,
				fmt.Sprintf("groups %d and %d both write %s", prev, g.Index, g.Output))
		}
		outputs[k] = g.Index
	}
	return nil
}
