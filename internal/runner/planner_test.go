package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/inputs"
	"github.com/arkilian/splitmerge/internal/output"
	"github.com/rs/zerolog"
)

func writeSized(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// sampleInputs writes a.root, b.root and c.root of four bytes each.
func sampleInputs(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, name+".root")
		writeSized(t, p, strings.Repeat(name, 4))
		paths = append(paths, p)
	}
	return dir, paths
}

func newLocalPlanner(base string, limit int64) *Planner {
	return NewPlanner(inputs.NewLocalResolver(inputs.DefaultSuffix, zerolog.Nop()),
		output.NewNamer(base), limit, zerolog.Nop())
}

func TestPlanner_Plan(t *testing.T) {
	dir, paths := sampleInputs(t)
	base := filepath.Join(t.TempDir(), "out.root")

	plan, err := newLocalPlanner(base, 10).Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}

	if plan.RunID == "" || plan.Remote {
		t.Errorf("unexpected plan header: %+v", plan)
	}
	if plan.Files() != 3 || plan.TotalBytes() != 12 {
		t.Errorf("files=%d total=%d, want 3 and 12", plan.Files(), plan.TotalBytes())
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(plan.Groups))
	}

	g0, g1 := plan.Groups[0], plan.Groups[1]
	if strings.Join(g0.IDs(), ",") != paths[0]+","+paths[1] {
		t.Errorf("group 0 members = %v", g0.IDs())
	}
	if strings.Join(g1.IDs(), ",") != paths[2] {
		t.Errorf("group 1 members = %v", g1.IDs())
	}
	if g0.Output != strings.TrimSuffix(base, ".root")+"_0.root" {
		t.Errorf("group 0 output = %s", g0.Output)
	}
	if g0.Fingerprint == "" || g0.Fingerprint == g1.Fingerprint {
		t.Errorf("fingerprints should be set and distinct: %q %q", g0.Fingerprint, g1.Fingerprint)
	}
}

func TestPlanner_SingleGroupKeepsBaseName(t *testing.T) {
	dir, _ := sampleInputs(t)
	base := filepath.Join(t.TempDir(), "out.root")

	plan, err := newLocalPlanner(base, 12).Plan(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Plan failed: %v", err)
	}
	if len(plan.Groups) != 1 || plan.Groups[0].Output != base {
		t.Errorf("expected one group named %s, got %+v", base, plan.Groups)
	}
}

func TestPlanner_Errors(t *testing.T) {
	dir, paths := sampleInputs(t)
	ctx := context.Background()

	_, err := newLocalPlanner(paths[0], 100).Plan(ctx, []string{dir})
	if smerrors.GetCode(err) != smerrors.CodeOutputCollision {
		t.Errorf("output over input: got %v, want OUTPUT_COLLISION", err)
	}

	_, err = newLocalPlanner(filepath.Join(dir, "out.root"), 0).Plan(ctx, []string{dir})
	if !errors.Is(err, smerrors.ErrInvalidInput) {
		t.Errorf("zero limit: got %v, want INVALID_INPUT", err)
	}

	_, err = newLocalPlanner("", 10).Plan(ctx, []string{dir})
	if smerrors.GetCode(err) != smerrors.CodeInvalidConfig {
		t.Errorf("empty base: got %v, want INVALID_CONFIG", err)
	}

	_, err = newLocalPlanner(filepath.Join(t.TempDir(), "out.root"), 10).Plan(ctx, []string{t.TempDir()})
	if !errors.Is(err, smerrors.ErrNoInputs) {
		t.Errorf("empty dir: got %v, want NO_INPUTS", err)
	}
}

func TestCheckCollisions_DuplicateOutputs(t *testing.T) {
	plan := &Plan{
		Remote: true,
		Groups: []PlannedGroup{{Output: "x.root"}, {Output: "x.root"}},
	}
	plan.Groups[1].Index = 1
	if err := checkCollisions(plan); smerrors.GetCode(err) != smerrors.CodeOutputCollision {
		t.Errorf("got %v, want OUTPUT_COLLISION", err)
	}
}
