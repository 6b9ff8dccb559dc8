package inputs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/partition"
	"github.com/arkilian/splitmerge/internal/storage"
	"github.com/rs/zerolog"
)

func writeSized(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(strings.Repeat("x", size)), 0644); err != nil {
		t.Fatal(err)
	}
}

func ids(entries []partition.FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestResolve_LocalFiles(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.root")
	b := filepath.Join(dir, "b.dat")
	writeSized(t, a, 10)
	writeSized(t, b, 3)

	r := NewLocalResolver(DefaultSuffix, zerolog.Nop())
	entries, err := r.Resolve(context.Background(), []string{b, a, b})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// explicit files are taken regardless of suffix; order and duplicates kept
	want := []partition.FileEntry{{ID: b, SizeBytes: 3}, {ID: a, SizeBytes: 10}, {ID: b, SizeBytes: 3}}
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
	if r.Remote() {
		t.Error("local resolver should not be remote")
	}
}

func TestResolve_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "run2", "b.root"), 2)
	writeSized(t, filepath.Join(dir, "run1", "z.root"), 1)
	writeSized(t, filepath.Join(dir, "a.root"), 5)
	writeSized(t, filepath.Join(dir, "notes.txt"), 7)

	r := NewLocalResolver(DefaultSuffix, zerolog.Nop())
	entries, err := r.Resolve(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	want := []string{
		filepath.Join(dir, "a.root"),
		filepath.Join(dir, "run1", "z.root"),
		filepath.Join(dir, "run2", "b.root"),
	}
	got := ids(entries)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
	if entries[0].SizeBytes != 5 {
		t.Errorf("size of a.root = %d, want 5", entries[0].SizeBytes)
	}
}

func TestResolve_EmptySuffixTakesEverything(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "a.root"), 1)
	writeSized(t, filepath.Join(dir, "b.txt"), 1)

	entries, err := NewLocalResolver("", zerolog.Nop()).Resolve(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d entries, want 2", len(entries))
	}
}

func TestResolve_Errors(t *testing.T) {
	dir := t.TempDir()
	writeSized(t, filepath.Join(dir, "readme.txt"), 1)
	r := NewLocalResolver(DefaultSuffix, zerolog.Nop())

	_, err := r.Resolve(context.Background(), []string{filepath.Join(dir, "missing.root")})
	if smerrors.GetCode(err) != smerrors.CodeInputUnreadable {
		t.Errorf("missing file: got %v, want INPUT_UNREADABLE", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file error should wrap fs.ErrNotExist: %v", err)
	}

	_, err = r.Resolve(context.Background(), []string{dir})
	if !errors.Is(err, smerrors.ErrNoInputs) {
		t.Errorf("directory without matches: got %v, want NO_INPUTS", err)
	}

	_, err = r.Resolve(context.Background(), nil)
	if !errors.Is(err, smerrors.ErrNoInputs) {
		t.Errorf("no inputs: got %v, want NO_INPUTS", err)
	}

	_, err = r.Resolve(context.Background(), []string{"  "})
	if !errors.Is(err, smerrors.ErrInvalidInput) {
		t.Errorf("blank input: got %v, want INVALID_INPUT", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, []string{dir}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled: got %v", err)
	}
}

func TestResolve_ObjectStore(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := t.TempDir()
	upload := func(key string, size int) {
		p := filepath.Join(src, strings.ReplaceAll(key, "/", "_"))
		writeSized(t, p, size)
		if err := store.Upload(context.Background(), p, key); err != nil {
			t.Fatal(err)
		}
	}
	upload("data/b.root", 4)
	upload("data/a.root", 6)
	upload("data/log.txt", 1)
	upload("extra.root", 9)

	r := NewObjectResolver(store, DefaultSuffix, zerolog.Nop())
	if !r.Remote() {
		t.Error("object resolver should be remote")
	}

	entries, err := r.Resolve(context.Background(), []string{"extra.root", "data/"})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := []partition.FileEntry{
		{ID: "extra.root", SizeBytes: 9},
		{ID: "data/a.root", SizeBytes: 6},
		{ID: "data/b.root", SizeBytes: 4},
	}
	if len(entries) != len(want) {
		t.Fatalf("got %v, want %v", entries, want)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}

	_, err = r.Resolve(context.Background(), []string{"data/missing.root"})
	if !errors.Is(err, storage.ErrObjectNotFound) || smerrors.GetCode(err) != smerrors.CodeInputUnreadable {
		t.Errorf("missing object: got %v", err)
	}

	_, err = r.Resolve(context.Background(), []string{"nothing/"})
	if !errors.Is(err, smerrors.ErrNoInputs) {
		t.Errorf("empty prefix: got %v, want NO_INPUTS", err)
	}
}
