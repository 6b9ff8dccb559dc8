package merge

import (
	"os"
	"path/filepath"
	"testing"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
)

func TestVerifier(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.root")
	empty := filepath.Join(dir, "empty.root")
	if err := os.WriteFile(good, []byte("merged"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}

	v := NewVerifier()
	size, err := v.Verify(good)
	if err != nil || size != 6 {
		t.Errorf("Verify(good) = %d, %v", size, err)
	}

	for _, bad := range []string{empty, filepath.Join(dir, "missing.root"), dir} {
		if _, err := v.Verify(bad); smerrors.GetCode(err) != smerrors.CodeOutputInvalid {
			t.Errorf("Verify(%s) = %v, want OUTPUT_INVALID", bad, err)
		}
	}

	strict := &Verifier{MinBytes: 100}
	if _, err := strict.Verify(good); smerrors.GetCode(err) != smerrors.CodeOutputInvalid {
		t.Errorf("expected OUTPUT_INVALID below MinBytes, got %v", err)
	}
}
