package merge

import (
	"fmt"
	"os"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
)

// Verifier checks the file a merge produced.
type Verifier struct {
	// MinBytes is the smallest acceptable output size. Zero accepts any
	// non-empty file.
	MinBytes int64
}

// NewVerifier returns a verifier that accepts any non-empty regular file.
func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify returns the output size, or an OUTPUT_INVALID error when the output
// is missing, not a regular file, or too small.
func (v *Verifier) Verify(output string) (int64, error) {
	info, err := os.Stat(output)
	if err != nil {
		return 0, smerrors.NewMergeError(smerrors.CodeOutputInvalid,
			fmt.Sprintf("verify: output %s is missing", output), err)
	}
	if !info.Mode().IsRegular() {
		return 0, smerrors.NewMergeError(smerrors.CodeOutputInvalid,
			fmt.Sprintf("verify: output %s is not a regular file", output), nil)
	}

	floor := v.MinBytes
	if floor <= 0 {
		floor = 1
	}
	if info.Size() < floor {
		return info.Size(), smerrors.NewMergeError(smerrors.CodeOutputInvalid,
			fmt.Sprintf("verify: output %s has %d bytes, want at least %d", output, info.Size(), floor), nil)
	}
	return info.Size(), nil
}
