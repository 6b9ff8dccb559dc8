// Package output derives the file name each merged group is written to.
package output

import (
	"fmt"
	"path/filepath"
	"strings"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
)

// DefaultSuffix is the suffix the index is inserted in front of.
const DefaultSuffix = ".root"

// Namer derives per-group output names from a base name.
type Namer struct {
	// Base is the output name used when there is only one group, e.g.
	// "merged/output.root".
	Base string

	// Suffix is the known output suffix. When Base ends with it the group
	// index is inserted right before it.
	Suffix string
}

// NewNamer creates a namer for base with the default suffix.
func NewNamer(base string) Namer {
	return Namer{Base: base, Suffix: DefaultSuffix}
}

// Validate checks that the namer can produce usable names.
func (n Namer) Validate() error {
	if strings.TrimSpace(n.Base) == "" {
		return smerrors.NewValidationError(smerrors.CodeInvalidConfig, "output: base name is required")
	}
	if strings.HasSuffix(n.Base, "/") || strings.HasSuffix(n.Base, string(filepath.Separator)) {
		return smerrors.NewValidationError(smerrors.CodeInvalidConfig,
			fmt.Sprintf("output: base name %q is a directory", n.Base))
	}
	return nil
}

// Name returns the output name for the group at index out of total groups.
//
// A single group keeps Base unchanged. Otherwise "_<index>" is inserted
// before Suffix ("output.root" -> "output_0.root"); when Base does not end
// with Suffix it goes before Base's extension, or at the end if Base has none.
func (n Namer) Name(index, total int) string {
	if total <= 1 {
		return n.Base
	}

	tag := fmt.Sprintf("_%d", index)
	if n.Suffix != "" && strings.HasSuffix(n.Base, n.Suffix) && len(n.Base) > len(n.Suffix) {
		stem := strings.TrimSuffix(n.Base, n.Suffix)
		return stem + tag + n.Suffix
	}

	ext := filepath.Ext(n.Base)
	if ext != "" && ext != n.Base && !strings.HasSuffix(strings.TrimSuffix(n.Base, ext), string(filepath.Separator)) {
		return strings.TrimSuffix(n.Base, ext) + tag + ext
	}
	return n.Base + tag
}

// Names returns the output names for total groups.
func (n Namer) Names(total int) []string {
	names := make([]string, total)
	for i := range names {
		names[i] = n.Name(i, total)
	}
	return names
}
