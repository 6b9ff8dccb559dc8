// Package inputs turns the identifiers given on the command line into sized
// partition entries. Sizes are read once, at run start.
package inputs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
	"github.com/arkilian/splitmerge/internal/partition"
	"github.com/arkilian/splitmerge/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultSuffix selects the files picked up when walking a directory or
// listing a prefix.
const DefaultSuffix = ".root"

// Resolver resolves input identifiers against the local filesystem or an
// object store.
type Resolver struct {
	suffix string
	store  storage.ObjectStorage
	logger zerolog.Logger
}

// NewLocalResolver resolves identifiers as filesystem paths.
func NewLocalResolver(suffix string, logger zerolog.Logger) *Resolver {
	return &Resolver{suffix: suffix, logger: logger.With().Str("component", "inputs").Logger()}
}

// NewObjectResolver resolves identifiers as object keys in store. A key
// ending in "/" is a prefix and expands to every object under it.
func NewObjectResolver(store storage.ObjectStorage, suffix string, logger zerolog.Logger) *Resolver {
	r := NewLocalResolver(suffix, logger)
	r.store = store
	return r
}

// Remote reports whether entries name objects rather than local files.
func (r *Resolver) Remote() bool {
	return r.store != nil
}

// Resolve returns one entry per input file, in the order given. Directories
// and prefixes expand in lexical order. Duplicates are kept.
func (r *Resolver) Resolve(ctx context.Context, ids []string) ([]partition.FileEntry, error) {
	var entries []partition.FileEntry
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(id) == "" {
			return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput, "inputs: empty input name")
		}

		var (
			resolved []partition.FileEntry
			err      error
		)
		if r.store != nil {
			resolved, err = r.resolveObject(ctx, id)
		} else {
			resolved, err = r.resolveLocal(id)
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, resolved...)
	}

	if len(entries) == 0 {
		return nil, smerrors.NewInputError(smerrors.CodeNoInputs,
			fmt.Sprintf("inputs: no %s files found in %d input(s)", r.describeSuffix(), len(ids)), nil)
	}

	r.logger.Debug().Int("inputs", len(ids)).Int("files", len(entries)).Msg("inputs resolved")
	return entries, nil
}

func (r *Resolver) resolveLocal(path string) ([]partition.FileEntry, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, unreadable(path, err)
	}
	if !info.IsDir() {
		if !info.Mode().IsRegular() {
			return nil, unreadable(path, fmt.Errorf("not a regular file"))
		}
		return []partition.FileEntry{{ID: path, SizeBytes: info.Size()}}, nil
	}

	var entries []partition.FileEntry
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return unreadable(p, err)
		}
		if d.IsDir() || !r.matches(d.Name()) {
			return nil
		}
		fi, err := os.Stat(p)
		if err != nil {
			return unreadable(p, err)
		}
		if !fi.Mode().IsRegular() {
			return nil
		}
		entries = append(entries, partition.FileEntry{ID: p, SizeBytes: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().Str("dir", path).Int("files", len(entries)).Msg("directory expanded")
	return entries, nil
}

func (r *Resolver) resolveObject(ctx context.Context, key string) ([]partition.FileEntry, error) {
	if strings.HasSuffix(key, "/") {
		objects, err := r.store.ListObjects(ctx, key)
		if err != nil {
			return nil, unreadable(key, err)
		}
		var entries []partition.FileEntry
		for _, obj := range objects {
			if r.matches(obj.Key) {
				entries = append(entries, partition.FileEntry{ID: obj.Key, SizeBytes: obj.SizeBytes})
			}
		}
		r.logger.Debug().Str("prefix", key).Int("files", len(entries)).Msg("prefix expanded")
		return entries, nil
	}

	info, err := r.store.Stat(ctx, key)
	if err != nil {
		return nil, unreadable(key, err)
	}
	return []partition.FileEntry{{ID: key, SizeBytes: info.SizeBytes}}, nil
}

func (r *Resolver) matches(name string) bool {
	return r.suffix == "" || strings.HasSuffix(name, r.suffix)
}

func (r *Resolver) describeSuffix() string {
	if r.suffix == "" {
		return "input"
	}
	return r.suffix
}

func unreadable(id string, err error) error {
	msg := fmt.Sprintf("inputs: cannot read %s", id)
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, storage.ErrObjectNotFound):
		msg = fmt.Sprintf("inputs: %s does not exist", id)
	case errors.Is(err, fs.ErrPermission):
		msg = fmt.Sprintf("inputs: permission denied reading %s", id)
	}
	return smerrors.NewInputError(smerrors.CodeInputUnreadable, msg, err).
		WithDetails(map[string]interface{}{"input": id})
}
