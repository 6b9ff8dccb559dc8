// Package partition splits an ordered list of input files into groups whose
// cumulative size stays under a target limit. Each group is later merged into
// a single output file.
//
// The algorithm is a single-pass greedy prefix: groups are contiguous slices
// of the input in its original order. It never reorders inputs to pack groups
// more tightly, so each output represents a contiguous run of the input.
package partition

import (
	"fmt"

	smerrors "github.com/arkilian/splitmerge/internal/errors"
)

// FileEntry is one input file with its size measured at run start.
type FileEntry struct {
	// ID identifies the file (a local path or an object key). IDs are not
	// deduplicated; repeated IDs are placed independently.
	ID string `json:"id"`

	// SizeBytes is the size measured when the run started. It is never
	// re-measured.
	SizeBytes int64 `json:"size_bytes"`
}

// Partition assigns every entry to exactly one group.
//
// While the remaining entries do not all fit under limitBytes, the next group
// is the longest prefix whose running sum stays strictly below limitBytes. An
// entry that on its own reaches the limit forms a group by itself. Once the
// remaining total is at most limitBytes, everything left becomes the final
// group.
//
// Partition fails with an INVALID_INPUT error when entries is empty,
// limitBytes is not positive, or an entry has a negative size.
func Partition(entries []FileEntry, limitBytes int64) (*Result, error) {
	if len(entries) == 0 {
		return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput, "partition: no entries to partition")
	}
	if limitBytes <= 0 {
		return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput,
			fmt.Sprintf("partition: limit must be positive, got %d", limitBytes))
	}

	// suffix[i] is the total size of entries[i:].
	suffix := make([]int64, len(entries)+1)
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].SizeBytes < 0 {
			return nil, smerrors.NewValidationError(smerrors.CodeInvalidInput,
				fmt.Sprintf("partition: entry %q has negative size %d", entries[i].ID, entries[i].SizeBytes))
		}
		suffix[i] = suffix[i+1] + entries[i].SizeBytes
	}

	result := &Result{LimitBytes: limitBytes}
	start := 0
	for start < len(entries) {
		if suffix[start] <= limitBytes {
			result.Groups = append(result.Groups, newGroup(len(result.Groups), entries[start:]))
			break
		}

		end := start
		var running int64
		for end < len(entries) && running+entries[end].SizeBytes < limitBytes {
			running += entries[end].SizeBytes
			end++
		}
		if end == start {
			// oversized entry: never dropped, never split
			end = start + 1
		}

		result.Groups = append(result.Groups, newGroup(len(result.Groups), entries[start:end]))
		start = end
	}

	return result, nil
}

// newGroup copies members so the result never aliases the caller's slice.
func newGroup(index int, members []FileEntry) Group {
	g := Group{
		Index:   index,
		Members: make([]FileEntry, len(members)),
	}
	copy(g.Members, members)
	return g
}
