package partition

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/spaolacci/murmur3"
)

// Group is one output bucket: an ordered, contiguous run of the input.
type Group struct {
	// Index is the zero-based position of the group in the result.
	Index int `json:"index"`

	// Members are the group's entries in input order.
	Members []FileEntry `json:"members"`
}

// TotalBytes returns the sum of member sizes.
func (g Group) TotalBytes() int64 {
	var total int64
	for _, m := range g.Members {
		total += m.SizeBytes
	}
	return total
}

// Len returns the number of members.
func (g Group) Len() int {
	return len(g.Members)
}

// IDs returns the member identifiers in order.
func (g Group) IDs() []string {
	ids := make([]string, len(g.Members))
	for i, m := range g.Members {
		ids[i] = m.ID
	}
	return ids
}

// Fingerprint returns a stable digest of the group's members and sizes in
// order. Two groups share a fingerprint only if they would merge the same
// files, of the same sizes, in the same order.
func (g Group) Fingerprint() string {
	h := murmur3.New128()
	var buf [8]byte
	for _, m := range g.Members {
		binary.BigEndian.PutUint64(buf[:], uint64(len(m.ID)))
		h.Write(buf[:])
		h.Write([]byte(m.ID))
		binary.BigEndian.PutUint64(buf[:], uint64(m.SizeBytes))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Result is the ordered list of groups produced by Partition. It is not
// modified after Partition returns and may be shared between goroutines.
type Result struct {
	LimitBytes int64   `json:"limit_bytes"`
	Groups     []Group `json:"groups"`
}

// Len returns the number of groups.
func (r *Result) Len() int {
	return len(r.Groups)
}

// TotalBytes returns the size of all entries across all groups.
func (r *Result) TotalBytes() int64 {
	var total int64
	for _, g := range r.Groups {
		total += g.TotalBytes()
	}
	return total
}

// Entries returns every member in group order, then member order. For any
// result of Partition this equals the input sequence.
func (r *Result) Entries() []FileEntry {
	var out []FileEntry
	for _, g := range r.Groups {
		out = append(out, g.Members...)
	}
	return out
}
