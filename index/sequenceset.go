package index

import (
	"encoding/json"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
)

// SequenceSet is the ordered collection of half-open sequence
// intervals spec.md §3 describes, used by lazy indexes to track which
// sequences have already been reflected in the index. It is backed by
// a compressed bitmap (github.com/RoaringBitmap/roaring/v2, already a
// third-party dependency elsewhere in the retrieval pack) rather than
// a hand-rolled interval list: membership, union and set-difference
// are all native bitmap operations, and the coalesced-interval view
// the registry's JSON column needs is produced on demand by walking
// the bitmap's set bits.
type SequenceSet struct {
	bm *roaring64.Bitmap
}

// NewSequenceSet returns an empty set.
func NewSequenceSet() *SequenceSet {
	return &SequenceSet{bm: roaring64.New()}
}

// Add unions in the half-open range [lo, hi).
func (s *SequenceSet) Add(lo, hi int64) {
	if hi <= lo {
		return
	}
	s.bm.AddRange(uint64(lo), uint64(hi))
}

// Remove removes a single sequence number from the set.
func (s *SequenceSet) Remove(seq int64) {
	s.bm.Remove(uint64(seq))
}

// Contains reports whether seq is covered.
func (s *SequenceSet) Contains(seq int64) bool {
	return s.bm.Contains(uint64(seq))
}

// ContainsRange reports whether every sequence in [lo, hi) is covered.
func (s *SequenceSet) ContainsRange(lo, hi int64) bool {
	if hi <= lo {
		return true
	}
	want := roaring64.New()
	want.AddRange(uint64(lo), uint64(hi))
	want.AndNot(s.bm)
	return want.IsEmpty()
}

// Clone returns an independent copy.
func (s *SequenceSet) Clone() *SequenceSet {
	return &SequenceSet{bm: s.bm.Clone()}
}

// Ranges returns the sorted, coalesced [lo, hi) intervals covered by
// the set — the on-disk JSON shape spec.md mandates for
// indexes.indexedSequences.
func (s *SequenceSet) Ranges() [][2]int64 {
	var ranges [][2]int64
	it := s.bm.Iterator()
	lo, hi := int64(-1), int64(-1)
	for it.HasNext() {
		v := int64(it.Next())
		switch {
		case lo == -1:
			lo, hi = v, v+1
		case v == hi:
			hi = v + 1
		default:
			ranges = append(ranges, [2]int64{lo, hi})
			lo, hi = v, v+1
		}
	}
	if lo != -1 {
		ranges = append(ranges, [2]int64{lo, hi})
	}
	return ranges
}

// InitialCoverageEnd implements the lazy-update protocol's "choose
// startSeq = the end of the initial [1, x) interval if present, else
// 1" rule.
func (s *SequenceSet) InitialCoverageEnd() int64 {
	ranges := s.Ranges()
	if len(ranges) > 0 && ranges[0][0] <= 1 {
		return ranges[0][1]
	}
	return 1
}

// CoversThrough reports whether the set covers [1, n).
func (s *SequenceSet) CoversThrough(n int64) bool {
	return s.ContainsRange(1, n)
}

// MarshalJSON encodes the set as its coalesced range list.
func (s *SequenceSet) MarshalJSON() ([]byte, error) {
	ranges := s.Ranges()
	if ranges == nil {
		ranges = [][2]int64{}
	}
	return json.Marshal(ranges)
}

// UnmarshalJSON decodes a range list produced by MarshalJSON.
func (s *SequenceSet) UnmarshalJSON(data []byte) error {
	var ranges [][2]int64
	if err := json.Unmarshal(data, &ranges); err != nil {
		return err
	}
	s.bm = roaring64.New()
	for _, r := range ranges {
		s.Add(r[0], r[1])
	}
	return nil
}
