package keystore

// ContentOption selects how much of a record get() fills in, avoiding
// an unconditional body read when the caller only wants the key or
// metadata.
type ContentOption int

const (
	ContentKeyOnly ContentOption = iota
	ContentMetaOnly
	ContentCurrentRev
	ContentEntireBody
)

// LookupBy selects whether get() looks a record up by its document key
// or by its sequence number.
type LookupBy int

const (
	ByKey LookupBy = iota
	BySequence
)

// DocFlags packs the document's boolean flags in the lower 16 bits and
// a monotonically increasing subsequence counter in the upper 48
// bits, per spec.md §3.
type DocFlags uint64

const (
	DocDeleted     DocFlags = 1 << 0
	DocConflicted  DocFlags = 1 << 1
	DocHasAttach   DocFlags = 1 << 2
	DocSynced      DocFlags = 1 << 3
	docFlagsMask            = 0xffff
	subsequenceShift        = 16
)

func (f DocFlags) Deleted() bool    { return f&DocDeleted != 0 }
func (f DocFlags) Conflicted() bool { return f&DocConflicted != 0 }
func (f DocFlags) HasAttachments() bool { return f&DocHasAttach != 0 }

// Subsequence returns the upper 48 bits of the flags column: a counter
// bumped on metadata-only edits that don't assign a new sequence.
func (f DocFlags) Subsequence() uint64 { return uint64(f) >> subsequenceShift }

func (f DocFlags) withSubsequence(sub uint64) DocFlags {
	return DocFlags(uint64(f)&docFlagsMask) | DocFlags(sub<<subsequenceShift)
}

func (f DocFlags) bumpSubsequence() DocFlags {
	return f.withSubsequence(f.Subsequence() + 1)
}

// Record is one row of a Key-Store table, filled in according to the
// ContentOption requested by the caller.
type Record struct {
	Key         string
	Sequence    int64
	Version     []byte // compact revision id
	Flags       DocFlags
	Body        []byte // current-revision Binary-Doc bytes, nil unless requested
	Extra       []byte // legacy revision-tree extra bytes, if present
	Expiration  int64  // epoch millis, 0 if unset
	exists      bool
}

// Exists reports whether get() actually found a row.
func (r Record) Exists() bool { return r.exists }

// RecordUpdate is the input to KeyStore.Set: the caller-supplied
// expected version used for optimistic concurrency, plus the new body.
type RecordUpdate struct {
	Key              string
	Body             []byte
	Version          []byte
	ExpectedSequence int64
	ExpectedSubseq   uint64
	PreserveSequence bool // metadata/flag edit: bump subsequence instead of assigning a new sequence
}
