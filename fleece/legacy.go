package fleece

import "fmt"

// legacyMagic is the prefix this port recognizes as a legacy
// revision-tree blob rather than a plain Binary-Doc body, mirroring
// LiteCore's revision-tree format marker
// (original_source/LiteCore/Storage/SQLiteKeyStore.cc's body-format
// detection). The exact byte sequence is private to this port, since
// the real codec bytes are out of scope; what matters is that it is
// distinguishable from every valid tagArray/tagDict/... first byte in
// encode.go, which it is (tag bytes are all < 0x10).
var legacyMagic = []byte{0xf1, 0x7e, 0x00}

// IsLegacyRevisionBody reports whether body begins with the
// revision-tree magic prefix and should be unwrapped via
// ExtractCurrentRevisionBody before being handed to Parse.
func IsLegacyRevisionBody(body []byte) bool {
	if len(body) < len(legacyMagic) {
		return false
	}
	for i, b := range legacyMagic {
		if body[i] != b {
			return false
		}
	}
	return true
}

// The legacy revision-tree record this port supports unwrapping is a
// magic prefix, a uvarint length for the current revision's embedded
// Binary-Doc, and the bytes themselves.
//
// ExtractCurrentRevisionBody returns the embedded current-revision
// Binary-Doc bytes from a legacy body. The returned slice is always a
// fresh allocation and copied is always true on success, telling the
// caller it owns the memory and can let it go out of scope freely (no
// aliasing with the original SQLite-owned blob).
func ExtractCurrentRevisionBody(body []byte) (current []byte, copied bool, err error) {
	if !IsLegacyRevisionBody(body) {
		return nil, false, fmt.Errorf("fleece: not a legacy revision-tree body")
	}
	rest := body[len(legacyMagic):]
	n, shift := uvarintLocal(rest)
	if shift <= 0 {
		return nil, false, fmt.Errorf("fleece: truncated legacy revision-tree length")
	}
	rest = rest[shift:]
	if uint64(len(rest)) < n {
		return nil, false, fmt.Errorf("fleece: truncated legacy revision-tree body")
	}
	span := rest[:n]
	// The slice aliases `body`; copy it so it survives independent of
	// the original buffer's lifetime once the legacy record is
	// discarded, per the "copy if misaligned" accessor contract.
	out := make([]byte, len(span))
	copy(out, span)
	return out, true, nil
}

func uvarintLocal(buf []byte) (uint64, int) {
	var x uint64
	var s uint
	for i, b := range buf {
		if i >= 10 {
			return 0, -(i + 1)
		}
		if b < 0x80 {
			return x | uint64(b)<<s, i + 1
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, 0
}
