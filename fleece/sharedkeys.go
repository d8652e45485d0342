package fleece

import "sync"

// SharedKeys is a per-Data-File table mapping small integer codes to
// frequently-used dict keys, so that Dict keys can be encoded as
// varints instead of repeated strings. It is process-visible state
// shared by every parse that binds to the same Scope, and its
// lifecycle follows Data-File open/close (the owning keystore.DataFile
// creates one and holds it for as long as the file is open).
type SharedKeys struct {
	mu     sync.RWMutex
	byCode []string
	byName map[string]int
}

// NewSharedKeys returns an empty shared-keys table.
func NewSharedKeys() *SharedKeys {
	return &SharedKeys{byName: make(map[string]int)}
}

// Encode returns the code for name, assigning a new one if name has
// not been seen before. Encode never fails; callers that need a purely
// read-only lookup should use Decode/Lookup instead.
func (s *SharedKeys) Encode(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code, ok := s.byName[name]; ok {
		return code
	}
	code := len(s.byCode)
	s.byCode = append(s.byCode, name)
	s.byName[name] = code
	return code
}

// Decode resolves a previously-assigned code back to its key name. The
// second result is false if code is out of range.
func (s *SharedKeys) Decode(code int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if code < 0 || code >= len(s.byCode) {
		return "", false
	}
	return s.byCode[code], true
}

// Lookup returns the code for name without assigning one, reporting
// false if name is not registered.
func (s *SharedKeys) Lookup(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.byName[name]
	return code, ok
}

// Scope binds a span of Binary-Doc bytes (and the Values parsed from
// it) to a SharedKeys table for the duration of the parse's lifetime.
// A Scope with a nil SharedKeys is valid and simply means "no
// shared-keys resolution available" — dict keys in such a scope must
// already be plain strings.
type Scope struct {
	Keys *SharedKeys
	// Root holds the original blob bytes this scope was opened over,
	// so accessors like fl_blob's resolver can re-derive offsets if
	// needed without re-threading the slice through every call.
	Root []byte
	// release, if set, is called exactly once when the scope is no
	// longer needed — e.g. to let a caller free a heap copy taken
	// because the source bytes were not stably addressable for the
	// statement's duration (see ExtractCurrentRevisionBody).
	release     func()
	releaseOnce sync.Once
}

// OpenScope binds root to keys, returning a Scope the caller must
// Close when the parsed Values are no longer needed.
func OpenScope(root []byte, keys *SharedKeys) *Scope {
	return &Scope{Keys: keys, Root: root}
}

// OpenScopeWithRelease is like OpenScope but additionally registers a
// release callback (e.g. to return a buffer to a pool) invoked by
// Close.
func OpenScopeWithRelease(root []byte, keys *SharedKeys, release func()) *Scope {
	return &Scope{Keys: keys, Root: root, release: release}
}

// Close releases the scope. It is safe to call multiple times; only
// the first call invokes the release callback. Per the accessor's
// failure-mode contract, every Binary-Doc scope must be released
// before the underlying blob memory may be freed — callers typically
// `defer scope.Close()` immediately after OpenScope.
func (s *Scope) Close() {
	if s == nil {
		return
	}
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// ResolveSharedKey resolves a dict key that was encoded as an integer
// code against scope's SharedKeys table. It returns ("", false) if the
// scope has no shared-keys table or the code is unassigned.
func ResolveSharedKey(scope *Scope, code int) (string, bool) {
	if scope == nil || scope.Keys == nil {
		return "", false
	}
	return scope.Keys.Decode(code)
}
