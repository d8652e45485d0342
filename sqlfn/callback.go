package sqlfn

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// DocCallback is the host-supplied function invoked per document by
// fl_callback during a bulk "with-doc-bodies" query.
type DocCallback func(docID string, version []byte, body, extra []byte, sequence int64, flags int64)

var (
	callbackSeq      int64
	callbackRegistry sync.Map // int64 handle -> registeredCallback
)

type registeredCallback struct {
	tag int64
	fn  DocCallback
}

// RegisterCallback installs fn and returns an opaque handle to pass as
// fl_callback's final argument. The handle is verified by an internal
// tag when looked up, so a stale or foreign handle cannot invoke a
// callback it wasn't issued for. Callers must call UnregisterCallback when the
// query that needs the callback completes.
func RegisterCallback(fn DocCallback) (handle int64) {
	h := atomic.AddInt64(&callbackSeq, 1)
	tag := atomic.AddInt64(&callbackSeq, 1)
	callbackRegistry.Store(h, registeredCallback{tag: tag, fn: fn})
	return h<<32 | (tag & 0xffffffff)
}

// UnregisterCallback releases a handle returned by RegisterCallback.
func UnregisterCallback(handle int64) {
	callbackRegistry.Delete(handle >> 32)
}

// FlCallback implements fl_callback(docID, version, body, extra,
// sequence, flags, callback_handle): invokes the registered callback
// after verifying the tag embedded in the handle matches the one the
// callback was registered with.
func (e *Env) FlCallback(docID string, version []byte, body, extra []byte, sequence, flags, handle int64) (int64, error) {
	h := handle >> 32
	tag := handle & 0xffffffff
	v, ok := callbackRegistry.Load(h)
	if !ok {
		return 0, fmt.Errorf("fl_callback: unknown callback handle")
	}
	rc := v.(registeredCallback)
	if rc.tag&0xffffffff != tag {
		return 0, fmt.Errorf("fl_callback: stale callback handle")
	}
	rc.fn(docID, version, body, extra, sequence, flags)
	return 1, nil
}
