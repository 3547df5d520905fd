package sandbox

import (
	"github.com/bytecodealliance/wasmtime-go/v3"
)

// guestMemory returns the calling instance's exported linear memory, via
// the *wasmtime.Caller every host import below receives as its first
// parameter. wasmtime-go treats a leading *Caller specially: it is
// resolved to the instance that is actually calling, not the instance
// the Module was compiled from, so this works even though one Linker is
// reused across invocations of different guests.
func guestMemory(caller *wasmtime.Caller) *wasmtime.Memory {
	exp := caller.GetExport("memory")
	if exp == nil {
		return nil
	}
	return exp.Memory()
}

// readGuestBytes copies len bytes at ptr out of the guest's memory. A
// ptr/len pair that runs past the end of memory yields nil rather than
// panicking: a malicious or buggy guest cannot crash the host this way.
func readGuestBytes(caller *wasmtime.Caller, mem *wasmtime.Memory, ptr, length int32) []byte {
	if mem == nil || ptr < 0 || length < 0 {
		return nil
	}
	data := mem.UnsafeData(caller)
	if int(ptr)+int(length) > len(data) {
		return nil
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out
}

// writeGuestBuffer asks the guest to alloc(len(b)) bytes, copies b into
// that region, and returns the (ptr<<32 | len) packed i64 the guest's ABI
// expects back from a host call that hands over an owned buffer. Returns
// 0 (the "no buffer" sentinel) if the guest exports no alloc function or
// the written region would not fit.
func writeGuestBuffer(caller *wasmtime.Caller, mem *wasmtime.Memory, b []byte) int64 {
	if mem == nil || len(b) == 0 {
		return 0
	}
	allocExp := caller.GetExport("alloc")
	if allocExp == nil || allocExp.Func() == nil {
		return 0
	}
	ptrVal, err := allocExp.Func().Call(caller, int32(len(b)))
	if err != nil {
		return 0
	}
	ptr, ok := ptrVal.(int32)
	if !ok {
		return 0
	}
	data := mem.UnsafeData(caller)
	if int(ptr)+len(b) > len(data) {
		return 0
	}
	copy(data[ptr:], b)
	return int64(ptr)<<32 | int64(uint32(len(b)))
}

// registerHostImports binds the "host" import module a guest links
// against to the capabilities available for this invocation. Every
// function that represents a capability the provider didn't grant still
// exists (so the guest never fails to link) but returns the denied
// sentinel (-1, or 0 for a buffer-returning call) rather than a usable
// handle; the guest is expected to treat that as "capability not
// available" per CapabilityDenied semantics.
func registerHostImports(linker *wasmtime.Linker, store *wasmtime.Store, caps *CapabilityProvider) error {
	define := func(name string, f interface{}) error {
		return linker.DefineFunc(store, "host", name, f)
	}

	if err := define("capability_provider_logger", func() int32 {
		if _, ok := caps.Logger(); ok {
			return 1
		}
		return -1
	}); err != nil {
		return err
	}
	if err := define("capability_provider_local_storage", func() int32 {
		if _, ok := caps.LocalStorage(); ok {
			return 1
		}
		return -1
	}); err != nil {
		return err
	}
	if err := define("capability_provider_annotator", func() int32 {
		if _, ok := caps.Annotator(); ok {
			return 1
		}
		return -1
	}); err != nil {
		return err
	}

	logFn := func(level string) func(*wasmtime.Caller, int32, int32) {
		return func(caller *wasmtime.Caller, msgPtr, msgLen int32) {
			l, ok := caps.Logger()
			if !ok {
				return
			}
			msg := string(readGuestBytes(caller, guestMemory(caller), msgPtr, msgLen))
			switch level {
			case "info":
				l.Info(msg)
			case "warn":
				l.Warn(msg)
			case "error":
				l.Error(msg)
			default:
				l.Debug(msg)
			}
		}
	}
	for _, lvl := range []string{"info", "warn", "error", "debug"} {
		if err := define("logger_"+lvl, logFn(lvl)); err != nil {
			return err
		}
	}

	// local_storage_get(keyPtr, keyLen) -> packed (ptr<<32|len) i64, 0 if
	// the capability was denied or the key is absent.
	if err := define("local_storage_get", func(caller *wasmtime.Caller, keyPtr, keyLen int32) int64 {
		s, ok := caps.LocalStorage()
		if !ok {
			return 0
		}
		mem := guestMemory(caller)
		key := string(readGuestBytes(caller, mem, keyPtr, keyLen))
		val, found, err := s.Get(key)
		if err != nil || !found {
			return 0
		}
		return writeGuestBuffer(caller, mem, val)
	}); err != nil {
		return err
	}

	// local_storage_set(keyPtr, keyLen, valPtr, valLen). No-op (not an
	// error) if the capability was denied: the guest already can't
	// observe the difference between "denied" and "stored but never
	// read back", since Get would deny it too.
	if err := define("local_storage_set", func(caller *wasmtime.Caller, keyPtr, keyLen, valPtr, valLen int32) {
		s, ok := caps.LocalStorage()
		if !ok {
			return
		}
		mem := guestMemory(caller)
		key := string(readGuestBytes(caller, mem, keyPtr, keyLen))
		val := readGuestBytes(caller, mem, valPtr, valLen)
		_ = s.Set(key, val)
	}); err != nil {
		return err
	}

	if err := define("local_storage_delete", func(caller *wasmtime.Caller, keyPtr, keyLen int32) {
		s, ok := caps.LocalStorage()
		if !ok {
			return
		}
		key := string(readGuestBytes(caller, guestMemory(caller), keyPtr, keyLen))
		_ = s.Delete(key)
	}); err != nil {
		return err
	}

	// annotator_annotate(keyPtr, keyLen, valPtr, valLen).
	if err := define("annotator_annotate", func(caller *wasmtime.Caller, keyPtr, keyLen, valPtr, valLen int32) {
		a, ok := caps.Annotator()
		if !ok {
			return
		}
		mem := guestMemory(caller)
		key := string(readGuestBytes(caller, mem, keyPtr, keyLen))
		val := string(readGuestBytes(caller, mem, valPtr, valLen))
		a.Annotate(key, val)
	}); err != nil {
		return err
	}

	// content_content_type() -> packed (ptr<<32|len) i64, 0 if the guest
	// is not handling an inbound-content event or was never granted the
	// capability the Annotator/Content resource gates access to.
	if err := define("content_content_type", func(caller *wasmtime.Caller) int64 {
		a, ok := caps.Annotator()
		if !ok || a.content == nil {
			return 0
		}
		return writeGuestBuffer(caller, guestMemory(caller), []byte(a.content.ContentType()))
	}); err != nil {
		return err
	}

	// content_text() -> packed (ptr<<32|len) i64 over the current text,
	// post content-encoding decode.
	if err := define("content_text", func(caller *wasmtime.Caller) int64 {
		a, ok := caps.Annotator()
		if !ok || a.content == nil {
			return 0
		}
		return writeGuestBuffer(caller, guestMemory(caller), a.content.Text())
	}); err != nil {
		return err
	}

	// content_set_text(ptr, len) replaces the content's text in place,
	// for a guest rewriting a response body it was granted access to.
	if err := define("content_set_text", func(caller *wasmtime.Caller, ptr, length int32) {
		a, ok := caps.Annotator()
		if !ok || a.content == nil {
			return
		}
		a.content.SetText(readGuestBytes(caller, guestMemory(caller), ptr, length))
	}); err != nil {
		return err
	}

	return nil
}
