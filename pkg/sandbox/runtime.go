// Package sandbox hosts signed WebAssembly plugin modules, instantiating
// one guest per invocation and gating host-exported services by the
// capabilities granted for that invocation.
package sandbox

import (
	"crypto/ed25519"
	"fmt"
	"log/slog"

	"github.com/bytecodealliance/wasmtime-go/v3"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/capability"
	"github.com/witmproxy/witmproxy/pkg/event"
)

// Runtime owns the wasmtime engine shared by every compiled Module.
// Compilation is cheap to share; instantiation happens fresh per call.
type Runtime struct {
	engine *wasmtime.Engine
	log    *slog.Logger
}

func NewRuntime(log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	return &Runtime{engine: wasmtime.NewEngine(), log: log}
}

// Module is a compiled plugin: manifest plus the cached wasmtime.Module.
// Compile-once, instantiate-per-invocation.
type Module struct {
	runtime  *Runtime
	wasm     *wasmtime.Module
	Manifest capability.Manifest
}

// Load parses the manifest (untrusted), verifies the bytecode's signature
// under the manifest's declared public key, and only then compiles it.
// An empty public key or failed verification fails with ErrSignatureInvalid
// and the module is never compiled.
func (r *Runtime) Load(wasmBytes, manifestBytes, signature []byte) (*Module, error) {
	manifest, err := parseManifest(manifestBytes)
	if err != nil {
		return nil, err
	}

	if len(manifest.PublicKey) != ed25519.PublicKeySize {
		return nil, errx.With(ErrSignatureInvalid, ": public key missing or wrong size")
	}
	if !ed25519.Verify(ed25519.PublicKey(manifest.PublicKey), wasmBytes, signature) {
		return nil, errx.With(ErrSignatureInvalid, ": signature does not verify for %s", manifest.Identity())
	}

	mod, err := wasmtime.NewModule(r.engine, wasmBytes)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}

	return &Module{runtime: r, wasm: mod, Manifest: manifest}, nil
}

// RunModule compiles and instantiates wasmBytes fresh and calls its fn
// export with the alloc/handle/dealloc buffer-passing convention, with no
// host imports registered. It is used for state-engine transition and
// consensus code, which are pure functions of their input buffer and need
// none of the capability-gated host services plugins get through Handle.
func (r *Runtime) RunModule(wasmBytes []byte, fn string, in []byte) (out []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errx.With(ErrTrap, ": %v", rec)
		}
	}()

	mod, err := wasmtime.NewModule(r.engine, wasmBytes)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}

	store := wasmtime.NewStore(r.engine)
	linker := wasmtime.NewLinker(r.engine)

	instance, err := linker.Instantiate(store, mod)
	if err != nil {
		return nil, errx.Wrap(ErrTrap, err)
	}

	out, err = callGuestBuffer(store, instance, fn, in)
	if err != nil {
		return nil, errx.Wrap(ErrTrap, err)
	}
	return out, nil
}

// Invocation carries the per-call arguments needed to run Handle.
type Invocation struct {
	Identity string
	Granted  map[capability.Kind]bool
	Store    Store
}

// Handle instantiates a fresh store+instance, pushes the event and a
// capability-provider scoped to inv.Granted, and calls the guest's
// handle() export. A guest trap or missing export is contained and
// reported as ErrTrap; the caller is responsible for skipping the plugin
// on this event and continuing dispatch with the next candidate.
func (m *Module) Handle(kind event.Kind, data event.Data, inv Invocation) (result event.Data, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errx.With(ErrTrap, ": %v", r)
		}
	}()

	store := wasmtime.NewStore(m.runtime.engine)
	linker := wasmtime.NewLinker(m.runtime.engine)

	content := contentFromEvent(data.InboundContent)
	caps := NewCapabilityProvider(inv.Identity, m.runtime.log, inv.Granted, inv.Store, content)

	if err := registerHostImports(linker, store, caps); err != nil {
		return event.Data{}, errx.Wrap(ErrTrap, err)
	}

	instance, err := linker.Instantiate(store, m.wasm)
	if err != nil {
		return event.Data{}, errx.Wrap(ErrTrap, err)
	}

	inBytes, err := encodeEvent(kind, data)
	if err != nil {
		return event.Data{}, errx.Wrap(ErrInvalidFormat, err)
	}

	outBytes, err := callGuestBuffer(store, instance, "handle", inBytes)
	if err != nil {
		return event.Data{}, errx.Wrap(ErrTrap, err)
	}

	out, err := decodeEvent(outBytes)
	if err != nil {
		return event.Data{}, errx.Wrap(ErrInvalidFormat, err)
	}
	if content != nil && inv.Granted[capability.KindAnnotator] {
		out.InboundContent = mergeContent(out.InboundContent, content)
	}
	return out, nil
}

func mergeContent(out *event.InboundContent, c *Content) *event.InboundContent {
	if out == nil {
		return &event.InboundContent{ContentType: c.ContentType(), Text: c.Text(), Annotations: c.Annotations}
	}
	if out.Annotations == nil {
		out.Annotations = c.Annotations
	}
	return out
}

// callGuestBuffer writes in to guest-allocated memory via the alloc
// export, invokes fn(ptr, len), and reads the (ptr, len) pair the guest
// returns packed into a single i64 (high 32 bits: pointer, low 32 bits:
// length; zero means the guest returned no buffer).
func callGuestBuffer(store *wasmtime.Store, instance *wasmtime.Instance, fn string, in []byte) ([]byte, error) {
	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("guest module does not export memory")
	}
	mem := memExport.Memory()

	allocExport := instance.GetExport(store, "alloc")
	if allocExport == nil || allocExport.Func() == nil {
		return nil, fmt.Errorf("guest module does not export alloc")
	}
	alloc := allocExport.Func()

	ptrVal, err := alloc.Call(store, int32(len(in)))
	if err != nil {
		return nil, err
	}
	ptr, ok := ptrVal.(int32)
	if !ok {
		return nil, fmt.Errorf("alloc did not return i32")
	}

	data := mem.UnsafeData(store)
	if int(ptr)+len(in) > len(data) {
		return nil, fmt.Errorf("guest memory too small for input")
	}
	copy(data[ptr:], in)

	handleExport := instance.GetExport(store, fn)
	if handleExport == nil || handleExport.Func() == nil {
		return nil, fmt.Errorf("guest module does not export %s", fn)
	}

	packedVal, err := handleExport.Func().Call(store, ptr, int32(len(in)))
	if err != nil {
		return nil, err
	}
	packed, ok := packedVal.(int64)
	if !ok {
		return nil, fmt.Errorf("%s did not return i64", fn)
	}
	if packed == 0 {
		return nil, nil
	}

	outPtr := int32(packed >> 32)
	outLen := int32(packed & 0xffffffff)

	data = mem.UnsafeData(store)
	if int(outPtr)+int(outLen) > len(data) || outPtr < 0 || outLen < 0 {
		return nil, fmt.Errorf("guest returned out-of-bounds buffer")
	}
	out := make([]byte, outLen)
	copy(out, data[outPtr:outPtr+outLen])

	if deallocExport := instance.GetExport(store, "dealloc"); deallocExport != nil && deallocExport.Func() != nil {
		_, _ = deallocExport.Func().Call(store, outPtr, outLen)
	}

	return out, nil
}
