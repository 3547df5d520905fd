// Package plugin persists installed plugins, matches them to events via
// compiled predicates, and dispatches events through ordered chains.
package plugin

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/capability"
	"github.com/witmproxy/witmproxy/pkg/event"
	"github.com/witmproxy/witmproxy/pkg/predicate"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

// entry is the in-memory index record for one installed plugin.
type entry struct {
	identity string
	manifest capability.Manifest
	module   *sandbox.Module
	granted  map[capability.Kind]bool
	// predicates holds a compiled program per handle_event_* capability
	// the plugin was granted, so matching never recompiles per event.
	predicates map[capability.Kind]*predicate.Program
	store      sandbox.Store
}

// Registry is the process-wide, priority-ordered plugin index. Safe for
// concurrent use: a reader/writer lock guards the index; dispatch holds
// the read lock only for the scan, releasing it across guest execution.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*entry
	order   []string // identities, kept sorted by (priority, identity)
	runtime *sandbox.Runtime
	engine  *predicate.Engine
	dbStore *Store
	log     *slog.Logger
}

// NewRegistry builds a registry backed by dbStore, loading every enabled
// plugin and compiling its module and predicates. A plugin that fails to
// load (bad signature, bad predicate) is logged and skipped rather than
// failing the whole registry.
func NewRegistry(dbStore *Store, runtime *sandbox.Runtime, engine *predicate.Engine, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		byID:    map[string]*entry{},
		runtime: runtime,
		engine:  engine,
		dbStore: dbStore,
		log:     log,
	}

	records, err := dbStore.ListEnabled()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		e, err := r.buildEntry(rec)
		if err != nil {
			log.Warn("skipping plugin at load", "plugin", rec.Manifest.Identity(), "error", err)
			continue
		}
		r.insert(e)
	}
	return r, nil
}

func (r *Registry) buildEntry(rec Record) (*entry, error) {
	manifestBytes, err := sandbox.EncodeManifest(rec.Manifest)
	if err != nil {
		return nil, err
	}
	mod, err := r.runtime.Load(rec.Component, manifestBytes, rec.Signature)
	if err != nil {
		return nil, err
	}

	granted := map[capability.Kind]bool{}
	predicates := map[capability.Kind]*predicate.Program{}
	for _, c := range rec.Manifest.Capabilities {
		granted[c.Kind] = c.Granted
		if !c.Granted {
			continue
		}
		isEventKind := false
		for _, k := range capability.EventKinds {
			if k == c.Kind {
				isEventKind = true
				break
			}
		}
		if !isEventKind {
			continue
		}
		prog, err := r.engine.Compile(c.Scope)
		if err != nil {
			return nil, errx.With(ErrInvalidFormat, ": compiling predicate for %s/%s: %v", rec.Manifest.Identity(), c.Kind, err)
		}
		predicates[c.Kind] = prog
	}

	return &entry{
		identity:   rec.Manifest.Identity(),
		manifest:   rec.Manifest,
		module:     mod,
		granted:    granted,
		predicates: predicates,
		store:      sandbox.NewMemStore(),
	}, nil
}

// resortLocked rebuilds r.order from r.byID by (priority, identity).
// Caller must hold mu for writing.
func (r *Registry) resortLocked() {
	r.order = r.order[:0]
	for id := range r.byID {
		r.order = append(r.order, id)
	}
	sort.Slice(r.order, func(i, j int) bool {
		a, b := r.byID[r.order[i]], r.byID[r.order[j]]
		if a.manifest.Priority != b.manifest.Priority {
			return a.manifest.Priority < b.manifest.Priority
		}
		return a.identity < b.identity
	})
}

func (r *Registry) insert(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.identity] = e
	r.resortLocked()
}

// Register compiles and persists a new or updated plugin.
func (r *Registry) Register(manifest capability.Manifest, component, signature []byte, enabled bool) error {
	if err := r.dbStore.Upsert(Record{Manifest: manifest, Signature: signature, Enabled: enabled, Component: component}); err != nil {
		return err
	}
	if !enabled {
		r.remove(manifest.Identity())
		return nil
	}
	e, err := r.buildEntry(Record{Manifest: manifest, Signature: signature, Enabled: enabled, Component: component})
	if err != nil {
		return err
	}
	r.insert(e)
	return nil
}

// Remove deletes the plugin(s) identified by name (and namespace, when
// non-nil) from storage and the in-memory index. Returns the identities
// removed.
func (r *Registry) Remove(name string, namespace *string) ([]string, error) {
	identities, err := r.dbStore.Remove(name, namespace)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, id := range identities {
		delete(r.byID, id)
	}
	r.resortLocked()
	r.mu.Unlock()
	if len(identities) == 0 {
		return nil, ErrNotFound
	}
	return identities, nil
}

func (r *Registry) remove(identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, identity)
	r.resortLocked()
}

// capabilityForKind maps an event kind to the capability that gates
// dispatch eligibility for it.
func capabilityForKind(kind event.Kind) capability.Kind {
	switch kind {
	case event.KindConnect:
		return capability.KindHandleEventConnect
	case event.KindRequest:
		return capability.KindHandleEventRequest
	case event.KindResponse:
		return capability.KindHandleEventResponse
	case event.KindInboundContent:
		return capability.KindHandleEventInboundContent
	}
	return ""
}

// candidate is a read-only snapshot of the matching plugin, safe to use
// after the registry's read lock has been released.
type candidate struct {
	identity string
	manifest capability.Manifest
	module   *sandbox.Module
	granted  map[capability.Kind]bool
	store    sandbox.Store
}

// PluginsFor scans the index for the first plugin, in priority order,
// that has the capability for kind granted with a compiled predicate
// that matches vars, and is not already in alreadyExecuted. The scan
// holds only a read lock; it returns a snapshot so callers can run the
// guest without holding the registry lock.
func (r *Registry) PluginsFor(kind event.Kind, vars predicate.Vars, alreadyExecuted map[string]bool) (*candidate, error) {
	capKind := capabilityForKind(kind)

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		if alreadyExecuted[id] {
			continue
		}
		e := r.byID[id]
		if !e.granted[capKind] {
			continue
		}
		prog, ok := e.predicates[capKind]
		if !ok {
			continue
		}
		matched, err := prog.Evaluate(vars)
		if err != nil {
			r.log.Warn("predicate evaluation failed, treating as no match", "plugin", id, "error", err)
			continue
		}
		if !matched {
			continue
		}
		return &candidate{identity: e.identity, manifest: e.manifest, module: e.module, granted: e.granted, store: e.store}, nil
	}
	return nil, nil
}
