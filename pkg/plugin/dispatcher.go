package plugin

import (
	"github.com/witmproxy/witmproxy/pkg/event"
	"github.com/witmproxy/witmproxy/pkg/predicate"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

// Outcome is the result of running an event through the dispatch loop.
type Outcome int

const (
	// OutcomeContinue means the loop ran out of eligible plugins; the
	// (possibly mutated) event should proceed to its normal next step.
	OutcomeContinue Outcome = iota
	// OutcomeShortCircuit means a request-phase plugin returned a
	// Response; the caller must answer with it and skip the upstream call.
	OutcomeShortCircuit
	// OutcomeDrop means a plugin returned None (or a variant inconsistent
	// with the event's phase); the caller must drop the connection without
	// a response. A plugin whose invocation fails is skipped instead.
	OutcomeDrop
)

// DispatchResult carries the final event (for Continue/ShortCircuit) and
// which plugins ran, for already_executed bookkeeping across phases of
// the same connection.
type DispatchResult struct {
	Outcome  Outcome
	Data     event.Data
	Executed []string
}

// Dispatch runs kind/data through the registry: find the first eligible,
// not-yet-executed plugin, instantiate it, interpret its return per the
// event-phase rules, and loop until no plugin remains or one short-circuits.
func (r *Registry) Dispatch(kind event.Kind, data event.Data, vars predicate.Vars, alreadyExecuted map[string]bool) DispatchResult {
	executed := map[string]bool{}
	for k, v := range alreadyExecuted {
		executed[k] = v
	}
	var ranNames []string

	current := data
	for {
		cand, err := r.PluginsFor(kind, vars, executed)
		if err != nil {
			r.log.Error("plugin lookup failed", "error", err)
			return DispatchResult{Outcome: OutcomeDrop, Data: current, Executed: ranNames}
		}
		if cand == nil {
			return DispatchResult{Outcome: OutcomeContinue, Data: current, Executed: ranNames}
		}

		executed[cand.identity] = true
		ranNames = append(ranNames, cand.identity)

		out, err := cand.module.Handle(kind, current, sandbox.Invocation{
			Identity: cand.identity,
			Granted:  cand.granted,
			Store:    cand.store,
		})
		if err != nil {
			r.log.Warn("plugin invocation failed, skipping", "plugin", cand.identity, "error", err)
			continue
		}
		if out.Empty() {
			return DispatchResult{Outcome: OutcomeDrop, Data: current, Executed: ranNames}
		}

		switch kind {
		case event.KindRequest:
			if out.Response != nil {
				return DispatchResult{Outcome: OutcomeShortCircuit, Data: out, Executed: ranNames}
			}
			if out.Request != nil {
				current = event.Data{Request: out.Request}
				vars.Request = predicate.RequestVars(*out.Request)
				continue
			}
		case event.KindResponse:
			if out.Response != nil {
				current = event.Data{Response: out.Response}
				vars.Response = predicate.ResponseVars(*out.Response)
				continue
			}
		case event.KindInboundContent:
			if out.InboundContent != nil {
				current = event.Data{InboundContent: out.InboundContent}
				continue
			}
		case event.KindConnect:
			// connect dispatch only probes eligibility; a guest cannot
			// rewrite the connect event itself.
		}

		// Guest returned a variant inconsistent with this event's phase;
		// treat it like None rather than silently discarding data.
		return DispatchResult{Outcome: OutcomeDrop, Data: current, Executed: ranNames}
	}
}
