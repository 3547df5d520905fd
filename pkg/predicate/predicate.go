// Package predicate compiles and evaluates the small boolean expression
// language plugin capability scopes are written in, using google/cel-go.
package predicate

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/event"
)

// Engine holds the shared CEL environment every compiled Program is built
// against. It pre-declares the connect/request/response variables and
// their event-specific accessor methods, and is built once per process.
type Engine struct {
	env *cel.Env
}

// NewEngine constructs the environment. Built once at registry start and
// shared by immutable reference among all compiled programs.
func NewEngine() (*Engine, error) {
	dyn := cel.DynType

	env, err := cel.NewEnv(
		cel.Variable("connect", dyn),
		cel.Variable("request", dyn),
		cel.Variable("response", dyn),

		cel.Function("host",
			cel.MemberOverload("dyn_host_string", []*cel.Type{dyn}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return mapField(v, "host", types.String("")) }))),

		cel.Function("method",
			cel.MemberOverload("dyn_method_string", []*cel.Type{dyn}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return mapField(v, "method", types.String("")) }))),

		cel.Function("path",
			cel.MemberOverload("dyn_path_string", []*cel.Type{dyn}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return mapField(v, "path", types.String("")) }))),

		cel.Function("headers",
			cel.MemberOverload("dyn_headers_map", []*cel.Type{dyn}, cel.MapType(cel.StringType, cel.StringType),
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return mapField(v, "headers", types.DefaultTypeAdapter.NativeToValue(map[string]string{}))
				}))),

		cel.Function("status",
			cel.MemberOverload("dyn_status_int", []*cel.Type{dyn}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val { return mapField(v, "status", types.Int(0)) }))),
	)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	return &Engine{env: env}, nil
}

// mapField extracts key from v (expected to be a CEL map) and returns it,
// or fallback if the map has no such key. Non-map receivers produce a CEL
// error value, which a caller's boolean evaluation treats as false.
func mapField(v ref.Val, key string, fallback ref.Val) ref.Val {
	m, ok := v.(traits.Mapper)
	if !ok {
		return types.NewErr("predicate: %q accessed on non-map value", key)
	}
	found, ok := m.Find(types.String(key))
	if !ok {
		return fallback
	}
	return found
}

// Program is a compiled predicate, safe for concurrent evaluation.
type Program struct {
	prg cel.Program
}

// Compile compiles expr once against the engine's shared environment.
func (e *Engine) Compile(expr string) (*Program, error) {
	if expr == "" {
		// An empty scope is the literal "true" shorthand used by manifests
		// that grant a capability unconditionally.
		expr = "true"
	}
	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errx.With(ErrInvalidFormat, ": %v", iss.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errx.Wrap(ErrInvalidFormat, err)
	}
	return &Program{prg: prg}, nil
}

// Vars binds the in-scope variables for one evaluation. Only the
// variables relevant to the current event kind need be non-nil; a
// program that never references an unset variable evaluates fine.
type Vars struct {
	Connect  map[string]interface{}
	Request  map[string]interface{}
	Response map[string]interface{}
}

// Evaluate runs the program against vars. Evaluation is pure: no side
// effects, no I/O. A non-bool result or an evaluation error is treated as
// false; the error (if any) is returned for the caller to log.
func (p *Program) Evaluate(vars Vars) (bool, error) {
	activation := map[string]interface{}{
		"connect":  orEmpty(vars.Connect),
		"request":  orEmpty(vars.Request),
		"response": orEmpty(vars.Response),
	}
	out, _, err := p.prg.Eval(activation)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, nil
	}
	return b, nil
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

// ConnectVars builds the activation binding for a Connect event.
func ConnectVars(c event.Connect) map[string]interface{} {
	return map[string]interface{}{"host": c.Host, "port": int64(c.Port)}
}

// RequestVars builds the activation binding for a Request event.
func RequestVars(r event.Request) map[string]interface{} {
	return map[string]interface{}{
		"method":  r.Method,
		"host":    r.Host,
		"path":    r.Path,
		"headers": firstValues(r.Headers),
	}
}

// ResponseVars builds the activation binding for a Response event.
func ResponseVars(r event.Response) map[string]interface{} {
	return map[string]interface{}{
		"status":  int64(r.StatusCode),
		"headers": firstValues(r.Headers),
	}
}

// firstValues flattens a multi-valued header map to single strings (first
// value wins), matching the simplified headers() map(string,string)
// signature predicates are compiled against.
func firstValues(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
