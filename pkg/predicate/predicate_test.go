package predicate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/witmproxy/witmproxy/pkg/event"
)

func TestCompileEmptyExprIsAlwaysTrue(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	prg, err := e.Compile("")
	require.NoError(t, err)

	ok, err := prg.Evaluate(Vars{})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCompileInvalidExprFails(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	_, err = e.Compile("request.path(")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestRequestPathAndHostAccessors(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	prg, err := e.Compile(`request.host() == "example.com" && request.path() == "/api/v1"`)
	require.NoError(t, err)

	req := event.Request{Host: "example.com", Path: "/api/v1", Method: "GET"}
	ok, err := prg.Evaluate(Vars{Request: RequestVars(req)})
	require.NoError(t, err)
	require.True(t, ok)

	req.Host = "other.com"
	ok, err = prg.Evaluate(Vars{Request: RequestVars(req)})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResponseStatusAccessor(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	prg, err := e.Compile("response.status() >= 400")
	require.NoError(t, err)

	ok, err := prg.Evaluate(Vars{Response: ResponseVars(event.Response{StatusCode: 404})})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = prg.Evaluate(Vars{Response: ResponseVars(event.Response{StatusCode: 200})})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHeadersAccessor(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	prg, err := e.Compile(`request.headers()["x-api-key"] == "secret"`)
	require.NoError(t, err)

	req := event.Request{Headers: map[string][]string{"x-api-key": {"secret"}}}
	ok, err := prg.Evaluate(Vars{Request: RequestVars(req)})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnsetVariableAccessIsFalseNotPanic(t *testing.T) {
	e, err := NewEngine()
	require.NoError(t, err)

	prg, err := e.Compile(`request.path() == "/x"`)
	require.NoError(t, err)

	ok, err := prg.Evaluate(Vars{})
	require.NoError(t, err)
	require.False(t, ok)
}
