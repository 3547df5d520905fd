package proxy

import (
	"net/http"
	"strconv"

	"github.com/witmproxy/witmproxy/internal/errx"
	"github.com/witmproxy/witmproxy/pkg/event"
	"github.com/witmproxy/witmproxy/pkg/logging"
	"github.com/witmproxy/witmproxy/pkg/plugin"
	"github.com/witmproxy/witmproxy/pkg/predicate"
	"github.com/witmproxy/witmproxy/pkg/sandbox"
)

// forward runs the shared DispatchRequest -> [shortCircuit? : Upstream ->
// DispatchResponse] -> WriteResponse pipeline, used identically by the
// MITM inner server and the plain absolute-form path; scheme only affects
// origin-form reconstruction.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, scheme string) {
	fixupOriginForm(r, scheme)
	stripHopByHop(r.Header)

	evReq, err := toEventRequest(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "malformed request body")
		return
	}

	reqVars := predicate.Vars{Request: predicate.RequestVars(evReq)}
	reqResult := s.registry.Dispatch(event.KindRequest, event.Data{Request: &evReq}, reqVars, nil)

	if s.emitter != nil {
		_ = s.emitter.Emit(logging.EventHTTPRequest, evReq.Method+" "+evReq.Host+evReq.Path, "", []string{"request"},
			&logging.HTTPRequestData{Method: evReq.Method, Host: evReq.Host, Path: evReq.Path, ShortCircuited: reqResult.Outcome == plugin.OutcomeShortCircuit})
	}

	var final event.Response
	var respVars predicate.Vars
	switch reqResult.Outcome {
	case plugin.OutcomeDrop:
		panic(http.ErrAbortHandler)
	case plugin.OutcomeShortCircuit:
		final = *reqResult.Data.Response
		respVars = predicate.Vars{Request: reqVars.Request, Response: predicate.ResponseVars(final)}
	default:
		mutated := reqResult.Data.Request
		if mutated == nil {
			mutated = &evReq
		}
		applyEventRequest(r, *mutated)
		stripH2Incompatible(r.Header)
		r.RequestURI = ""

		resp, err := s.upstream.Do(r)
		if err != nil {
			err = errx.Wrap(ErrUpstreamUnavailable, err)
			s.log.Warn("upstream call failed", "host", r.URL.Host, "error", err)
			writeErrorResponse(w, http.StatusBadGateway, "upstream unavailable: "+err.Error())
			return
		}

		evResp, err := toEventResponse(resp)
		if err != nil {
			writeErrorResponse(w, http.StatusBadGateway, "malformed upstream response")
			return
		}

		respVars = predicate.Vars{Request: reqVars.Request, Response: predicate.ResponseVars(evResp)}
		respResult := s.registry.Dispatch(event.KindResponse, event.Data{Response: &evResp}, respVars, nil)

		if s.emitter != nil {
			_ = s.emitter.Emit(logging.EventHTTPResponse, evReq.Method+" "+evReq.Host+evReq.Path, "", []string{"response"},
				&logging.HTTPResponseData{Method: evReq.Method, Host: evReq.Host, Path: evReq.Path, StatusCode: evResp.StatusCode})
		}

		if respResult.Outcome == plugin.OutcomeDrop {
			panic(http.ErrAbortHandler)
		}
		if respResult.Data.Response != nil {
			final = *respResult.Data.Response
		} else {
			final = evResp
		}
		respVars.Response = predicate.ResponseVars(final)
	}

	final = s.dispatchInboundContent(final, respVars)

	writeEventResponse(w, final)
}

// dispatchInboundContent runs the response's decoded body through any
// plugin granted the inbound_content capability, before the response is
// written back to the client. It probes eligibility first so a response
// with no interested plugin never pays for a content-encoding decode. A
// match re-serves the content decoded (content-encoding stripped) when the
// body could be decoded; a body whose encoding could not be decoded keeps
// its original Content-Encoding and Content-Type headers.
func (s *Server) dispatchInboundContent(resp event.Response, vars predicate.Vars) event.Response {
	cand, err := s.registry.PluginsFor(event.KindInboundContent, vars, nil)
	if err != nil || cand == nil {
		return resp
	}

	headers := http.Header(resp.Headers)
	content := sandbox.NewContent(headers.Get("Content-Type"), headers.Get("Content-Encoding"), resp.Body)
	ic := event.InboundContent{ContentType: content.ContentType(), Text: content.Text()}

	result := s.registry.Dispatch(event.KindInboundContent, event.Data{InboundContent: &ic}, vars, nil)
	if result.Outcome == plugin.OutcomeDrop {
		panic(http.ErrAbortHandler)
	}
	if result.Data.InboundContent == nil {
		return resp
	}

	out := result.Data.InboundContent
	if resp.Headers == nil {
		resp.Headers = map[string][]string{}
		headers = http.Header(resp.Headers)
	}
	if content.ContentType() != "unknown" {
		headers.Del("Content-Encoding")
		if out.ContentType != "" {
			headers.Set("Content-Type", out.ContentType)
		}
	}
	headers.Set("Content-Length", strconv.Itoa(len(out.Text)))
	resp.Body = out.Text
	return resp
}

func writeEventResponse(w http.ResponseWriter, resp event.Response) {
	h := w.Header()
	for k, vs := range resp.Headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	stripHopByHop(h)
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(resp.Body)
}

func writeErrorResponse(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reason))
}
