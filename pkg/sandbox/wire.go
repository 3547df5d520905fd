package sandbox

import (
	"github.com/fxamacker/cbor/v2"

	"github.com/witmproxy/witmproxy/pkg/event"
)

// wireEventData is the CBOR envelope exchanged with the guest in place of
// the original WIT component model's resource handles: simpler to host on
// wasmtime-go's core Module/Instance API, at the cost of the guest never
// seeing a live handle to the event (it operates on a decoded copy and
// returns a replacement, same as the variant contract in spec).
type wireEventData struct {
	Kind           string                `cbor:"kind"`
	Connect        *event.Connect        `cbor:"connect,omitempty"`
	Request        *event.Request        `cbor:"request,omitempty"`
	Response       *event.Response       `cbor:"response,omitempty"`
	InboundContent *event.InboundContent `cbor:"inbound_content,omitempty"`
}

func toWire(kind event.Kind, data event.Data) wireEventData {
	return wireEventData{
		Kind:           string(kind),
		Connect:        data.Connect,
		Request:        data.Request,
		Response:       data.Response,
		InboundContent: data.InboundContent,
	}
}

func fromWire(w wireEventData) event.Data {
	return event.Data{
		Connect:        w.Connect,
		Request:        w.Request,
		Response:       w.Response,
		InboundContent: w.InboundContent,
	}
}

func encodeEvent(kind event.Kind, data event.Data) ([]byte, error) {
	return cbor.Marshal(toWire(kind, data))
}

func decodeEvent(b []byte) (event.Data, error) {
	if len(b) == 0 {
		return event.Data{}, nil
	}
	var w wireEventData
	if err := cbor.Unmarshal(b, &w); err != nil {
		return event.Data{}, err
	}
	return fromWire(w), nil
}
