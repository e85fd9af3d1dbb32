// Package envelope turns inbound push-stream frames of varying shape into a
// canonical (type, payload) pair and decodes the payload into typed events.
package envelope

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	apperrors "github.com/harunnryd/infrapilot/internal/errors"
)

// Envelope is the canonical form of a pushed event.
type Envelope struct {
	Type    string
	Payload json.RawMessage
}

// Shape names the envelope layout a frame matched.
type Shape string

const (
	ShapeTopLevel     Shape = "top_level"
	ShapeDataWrapped  Shape = "data_wrapped"
	ShapePayloadTyped Shape = "payload_typed"
)

type rule struct {
	shape Shape
	match func(root gjson.Result) (Envelope, bool)
}

// rules are tried in order; the first match wins.
var rules = []rule{
	{shape: ShapeTopLevel, match: matchTopLevel},
	{shape: ShapeDataWrapped, match: matchDataWrapped},
	{shape: ShapePayloadTyped, match: matchPayloadTyped},
}

// Normalize extracts the canonical envelope from a raw frame.
func Normalize(frame []byte) (Envelope, error) {
	env, _, err := NormalizeShape(frame)
	return env, err
}

// NormalizeShape is Normalize that also reports which layout matched.
func NormalizeShape(frame []byte) (Envelope, Shape, error) {
	if !gjson.ValidBytes(frame) {
		return Envelope{}, "", apperrors.MalformedFrame("frame is not valid JSON")
	}

	root := gjson.ParseBytes(frame)
	if !root.IsObject() {
		return Envelope{}, "", fmt.Errorf("frame is a JSON %s, not an object: %w", root.Type, apperrors.ErrUnrecognizedEnvelope)
	}

	for _, r := range rules {
		if env, ok := r.match(root); ok {
			return env, r.shape, nil
		}
	}
	return Envelope{}, "", fmt.Errorf("no envelope rule matched: %w", apperrors.ErrUnrecognizedEnvelope)
}

// {"type": ..., "payload": {...}}
func matchTopLevel(root gjson.Result) (Envelope, bool) {
	typ, ok := typeField(root)
	if !ok {
		return Envelope{}, false
	}
	payload := root.Get("payload")
	if !payload.IsObject() {
		return Envelope{}, false
	}
	return Envelope{Type: typ, Payload: json.RawMessage(payload.Raw)}, true
}

// {"data": {"type": ..., "payload"?: {...}}}
func matchDataWrapped(root gjson.Result) (Envelope, bool) {
	data := root.Get("data")
	if !data.IsObject() {
		return Envelope{}, false
	}
	typ, ok := typeField(data)
	if !ok {
		return Envelope{}, false
	}
	return Envelope{Type: typ, Payload: innerPayload(data)}, true
}

// {"payload": {"type": ..., "payload"?: {...}}}
func matchPayloadTyped(root gjson.Result) (Envelope, bool) {
	outer := root.Get("payload")
	if !outer.IsObject() {
		return Envelope{}, false
	}
	typ, ok := typeField(outer)
	if !ok {
		return Envelope{}, false
	}
	return Envelope{Type: typ, Payload: innerPayload(outer)}, true
}

func typeField(obj gjson.Result) (string, bool) {
	t := obj.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return "", false
	}
	return t.Str, true
}

// innerPayload returns obj.payload when it is an object, otherwise obj itself.
func innerPayload(obj gjson.Result) json.RawMessage {
	if p := obj.Get("payload"); p.IsObject() {
		return json.RawMessage(p.Raw)
	}
	return json.RawMessage(obj.Raw)
}
