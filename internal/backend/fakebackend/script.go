package fakebackend

import (
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/sjson"
)

// Shape is an envelope layout the server can emit.
type Shape int

const (
	ShapeTopLevel Shape = iota
	ShapeDataWrapped
	ShapePayloadTyped
)

// AllShapes rotates through every layout, one per frame.
var AllShapes = []Shape{ShapeTopLevel, ShapeDataWrapped, ShapePayloadTyped}

const (
	OptionRun    = "run"
	OptionCancel = "cancel"
	OptionEdit   = "edit"
)

type intent struct {
	ID       string
	Action   string
	Resource string
	Provider string
	Tool     string
	Params   map[string]any
}

func (i *intent) document() map[string]any {
	return map[string]any{
		"action":   i.Action,
		"resource": i.Resource,
		"provider": i.Provider,
		"tool":     i.Tool,
		"params":   maps.Clone(i.Params),
	}
}

var verbs = map[string]bool{
	"create": true, "delete": true, "update": true, "list": true, "scale": true, "restart": true,
}

// parseIntent picks an action and resource out of free text the way a
// toy intent parser would.
func parseIntent(content string) *intent {
	words := strings.Fields(strings.ToLower(content))
	in := &intent{
		ID:       uuid.NewString(),
		Action:   "create",
		Resource: "vm",
		Provider: "aws",
		Tool:     "terraform",
		Params:   map[string]any{"region": "us-east-1", "size": "small"},
	}
	if len(words) == 0 {
		return in
	}
	if verbs[words[0]] {
		in.Action = words[0]
		words = words[1:]
	}
	if len(words) > 0 {
		in.Resource = strings.Trim(words[len(words)-1], ".,!?")
	}
	return in
}

// encode builds a frame in the given envelope layout.
func encode(shape Shape, ev event) ([]byte, error) {
	eventType, payload := ev.Type, ev.Payload
	var (
		frame []byte
		err   error
	)
	switch shape {
	case ShapeDataWrapped:
		frame, err = sjson.SetBytes([]byte(`{}`), "data.type", eventType)
		if err == nil {
			frame, err = sjson.SetBytes(frame, "data.payload", payload)
		}
	case ShapePayloadTyped:
		frame, err = sjson.SetBytes([]byte(`{}`), "payload.type", eventType)
		if err == nil {
			frame, err = sjson.SetBytes(frame, "payload.payload", payload)
		}
	default:
		frame, err = sjson.SetBytes([]byte(`{}`), "type", eventType)
		if err == nil {
			frame, err = sjson.SetBytes(frame, "payload", payload)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", eventType, err)
	}
	return frame, nil
}

// event is a scripted push event before it is wrapped in an envelope.
type event struct {
	Type    string
	Payload map[string]any
}

func logEvent(role, text string) event {
	return event{"log", map[string]any{"level": "info", "role": role, "text": text}}
}

func tokenEvent(text string) event {
	return event{"token", map[string]any{"text": text}}
}

func operationEvent(status, kind, detail string) event {
	p := map[string]any{"status": status, "kind": kind}
	if detail != "" {
		p["detail"] = detail
	}
	return event{"operation_update", p}
}

func artifactEvent(kind string, data map[string]any) event {
	return event{"artifact", map[string]any{"kind": kind, "data": data}}
}

func intentEvent(kind string, in *intent) event {
	return artifactEvent(kind, map[string]any{"intent_id": in.ID, "intent": in.document()})
}

func decisionEvent(decisionID string, in *intent) event {
	return event{"decision", map[string]any{
		"decision_id": decisionID,
		"kind":        "confirm_execution",
		"prompt":      "Proceed?",
		"options": []map[string]any{
			{"id": OptionRun, "label": "Run", "description": "Execute the command"},
			{"id": OptionCancel, "label": "Cancel"},
			{"id": OptionEdit, "label": "Edit parameters"},
		},
		"metadata": map[string]any{"intent": in.document()},
	}}
}

func replyText(in *intent) string {
	return fmt.Sprintf("I can %s a %s on %s with %s.", in.Action, in.Resource, in.Provider, in.Tool)
}

func infraResult(in *intent) event {
	return artifactEvent("infra_result", map[string]any{
		"result": fmt.Sprintf("%s %s: done", in.Action, in.Resource),
		"stdout": fmt.Sprintf("%s apply -auto-approve\nApply complete! %s/%s", in.Tool, in.Provider, in.Resource),
	})
}
