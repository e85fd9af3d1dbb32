package envelope

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

const (
	TypeLog             = "log"
	TypeToken           = "token"
	TypeArtifact        = "artifact"
	TypeOperationUpdate = "operation_update"
	TypeDecision        = "decision"
)

const (
	KindIntent        = "intent"
	KindIntentForEdit = "intent_for_edit"
	KindInfraResult   = "infra_result"
)

const (
	KindIntentParse  = "intent_parse"
	KindInfraExecute = "infra_execute"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Event is the closed set of decoded payloads. The unexported method keeps
// the set closed to this package.
type Event interface {
	EventType() string
	isEvent()
}

// Intent is the backend's structured reading of a user request.
type Intent struct {
	Action   string         `json:"action"`
	Resource string         `json:"resource"`
	Provider string         `json:"provider"`
	Tool     string         `json:"tool"`
	Params   map[string]any `json:"params"`
}

type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type LogEvent struct {
	Level string
	Role  string
	Text  string
}

type TokenEvent struct {
	Text string
}

type IntentArtifact struct {
	IntentID string
	Intent   Intent
}

type IntentForEditArtifact struct {
	IntentID string
	Intent   Intent
}

type InfraResultArtifact struct {
	Result string
	Stdout string
}

// UnknownArtifact is an artifact whose kind is not handled, or whose data is
// missing the fields its kind requires.
type UnknownArtifact struct {
	Kind string
	Data json.RawMessage
}

type OperationUpdateEvent struct {
	Status string
	Kind   string
	Detail string
}

// DecisionEvent carries a backend-posed choice. Intent is nil when the
// metadata does not embed one.
type DecisionEvent struct {
	DecisionID string
	Kind       string
	Prompt     string
	Options    []Option
	Metadata   map[string]any
	Intent     *Intent
}

type UnknownEvent struct {
	Type    string
	Payload json.RawMessage
}

func (LogEvent) EventType() string              { return TypeLog }
func (TokenEvent) EventType() string            { return TypeToken }
func (IntentArtifact) EventType() string        { return TypeArtifact }
func (IntentForEditArtifact) EventType() string { return TypeArtifact }
func (InfraResultArtifact) EventType() string   { return TypeArtifact }
func (UnknownArtifact) EventType() string       { return TypeArtifact }
func (OperationUpdateEvent) EventType() string  { return TypeOperationUpdate }
func (DecisionEvent) EventType() string         { return TypeDecision }
func (e UnknownEvent) EventType() string        { return e.Type }

func (LogEvent) isEvent()              {}
func (TokenEvent) isEvent()            {}
func (IntentArtifact) isEvent()        {}
func (IntentForEditArtifact) isEvent() {}
func (InfraResultArtifact) isEvent()   {}
func (UnknownArtifact) isEvent()       {}
func (OperationUpdateEvent) isEvent()  {}
func (DecisionEvent) isEvent()         {}
func (UnknownEvent) isEvent()          {}

// Decode converts a canonical envelope into its typed event.
func Decode(env Envelope) Event {
	p := gjson.ParseBytes(env.Payload)

	switch env.Type {
	case TypeLog:
		return LogEvent{
			Level: p.Get("level").String(),
			Role:  p.Get("role").String(),
			Text:  p.Get("text").String(),
		}
	case TypeToken:
		return TokenEvent{Text: p.Get("text").String()}
	case TypeArtifact:
		return decodeArtifact(p)
	case TypeOperationUpdate:
		return OperationUpdateEvent{
			Status: p.Get("status").String(),
			Kind:   p.Get("kind").String(),
			Detail: p.Get("detail").String(),
		}
	case TypeDecision:
		return decodeDecision(p)
	default:
		return UnknownEvent{Type: env.Type, Payload: env.Payload}
	}
}

func decodeArtifact(p gjson.Result) Event {
	kind := p.Get("kind").String()
	data := p.Get("data")

	switch kind {
	case KindIntent, KindIntentForEdit:
		intent, ok := decodeIntent(data.Get("intent"))
		if !ok {
			break
		}
		intentID := stringField(data, "intent_id")
		if kind == KindIntent {
			return IntentArtifact{IntentID: intentID, Intent: intent}
		}
		return IntentForEditArtifact{IntentID: intentID, Intent: intent}
	case KindInfraResult:
		return InfraResultArtifact{
			Result: data.Get("result").String(),
			Stdout: data.Get("stdout").String(),
		}
	}
	return UnknownArtifact{Kind: kind, Data: json.RawMessage(data.Raw)}
}

func decodeDecision(p gjson.Result) Event {
	evt := DecisionEvent{
		DecisionID: stringField(p, "decision_id"),
		Kind:       p.Get("kind").String(),
		Prompt:     p.Get("prompt").String(),
		Metadata:   map[string]any{},
	}

	for _, o := range p.Get("options").Array() {
		evt.Options = append(evt.Options, Option{
			ID:          o.Get("id").String(),
			Label:       o.Get("label").String(),
			Description: o.Get("description").String(),
		})
	}

	if meta := p.Get("metadata"); meta.IsObject() {
		_ = json.Unmarshal([]byte(meta.Raw), &evt.Metadata)
		if intent, ok := decodeIntent(meta.Get("intent")); ok {
			evt.Intent = &intent
		}
	}
	return evt
}

func decodeIntent(v gjson.Result) (Intent, bool) {
	if !v.IsObject() {
		return Intent{}, false
	}
	intent := Intent{
		Action:   v.Get("action").String(),
		Resource: v.Get("resource").String(),
		Provider: v.Get("provider").String(),
		Tool:     v.Get("tool").String(),
		Params:   map[string]any{},
	}
	if params := v.Get("params"); params.IsObject() {
		_ = json.Unmarshal([]byte(params.Raw), &intent.Params)
	}
	return intent, true
}

// stringField returns the field only when it is a JSON string; identifiers of
// any other JSON type are treated as absent.
func stringField(obj gjson.Result, path string) string {
	v := obj.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
