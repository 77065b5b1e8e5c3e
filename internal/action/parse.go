package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Parse decodes and validates raw JSON of the form {"kind": ..., "payload": {...}}.
//
// Every violated constraint is reported, not just the first. Failures are a
// *ValidationError with Stage StageInput. Unknown payload fields are ignored.
func Parse(raw []byte) (Action, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || top == nil {
		return Action{}, inputError(Violation{Field: "", Message: "action must be a JSON object"})
	}

	var vs []Violation
	kind, kvs := parseKind(top["kind"])
	vs = append(vs, kvs...)

	payloadRaw, ok := top["payload"]
	if !ok || isNull(payloadRaw) {
		vs = append(vs, Violation{Field: "payload", Message: "payload is required"})
		return Action{}, inputError(vs...)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payloadRaw, &fields); err != nil {
		vs = append(vs, Violation{Field: "payload", Message: "payload must be an object"})
		return Action{}, inputError(vs...)
	}
	if len(kvs) > 0 {
		return Action{}, inputError(vs...)
	}

	payload, pvs := parsePayload(kind, fields)
	vs = append(vs, pvs...)
	if len(vs) > 0 {
		return Action{}, inputError(vs...)
	}
	return Action{Kind: kind, Payload: payload}, nil
}

// ParseValue validates an already-decoded action, such as a map built by a
// JSON-RPC layer. It is equivalent to Parse(json.Marshal(v)).
func ParseValue(v any) (Action, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Action{}, inputError(Violation{Field: "", Message: fmt.Sprintf("action is not JSON-encodable: %v", err)})
	}
	return Parse(raw)
}

// ParsePayload validates a payload for a kind already known to the caller,
// as in POST /actions/:kind.
func ParsePayload(kind Kind, rawPayload []byte) (Action, error) {
	if len(bytes.TrimSpace(rawPayload)) == 0 {
		rawPayload = []byte("{}")
	}
	if !json.Valid(rawPayload) {
		return Action{}, inputError(Violation{Field: "payload", Message: "payload must be an object"})
	}
	kindJSON, err := json.Marshal(string(kind))
	if err != nil {
		return Action{}, inputError(Violation{Field: "kind", Message: "kind must be a string"})
	}
	return Parse([]byte(`{"kind":` + string(kindJSON) + `,"payload":` + string(rawPayload) + `}`))
}

func parseKind(raw json.RawMessage) (Kind, []Violation) {
	if raw == nil || isNull(raw) {
		return "", []Violation{{Field: "kind", Message: "kind is required"}}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", []Violation{{Field: "kind", Message: "kind must be a string"}}
	}
	k := Kind(s)
	if !k.Valid() {
		names := make([]string, 0, 4)
		for _, known := range Kinds() {
			names = append(names, string(known))
		}
		return "", []Violation{{
			Field:   "kind",
			Message: fmt.Sprintf("kind must be one of %s (got %q)", strings.Join(names, ", "), s),
		}}
	}
	return k, nil
}

// field binds a payload key to its decode target.
type field struct {
	name   string
	target any
	want   string
}

// decodeFields decodes each present key into its target on its own so every
// type mismatch is reported. A JSON null counts as absent.
func decodeFields(obj map[string]json.RawMessage, fields ...field) []Violation {
	var vs []Violation
	for _, f := range fields {
		raw, ok := obj[f.name]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, f.target); err != nil {
			name := "payload." + f.name
			vs = append(vs, Violation{Field: name, Message: fmt.Sprintf("%s must be %s", name, f.want)})
		}
	}
	return vs
}

func parsePayload(kind Kind, obj map[string]json.RawMessage) (Payload, []Violation) {
	var (
		p  Payload
		vs []Violation
	)
	switch kind {
	case KindHello:
		var hp HelloPayload
		vs = decodeFields(obj, field{"name", &hp.Name, "a string"})
		p = hp
	case KindCaptureThought:
		var cp CaptureThoughtPayload
		vs = decodeFields(obj,
			field{"text", &cp.Text, "a string"},
			field{"tags", &cp.Tags, "an array of strings"},
		)
		p = cp
	case KindQueryNodes:
		var qp QueryNodesPayload
		vs = decodeFields(obj,
			field{"filter", &qp.Filter, "an object"},
			field{"limit", &qp.Limit, "a number"},
		)
		p = qp
	case KindVectorSearch:
		var sp VectorSearchPayload
		vs = decodeFields(obj,
			field{"query", &sp.Query, "a string"},
			field{"limit", &sp.Limit, "a number"},
		)
		p = sp
	default:
		return nil, []Violation{{Field: "kind", Message: fmt.Sprintf("kind %q has no payload schema", kind)}}
	}

	vs = append(vs, constraintViolations(p, vs)...)
	return p, vs
}

// constraintViolations runs tag validation, skipping fields that already
// failed to decode so each field is reported once.
func constraintViolations(p Payload, decodeErrs []Violation) []Violation {
	failed := make(map[string]bool, len(decodeErrs))
	for _, v := range decodeErrs {
		failed[v.Field] = true
	}
	var out []Violation
	for _, v := range checkStruct("payload", p) {
		if !failed[v.Field] {
			out = append(out, v)
		}
	}
	return out
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func inputError(vs ...Violation) *ValidationError {
	return &ValidationError{Stage: StageInput, Violations: vs}
}
