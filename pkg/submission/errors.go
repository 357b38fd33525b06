package submission

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// FieldErrors splits a gateway rejection into messages for schema fields and
// messages that belong to the form as a whole.
type FieldErrors struct {
	Fields map[string][]string
	Form   []string
}

// Empty reports whether nothing was mapped.
func (e FieldErrors) Empty() bool {
	return len(e.Fields) == 0 && len(e.Form) == 0
}

// First returns the first message per field, the shape the renderers show
// inline.
func (e FieldErrors) First() map[string]string {
	if len(e.Fields) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.Fields))
	for key, messages := range e.Fields {
		if len(messages) > 0 {
			out[key] = messages[0]
		}
	}
	return out
}

// FieldErrorsFrom extracts field errors from a TransportError body. It
// returns false when err is not a transport error or carries no decodable
// errors object.
func FieldErrorsFrom(compiled *schema.Compiled, err error) (FieldErrors, bool) {
	te, ok := gateway.AsTransportError(err)
	if !ok || te.Status == 0 || len(te.Body) == 0 {
		return FieldErrors{}, false
	}
	payload, ok := decodeErrorBody(te.Body)
	if !ok {
		return FieldErrors{}, false
	}
	mapped := MapFieldErrors(compiled, payload)
	return mapped, !mapped.Empty()
}

// decodeErrorBody accepts {"errors": {path: [msg...]}} and {"errors": {path: msg}}.
func decodeErrorBody(body []byte) (map[string][]string, bool) {
	var envelope struct {
		Errors map[string]json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Errors) == 0 {
		return nil, false
	}
	out := make(map[string][]string, len(envelope.Errors))
	for path, raw := range envelope.Errors {
		var list []string
		if err := json.Unmarshal(raw, &list); err == nil {
			out[path] = list
			continue
		}
		var single string
		if err := json.Unmarshal(raw, &single); err == nil {
			out[path] = []string{single}
		}
	}
	return out, len(out) > 0
}

// MapFieldErrors normalises gateway error paths ("#/fields/vatNumber",
// "body.taxTypes[1]", "/data/companyName") onto schema keys. Unknown paths
// become form-level messages so nothing is lost.
func MapFieldErrors(compiled *schema.Compiled, payload map[string][]string) FieldErrors {
	mapping := FieldErrors{Fields: make(map[string][]string)}
	if len(payload) == 0 {
		mapping.Fields = nil
		return mapping
	}

	keys := make(map[string]struct{})
	if compiled != nil {
		for _, field := range compiled.Fields() {
			keys[field.Key] = struct{}{}
		}
	}

	for rawPath, messages := range payload {
		normalized := normalizeMessages(messages)
		if len(normalized) == 0 {
			continue
		}
		key := mapErrorPath(rawPath, keys)
		if key == "" {
			mapping.Form = append(mapping.Form, normalized...)
			continue
		}
		mapping.Fields[key] = normalizeMessages(append(mapping.Fields[key], normalized...))
	}

	if len(mapping.Fields) == 0 {
		mapping.Fields = nil
	}
	mapping.Form = normalizeMessages(mapping.Form)
	return mapping
}

func normalizeMessages(messages []string) []string {
	if len(messages) == 0 {
		return nil
	}
	out := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	for _, message := range messages {
		trimmed := strings.TrimSpace(message)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// mapErrorPath returns the first path segment naming a schema key once
// wrapper segments and array indices are dropped.
func mapErrorPath(raw string, keys map[string]struct{}) string {
	if isFormLevelKey(raw) {
		return ""
	}
	for _, segment := range dropWrapperSegments(parsePathSegments(raw)) {
		if _, err := strconv.Atoi(segment); err == nil {
			continue
		}
		if _, ok := keys[segment]; ok {
			return segment
		}
	}
	return ""
}

func parsePathSegments(path string) []string {
	clean := strings.TrimSpace(path)
	for strings.HasPrefix(clean, "#") || strings.HasPrefix(clean, "/") || strings.HasPrefix(clean, ".") || strings.HasPrefix(clean, "$") {
		clean = strings.TrimLeft(clean, "#/.$")
	}
	replacer := strings.NewReplacer("[", ".", "]", "")
	clean = strings.Trim(replacer.Replace(clean), "./")
	if clean == "" {
		return nil
	}
	parts := strings.FieldsFunc(clean, func(r rune) bool {
		return r == '.' || r == '/'
	})
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		segment := strings.TrimSpace(part)
		if segment == "" {
			continue
		}
		segment = strings.ReplaceAll(segment, "~1", "/")
		segment = strings.ReplaceAll(segment, "~0", "~")
		out = append(out, segment)
	}
	return out
}

var wrapperSegments = map[string]struct{}{
	"body":       {},
	"request":    {},
	"payload":    {},
	"data":       {},
	"fields":     {},
	"attributes": {},
}

func dropWrapperSegments(segments []string) []string {
	out := segments
	for len(out) > 0 {
		if _, ok := wrapperSegments[strings.ToLower(out[0])]; !ok {
			break
		}
		out = out[1:]
	}
	return out
}

func isFormLevelKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "", ".", "/", "#", "$", "form", "__all__", "non_field_errors", "non-field-errors":
		return true
	}
	return false
}
