package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// OpenAPI vendor extensions read by ImportOpenAPI.
const (
	extVisibleWhen = "x-formflow-visible-when"
	extStep        = "x-formflow-step"
	extOrder       = "x-formflow-order"
	extValidator   = "x-formflow-validator"
	extWidget      = "x-formflow-widget"
)

const multipartMediaType = "multipart/form-data"

// ImportOpenAPI converts the multipart/form-data request body of one
// operation into a FormSchema. With an empty operationID the document must
// hold exactly one multipart operation. The result is compiled before it is
// returned.
func ImportOpenAPI(ctx context.Context, data []byte, operationID string) (schema.FormSchema, error) {
	if len(data) == 0 {
		return schema.FormSchema{}, errors.New("catalog: openapi document is empty")
	}
	loader := &openapi3.Loader{Context: ctx, IsExternalRefsAllowed: false}
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return schema.FormSchema{}, fmt.Errorf("catalog: load openapi document: %w", err)
	}

	op, id, err := findMultipartOperation(doc, strings.TrimSpace(operationID))
	if err != nil {
		return schema.FormSchema{}, err
	}
	body := op.RequestBody.Value.Content[multipartMediaType].Schema
	if body == nil || body.Value == nil {
		return schema.FormSchema{}, fmt.Errorf("catalog: operation %s has no multipart schema", id)
	}

	out := schema.FormSchema{
		ID:          id,
		Title:       op.Summary,
		Description: op.Description,
	}
	required := make(map[string]bool, len(body.Value.Required))
	for _, name := range body.Value.Required {
		required[name] = true
	}

	steps := make(map[string]bool)
	for _, name := range orderedProperties(body.Value.Properties) {
		if submission.IsReserved(name) {
			continue
		}
		field, err := convertProperty(name, body.Value.Properties[name], required[name])
		if err != nil {
			return schema.FormSchema{}, fmt.Errorf("catalog: operation %s: %w", id, err)
		}
		if field.Step != "" && !steps[field.Step] {
			steps[field.Step] = true
			out.Steps = append(out.Steps, schema.Step{ID: field.Step, Title: field.Step})
		}
		out.Fields = append(out.Fields, field)
	}
	if len(out.Steps) > 0 {
		for i := range out.Fields {
			if out.Fields[i].Step == "" {
				out.Fields[i].Step = out.Steps[0].ID
			}
		}
	}

	if _, err := schema.Compile(out); err != nil {
		return schema.FormSchema{}, fmt.Errorf("catalog: operation %s: %w", id, err)
	}
	return out, nil
}

func findMultipartOperation(doc *openapi3.T, operationID string) (*openapi3.Operation, string, error) {
	if doc.Paths == nil {
		return nil, "", errors.New("catalog: openapi document has no paths")
	}
	type candidate struct {
		id string
		op *openapi3.Operation
	}
	var found []candidate
	for path, item := range doc.Paths.Map() {
		if item == nil {
			continue
		}
		for method, op := range map[string]*openapi3.Operation{"post": item.Post, "put": item.Put, "patch": item.Patch} {
			if op == nil || op.RequestBody == nil || op.RequestBody.Value == nil {
				continue
			}
			if _, ok := op.RequestBody.Value.Content[multipartMediaType]; !ok {
				continue
			}
			id := op.OperationID
			if id == "" {
				id = method + ":" + path
			}
			found = append(found, candidate{id: id, op: op})
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })

	if operationID != "" {
		for _, c := range found {
			if c.id == operationID {
				return c.op, c.id, nil
			}
		}
		return nil, "", fmt.Errorf("catalog: openapi operation %q not found or not multipart", operationID)
	}
	switch len(found) {
	case 0:
		return nil, "", errors.New("catalog: openapi document has no multipart operations")
	case 1:
		return found[0].op, found[0].id, nil
	}
	ids := make([]string, len(found))
	for i, c := range found {
		ids[i] = c.id
	}
	return nil, "", fmt.Errorf("catalog: choose an operation: %s", strings.Join(ids, ", "))
}

// orderedProperties sorts by x-formflow-order, then name.
func orderedProperties(props openapi3.Schemas) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	order := func(name string) float64 {
		ref := props[name]
		if ref == nil || ref.Value == nil {
			return 0
		}
		switch v := ref.Value.Extensions[extOrder].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		}
		return 1e9
	}
	sort.SliceStable(names, func(i, j int) bool {
		oi, oj := order(names[i]), order(names[j])
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})
	return names
}

func convertProperty(name string, ref *openapi3.SchemaRef, required bool) (schema.FieldSpec, error) {
	if ref == nil || ref.Value == nil {
		return schema.FieldSpec{}, fmt.Errorf("property %q has no schema", name)
	}
	src := ref.Value
	field := schema.FieldSpec{
		Key:         name,
		Label:       src.Title,
		Help:        src.Description,
		Required:    required,
		VisibleWhen: stringExtension(src.Extensions, extVisibleWhen),
		Step:        stringExtension(src.Extensions, extStep),
	}
	if widget := stringExtension(src.Extensions, extWidget); widget != "" {
		field.Hints = map[string]string{"widget": widget}
	}

	typ := firstSchemaType(src.Type)
	switch {
	case typ == "string" && src.Format == "binary":
		field.Kind = schema.KindFile
	case typ == "array" && src.Items != nil && src.Items.Value != nil && src.Items.Value.Format == "binary":
		field.Kind = schema.KindFile
	case typ == "array" && src.Items != nil && src.Items.Value != nil && len(src.Items.Value.Enum) > 0:
		field.Kind = schema.KindMultiChoice
		field.Options = enumOptions(src.Items.Value.Enum)
		if src.MinItems > 0 {
			field.Rules = append(field.Rules, intRule(schema.RuleMinLength, int(src.MinItems)))
		}
		if src.MaxItems != nil {
			field.Rules = append(field.Rules, intRule(schema.RuleMaxLength, int(*src.MaxItems)))
		}
	case typ == "string" && len(src.Enum) > 0:
		field.Kind = schema.KindSingleChoice
		field.Options = enumOptions(src.Enum)
	case typ == "string" && (src.Format == "date" || src.Format == "date-time"):
		field.Kind = schema.KindDate
	case typ == "string":
		field.Kind = schema.KindText
		if src.Format == "email" {
			field.Rules = append(field.Rules, schema.Rule{Kind: schema.RuleEmail})
		}
		if src.MinLength != 0 {
			field.Rules = append(field.Rules, intRule(schema.RuleMinLength, int(src.MinLength)))
		}
		if src.MaxLength != nil {
			field.Rules = append(field.Rules, intRule(schema.RuleMaxLength, int(*src.MaxLength)))
		}
		if src.Pattern != "" {
			field.Rules = append(field.Rules, schema.Rule{Kind: schema.RulePattern, Params: map[string]string{"pattern": src.Pattern}})
		}
	case typ == "integer" || typ == "number":
		field.Kind = schema.KindNumber
		if src.Min != nil {
			field.Rules = append(field.Rules, floatRule(schema.RuleMin, *src.Min))
		}
		if src.Max != nil {
			field.Rules = append(field.Rules, floatRule(schema.RuleMax, *src.Max))
		}
	case typ == "boolean":
		field.Kind = schema.KindBoolean
	default:
		return schema.FieldSpec{}, fmt.Errorf("property %q has unsupported type %q", name, typ)
	}

	if validator := stringExtension(src.Extensions, extValidator); validator != "" {
		field.Rules = append(field.Rules, schema.Rule{Kind: schema.RuleCustom, Params: map[string]string{"name": validator}})
	}
	return field, nil
}

func firstSchemaType(types *openapi3.Types) string {
	if types == nil {
		return ""
	}
	values := types.Slice()
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func enumOptions(values []any) []schema.Option {
	out := make([]schema.Option, 0, len(values))
	for _, v := range values {
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		out = append(out, schema.Option{Value: s})
	}
	return out
}

func intRule(kind string, n int) schema.Rule {
	return schema.Rule{Kind: kind, Params: map[string]string{"value": strconv.Itoa(n)}}
}

func floatRule(kind string, f float64) schema.Rule {
	return schema.Rule{Kind: kind, Params: map[string]string{"value": strconv.FormatFloat(f, 'f', -1, 64)}}
}

func stringExtension(ext map[string]any, key string) string {
	s, _ := ext[key].(string)
	return strings.TrimSpace(s)
}
