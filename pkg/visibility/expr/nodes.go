package expr

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/visibility"
)

type node interface {
	eval(ctx visibility.Context) (bool, error)
}

type orNode struct{ left, right node }

func (n orNode) eval(ctx visibility.Context) (bool, error) {
	ok, err := n.left.eval(ctx)
	if err != nil || ok {
		return ok, err
	}
	return n.right.eval(ctx)
}

type andNode struct{ left, right node }

func (n andNode) eval(ctx visibility.Context) (bool, error) {
	ok, err := n.left.eval(ctx)
	if err != nil || !ok {
		return false, err
	}
	return n.right.eval(ctx)
}

type notNode struct{ inner node }

func (n notNode) eval(ctx visibility.Context) (bool, error) {
	ok, err := n.inner.eval(ctx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

type truthyNode struct{ key string }

func (n truthyNode) eval(ctx visibility.Context) (bool, error) {
	value, ok := lookup(ctx, n.key)
	if !ok {
		return false, nil
	}
	return truthy(value), nil
}

type literalKind int

const (
	litString literalKind = iota
	litNumber
	litBool
	litNull
)

type literal struct {
	kind literalKind
	text string
	num  float64
}

type compareNode struct {
	key    string
	negate bool
	want   literal
}

func (n compareNode) eval(ctx visibility.Context) (bool, error) {
	value, _ := lookup(ctx, n.key)
	if items, ok := asList(value); ok && n.want.kind != litNull {
		found := false
		for _, item := range items {
			if matches(item, n.want) {
				found = true
				break
			}
		}
		return found != n.negate, nil
	}
	return matches(value, n.want) != n.negate, nil
}

type inNode struct {
	key     string
	options []literal
}

func (n inNode) eval(ctx visibility.Context) (bool, error) {
	value, _ := lookup(ctx, n.key)
	candidates := []any{value}
	if items, ok := asList(value); ok {
		candidates = items
	}
	for _, candidate := range candidates {
		for _, option := range n.options {
			if matches(candidate, option) {
				return true, nil
			}
		}
	}
	return false, nil
}

func matches(value any, want literal) bool {
	switch want.kind {
	case litNull:
		return isNil(value)
	case litBool:
		got, _ := coerceBool(value)
		return got == (want.text == "true")
	case litNumber:
		got, ok := coerceNumber(value)
		if !ok {
			return false
		}
		return got == want.num
	default:
		return coerceString(value) == want.text
	}
}

func lookup(ctx visibility.Context, key string) (any, bool) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false
	}
	if strings.HasPrefix(strings.ToLower(key), "extras.") {
		return lookupPath(ctx.Extras, strings.TrimSpace(key[len("extras."):]))
	}
	return lookupPath(ctx.Values, key)
}

func lookupPath(values map[string]any, path string) (any, bool) {
	if len(values) == 0 || path == "" {
		return nil, false
	}
	// Flat keys win so "director.idNumber" style keys resolve directly.
	if v, ok := values[path]; ok {
		return v, true
	}
	var current any = values
	for _, part := range strings.Split(path, ".") {
		switch typed := current.(type) {
		case map[string]any:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		case map[string]string:
			next, ok := typed[part]
			if !ok {
				return nil, false
			}
			current = next
		default:
			return nil, false
		}
	}
	return current, true
}

func asList(value any) ([]any, bool) {
	switch typed := value.(type) {
	case []any:
		return typed, true
	case []string:
		out := make([]any, len(typed))
		for i, v := range typed {
			out[i] = v
		}
		return out, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func truthy(value any) bool {
	if isNil(value) {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.TrimSpace(v) != ""
	case time.Time:
		return !v.IsZero()
	case fmt.Stringer:
		return strings.TrimSpace(v.String()) != ""
	}
	if n, ok := coerceNumber(value); ok {
		return n != 0
	}
	if items, ok := asList(value); ok {
		return len(items) > 0
	}
	if m, ok := value.(map[string]any); ok {
		return len(m) > 0
	}
	return true
}

func coerceBool(value any) (bool, bool) {
	switch v := value.(type) {
	case nil:
		return false, false
	case bool:
		return v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if parsed, err := strconv.ParseBool(trimmed); err == nil {
			return parsed, true
		}
		switch strings.ToLower(trimmed) {
		case "yes", "y", "on":
			return true, true
		case "no", "n", "off", "":
			return false, true
		}
		return true, true
	}
	return truthy(value), true
}

func coerceNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func coerceString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format("2006-01-02")
	}
	return fmt.Sprint(value)
}
