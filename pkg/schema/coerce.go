package schema

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-formflow/pkg/formstate"
)

// Coerce parses raw text input into the value type stored for kind. Blank
// input coerces to nil so callers can clear an answer. File fields cannot be
// coerced from text.
func Coerce(kind FieldKind, raw string) (any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" && kind != KindBoolean {
		return nil, nil
	}
	switch kind {
	case KindText, KindSingleChoice:
		return raw, nil
	case KindNumber:
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return nil, fmt.Errorf("schema: %q is not a number", raw)
		}
		return n, nil
	case KindDate:
		t, err := time.Parse(formstate.DateLayout, trimmed)
		if err != nil {
			return nil, fmt.Errorf("schema: %q is not a date (YYYY-MM-DD)", raw)
		}
		return t, nil
	case KindBoolean:
		return parseBool(trimmed)
	case KindMultiChoice:
		var out []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case KindFile:
		return nil, fmt.Errorf("schema: file answers cannot be typed as text")
	}
	return nil, fmt.Errorf("schema: unknown kind %q", kind)
}

func parseBool(raw string) (any, error) {
	switch strings.ToLower(raw) {
	case "", "no", "n", "off":
		return false, nil
	case "yes", "y", "on":
		return true, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, fmt.Errorf("schema: %q is not yes or no", raw)
	}
	return b, nil
}
