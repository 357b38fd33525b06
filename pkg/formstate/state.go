// Package formstate holds the answers of one form instance. A State is an
// immutable snapshot; every change produces a new State so a failed
// submission can always hand back exactly what the customer entered.
package formstate

import (
	"reflect"
	"sort"
	"strings"
	"time"
)

// DateLayout is the wire and display layout for date answers.
const DateLayout = "2006-01-02"

// State maps field keys to answers. Supported value types are string,
// float64, bool, time.Time, []string, FileRef and []FileRef.
//
// A State may also carry extras: context about the customer that visibility
// rules read via `extras.` but that is never part of the answers.
type State struct {
	values map[string]any
	extras map[string]any
}

// New seeds a State with a copy of initial.
func New(initial map[string]any) State {
	if len(initial) == 0 {
		return State{}
	}
	values := make(map[string]any, len(initial))
	for key, value := range initial {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = copyValue(value)
	}
	return State{values: values}
}

// Get returns the answer stored under key.
func (s State) Get(key string) (any, bool) {
	value, ok := s.values[key]
	return value, ok
}

// String returns the answer as a string when it is one.
func (s State) String(key string) string {
	value, _ := s.values[key].(string)
	return value
}

// With returns a new State with key set to value. A nil value removes the key.
func (s State) With(key string, value any) State {
	next := make(map[string]any, len(s.values)+1)
	for k, v := range s.values {
		next[k] = v
	}
	if value == nil {
		delete(next, key)
	} else {
		next[key] = copyValue(value)
	}
	return State{values: next, extras: s.extras}
}

// WithExtras returns a new State carrying a copy of extras in place of the
// current ones. Answers are shared.
func (s State) WithExtras(extras map[string]any) State {
	var next map[string]any
	if len(extras) > 0 {
		next = make(map[string]any, len(extras))
		for key, value := range extras {
			next[key] = copyValue(value)
		}
	}
	return State{values: s.values, extras: next}
}

// Extras returns a copy of the caller supplied context.
func (s State) Extras() map[string]any {
	if len(s.extras) == 0 {
		return nil
	}
	out := make(map[string]any, len(s.extras))
	for key, value := range s.extras {
		out[key] = copyValue(value)
	}
	return out
}

// Values returns a copy of the answers.
func (s State) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for key, value := range s.values {
		out[key] = copyValue(value)
	}
	return out
}

// Keys lists the answered keys in lexical order.
func (s State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Len reports the number of stored answers.
func (s State) Len() int {
	return len(s.values)
}

// Equal reports whether both snapshots carry the same answers. Files compare
// by name, content type and size; extras are ignored.
func (s State) Equal(other State) bool {
	if len(s.values) != len(other.values) {
		return false
	}
	for key, value := range s.values {
		otherValue, ok := other.values[key]
		if !ok || !equalValue(value, otherValue) {
			return false
		}
	}
	return true
}

// VisibilityValues flattens answers into the plain shapes understood by the
// visibility rule language: files become their names and dates become
// DateLayout strings.
func (s State) VisibilityValues() map[string]any {
	out := make(map[string]any, len(s.values))
	for key, value := range s.values {
		switch typed := value.(type) {
		case FileRef:
			if typed.IsZero() {
				continue
			}
			out[key] = typed.Name
		case []FileRef:
			names := make([]string, 0, len(typed))
			for _, file := range typed {
				if !file.IsZero() {
					names = append(names, file.Name)
				}
			}
			out[key] = names
		case time.Time:
			if typed.IsZero() {
				continue
			}
			out[key] = typed.Format(DateLayout)
		default:
			out[key] = copyValue(value)
		}
	}
	return out
}

// IsEmpty reports whether an answer counts as "not provided".
func IsEmpty(value any) bool {
	switch typed := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(typed) == ""
	case []string:
		for _, v := range typed {
			if strings.TrimSpace(v) != "" {
				return false
			}
		}
		return true
	case []any:
		return len(typed) == 0
	case FileRef:
		return typed.IsZero()
	case []FileRef:
		for _, file := range typed {
			if !file.IsZero() {
				return false
			}
		}
		return true
	case time.Time:
		return typed.IsZero()
	}
	return false
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case []string:
		return append([]string(nil), typed...)
	case []FileRef:
		return append([]FileRef(nil), typed...)
	case []any:
		return append([]any(nil), typed...)
	}
	return value
}

func equalValue(a, b any) bool {
	switch left := a.(type) {
	case FileRef:
		right, ok := b.(FileRef)
		return ok && left.sameFile(right)
	case []FileRef:
		right, ok := b.([]FileRef)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !left[i].sameFile(right[i]) {
				return false
			}
		}
		return true
	case []string:
		right, ok := b.([]string)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if left[i] != right[i] {
				return false
			}
		}
		return true
	case time.Time:
		right, ok := b.(time.Time)
		return ok && left.Equal(right)
	case []any:
		right, ok := b.([]any)
		if !ok || len(left) != len(right) {
			return false
		}
		for i := range left {
			if !equalValue(left[i], right[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}
