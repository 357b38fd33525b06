package schema

import (
	"fmt"
	"net/mail"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/visibility"
)

// MessageRequired is reported for required fields left empty.
const MessageRequired = "required"

// ValidationErrors maps field keys to the first failing message. It is the
// error returned by the Validate family.
type ValidationErrors map[string]string

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "schema: validation failed"
	}
	keys := e.Keys()
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e[key])
	}
	return "schema: validation failed: " + strings.Join(parts, "; ")
}

// Keys lists the failing keys in lexical order.
func (e ValidationErrors) Keys() []string {
	keys := make([]string, 0, len(e))
	for key := range e {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Validate checks every visible field. Hidden fields are exempt from every
// check, required included.
func (c *Compiled) Validate(state formstate.State) error {
	return c.validateKeys(c.allKeys(), state)
}

// ValidateStep checks only the visible fields assigned to step i.
func (c *Compiled) ValidateStep(i int, state formstate.State) error {
	return c.validateKeys(c.StepFields(i), state)
}

// ValidateField checks a single field; used for blur validation. It returns
// nil for hidden or unknown keys.
func (c *Compiled) ValidateField(key string, state formstate.State) error {
	if _, ok := c.index[key]; !ok {
		return nil
	}
	return c.validateKeys([]string{key}, state)
}

func (c *Compiled) allKeys() []string {
	keys := make([]string, len(c.schema.Fields))
	for i, field := range c.schema.Fields {
		keys[i] = field.Key
	}
	return keys
}

func (c *Compiled) validateKeys(keys []string, state formstate.State) error {
	ctx := visibility.Context{Values: state.VisibilityValues(), Extras: state.Extras()}
	memo := make(map[string]bool)
	errs := make(ValidationErrors)
	for _, key := range keys {
		if !c.visible(key, ctx, memo) {
			continue
		}
		field := c.schema.Fields[c.index[key]]
		value, _ := state.Get(key)
		if msg := c.checkField(field, value); msg != "" {
			errs[key] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

func (c *Compiled) checkField(field FieldSpec, value any) string {
	if formstate.IsEmpty(value) {
		if field.Required {
			return MessageRequired
		}
		return ""
	}
	if msg := checkKind(field, value); msg != "" {
		return msg
	}
	for i, rule := range field.Rules {
		if msg := c.checkRule(field, i, rule, value); msg != "" {
			if custom := strings.TrimSpace(rule.Params["message"]); custom != "" {
				return custom
			}
			return msg
		}
	}
	return ""
}

func checkKind(field FieldSpec, value any) string {
	switch field.Kind {
	case KindText:
		if _, ok := value.(string); !ok {
			return "must be text"
		}
	case KindNumber:
		if _, ok := value.(float64); !ok {
			return "must be a number"
		}
	case KindDate:
		if _, ok := value.(time.Time); !ok {
			return "must be a date"
		}
	case KindBoolean:
		if _, ok := value.(bool); !ok {
			return "must be yes or no"
		}
	case KindFile:
		switch value.(type) {
		case formstate.FileRef, []formstate.FileRef:
		default:
			return "must be a file"
		}
	case KindSingleChoice:
		s, ok := value.(string)
		if !ok || !field.HasOption(s) {
			return "must be one of the listed options"
		}
	case KindMultiChoice:
		list, ok := value.([]string)
		if !ok {
			return "must be a list of options"
		}
		for _, item := range list {
			if !field.HasOption(item) {
				return fmt.Sprintf("%q is not one of the listed options", item)
			}
		}
	}
	return ""
}

func (c *Compiled) checkRule(field FieldSpec, i int, rule Rule, value any) string {
	switch rule.Kind {
	case RuleMinLength:
		n, _ := strconv.Atoi(rule.Params["value"])
		if measure(value) < n {
			if field.Kind == KindMultiChoice {
				return fmt.Sprintf("select at least %d", n)
			}
			return fmt.Sprintf("must be at least %d characters", n)
		}
	case RuleMaxLength:
		n, _ := strconv.Atoi(rule.Params["value"])
		if measure(value) > n {
			if field.Kind == KindMultiChoice {
				return fmt.Sprintf("select at most %d", n)
			}
			return fmt.Sprintf("must be at most %d characters", n)
		}
	case RuleMin, RuleMax:
		return checkBound(field, rule, value)
	case RulePattern:
		re := c.patterns[ruleKey(field.Key, i)]
		if s, ok := value.(string); ok && re != nil && !re.MatchString(s) {
			return "has an invalid format"
		}
	case RuleEmail:
		s, _ := value.(string)
		addr, err := mail.ParseAddress(strings.TrimSpace(s))
		if err != nil || addr.Address != strings.TrimSpace(s) {
			return "must be a valid email address"
		}
	case RuleMaxSize:
		limit, _ := strconv.ParseInt(rule.Params["value"], 10, 64)
		for _, file := range files(value) {
			if file.Size > limit {
				return fmt.Sprintf("%s exceeds %d bytes", file.Name, limit)
			}
		}
	case RuleAccept:
		accepted := splitList(rule.Params["value"])
		for _, file := range files(value) {
			if !acceptsFile(accepted, file) {
				return fmt.Sprintf("%s is not an accepted file type", file.Name)
			}
		}
	case RuleCustom:
		fn := c.custom[field.Key+"\x00"+strings.TrimSpace(rule.Params["name"])]
		if fn == nil {
			return ""
		}
		if err := fn(value); err != nil {
			return err.Error()
		}
	}
	return ""
}

func checkBound(field FieldSpec, rule Rule, value any) string {
	raw := rule.Params["value"]
	if field.Kind == KindDate {
		when, ok := value.(time.Time)
		bound, err := parseDateBound(raw)
		if !ok || err != nil {
			return ""
		}
		day := truncateDay(when)
		if rule.Kind == RuleMin && day.Before(bound) {
			return "must be on or after " + bound.Format(formstate.DateLayout)
		}
		if rule.Kind == RuleMax && day.After(bound) {
			return "must be on or before " + bound.Format(formstate.DateLayout)
		}
		return ""
	}
	n, ok := value.(float64)
	bound, err := strconv.ParseFloat(raw, 64)
	if !ok || err != nil {
		return ""
	}
	if rule.Kind == RuleMin && n < bound {
		return "must be at least " + raw
	}
	if rule.Kind == RuleMax && n > bound {
		return "must be at most " + raw
	}
	return ""
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

// parseDateBound accepts DateLayout dates or the keyword "today".
func parseDateBound(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if strings.EqualFold(raw, "today") {
		return truncateDay(nowFunc()), nil
	}
	t, err := time.Parse(formstate.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date bound %q must be YYYY-MM-DD or today", raw)
	}
	return t, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func measure(value any) int {
	switch typed := value.(type) {
	case string:
		return utf8.RuneCountInString(strings.TrimSpace(typed))
	case []string:
		return len(typed)
	case []formstate.FileRef:
		return len(typed)
	}
	return 0
}

func files(value any) []formstate.FileRef {
	switch typed := value.(type) {
	case formstate.FileRef:
		return []formstate.FileRef{typed}
	case []formstate.FileRef:
		return typed
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// acceptsFile matches extensions (".pdf"), exact types ("application/pdf")
// and wildcards ("image/*").
func acceptsFile(accepted []string, file formstate.FileRef) bool {
	if len(accepted) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(file.Name))
	ct := strings.ToLower(file.ContentType)
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	for _, entry := range accepted {
		switch {
		case strings.HasPrefix(entry, "."):
			if ext == entry {
				return true
			}
		case strings.HasSuffix(entry, "/*"):
			if strings.HasPrefix(ct, strings.TrimSuffix(entry, "*")) {
				return true
			}
		case entry == ct:
			return true
		}
	}
	return false
}

// Empty reports whether value counts as unanswered.
func Empty(value any) bool {
	return formstate.IsEmpty(value)
}
