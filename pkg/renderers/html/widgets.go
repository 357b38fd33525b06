package html

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-formflow/pkg/schema"
)

// Built-in widget identifiers.
const (
	WidgetText      = "text"
	WidgetEmail     = "email"
	WidgetTextarea  = "textarea"
	WidgetNumber    = "number"
	WidgetDate      = "date"
	WidgetFile      = "file"
	WidgetToggle    = "toggle"
	WidgetSelect    = "select"
	WidgetRadio     = "radio"
	WidgetChecklist = "checklist"
)

// Field hints read by the renderer.
const (
	HintWidget   = "widget"
	HintMultiple = "multiple"
)

// radioLimit is the largest option count rendered as radio buttons.
const radioLimit = 4

// textareaThreshold is the maxLength above which text renders as a textarea.
const textareaThreshold = 200

// Matcher decides whether a widget should render field.
type Matcher func(field schema.FieldSpec) bool

type rule struct {
	name     string
	priority int
	match    Matcher
	order    int
}

// Widgets selects the widget for each field. Higher priority wins; ties fall
// back to registration order. A field hint overrides every matcher.
type Widgets struct {
	mu    sync.RWMutex
	rules []rule
}

// NewWidgets returns a registry with the built-in matchers.
func NewWidgets() *Widgets {
	w := &Widgets{}
	w.registerBuiltins()
	return w
}

// Register adds a matcher under name.
func (w *Widgets) Register(name string, priority int, matcher Matcher) {
	if w == nil || matcher == nil {
		return
	}
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rules = append(w.rules, rule{name: trimmed, priority: priority, match: matcher, order: len(w.rules)})
}

// Resolve returns the widget for field, falling back to WidgetText.
func (w *Widgets) Resolve(field schema.FieldSpec) string {
	if explicit := strings.TrimSpace(field.Hints[HintWidget]); explicit != "" {
		return explicit
	}
	if w == nil {
		return WidgetText
	}
	w.mu.RLock()
	rules := append([]rule(nil), w.rules...)
	w.mu.RUnlock()
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].priority == rules[j].priority {
			return rules[i].order < rules[j].order
		}
		return rules[i].priority > rules[j].priority
	})
	for _, entry := range rules {
		if entry.match(field) {
			return entry.name
		}
	}
	return WidgetText
}

func (w *Widgets) registerBuiltins() {
	w.Register(WidgetToggle, 90, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindBoolean
	})
	w.Register(WidgetChecklist, 80, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindMultiChoice
	})
	w.Register(WidgetRadio, 75, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindSingleChoice && len(field.Options) <= radioLimit
	})
	w.Register(WidgetSelect, 70, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindSingleChoice
	})
	w.Register(WidgetFile, 65, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindFile
	})
	w.Register(WidgetDate, 60, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindDate
	})
	w.Register(WidgetNumber, 60, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindNumber
	})
	w.Register(WidgetEmail, 55, func(field schema.FieldSpec) bool {
		return field.Kind == schema.KindText && hasRule(field, schema.RuleEmail)
	})
	w.Register(WidgetTextarea, 50, func(field schema.FieldSpec) bool {
		if field.Kind != schema.KindText {
			return false
		}
		for _, r := range field.Rules {
			if r.Kind != schema.RuleMaxLength {
				continue
			}
			n, err := strconv.Atoi(r.Params["value"])
			return err == nil && n > textareaThreshold
		}
		return false
	})
}

func hasRule(field schema.FieldSpec, kind string) bool {
	for _, r := range field.Rules {
		if r.Kind == kind {
			return true
		}
	}
	return false
}
