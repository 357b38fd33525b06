package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/visibility"
	"github.com/goliatone/go-formflow/pkg/visibility/expr"
)

// DefaultStepID names the implicit step of single-page forms.
const DefaultStepID = "main"

var (
	errSchemaIDMissing = errors.New("schema: id is required")
	errNoFields        = errors.New("schema: at least one field is required")
)

// CompileOption customises Compile.
type CompileOption func(*compileConfig)

type compileConfig struct {
	validators *Validators
}

// WithValidators resolves `custom` rules against reg instead of the default
// registry.
func WithValidators(reg *Validators) CompileOption {
	return func(cfg *compileConfig) {
		if reg != nil {
			cfg.validators = reg
		}
	}
}

// Compiled is a checked schema ready for evaluation. It is immutable and safe
// for concurrent use; all state lives in the formstate.State passed in.
type Compiled struct {
	schema    FormSchema
	index     map[string]int
	programs  map[string]*expr.Program
	patterns  map[string]*regexp.Regexp
	custom    map[string]ValidatorFunc
	steps     []Step
	stepByID  map[string]int
	stepField [][]string
}

// Compile validates the structure of s and pre-compiles its rules. Forward
// references in visibleWhen are allowed; references to undeclared keys and
// dependency cycles are rejected.
func Compile(s FormSchema, opts ...CompileOption) (*Compiled, error) {
	cfg := compileConfig{validators: DefaultValidators()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	if strings.TrimSpace(s.ID) == "" {
		return nil, errSchemaIDMissing
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("%w (schema %s)", errNoFields, s.ID)
	}

	c := &Compiled{
		schema:   s,
		index:    make(map[string]int, len(s.Fields)),
		programs: make(map[string]*expr.Program),
		patterns: make(map[string]*regexp.Regexp),
		custom:   make(map[string]ValidatorFunc),
		stepByID: make(map[string]int),
	}

	c.steps = append([]Step(nil), s.Steps...)
	if len(c.steps) == 0 {
		c.steps = []Step{{ID: DefaultStepID, Title: s.Title}}
	}
	for i, step := range c.steps {
		id := strings.TrimSpace(step.ID)
		if id == "" {
			return nil, fmt.Errorf("schema %s: step %d has an empty id", s.ID, i)
		}
		if _, dup := c.stepByID[id]; dup {
			return nil, fmt.Errorf("schema %s: duplicate step %q", s.ID, id)
		}
		c.stepByID[id] = i
	}
	c.stepField = make([][]string, len(c.steps))

	for i, field := range s.Fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			return nil, fmt.Errorf("schema %s: field %d has an empty key", s.ID, i)
		}
		if key != field.Key {
			return nil, fmt.Errorf("schema %s: field key %q has surrounding whitespace", s.ID, field.Key)
		}
		if _, dup := c.index[key]; dup {
			return nil, fmt.Errorf("schema %s: duplicate field key %q", s.ID, key)
		}
		if !field.Kind.Valid() {
			return nil, fmt.Errorf("schema %s: field %q has unknown kind %q", s.ID, key, field.Kind)
		}
		if field.Kind.HasOptions() && len(field.Options) == 0 {
			return nil, fmt.Errorf("schema %s: choice field %q declares no options", s.ID, key)
		}
		c.index[key] = i

		stepIdx := 0
		if field.Step != "" {
			idx, ok := c.stepByID[field.Step]
			if !ok {
				return nil, fmt.Errorf("schema %s: field %q references unknown step %q", s.ID, key, field.Step)
			}
			stepIdx = idx
		}
		c.stepField[stepIdx] = append(c.stepField[stepIdx], key)

		if rule := strings.TrimSpace(field.VisibleWhen); rule != "" {
			prog, err := expr.Compile(rule)
			if err != nil {
				return nil, fmt.Errorf("schema %s: field %q visibleWhen: %w", s.ID, key, err)
			}
			c.programs[key] = prog
		}
		if err := c.compileRules(field, cfg.validators); err != nil {
			return nil, fmt.Errorf("schema %s: %w", s.ID, err)
		}
	}

	if err := c.checkReferences(); err != nil {
		return nil, fmt.Errorf("schema %s: %w", s.ID, err)
	}
	return c, nil
}

// MustCompile is Compile for schemas known to be valid.
func MustCompile(s FormSchema, opts ...CompileOption) *Compiled {
	c, err := Compile(s, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Compiled) compileRules(field FieldSpec, validators *Validators) error {
	for i, rule := range field.Rules {
		switch rule.Kind {
		case RuleMinLength, RuleMaxLength, RuleMaxSize:
			if _, err := strconv.Atoi(rule.Params["value"]); err != nil {
				return fmt.Errorf("field %q rule %s: value must be an integer", field.Key, rule.Kind)
			}
		case RuleMin, RuleMax:
			raw := rule.Params["value"]
			if field.Kind == KindDate {
				if _, err := parseDateBound(raw); err != nil {
					return fmt.Errorf("field %q rule %s: %w", field.Key, rule.Kind, err)
				}
				continue
			}
			if _, err := strconv.ParseFloat(raw, 64); err != nil {
				return fmt.Errorf("field %q rule %s: value must be a number", field.Key, rule.Kind)
			}
		case RulePattern:
			re, err := regexp.Compile(rule.Params["pattern"])
			if err != nil {
				return fmt.Errorf("field %q rule pattern: %w", field.Key, err)
			}
			c.patterns[ruleKey(field.Key, i)] = re
		case RuleEmail, RuleAccept:
		case RuleCustom:
			name := strings.TrimSpace(rule.Params["name"])
			fn, ok := validators.Lookup(name)
			if !ok {
				return fmt.Errorf("field %q references unknown validator %q", field.Key, name)
			}
			c.custom[field.Key+"\x00"+name] = fn
		default:
			return fmt.Errorf("field %q has unknown rule %q", field.Key, rule.Kind)
		}
	}
	return nil
}

// ruleKey addresses the i-th rule of a field; a field may carry several
// rules of the same kind.
func ruleKey(key string, i int) string {
	return key + "\x00" + strconv.Itoa(i)
}

// checkReferences rejects visibility rules that read undeclared keys and
// cycles such as a -> b -> a.
func (c *Compiled) checkReferences() error {
	for key, prog := range c.programs {
		for _, ref := range prog.Refs() {
			if _, ok := c.index[ref]; !ok {
				return fmt.Errorf("field %q visibleWhen references unknown field %q", key, ref)
			}
			if ref == key {
				return fmt.Errorf("field %q visibleWhen references itself", key)
			}
		}
	}

	const (
		unvisited = iota
		active
		done
	)
	marks := make(map[string]int, len(c.programs))
	var visit func(key string, path []string) error
	visit = func(key string, path []string) error {
		switch marks[key] {
		case active:
			return fmt.Errorf("visibility cycle %s", strings.Join(append(path, key), " -> "))
		case done:
			return nil
		}
		marks[key] = active
		for _, ref := range c.programs[key].Refs() {
			if _, conditional := c.programs[ref]; !conditional {
				continue
			}
			if err := visit(ref, append(path, key)); err != nil {
				return err
			}
		}
		marks[key] = done
		return nil
	}
	for _, field := range c.schema.Fields {
		if _, ok := c.programs[field.Key]; !ok {
			continue
		}
		if err := visit(field.Key, nil); err != nil {
			return err
		}
	}
	return nil
}

// Schema returns the source schema.
func (c *Compiled) Schema() FormSchema {
	return c.schema
}

// ID returns the schema id.
func (c *Compiled) ID() string {
	return c.schema.ID
}

// Fields returns the declared fields in order.
func (c *Compiled) Fields() []FieldSpec {
	return append([]FieldSpec(nil), c.schema.Fields...)
}

// Field looks up a field by key.
func (c *Compiled) Field(key string) (FieldSpec, bool) {
	idx, ok := c.index[key]
	if !ok {
		return FieldSpec{}, false
	}
	return c.schema.Fields[idx], true
}

// Steps returns the wizard steps; single-page schemas report one implicit step.
func (c *Compiled) Steps() []Step {
	return append([]Step(nil), c.steps...)
}

// StepCount reports the number of steps, always at least one.
func (c *Compiled) StepCount() int {
	return len(c.steps)
}

// StepFields lists the keys assigned to step i in declaration order.
func (c *Compiled) StepFields(i int) []string {
	if i < 0 || i >= len(c.stepField) {
		return nil
	}
	return append([]string(nil), c.stepField[i]...)
}

// Visible reports whether key is shown for state. A field is visible when
// its own rule holds and every conditional field the rule reads is visible
// itself. Unknown keys are not visible.
func (c *Compiled) Visible(key string, state formstate.State) bool {
	if _, ok := c.index[key]; !ok {
		return false
	}
	ctx := visibility.Context{Values: state.VisibilityValues(), Extras: state.Extras()}
	return c.visible(key, ctx, make(map[string]bool))
}

// VisibleSet evaluates every field at once.
func (c *Compiled) VisibleSet(state formstate.State) map[string]bool {
	ctx := visibility.Context{Values: state.VisibilityValues(), Extras: state.Extras()}
	memo := make(map[string]bool, len(c.schema.Fields))
	out := make(map[string]bool, len(c.schema.Fields))
	for _, field := range c.schema.Fields {
		out[field.Key] = c.visible(field.Key, ctx, memo)
	}
	return out
}

func (c *Compiled) visible(key string, ctx visibility.Context, memo map[string]bool) bool {
	if v, ok := memo[key]; ok {
		return v
	}
	prog, conditional := c.programs[key]
	if !conditional {
		memo[key] = true
		return true
	}
	result, err := prog.Eval(ctx)
	if err != nil {
		result = false
	}
	if result {
		for _, ref := range prog.Refs() {
			if !c.visible(ref, ctx, memo) {
				result = false
				break
			}
		}
	}
	memo[key] = result
	return result
}
