package schema

import "strings"

// FieldKind enumerates the input kinds a schema field can declare.
type FieldKind string

const (
	KindText         FieldKind = "text"
	KindNumber       FieldKind = "number"
	KindDate         FieldKind = "date"
	KindFile         FieldKind = "file"
	KindSingleChoice FieldKind = "singleChoice"
	KindMultiChoice  FieldKind = "multiChoice"
	KindBoolean      FieldKind = "boolean"
)

// Valid reports whether k is a known kind.
func (k FieldKind) Valid() bool {
	switch k {
	case KindText, KindNumber, KindDate, KindFile, KindSingleChoice, KindMultiChoice, KindBoolean:
		return true
	}
	return false
}

// HasOptions reports whether the kind selects from declared options.
func (k FieldKind) HasOptions() bool {
	return k == KindSingleChoice || k == KindMultiChoice
}

const (
	RuleMinLength = "minLength"
	RuleMaxLength = "maxLength"
	RuleMin       = "min"
	RuleMax       = "max"
	RulePattern   = "pattern"
	RuleEmail     = "email"
	RuleMaxSize   = "maxSize"
	RuleAccept    = "accept"
	RuleCustom    = "custom"
)

// Rule is a single validation constraint. Thresholds live in
// Params["value"], regular expressions in Params["pattern"], named validators
// in Params["name"]. Params["message"] overrides the default message.
type Rule struct {
	Kind   string            `json:"kind" yaml:"kind"`
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
}

// Option is one selectable answer of a choice field.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
}

// DisplayLabel falls back to the value when no label is set.
func (o Option) DisplayLabel() string {
	if strings.TrimSpace(o.Label) != "" {
		return o.Label
	}
	return o.Value
}

// FieldSpec declares one input. VisibleWhen holds a visibility rule (see
// package visibility/expr); an empty rule means always visible. Step names the
// wizard step the field belongs to; empty means the first step.
type FieldSpec struct {
	Key         string            `json:"key" yaml:"key"`
	Kind        FieldKind         `json:"kind" yaml:"kind"`
	Label       string            `json:"label,omitempty" yaml:"label,omitempty"`
	Help        string            `json:"help,omitempty" yaml:"help,omitempty"`
	Placeholder string            `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Required    bool              `json:"required,omitempty" yaml:"required,omitempty"`
	Options     []Option          `json:"options,omitempty" yaml:"options,omitempty"`
	Rules       []Rule            `json:"rules,omitempty" yaml:"rules,omitempty"`
	VisibleWhen string            `json:"visibleWhen,omitempty" yaml:"visibleWhen,omitempty"`
	Step        string            `json:"step,omitempty" yaml:"step,omitempty"`
	Hints       map[string]string `json:"hints,omitempty" yaml:"hints,omitempty"`
}

// DisplayLabel falls back to the key when no label is set.
func (f FieldSpec) DisplayLabel() string {
	if strings.TrimSpace(f.Label) != "" {
		return f.Label
	}
	return f.Key
}

// HasOption reports whether value is one of the declared options.
func (f FieldSpec) HasOption(value string) bool {
	for _, opt := range f.Options {
		if opt.Value == value {
			return true
		}
	}
	return false
}

// Step groups fields of a multi-step form.
type Step struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title,omitempty" yaml:"title,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// FormSchema is the declarative, behaviour-free description of one form.
type FormSchema struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step      `json:"steps,omitempty" yaml:"steps,omitempty"`
	Fields      []FieldSpec `json:"fields" yaml:"fields"`
}

// ServiceDefinition is a static catalog entry. Collection selects the record
// collection the gateway writes submissions into; SubmitPath optionally
// overrides the generic submission endpoint.
type ServiceDefinition struct {
	ID          int    `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Slug        string `json:"slug,omitempty" yaml:"slug,omitempty"`
	Collection  string `json:"collection" yaml:"collection"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	SchemaRef   string `json:"schema" yaml:"schema"`
	SubmitPath  string `json:"submitPath,omitempty" yaml:"submitPath,omitempty"`
}

// FormID is the identifier sent with every submission of this service.
func (d ServiceDefinition) FormID() string {
	if d.Slug != "" {
		return d.Slug
	}
	return d.SchemaRef
}
