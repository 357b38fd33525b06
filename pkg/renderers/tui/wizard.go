// Package tui walks a customer through a form session on the terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Navigation choices offered at the end of each step.
const (
	choiceContinue = "Continue"
	choiceSubmit   = "Submit"
	choiceBack     = "Go back"
)

// hintMultiple marks file fields that take several uploads.
const hintMultiple = "multiple"

// Theme carries optional message prefixes.
type Theme struct {
	InfoPrefix  string
	ErrorPrefix string
}

// FileLoader turns a path typed by the customer into an attachment.
type FileLoader func(path string) (formstate.FileRef, error)

// Option configures a Wizard.
type Option func(*Wizard)

// WithPromptDriver overrides the survey driver.
func WithPromptDriver(driver PromptDriver) Option {
	return func(w *Wizard) {
		if driver != nil {
			w.driver = driver
		}
	}
}

// WithTheme applies message prefixes.
func WithTheme(theme Theme) Option {
	return func(w *Wizard) {
		w.theme = theme
	}
}

// WithFileLoader swaps how file answers are read; the default reads from disk.
func WithFileLoader(fn FileLoader) Option {
	return func(w *Wizard) {
		if fn != nil {
			w.loadFile = fn
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(w *Wizard) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// Wizard prompts for each visible field of the current step, advances with
// the session's step validation and submits on the final step.
type Wizard struct {
	driver   PromptDriver
	theme    Theme
	loadFile FileLoader
	logger   *zap.Logger
}

// New builds a wizard; without WithPromptDriver it prompts on stdin/stdout.
func New(opts ...Option) *Wizard {
	w := &Wizard{
		driver:   NewSurveyDriver(nil),
		theme:    Theme{ErrorPrefix: "! "},
		loadFile: formstate.FileFromPath,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Run drives sess until the gateway accepts the submission, the customer
// aborts or declines to retry a failed submission. A transport failure keeps
// every answer and offers a resubmission.
func (w *Wizard) Run(ctx context.Context, sess *form.Session) (form.Outcome, error) {
	if ctx == nil {
		return form.OutcomeInvalid, errors.New("tui: context is required")
	}
	if sess == nil {
		return form.OutcomeInvalid, errors.New("tui: session is required")
	}
	compiled := sess.Schema()
	if err := w.info(ctx, sess.Service().Name); err != nil {
		return form.OutcomeInvalid, err
	}

	var only map[string]bool
	for {
		if err := ctx.Err(); err != nil {
			return form.OutcomeInvalid, err
		}
		step := sess.Step()
		if sess.StepCount() > 1 && only == nil {
			title := compiled.Steps()[step].Title
			if title == "" {
				title = compiled.Steps()[step].ID
			}
			if err := w.info(ctx, fmt.Sprintf("Step %d of %d: %s", step+1, sess.StepCount(), title)); err != nil {
				return form.OutcomeInvalid, err
			}
		}

		keys := compiled.StepFields(step)
		if only != nil {
			keys = orderedSubset(compiled, only)
		}
		for _, key := range keys {
			if !compiled.Visible(key, sess.State()) {
				continue
			}
			if err := w.promptUntilValid(ctx, sess, key); err != nil {
				return form.OutcomeInvalid, err
			}
		}
		only = nil

		choice, err := w.navigate(ctx, sess)
		if err != nil {
			return form.OutcomeInvalid, err
		}
		switch choice {
		case choiceBack:
			sess.PrevStep()
			continue
		case choiceContinue:
			if err := sess.NextStep(); err != nil {
				only, err = w.reportInvalid(ctx, err)
				if err != nil {
					return form.OutcomeInvalid, err
				}
			}
			continue
		}

		outcome, err := w.submit(ctx, sess)
		switch {
		case outcome == form.OutcomeSubmitted:
			return outcome, nil
		case outcome == form.OutcomeInvalid && isValidation(err):
			if only, err = w.reportInvalid(ctx, err); err != nil {
				return outcome, err
			}
		case err != nil:
			return outcome, err
		}
	}
}

func (w *Wizard) navigate(ctx context.Context, sess *form.Session) (string, error) {
	forward := choiceContinue
	if sess.IsFinalStep() {
		forward = choiceSubmit
	}
	options := []string{forward}
	if sess.Step() > 0 {
		options = append(options, choiceBack)
	}
	if len(options) == 1 {
		return forward, nil
	}
	idx, err := w.driver.Select(ctx, SelectConfig{Message: "What next?", Options: options})
	if err != nil {
		return "", err
	}
	if idx < 0 || idx >= len(options) {
		return forward, nil
	}
	return options[idx], nil
}

// submit retries transport failures while the customer agrees to.
func (w *Wizard) submit(ctx context.Context, sess *form.Session) (form.Outcome, error) {
	for {
		outcome, err := sess.OnSubmitAttempt(ctx)
		switch outcome {
		case form.OutcomeSubmitted:
			msg := "Submitted."
			if id := sess.Ack().ID; id != "" {
				msg = "Submitted. Reference: " + id
			}
			return outcome, w.info(ctx, msg)
		case form.OutcomeFailed:
			w.logger.Warn("submission failed", zap.Error(err))
			if te, ok := gateway.AsTransportError(err); ok && te.Retryable() {
				errs := sess.Errors()
				for _, key := range sortedKeys(errs) {
					_ = w.fail(ctx, fmt.Sprintf("%s: %s", key, errs[key]))
				}
				_ = w.fail(ctx, "The submission did not go through: "+err.Error()+". Your answers are kept.")
				retry, perr := w.driver.Confirm(ctx, ConfirmConfig{Message: "Try again?", Default: true})
				if perr != nil {
					return outcome, perr
				}
				if !retry {
					return outcome, ErrCancelled
				}
				continue
			}
			return outcome, err
		}
		return outcome, err
	}
}

func (w *Wizard) reportInvalid(ctx context.Context, err error) (map[string]bool, error) {
	var verrs schema.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	only := make(map[string]bool, len(verrs))
	for _, key := range verrs.Keys() {
		only[key] = true
		if ferr := w.fail(ctx, fmt.Sprintf("%s: %s", key, verrs[key])); ferr != nil {
			return nil, ferr
		}
	}
	return only, nil
}

func isValidation(err error) bool {
	var verrs schema.ValidationErrors
	return errors.As(err, &verrs)
}

// promptUntilValid asks for key until the blur check passes.
func (w *Wizard) promptUntilValid(ctx context.Context, sess *form.Session, key string) error {
	field, ok := sess.Schema().Field(key)
	if !ok {
		return &form.UnknownFieldError{Key: key}
	}
	for {
		current, _ := sess.State().Get(key)
		value, err := w.prompt(ctx, field, current)
		if err != nil {
			var input *inputError
			if errors.As(err, &input) {
				if ferr := w.fail(ctx, input.Error()); ferr != nil {
					return ferr
				}
				continue
			}
			return err
		}
		if err := sess.OnFieldChange(key, value); err != nil {
			return err
		}
		sess.OnBlur(key)
		msg, invalid := sess.Errors()[key]
		if !invalid {
			return nil
		}
		if err := w.fail(ctx, fmt.Sprintf("%s: %s", field.DisplayLabel(), msg)); err != nil {
			return err
		}
	}
}

// inputError reports an answer that could not be converted; the field is
// asked again.
type inputError struct {
	err error
}

func (e *inputError) Error() string { return e.err.Error() }

func (w *Wizard) prompt(ctx context.Context, field schema.FieldSpec, current any) (any, error) {
	label := field.DisplayLabel()
	if field.Required {
		label += " *"
	}
	switch field.Kind {
	case schema.KindBoolean:
		def, _ := current.(bool)
		return w.driver.Confirm(ctx, ConfirmConfig{Message: label, Default: def, Help: field.Help})

	case schema.KindSingleChoice:
		labels, values := optionLabels(field)
		def := indexOf(values, fmt.Sprint(current))
		if def < 0 {
			def = 0
		}
		idx, err := w.driver.Select(ctx, SelectConfig{Message: label, Options: labels, DefaultIndex: def, Help: field.Help})
		if err != nil {
			return nil, err
		}
		if idx < 0 || idx >= len(values) {
			return nil, nil
		}
		return values[idx], nil

	case schema.KindMultiChoice:
		labels, values := optionLabels(field)
		var defaults []int
		if selected, ok := current.([]string); ok {
			defaults = indicesOf(values, selected)
		}
		idxs, err := w.driver.MultiSelect(ctx, SelectConfig{Message: label, Options: labels, Defaults: defaults, Help: field.Help})
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(idxs))
		for _, i := range idxs {
			if i >= 0 && i < len(values) {
				out = append(out, values[i])
			}
		}
		return out, nil

	case schema.KindFile:
		return w.promptFiles(ctx, field, label, current)
	}

	def := stringDefault(current)
	var raw string
	var err error
	if field.Hints["widget"] == "textarea" {
		raw, err = w.driver.TextArea(ctx, TextAreaConfig{Message: label, Default: def, Help: field.Help})
	} else {
		help := field.Help
		if field.Kind == schema.KindDate && help == "" {
			help = "YYYY-MM-DD"
		}
		raw, err = w.driver.Input(ctx, InputConfig{Message: label, Default: def, Help: help})
	}
	if err != nil {
		return nil, err
	}
	value, err := schema.Coerce(field.Kind, raw)
	if err != nil {
		return nil, &inputError{err: err}
	}
	return value, nil
}

// promptFiles reads one path, or a comma separated list when the field
// accepts several files. A blank answer keeps the current upload.
func (w *Wizard) promptFiles(ctx context.Context, field schema.FieldSpec, label string, current any) (any, error) {
	multiple := field.Hints[hintMultiple] == "true"
	suffix := " (path to file)"
	if multiple {
		suffix = " (paths to files, comma separated)"
	}
	raw, err := w.driver.Input(ctx, InputConfig{Message: label + suffix, Default: fileNames(current), Help: field.Help})
	if err != nil {
		return nil, err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == fileNames(current) {
		if fileNames(current) != "" {
			return current, nil
		}
		return nil, nil
	}
	paths := []string{raw}
	if multiple {
		paths = paths[:0]
		for _, path := range strings.Split(raw, ",") {
			if path = strings.TrimSpace(path); path != "" {
				paths = append(paths, path)
			}
		}
	}
	refs := make([]formstate.FileRef, 0, len(paths))
	for _, path := range paths {
		ref, err := w.loadFile(path)
		if err != nil {
			return nil, &inputError{err: err}
		}
		refs = append(refs, ref)
	}
	if multiple {
		return refs, nil
	}
	return refs[0], nil
}

func fileNames(v any) string {
	switch t := v.(type) {
	case formstate.FileRef:
		return t.Name
	case []formstate.FileRef:
		names := make([]string, 0, len(t))
		for _, ref := range t {
			names = append(names, ref.Name)
		}
		return strings.Join(names, ", ")
	}
	return ""
}

func optionLabels(field schema.FieldSpec) (labels, values []string) {
	for _, opt := range field.Options {
		labels = append(labels, opt.DisplayLabel())
		values = append(values, opt.Value)
	}
	return labels, values
}

func stringDefault(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(formstate.DateLayout)
	}
	return fmt.Sprint(v)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// orderedSubset lists the keys in set in schema order.
func orderedSubset(compiled *schema.Compiled, set map[string]bool) []string {
	var out []string
	for _, field := range compiled.Fields() {
		if set[field.Key] {
			out = append(out, field.Key)
		}
	}
	return out
}

func (w *Wizard) info(ctx context.Context, msg string) error {
	return w.driver.Info(ctx, w.theme.InfoPrefix+msg)
}

func (w *Wizard) fail(ctx context.Context, msg string) error {
	return w.driver.Info(ctx, w.theme.ErrorPrefix+msg)
}
