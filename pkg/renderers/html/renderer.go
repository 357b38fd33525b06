// Package html renders a form session as a server-side HTML wizard.
package html

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"

	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// Form controls posted back alongside the schema fields.
const (
	FieldStep   = "_step"
	FieldAction = "_action"

	ActionPrev   = "prev"
	ActionNext   = "next"
	ActionSubmit = "submit"
)

const (
	formTemplate = "form.html"
	pageTemplate = "page.html"
)

// Option customises a Renderer.
type Option func(*config)

type config struct {
	templates fs.FS
	widgets   *Widgets
}

// WithTemplatesFS swaps the embedded templates. The bundle must provide
// form.html at its root.
func WithTemplatesFS(files fs.FS) Option {
	return func(cfg *config) {
		if files != nil {
			cfg.templates = files
		}
	}
}

// WithTemplatesDir loads templates from a directory on disk.
func WithTemplatesDir(path string) Option {
	return func(cfg *config) {
		if strings.TrimSpace(path) != "" {
			cfg.templates = os.DirFS(path)
		}
	}
}

// WithWidgets swaps the widget registry.
func WithWidgets(w *Widgets) Option {
	return func(cfg *config) {
		if w != nil {
			cfg.widgets = w
		}
	}
}

// Renderer turns a form.Session into HTML. It is safe for concurrent use.
type Renderer struct {
	engine  *engine
	widgets *Widgets
}

// New builds a renderer over the embedded templates unless overridden.
func New(opts ...Option) (*Renderer, error) {
	cfg := config{templates: TemplatesFS(), widgets: NewWidgets()}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	eng, err := newEngine(cfg.templates)
	if err != nil {
		return nil, err
	}
	return &Renderer{engine: eng, widgets: cfg.widgets}, nil
}

func (r *Renderer) Name() string {
	return "html"
}

func (r *Renderer) ContentType() string {
	return "text/html; charset=utf-8"
}

// RenderOptions tune a single render.
type RenderOptions struct {
	// Action is the form's POST target.
	Action string
	// Notice is shown above the form, e.g. after a failed submission.
	Notice string
	// Errors are shown in place of the session's message for the same key.
	Errors map[string]string
	// Raw holds text that could not be converted to the field's kind. It is
	// shown back instead of the stored value.
	Raw map[string]string
	// Page wraps the form in a standalone HTML document.
	Page bool
}

// Render writes the current step of the wizard plus the step list. Fields
// that are currently hidden are still emitted with the hidden attribute and
// their visibility rule so client script can toggle them.
func (r *Renderer) Render(_ context.Context, sess *form.Session, opts RenderOptions) ([]byte, error) {
	if r == nil || r.engine == nil {
		return nil, errors.New("html: renderer is not initialised")
	}
	if sess == nil {
		return nil, errors.New("html: session is required")
	}
	view := r.buildView(sess, opts)
	name := formTemplate
	if opts.Page {
		name = pageTemplate
	}
	out, err := r.engine.render(name, pongo2.Context{"form": view})
	if err != nil {
		return nil, fmt.Errorf("html: render %s: %w", sess.Service().FormID(), err)
	}
	return out, nil
}

type formView struct {
	ServiceID   int
	Title       string
	Description string
	Action      string
	Notice      string
	Hidden      []submission.HiddenField
	Steps       []stepView
	Step        int
	StepCount   int
	StepNumber  int
	IsFirst     bool
	IsFinal     bool
	Submitting  bool
	Completed   bool
	FormErrors  []string
	StepField   string
	ActionField string
}

type stepView struct {
	Index       int
	ID          string
	Title       string
	Description string
	Current     bool
	Fields      []fieldView
}

type fieldView struct {
	Key         string
	ID          string
	Label       string
	Help        string
	Placeholder string
	Widget      string
	Required    bool
	Visible     bool
	VisibleWhen string
	Value       string
	Checked     bool
	Options     []optionView
	Error       string
	Accept      string
	Multiple    bool
	FileName    string
}

type optionView struct {
	Value    string
	Label    string
	Selected bool
}

func (r *Renderer) buildView(sess *form.Session, opts RenderOptions) formView {
	def := sess.Service()
	compiled := sess.Schema()
	state := sess.State()
	visible := compiled.VisibleSet(state)
	errs := sess.Errors()
	for key, msg := range opts.Errors {
		errs[key] = msg
	}
	current := sess.Step()

	title := def.Name
	if title == "" {
		title = compiled.Schema().Title
	}
	description := def.Description
	if description == "" {
		description = compiled.Schema().Description
	}

	view := formView{
		ServiceID:   def.ID,
		Title:       title,
		Description: description,
		Action:      opts.Action,
		Notice:      opts.Notice,
		Hidden:      submission.ReservedFields(def, ""),
		Step:        current,
		StepCount:   sess.StepCount(),
		StepNumber:  current + 1,
		IsFirst:     current == 0,
		IsFinal:     current == sess.StepCount()-1,
		Submitting:  sess.Submitting(),
		Completed:   sess.Completed(),
		FormErrors:  sess.FormErrors(),
		StepField:   FieldStep,
		ActionField: FieldAction,
	}

	for i, step := range compiled.Steps() {
		sv := stepView{
			Index:       i,
			ID:          step.ID,
			Title:       step.Title,
			Description: step.Description,
			Current:     i == current,
		}
		if !sv.Current {
			view.Steps = append(view.Steps, sv)
			continue
		}
		for _, key := range compiled.StepFields(i) {
			field, ok := compiled.Field(key)
			if !ok {
				continue
			}
			value, _ := state.Get(key)
			if raw, ok := opts.Raw[key]; ok {
				value = raw
			}
			sv.Fields = append(sv.Fields, r.buildField(field, value, visible[key], errs[key]))
		}
		view.Steps = append(view.Steps, sv)
	}
	return view
}

func (r *Renderer) buildField(field schema.FieldSpec, value any, visible bool, msg string) fieldView {
	fv := fieldView{
		Key:         field.Key,
		ID:          "field-" + field.Key,
		Label:       field.DisplayLabel(),
		Help:        field.Help,
		Placeholder: field.Placeholder,
		Widget:      r.widgets.Resolve(field),
		Required:    field.Required,
		Visible:     visible,
		VisibleWhen: field.VisibleWhen,
		Error:       msg,
	}

	selected := make(map[string]bool)
	switch v := value.(type) {
	case nil:
	case string:
		fv.Value = v
		selected[v] = true
	case []string:
		for _, s := range v {
			selected[s] = true
		}
	case bool:
		fv.Checked = v
	case float64:
		fv.Value = strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		fv.Value = strconv.Itoa(v)
	case time.Time:
		fv.Value = v.Format(formstate.DateLayout)
	case formstate.FileRef:
		fv.FileName = v.Name
	case []formstate.FileRef:
		names := make([]string, 0, len(v))
		for _, f := range v {
			names = append(names, f.Name)
		}
		fv.FileName = strings.Join(names, ", ")
	default:
		fv.Value = fmt.Sprint(v)
	}

	for _, opt := range field.Options {
		fv.Options = append(fv.Options, optionView{
			Value:    opt.Value,
			Label:    opt.DisplayLabel(),
			Selected: selected[opt.Value],
		})
	}
	for _, rule := range field.Rules {
		if rule.Kind == schema.RuleAccept {
			fv.Accept = acceptAttr(rule.Params["value"])
		}
	}
	if field.Kind == schema.KindFile {
		fv.Multiple = field.Hints[HintMultiple] == "true"
	}
	return fv
}

// acceptAttr normalises "pdf, .png,image/jpeg" into an accept attribute.
func acceptAttr(raw string) string {
	var parts []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") && !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		parts = append(parts, part)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}
