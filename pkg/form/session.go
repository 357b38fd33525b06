// Package form drives one customer's pass through a service form: field
// changes, blur validation, step navigation and the single guarded submit.
package form

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

var (
	// ErrNotFinalStep rejects a submit attempt before the last step.
	ErrNotFinalStep = errors.New("form: submit is only allowed on the final step")
	// ErrSubmitInProgress rejects a submit while another is in flight.
	ErrSubmitInProgress = errors.New("form: a submission is already in progress")
	// ErrCompleted rejects changes after a successful submission.
	ErrCompleted = errors.New("form: session already completed")
	// ErrNoSubmitter is returned when the session was built without one.
	ErrNoSubmitter = errors.New("form: no submitter configured")
)

// UnknownFieldError reports a change to a key the schema does not declare.
type UnknownFieldError struct {
	Key string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("form: unknown field %q", e.Key)
}

// Submitter delivers a validated state. *submission.Adapter satisfies it.
type Submitter interface {
	Submit(ctx context.Context, def schema.ServiceDefinition, compiled *schema.Compiled, identity string, state formstate.State) (submission.Ack, error)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(ctx context.Context, def schema.ServiceDefinition, compiled *schema.Compiled, identity string, state formstate.State) (submission.Ack, error)

// Submit calls f.
func (f SubmitterFunc) Submit(ctx context.Context, def schema.ServiceDefinition, compiled *schema.Compiled, identity string, state formstate.State) (submission.Ack, error) {
	return f(ctx, def, compiled, identity, state)
}

// Outcome summarises a submit attempt.
type Outcome int

const (
	// OutcomeInvalid means validation failed and nothing was sent.
	OutcomeInvalid Outcome = iota
	// OutcomeSubmitted means the gateway accepted the submission.
	OutcomeSubmitted
	// OutcomeFailed means the gateway exchange failed; the state is kept.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInvalid:
		return "invalid"
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Option customises a Session.
type Option func(*Session)

// WithSubmitter sets the delivery mechanism.
func WithSubmitter(s Submitter) Option {
	return func(sess *Session) {
		sess.submitter = s
	}
}

// WithIdentity sets the authenticated user identity.
func WithIdentity(identity string) Option {
	return func(sess *Session) {
		sess.identity = identity
	}
}

// WithOnSuccess registers a hook fired once after a successful submission.
// The catalog dispatcher's Refresh is the usual hook.
func WithOnSuccess(fn func(context.Context, submission.Ack)) Option {
	return func(sess *Session) {
		sess.onSuccess = fn
	}
}

// WithStep resumes the session on step i, clamped to the schema's steps.
// Earlier steps are not re-validated; the final submit checks every field.
func WithStep(i int) Option {
	return func(sess *Session) {
		sess.step = i
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(sess *Session) {
		if logger != nil {
			sess.logger = logger
		}
	}
}

// Session is the renderer engine for one form instance. Every method is safe
// for concurrent use.
type Session struct {
	def      schema.ServiceDefinition
	compiled *schema.Compiled

	submitter Submitter
	identity  string
	onSuccess func(context.Context, submission.Ack)
	logger    *zap.Logger

	mu         sync.Mutex
	state      formstate.State
	errors     map[string]string
	formErrors []string
	step       int
	submitting bool
	completed  bool
	ack        submission.Ack
}

// NewSession binds a schema and service to an initial state.
func NewSession(def schema.ServiceDefinition, compiled *schema.Compiled, initial formstate.State, opts ...Option) (*Session, error) {
	if compiled == nil {
		return nil, errors.New("form: compiled schema is required")
	}
	s := &Session{
		def:      def,
		compiled: compiled,
		state:    initial,
		errors:   make(map[string]string),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.step = clamp(s.step, compiled.StepCount())
	s.logger = s.logger.With(zap.Int("service_id", def.ID), zap.String("form_id", def.FormID()))
	return s, nil
}

// Service returns the bound service definition.
func (s *Session) Service() schema.ServiceDefinition {
	return s.def
}

// Schema returns the compiled schema.
func (s *Session) Schema() *schema.Compiled {
	return s.compiled
}

// State returns the current snapshot.
func (s *Session) State() formstate.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Errors returns a copy of the per-field messages.
func (s *Session) Errors() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.errors))
	for k, v := range s.errors {
		out[k] = v
	}
	return out
}

// FormErrors returns messages not tied to a field.
func (s *Session) FormErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.formErrors...)
}

// Visible evaluates visibility against the current state.
func (s *Session) Visible() map[string]bool {
	return s.compiled.VisibleSet(s.State())
}

// Step returns the zero-based step cursor.
func (s *Session) Step() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// StepCount returns the number of steps.
func (s *Session) StepCount() int {
	return s.compiled.StepCount()
}

// StepFields lists the keys of step i.
func (s *Session) StepFields(i int) []string {
	return s.compiled.StepFields(i)
}

// IsFinalStep reports whether the cursor is on the last step.
func (s *Session) IsFinalStep() bool {
	return s.Step() == s.compiled.StepCount()-1
}

// Submitting reports whether a submission is in flight.
func (s *Session) Submitting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitting
}

// Completed reports whether the gateway accepted a submission.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Ack returns the acknowledgement of the accepted submission.
func (s *Session) Ack() submission.Ack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ack
}

// OnFieldChange stores value under key and clears that key's error.
func (s *Session) OnFieldChange(key string, value any) error {
	if _, ok := s.compiled.Field(key); !ok {
		return &UnknownFieldError{Key: key}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return ErrCompleted
	}
	if s.submitting {
		return ErrSubmitInProgress
	}
	s.state = s.state.With(key, value)
	delete(s.errors, key)
	return nil
}

// OnBlur validates key alone. Hidden fields clear any stale error.
func (s *Session) OnBlur(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.compiled.ValidateField(key, s.state)
	var verrs schema.ValidationErrors
	if errors.As(err, &verrs) {
		if msg, ok := verrs[key]; ok {
			s.errors[key] = msg
			return
		}
	}
	delete(s.errors, key)
}

// NextStep validates the current step's visible fields and advances when
// they pass. The cursor never moves past the last step.
func (s *Session) NextStep() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.completed {
		return ErrCompleted
	}
	keys := s.compiled.StepFields(s.step)
	err := s.compiled.ValidateStep(s.step, s.state)
	for _, key := range keys {
		delete(s.errors, key)
	}
	if err != nil {
		s.mergeErrors(err)
		return err
	}
	s.step = clamp(s.step+1, s.compiled.StepCount())
	return nil
}

// PrevStep moves back one step without validating.
func (s *Session) PrevStep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step = clamp(s.step-1, s.compiled.StepCount())
}

// OnSubmitAttempt validates the whole form and, when valid, hands the state
// to the submitter exactly once. Validation failures issue no network call.
// On transport failure the state is left as entered so the customer can
// resubmit.
func (s *Session) OnSubmitAttempt(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	switch {
	case s.completed:
		s.mu.Unlock()
		return OutcomeInvalid, ErrCompleted
	case s.submitting:
		s.mu.Unlock()
		return OutcomeInvalid, ErrSubmitInProgress
	case s.step != s.compiled.StepCount()-1:
		s.mu.Unlock()
		return OutcomeInvalid, ErrNotFinalStep
	case s.submitter == nil:
		s.mu.Unlock()
		return OutcomeInvalid, ErrNoSubmitter
	}
	if err := s.compiled.Validate(s.state); err != nil {
		s.errors = make(map[string]string)
		s.mergeErrors(err)
		s.mu.Unlock()
		s.logger.Debug("submit blocked by validation", zap.Error(err))
		return OutcomeInvalid, err
	}
	s.submitting = true
	s.formErrors = nil
	state := s.state
	s.mu.Unlock()

	ack, err := s.submitter.Submit(ctx, s.def, s.compiled, s.identity, state)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		if mapped, ok := submission.FieldErrorsFrom(s.compiled, err); ok {
			for key, msg := range mapped.First() {
				s.errors[key] = msg
			}
			s.formErrors = mapped.Form
		}
		s.mu.Unlock()
		s.logger.Warn("submission failed", zap.Error(err))
		return OutcomeFailed, err
	}
	s.completed = true
	s.ack = ack
	hook := s.onSuccess
	s.mu.Unlock()

	s.logger.Info("submission completed", zap.String("record_id", ack.ID))
	if hook != nil {
		hook(ctx, ack)
	}
	return OutcomeSubmitted, nil
}

// mergeErrors copies validation messages into the error map. Callers hold mu.
func (s *Session) mergeErrors(err error) {
	var verrs schema.ValidationErrors
	if !errors.As(err, &verrs) {
		return
	}
	for key, msg := range verrs {
		s.errors[key] = msg
	}
}

func clamp(step, count int) int {
	if step < 0 {
		return 0
	}
	if count > 0 && step > count-1 {
		return count - 1
	}
	return step
}
