package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/admin"
	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/renderers/html"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// Notices shown above the form.
const (
	noticeTransport = "We could not deliver your submission. Your answers are kept, please try again."
	noticeStale     = "This form moved on in another window. Please review this step."
	noticeBusy      = "Your submission is already being sent."
)

const msgServiceUnavailable = "service unavailable"

type serviceView struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	Href        string `json:"href"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listServices(w http.ResponseWriter, r *http.Request) {
	identity := ClaimsFromContext(r.Context()).Email
	services, err := s.availability.ListAvailableServices(r.Context(), identity)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	out := make([]serviceView, 0, len(services))
	for _, def := range services {
		out = append(out, serviceView{
			ID:          def.ID,
			Name:        def.Name,
			Slug:        def.Slug,
			Description: def.Description,
			Href:        servicePath(def.ID),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": out})
}

func (s *Server) showForm(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.openSession(w, r)
	if !ok {
		return
	}
	s.render(w, r, sess, http.StatusOK, html.RenderOptions{})
}

func (s *Server) submitForm(w http.ResponseWriter, r *http.Request) {
	sess, key, ok := s.openSession(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	if posted, err := strconv.Atoi(r.FormValue(html.FieldStep)); err != nil || posted != sess.Step() {
		s.render(w, r, sess, http.StatusConflict, html.RenderOptions{Notice: noticeStale})
		return
	}

	action := strings.TrimSpace(r.FormValue(html.FieldAction))
	if action == "" {
		action = html.ActionNext
		if sess.IsFinalStep() {
			action = html.ActionSubmit
		}
	}

	switch action {
	case html.ActionPrev, html.ActionNext, html.ActionSubmit:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", action))
		return
	}

	input, err := applyStep(sess, r.MultipartForm)
	if err != nil {
		if errors.Is(err, form.ErrCompleted) || errors.Is(err, form.ErrSubmitInProgress) {
			s.formFailure(w, r, sess, err)
			return
		}
		s.logger.Warn("could not apply form input", zap.Error(err))
		writeError(w, http.StatusBadRequest, "could not read form input")
		return
	}

	if action == html.ActionPrev {
		sess.PrevStep()
		http.Redirect(w, r, servicePath(sess.Service().ID), http.StatusSeeOther)
		return
	}

	if len(input.errors) > 0 {
		s.render(w, r, sess, http.StatusUnprocessableEntity, input.renderOptions())
		return
	}

	if action == html.ActionNext {
		if err := sess.NextStep(); err != nil {
			s.formFailure(w, r, sess, err)
			return
		}
		http.Redirect(w, r, servicePath(sess.Service().ID), http.StatusSeeOther)
		return
	}

	outcome, err := sess.OnSubmitAttempt(r.Context())
	if outcome == form.OutcomeSubmitted {
		s.sessions.drop(key)
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}
	s.formFailure(w, r, sess, err)
}

// openSession resolves the service in the URL and loads the customer's
// wizard for it. It writes the error response itself when ok is false.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) (*form.Session, string, bool) {
	claims := ClaimsFromContext(r.Context())
	identity := claims.Email
	id, err := catalog.ParseServiceID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, msgServiceUnavailable)
		return nil, "", false
	}
	def, compiled, err := s.catalog.SelectService(id)
	if err != nil {
		s.writeFailure(w, err)
		return nil, "", false
	}
	available, err := s.availability.IsAvailable(r.Context(), identity, id)
	if err != nil {
		s.writeFailure(w, err)
		return nil, "", false
	}
	if !available {
		writeError(w, http.StatusNotFound, msgServiceUnavailable)
		return nil, "", false
	}

	key := sessionKey(identity, id)
	sess, err := s.sessions.load(key, func() (*form.Session, error) {
		services, err := s.availability.ListAvailableServices(r.Context(), identity)
		if err != nil {
			return nil, err
		}
		initial := formstate.New(nil).WithExtras(catalog.VisibilityExtras(services, claims.Role))
		return form.NewSession(def, compiled, initial,
			form.WithSubmitter(s.submitter),
			form.WithIdentity(identity),
			form.WithLogger(s.logger.With(zap.Int("service_id", id))),
			form.WithOnSuccess(func(ctx context.Context, _ submission.Ack) {
				if _, err := s.availability.Refresh(ctx, identity); err != nil {
					s.logger.Warn("could not refresh available services", zap.Error(err))
				}
			}),
		)
	})
	if err != nil {
		s.logger.Error("could not start form session", zap.Int("service_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, "", false
	}
	return sess, key, true
}

// formFailure answers a failed step change or submission with the form.
func (s *Server) formFailure(w http.ResponseWriter, r *http.Request, sess *form.Session, err error) {
	var verrs schema.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		s.render(w, r, sess, http.StatusUnprocessableEntity, html.RenderOptions{})
	case errors.Is(err, form.ErrCompleted):
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
	case errors.Is(err, form.ErrSubmitInProgress):
		s.render(w, r, sess, http.StatusConflict, html.RenderOptions{Notice: noticeBusy})
	case errors.Is(err, form.ErrNotFinalStep):
		s.render(w, r, sess, http.StatusConflict, html.RenderOptions{Notice: noticeStale})
	case errors.Is(err, submission.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		if _, ok := gateway.AsTransportError(err); ok {
			if _, mapped := submission.FieldErrorsFrom(sess.Schema(), err); mapped {
				s.render(w, r, sess, http.StatusUnprocessableEntity, html.RenderOptions{})
				return
			}
			s.render(w, r, sess, http.StatusBadGateway, html.RenderOptions{Notice: noticeTransport})
			return
		}
		s.logger.Error("form request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// writeFailure maps the error taxonomy onto JSON responses.
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	var notFound *catalog.NotFoundError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, msgServiceUnavailable)
	case errors.Is(err, submission.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	default:
		if _, ok := gateway.AsTransportError(err); ok {
			s.logger.Warn("gateway request failed", zap.Error(err))
			writeError(w, http.StatusBadGateway, "gateway unavailable")
			return
		}
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, sess *form.Session, status int, opts html.RenderOptions) {
	opts.Action = servicePath(sess.Service().ID)
	opts.Page = true
	out, err := s.renderer.Render(r.Context(), sess, opts)
	if err != nil {
		s.logger.Error("could not render form", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", s.renderer.ContentType())
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(out)
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	var formTypes []string
	for _, raw := range r.URL.Query()["formType"] {
		for _, formType := range strings.Split(raw, ",") {
			if formType = strings.TrimSpace(formType); formType != "" {
				formTypes = append(formTypes, formType)
			}
		}
	}
	if len(formTypes) == 0 {
		writeError(w, http.StatusBadRequest, "formType is required")
		return
	}
	records, err := s.admin.ListMany(r.Context(), formTypes...)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	out := make(map[string][]admin.Group, len(records))
	for formType, recs := range records {
		out[formType] = admin.GroupByOwner(recs)
	}
	writeJSON(w, http.StatusOK, out)
}

// replaceSubmission overwrites one stored record with the posted document.
func (s *Server) replaceSubmission(w http.ResponseWriter, r *http.Request) {
	formType := strings.TrimSpace(r.URL.Query().Get("formType"))
	if formType == "" {
		writeError(w, http.StatusBadRequest, "formType is required")
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	var rec admin.Record
	if err := decodeJSON(r, &rec); err != nil {
		writeError(w, http.StatusBadRequest, "malformed record")
		return
	}
	switch {
	case rec.ID == "":
		rec.ID = id
	case rec.ID != id:
		writeError(w, http.StatusBadRequest, "record id does not match the path")
		return
	}
	if err := s.admin.Replace(r.Context(), formType, rec); err != nil {
		s.writeFailure(w, err)
		return
	}
	s.logger.Info("submission replaced",
		zap.String("form_type", formType),
		zap.String("record_id", rec.ID),
		zap.String("admin", ClaimsFromContext(r.Context()).Email))
	w.WriteHeader(http.StatusNoContent)
}

func servicePath(id int) string {
	return DashboardPath + "/" + strconv.Itoa(id)
}

// stepInput is what the browser posted for the current step that could not
// be stored on the session.
type stepInput struct {
	errors map[string]string
	raw    map[string]string
}

func (in stepInput) renderOptions() html.RenderOptions {
	return html.RenderOptions{Errors: in.errors, Raw: in.raw}
}

// applyStep copies the current step's posted fields onto sess. Unchecked
// checkboxes post nothing, so booleans and multi choices are always written.
// A file input left empty keeps the earlier upload.
func applyStep(sess *form.Session, mf *multipart.Form) (stepInput, error) {
	in := stepInput{errors: map[string]string{}, raw: map[string]string{}}
	compiled := sess.Schema()
	for _, key := range sess.StepFields(sess.Step()) {
		field, ok := compiled.Field(key)
		if !ok {
			continue
		}
		values := mf.Value[key]
		var value any
		switch field.Kind {
		case schema.KindBoolean:
			value = len(values) > 0 && truthy(values[len(values)-1])
		case schema.KindMultiChoice:
			var selected []string
			for _, v := range values {
				if v = strings.TrimSpace(v); v != "" {
					selected = append(selected, v)
				}
			}
			if len(selected) > 0 {
				value = selected
			}
		case schema.KindFile:
			files, err := readUploads(mf.File[key])
			if err != nil {
				return in, fmt.Errorf("web: read upload %q: %w", key, err)
			}
			if len(files) == 0 {
				continue
			}
			if field.Hints[html.HintMultiple] == "true" {
				value = files
			} else {
				value = files[0]
			}
		default:
			raw := ""
			if len(values) > 0 {
				raw = values[0]
			}
			coerced, err := schema.Coerce(field.Kind, raw)
			if err != nil {
				in.errors[key] = strings.TrimPrefix(err.Error(), "schema: ")
				in.raw[key] = raw
				continue
			}
			value = coerced
		}
		if err := sess.OnFieldChange(key, value); err != nil {
			return in, err
		}
	}
	return in, nil
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

// readUploads copies each upload into memory; the request's temporary files
// are removed once the handler returns.
func readUploads(headers []*multipart.FileHeader) ([]formstate.FileRef, error) {
	var out []formstate.FileRef
	for _, fh := range headers {
		if fh == nil || strings.TrimSpace(fh.Filename) == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, formstate.FileFromBytes(fh.Filename, fh.Header.Get("Content-Type"), data))
	}
	return out, nil
}
