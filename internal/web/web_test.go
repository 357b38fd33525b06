package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/goliatone/go-formflow/pkg/admin"
	"github.com/goliatone/go-formflow/pkg/catalog"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

const (
	testSecret = "test-secret"
	owner      = "owner@acme.co.za"
)

type submitted struct {
	fields map[string]string
	files  map[string]string
}

type replaced struct {
	path, formType string
	body           map[string]any
}

// fakeGateway answers the gateway endpoints the dashboard uses.
type fakeGateway struct {
	mu          sync.Mutex
	products    []string
	submitCodes []int
	submissions []submitted
	identities  []string
	auths       []string
	listCalls   int
	replaced    []replaced

	// entered and release, when set, hold every submission until release
	// is closed.
	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.release != nil && r.Method == http.MethodPost && r.URL.Path == submission.DefaultSubmitPath {
		close(g.entered)
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == catalog.ServicesPath:
		g.listCalls++
		g.identities = append(g.identities, r.Header.Get(gateway.HeaderIdentity))
		g.auths = append(g.auths, r.Header.Get("Authorization"))
		products := make([]map[string]string, 0, len(g.products))
		for _, id := range g.products {
			products = append(products, map[string]string{"id": id})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"products": products})

	case r.Method == http.MethodPost && r.URL.Path == submission.DefaultSubmitPath:
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got := submitted{fields: map[string]string{}, files: map[string]string{}}
		for key, values := range r.MultipartForm.Value {
			got.fields[key] = values[0]
		}
		for key, headers := range r.MultipartForm.File {
			f, _ := headers[0].Open()
			data, _ := io.ReadAll(f)
			_ = f.Close()
			got.files[key] = headers[0].Filename + ":" + string(data)
		}
		g.submissions = append(g.submissions, got)
		status := http.StatusOK
		if len(g.submitCodes) > 0 {
			status, g.submitCodes = g.submitCodes[0], g.submitCodes[1:]
		}
		if status == http.StatusOK {
			g.products = nil
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"id":"rec-1"}`)

	case r.Method == http.MethodGet && r.URL.Path == admin.SubmissionsPath:
		_, _ = io.WriteString(w, `[
			{"_id":"a1","formId":"annualReturns","nextauth":"owner@acme.co.za","submittedAt":"2024-03-01T10:00:00Z","companyName":"Acme"},
			{"_id":"b1","formId":"annualReturns","nextauth":"other@example.com","submittedAt":"2024-03-05T10:00:00Z","companyName":"Other"}
		]`)

	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, admin.SubmissionsPath+"/"):
		got := replaced{path: r.URL.Path, formType: r.URL.Query().Get("formType")}
		if err := json.NewDecoder(r.Body).Decode(&got.body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		g.replaced = append(g.replaced, got)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.NotFound(w, r)
	}
}

type harness struct {
	gw     *fakeGateway
	server *Server
	app    http.Handler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, &fakeGateway{products: []string{"3"}}, opts...)
}

func newHarnessWith(t *testing.T, gw *fakeGateway, opts ...Option) *harness {
	t.Helper()
	upstream := httptest.NewServer(gw)
	t.Cleanup(upstream.Close)

	client, err := gateway.NewClient(upstream.URL, gateway.WithToken("svc-token"))
	require.NoError(t, err)
	cat, err := catalog.Embedded()
	require.NoError(t, err)

	opts = append([]Option{WithAdmin(admin.NewClient(client))}, opts...)
	srv, err := NewServer(testSecret, cat, catalog.NewDispatcher(cat, client), submission.NewAdapter(client), opts...)
	require.NoError(t, err)
	return &harness{gw: gw, server: srv, app: srv.Handler()}
}

func token(t *testing.T, email, role string) string {
	t.Helper()
	raw, err := IssueToken(testSecret, email, role, time.Hour)
	require.NoError(t, err)
	return raw
}

func (h *harness) do(t *testing.T, req *http.Request, tok string) *httptest.ResponseRecorder {
	t.Helper()
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	h.app.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	field, name, contentType, body string
}

func multipartRequest(t *testing.T, path string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, mw.WriteField(key, value))
	}
	for _, f := range files {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.field, f.name))
		header.Set("Content-Type", f.contentType)
		w, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = io.WriteString(w, f.body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealthAndAuthentication(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, HealthPath, nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := IssueToken("other-secret", owner, "", time.Hour)
	require.NoError(t, err)
	rec = h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), forged)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), token(t, "  ", ""))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired, err := IssueToken(testSecret, owner, "", -time.Minute)
	require.NoError(t, err)
	rec = h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, DashboardPath, nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: token(t, owner, "")})
	rec = h.do(t, req, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListServices(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), token(t, owner, ""))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Services []serviceView `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Services, 1)
	assert.Equal(t, 3, body.Services[0].ID)
	assert.Equal(t, "Annual Returns", body.Services[0].Name)
	assert.Equal(t, "/dashboard/services/3", body.Services[0].Href)
	assert.Equal(t, []string{owner}, h.gw.identities)
}

func TestForwardToken(t *testing.T) {
	t.Parallel()
	tok := token(t, owner, "")

	h := newHarness(t)
	h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), tok)
	assert.Equal(t, []string{"Bearer svc-token"}, h.gw.auths)

	h = newHarness(t, WithForwardToken(true))
	h.do(t, httptest.NewRequest(http.MethodGet, DashboardPath, nil), tok)
	assert.Equal(t, []string{"Bearer " + tok}, h.gw.auths)
}

func TestUnavailableServices(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := token(t, owner, "")

	for _, path := range []string{"/dashboard/services/999", "/dashboard/services/abc", "/dashboard/services/4"} {
		rec := h.do(t, httptest.NewRequest(http.MethodGet, path, nil), tok)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), msgServiceUnavailable, path)
	}
}

func TestSessionCarriesCustomerExtras(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/dashboard/services/3", nil), token(t, owner, "customer"))
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := h.server.sessions.load(sessionKey(owner, 3), func() (*form.Session, error) {
		return nil, fmt.Errorf("session for %s was not created", owner)
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		catalog.ExtraProducts: []string{"3"},
		catalog.ExtraRole:     "customer",
	}, sess.State().Extras())
}

func TestWizardSubmitsAfterTransportFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.gw.submitCodes = []int{http.StatusBadGateway}
	tok := token(t, owner, "")
	path := "/dashboard/services/3"

	rec := h.do(t, httptest.NewRequest(http.MethodGet, path, nil), tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `name="companyName"`)
	assert.NotContains(t, rec.Body.String(), owner)

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "next", "companyName": "Acme", "turnover": "abc"}), tok)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "is not a number")
	assert.Contains(t, rec.Body.String(), `name="turnover" value="abc"`)

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "next", "companyName": "Acme", "turnover": "1200"}), tok)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, path, rec.Header().Get("Location"))

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "next", "companyName": "Changed"}), tok)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(t, multipartRequest(t, path,
		map[string]string{"_step": "1", "_action": "submit", "registrationMethod": "uploadDocument"},
		upload{field: "registrationDocument", name: "cor14.pdf", contentType: "application/pdf", body: "%PDF-1.4"},
	), tok)
	require.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Your answers are kept")
	assert.Contains(t, rec.Body.String(), "Uploaded: cor14.pdf")

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "1", "_action": "submit", "registrationMethod": "uploadDocument"}), tok)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, DashboardPath, rec.Header().Get("Location"))

	require.Len(t, h.gw.submissions, 2)
	last := h.gw.submissions[1]
	assert.Equal(t, "Acme", last.fields["companyName"])
	assert.Equal(t, "1200", last.fields["turnover"])
	assert.Equal(t, "uploadDocument", last.fields["registrationMethod"])
	assert.Equal(t, owner, last.fields[submission.PartIdentity])
	assert.Equal(t, "annualReturns", last.fields[submission.PartCollection])
	assert.Equal(t, "3", last.fields[submission.PartServiceID])
	assert.NotContains(t, last.fields, "cipcNumber")
	assert.Equal(t, "cor14.pdf:%PDF-1.4", last.files["registrationDocument"])
	assert.Equal(t, h.gw.submissions[0], last)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, path, nil), tok)
	assert.Equal(t, http.StatusNotFound, rec.Code, "completed service should disappear after refresh")
	assert.Equal(t, 0, h.server.sessions.len())
}

func TestWizardValidationAndBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	tok := token(t, owner, "")
	path := "/dashboard/services/3"

	rec := h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "next"}), tok)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), `<p class="formflow__error" role="alert">required</p>`)

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "companyName": "Acme", "turnover": "10"}), tok)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "1", "_action": "submit", "registrationMethod": "cipcNumber", "cipcNumber": "nope"}), tok)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "must look like 2019/123456/07")
	assert.Empty(t, h.gw.submissions, "invalid forms must not reach the gateway")

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "1", "_action": "prev", "registrationMethod": "cipcNumber"}), tok)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, path, nil), tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `value="Acme"`)
	assert.Contains(t, rec.Body.String(), `<input type="hidden" name="_step" value="0">`)

	rec = h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "jump"}), tok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminSubmissions(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, AdminPath+"?formType=annualReturns", nil), token(t, owner, ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	adminToken := token(t, "ops@portal.co.za", RoleAdmin)
	rec = h.do(t, httptest.NewRequest(http.MethodGet, AdminPath, nil), adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, AdminPath+"?formType=annualReturns", nil), adminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string][]struct {
		Owner   string            `json:"owner"`
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	groups := body["annualReturns"]
	require.Len(t, groups, 2)
	assert.Equal(t, "other@example.com", groups[0].Owner)
	assert.Equal(t, owner, groups[1].Owner)
}

func TestAdminReplaceSubmission(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	adminToken := token(t, "ops@portal.co.za", RoleAdmin)
	put := func(path, body string) *http.Request {
		req := httptest.NewRequest(http.MethodPut, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}
	doc := `{"_id":{"$oid":"a1"},"createdAt":"2024-03-01T10:00:00Z","nextauth":"owner@acme.co.za","companyName":"Acme (Pty) Ltd"}`

	rec := h.do(t, put(AdminPath+"/a1?formType=annualReturns", doc), token(t, owner, ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(t, put(AdminPath+"/a1", doc), adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, put(AdminPath+"/b1?formType=annualReturns", doc), adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, put(AdminPath+"/a1?formType=annualReturns", "{"), adminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, put(AdminPath+"/a1?formType=annualReturns", doc), adminToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	require.Len(t, h.gw.replaced, 1)
	got := h.gw.replaced[0]
	assert.Equal(t, admin.SubmissionsPath+"/a1", got.path)
	assert.Equal(t, "annualReturns", got.formType)
	assert.Equal(t, map[string]any{
		"_id":         map[string]any{"$oid": "a1"},
		"createdAt":   "2024-03-01T10:00:00Z",
		"nextauth":    owner,
		"companyName": "Acme (Pty) Ltd",
	}, got.body)
}

func TestPostWhileSubmittingAnswersBusy(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{products: []string{"3"}, entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarnessWith(t, gw)
	tok := token(t, owner, "")
	path := "/dashboard/services/3"

	rec := h.do(t, multipartRequest(t, path, map[string]string{"_step": "0", "_action": "next", "companyName": "Acme", "turnover": "1200"}), tok)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	submit := multipartRequest(t, path, map[string]string{
		"_step": "1", "_action": "submit", "registrationMethod": "cipcNumber", "cipcNumber": "2019/123456/07",
	})
	submit.Header.Set("Authorization", "Bearer "+tok)
	first := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		h.app.ServeHTTP(rec, submit)
		first <- rec.Code
	}()
	select {
	case <-gw.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("submission never reached the gateway")
	}

	rec = h.do(t, multipartRequest(t, path, map[string]string{
		"_step": "1", "_action": "submit", "registrationMethod": "cipcNumber", "cipcNumber": "2019/123456/07",
	}), tok)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), noticeBusy)

	close(gw.release)
	assert.Equal(t, http.StatusSeeOther, <-first)
	assert.Len(t, gw.submissions, 1)
}

func TestAccessLog(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, WithLogger(zap.New(core)))

	h.do(t, httptest.NewRequest(http.MethodGet, HealthPath, nil), "")
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, HealthPath, fields["path"])
	assert.EqualValues(t, http.StatusOK, fields["status"])
}

func TestRecovererAnswers500(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := recoverer(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("handler panic").Len())
}

func TestSessionStoreExpiresIdleSessions(t *testing.T) {
	t.Parallel()
	compiled := schema.MustCompile(schema.FormSchema{
		ID:     "note",
		Fields: []schema.FieldSpec{{Key: "note", Kind: schema.KindText}},
	})
	def := schema.ServiceDefinition{ID: 1, Name: "Note", Collection: "notes", SchemaRef: "note"}
	create := func() (*form.Session, error) {
		return form.NewSession(def, compiled, formstate.New(nil))
	}

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := newSessionStore(time.Minute)
	store.now = func() time.Time { return now }

	first, err := store.load(sessionKey(owner, 1), create)
	require.NoError(t, err)
	again, err := store.load(sessionKey(owner, 1), create)
	require.NoError(t, err)
	assert.Same(t, first, again)

	other, err := store.load(sessionKey("other@example.com", 1), create)
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	now = now.Add(2 * time.Minute)
	fresh, err := store.load(sessionKey(owner, 1), create)
	require.NoError(t, err)
	assert.NotSame(t, first, fresh)
	assert.Equal(t, 1, store.len())
}

func TestNewServerRequiresSecret(t *testing.T) {
	t.Parallel()
	cat, err := catalog.Embedded()
	require.NoError(t, err)
	_, err = NewServer(" ", cat, catalog.NewDispatcher(cat, nil), submission.NewAdapter(nil))
	assert.ErrorIs(t, err, errSecretMissing)
}
