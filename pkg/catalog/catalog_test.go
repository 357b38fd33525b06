package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	t.Parallel()

	cat, err := Embedded()
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	if cat.Len() != 25 {
		t.Fatalf("expected 25 services, got %d", cat.Len())
	}
	services := cat.Services()
	for i, def := range services {
		if def.ID != i+1 {
			t.Fatalf("services not ordered by id: position %d holds %d", i, def.ID)
		}
	}

	def, compiled, err := cat.SelectService(3)
	if err != nil {
		t.Fatalf("SelectService(3): %v", err)
	}
	if def.Name != "Annual Returns" || compiled.ID() != "annualReturns" {
		t.Fatalf("unexpected entry %+v / %s", def, compiled.ID())
	}

	state := formstate.New(map[string]any{
		"companyName":        "Acme Trading",
		"turnover":           float64(100),
		"registrationMethod": "cipcNumber",
		"cipcNumber":         "2019/123456/07",
	})
	if err := compiled.Validate(state); err != nil {
		t.Fatalf("bundled annualReturns rejects a valid state: %v", err)
	}
	err = compiled.Validate(state.With("registrationMethod", "uploadDocument"))
	var verrs schema.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 1 || verrs["registrationDocument"] == "" {
		t.Fatalf("expected a single registrationDocument error, got %v", err)
	}
}

func TestSelectServiceNotFound(t *testing.T) {
	t.Parallel()

	cat, err := Embedded()
	if err != nil {
		t.Fatalf("Embedded: %v", err)
	}
	_, _, err = cat.SelectService(99)
	var nf *NotFoundError
	if !errors.As(err, &nf) || nf.ServiceID != 99 {
		t.Fatalf("expected NotFoundError for 99, got %v", err)
	}
}

const minimalSchema = `
schemas:
  - id: simple
    fields:
      - key: name
        kind: text
        required: true
`

func TestLoadFSErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   fstest.MapFS
		want string
	}{
		{
			name: "duplicate service",
			fs: fstest.MapFS{
				"a.yaml": {Data: []byte("services:\n  - {id: 1, name: A, collection: a, schema: simple}\n" + minimalSchema)},
				"b.yaml": {Data: []byte("services:\n  - {id: 1, name: B, collection: b, schema: simple}\n")},
			},
			want: "duplicate service 1",
		},
		{
			name: "dangling schema",
			fs: fstest.MapFS{
				"a.yaml": {Data: []byte("services:\n  - {id: 1, name: A, collection: a, schema: missing}\n")},
			},
			want: `unknown schema "missing"`,
		},
		{
			name: "reserved field",
			fs: fstest.MapFS{
				"a.json": {Data: []byte(`{"schemas":[{"id":"x","fields":[{"key":"formId","kind":"text"}]}]}`)},
			},
			want: "reserved part",
		},
		{
			name: "bad schema",
			fs: fstest.MapFS{
				"a.yaml": {Data: []byte("schemas:\n  - id: x\n    fields:\n      - {key: a, kind: text, visibleWhen: ghost}\n")},
			},
			want: "unknown field",
		},
		{
			name: "empty file",
			fs:   fstest.MapFS{"a.yaml": {Data: []byte("  ")}},
			want: "is empty",
		},
		{
			name: "missing collection",
			fs: fstest.MapFS{
				"a.yaml": {Data: []byte("services:\n  - {id: 1, name: A, schema: simple}\n" + minimalSchema)},
			},
			want: "has no collection",
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFS(tc.fs)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("LoadFS error = %v, want substring %q", err, tc.want)
			}
		})
	}
}

type stubSource struct {
	mu       sync.Mutex
	calls    int
	products []any
	err      error
	identity string
}

func (s *stubSource) PostJSON(ctx context.Context, path string, _ any, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.identity = gateway.IdentityFromContext(ctx)
	if s.err != nil {
		return s.err
	}
	if path != ServicesPath {
		return errors.New("unexpected path " + path)
	}
	items := make([]map[string]any, 0, len(s.products))
	for _, id := range s.products {
		items = append(items, map[string]any{"id": id, "name": "product"})
	}
	data, _ := json.Marshal(map[string]any{"products": items})
	return json.Unmarshal(data, out)
}

func syntheticCatalog(t *testing.T, n int) *Catalog {
	t.Helper()
	compiled := schema.MustCompile(schema.FormSchema{
		ID:     "generic",
		Fields: []schema.FieldSpec{{Key: "name", Kind: schema.KindText}},
	})
	var entries []Entry
	for id := 1; id <= n; id++ {
		entries = append(entries, Entry{
			Service:  schema.ServiceDefinition{ID: id, Name: "Service " + strconv.Itoa(id), Collection: "c" + strconv.Itoa(id), SchemaRef: "generic"},
			Compiled: compiled,
		})
	}
	cat, err := New(entries...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cat
}

func ids(defs []schema.ServiceDefinition) []int {
	out := make([]int, 0, len(defs))
	for _, def := range defs {
		out = append(out, def.ID)
	}
	return out
}

func TestListAvailableServicesFiltersByProducts(t *testing.T) {
	t.Parallel()

	src := &stubSource{products: []any{"9"}}
	d := NewDispatcher(syntheticCatalog(t, 25), src)
	defs, err := d.ListAvailableServices(context.Background(), "owner@acme.co.za")
	if err != nil {
		t.Fatalf("ListAvailableServices: %v", err)
	}
	if diff := cmp.Diff([]int{9}, ids(defs)); diff != "" {
		t.Fatalf("available mismatch (-want +got):\n%s", diff)
	}
	if src.identity != "owner@acme.co.za" {
		t.Fatalf("identity not forwarded: %q", src.identity)
	}
}

func TestListAvailableServicesIgnoresUnknownIDs(t *testing.T) {
	t.Parallel()

	src := &stubSource{products: []any{"3", "abc", "99", 12, "3", "-1"}}
	d := NewDispatcher(syntheticCatalog(t, 25), src)
	defs, err := d.ListAvailableServices(context.Background(), "owner@acme.co.za")
	if err != nil {
		t.Fatalf("ListAvailableServices: %v", err)
	}
	if diff := cmp.Diff([]int{3, 12}, ids(defs)); diff != "" {
		t.Fatalf("available mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherCachesUntilRefresh(t *testing.T) {
	t.Parallel()

	src := &stubSource{products: []any{"9", "10"}}
	d := NewDispatcher(syntheticCatalog(t, 25), src)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := d.ListAvailableServices(ctx, "owner@acme.co.za"); err != nil {
			t.Fatalf("ListAvailableServices: %v", err)
		}
	}
	if src.calls != 1 {
		t.Fatalf("expected one fetch, got %d", src.calls)
	}

	src.mu.Lock()
	src.products = []any{"10"}
	src.mu.Unlock()
	defs, err := d.Refresh(ctx, "owner@acme.co.za")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff([]int{10}, ids(defs)); diff != "" {
		t.Fatalf("refresh mismatch (-want +got):\n%s", diff)
	}
	if ok, _ := d.IsAvailable(ctx, "owner@acme.co.za", 9); ok {
		t.Fatalf("completed service should disappear after refresh")
	}
	if src.calls != 2 {
		t.Fatalf("expected two fetches, got %d", src.calls)
	}
}

// slowSource answers its first call with stale products once release is
// closed; later calls answer immediately with the current products.
type slowSource struct {
	mu      sync.Mutex
	calls   int
	entered chan struct{}
	release chan struct{}
}

func (s *slowSource) PostJSON(_ context.Context, _ string, _ any, out any) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	body := `{"products":[{"id":"10"}]}`
	if first {
		close(s.entered)
		<-s.release
		body = `{"products":[{"id":"9"},{"id":"10"}]}`
	}
	return json.Unmarshal([]byte(body), out)
}

func TestDispatcherDiscardsFetchOverlappingRefresh(t *testing.T) {
	t.Parallel()

	src := &slowSource{entered: make(chan struct{}), release: make(chan struct{})}
	d := NewDispatcher(syntheticCatalog(t, 25), src)
	ctx := context.Background()
	const who = "owner@acme.co.za"

	stale := make(chan []int, 1)
	go func() {
		defs, _ := d.ListAvailableServices(ctx, who)
		stale <- ids(defs)
	}()
	<-src.entered

	defs, err := d.Refresh(ctx, who)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if diff := cmp.Diff([]int{10}, ids(defs)); diff != "" {
		t.Fatalf("refresh mismatch (-want +got):\n%s", diff)
	}
	close(src.release)
	if diff := cmp.Diff([]int{9, 10}, <-stale); diff != "" {
		t.Fatalf("slow caller mismatch (-want +got):\n%s", diff)
	}

	if ok, _ := d.IsAvailable(ctx, who, 9); ok {
		t.Fatalf("stale fetch reinstated a completed service")
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.calls != 2 {
		t.Fatalf("expected the refreshed answer to stay cached, got %d fetches", src.calls)
	}
}

func TestVisibilityExtras(t *testing.T) {
	t.Parallel()

	defs := []schema.ServiceDefinition{{ID: 3}, {ID: 12}}
	want := map[string]any{ExtraProducts: []string{"3", "12"}, ExtraRole: "admin"}
	if diff := cmp.Diff(want, VisibilityExtras(defs, " admin ")); diff != "" {
		t.Fatalf("extras mismatch (-want +got):\n%s", diff)
	}
	want = map[string]any{ExtraProducts: []string{}}
	if diff := cmp.Diff(want, VisibilityExtras(nil, "")); diff != "" {
		t.Fatalf("extras mismatch (-want +got):\n%s", diff)
	}
}

func TestDispatcherRequiresIdentity(t *testing.T) {
	t.Parallel()

	src := &stubSource{}
	d := NewDispatcher(syntheticCatalog(t, 2), src)
	if _, err := d.ListAvailableServices(context.Background(), ""); !errors.Is(err, submission.ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if src.calls != 0 {
		t.Fatalf("no fetch expected without identity")
	}
}

func TestDispatcherPropagatesTransportErrors(t *testing.T) {
	t.Parallel()

	src := &stubSource{err: &gateway.TransportError{Method: "POST", Path: ServicesPath, Status: 500}}
	d := NewDispatcher(syntheticCatalog(t, 2), src)
	_, err := d.ListAvailableServices(context.Background(), "owner@acme.co.za")
	if _, ok := gateway.AsTransportError(err); !ok {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

const gatewayOpenAPI = `
openapi: 3.0.3
info:
  title: Gateway
  version: "1.0"
paths:
  /api/dashboard/forms/submit/coida:
    post:
      operationId: coidaLetter
      summary: COIDA Letter of Good Standing
      requestBody:
        content:
          multipart/form-data:
            schema:
              type: object
              required: [companyName, employees]
              properties:
                formId:
                  type: string
                companyName:
                  type: string
                  title: Company name
                  minLength: 2
                  x-formflow-order: 1
                employees:
                  type: integer
                  minimum: 1
                  x-formflow-order: 2
                sector:
                  type: string
                  enum: [construction, retail, services]
                  x-formflow-order: 3
                hasClaims:
                  type: boolean
                  x-formflow-order: 4
                claimDetails:
                  type: string
                  x-formflow-visible-when: hasClaims
                  x-formflow-order: 5
                payroll:
                  type: array
                  items:
                    type: string
                    format: binary
                  x-formflow-order: 6
      responses:
        "200":
          description: ok
`

func TestImportOpenAPI(t *testing.T) {
	t.Parallel()

	got, err := ImportOpenAPI(context.Background(), []byte(gatewayOpenAPI), "")
	if err != nil {
		t.Fatalf("ImportOpenAPI: %v", err)
	}
	want := schema.FormSchema{
		ID:    "coidaLetter",
		Title: "COIDA Letter of Good Standing",
		Fields: []schema.FieldSpec{
			{Key: "companyName", Kind: schema.KindText, Label: "Company name", Required: true,
				Rules: []schema.Rule{{Kind: schema.RuleMinLength, Params: map[string]string{"value": "2"}}}},
			{Key: "employees", Kind: schema.KindNumber, Required: true,
				Rules: []schema.Rule{{Kind: schema.RuleMin, Params: map[string]string{"value": "1"}}}},
			{Key: "sector", Kind: schema.KindSingleChoice,
				Options: []schema.Option{{Value: "construction"}, {Value: "retail"}, {Value: "services"}}},
			{Key: "hasClaims", Kind: schema.KindBoolean},
			{Key: "claimDetails", Kind: schema.KindText, VisibleWhen: "hasClaims"},
			{Key: "payroll", Kind: schema.KindFile},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("imported schema mismatch (-want +got):\n%s", diff)
	}

	if _, err := ImportOpenAPI(context.Background(), []byte(gatewayOpenAPI), "missing"); err == nil {
		t.Fatalf("expected error for unknown operation")
	}
}
