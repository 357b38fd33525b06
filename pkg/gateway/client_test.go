package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestClientPostJSONForwardsTokenAndRequestID(t *testing.T) {
	t.Parallel()

	var gotAuth, gotID, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotID = r.Header.Get(HeaderRequestID)
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"products":[{"id":"9"}]}`)
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL+"/base", WithToken("secret"))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	var out struct {
		Products []struct {
			ID string `json:"id"`
		} `json:"products"`
	}
	if err := client.PostJSON(context.Background(), "/api/dashboard/forms/getServices", nil, &out); err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotID == "" {
		t.Fatalf("expected request id header")
	}
	if gotPath != "/base/api/dashboard/forms/getServices" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotBody != "{}" {
		t.Fatalf("body = %q", gotBody)
	}
	if len(out.Products) != 1 || out.Products[0].ID != "9" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestClientNon2xxIsTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "maintenance")
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL)
	err := client.GetJSON(context.Background(), "/api/admin/submissions", url.Values{"formType": {"vat"}}, nil)
	te, ok := AsTransportError(err)
	if !ok {
		t.Fatalf("expected TransportError, got %v", err)
	}
	want := TransportError{Method: http.MethodGet, Path: "/api/admin/submissions", Status: 503, Body: []byte("maintenance")}
	if diff := cmp.Diff(want, *te, cmp.Comparer(func(a, b error) bool { return a == b })); diff != "" {
		t.Fatalf("transport error mismatch (-want +got):\n%s", diff)
	}
	if !te.Retryable() {
		t.Fatalf("transport errors are retryable")
	}
	if !strings.Contains(te.Error(), "maintenance") {
		t.Fatalf("error message should carry body snippet: %q", te.Error())
	}
}

func TestClientNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	base := srv.URL
	srv.Close()

	client, _ := NewClient(base)
	_, err := client.PostMultipart(context.Background(), "/submit", "multipart/form-data", strings.NewReader(""), nil)
	te, ok := AsTransportError(err)
	if !ok {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Status != 0 || te.Err == nil {
		t.Fatalf("expected status 0 with cause, got %+v", te)
	}
	if errors.Unwrap(te) == nil {
		t.Fatalf("Unwrap should expose the cause")
	}
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := NewClient(raw); err == nil {
			t.Fatalf("NewClient(%q) expected error", raw)
		}
	}
}
