// Package gateway is the REST client for the portal's generic backend
// gateway. Every exchange is a single request: nothing is retried.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HeaderRequestID carries the per-request correlation id.
const HeaderRequestID = "X-Request-ID"

// DefaultTimeout bounds a gateway exchange when no client is supplied.
const DefaultTimeout = 30 * time.Second

var errBaseURLMissing = errors.New("gateway: base URL is required")

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken forwards token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// WithTimeout sets the per-request timeout; zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger attaches a logger for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client talks to the gateway rooted at a base URL.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewClient validates baseURL and applies opts.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errBaseURLMissing
	}
	base, err := url.Parse(baseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base URL %q", baseURL)
	}
	c := &Client{
		base:    base,
		http:    http.DefaultClient,
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// BaseURL returns the configured root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Response is a successful (2xx) gateway answer.
type Response struct {
	Status    int
	Header    http.Header
	Body      []byte
	RequestID string
}

// Request describes one exchange. Path is resolved against the base URL.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        io.Reader
	ContentType string
	Header      http.Header
}

// Do performs req once. Non-2xx answers and network failures are reported
// as *TransportError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	target := c.resolve(req.Path, req.Query)
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, req.Body)
	if err != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if token := tokenFromContext(ctx); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	} else if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	if identity := IdentityFromContext(ctx); identity != "" {
		httpReq.Header.Set(HeaderIdentity, identity)
	}
	requestID := httpReq.Header.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
		httpReq.Header.Set(HeaderRequestID, requestID)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("gateway request failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, &TransportError{Method: req.Method, Path: req.Path, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, readErr := io.ReadAll(resp.Body)
	c.logger.Debug("gateway request",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
		zap.String("request_id", requestID),
		zap.Duration("duration", time.Since(start)),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Status: resp.StatusCode, Body: body}
	}
	if readErr != nil {
		return nil, &TransportError{Method: req.Method, Path: req.Path, Status: resp.StatusCode, Err: readErr}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body, RequestID: requestID}, nil
}

// PostMultipart sends an already encoded multipart body.
func (c *Client) PostMultipart(ctx context.Context, path, contentType string, body io.Reader, header http.Header) (*Response, error) {
	return c.Do(ctx, Request{
		Method:      http.MethodPost,
		Path:        path,
		Body:        body,
		ContentType: contentType,
		Header:      header,
	})
}

// PostJSON posts in (nil sends an empty object) and decodes into out when
// out is non-nil.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	return c.jsonExchange(ctx, http.MethodPost, path, nil, in, out)
}

// PutJSON replaces a resource.
func (c *Client) PutJSON(ctx context.Context, path string, query url.Values, in, out any) error {
	return c.jsonExchange(ctx, http.MethodPut, path, query, in, out)
}

// GetJSON fetches path and decodes the answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return decodeInto(resp, http.MethodGet, path, out)
}

func (c *Client) jsonExchange(ctx context.Context, method, path string, query url.Values, in, out any) error {
	if in == nil {
		in = struct{}{}
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("gateway: encode %s %s: %w", method, path, err)
	}
	resp, err := c.Do(ctx, Request{
		Method:      method,
		Path:        path,
		Query:       query,
		Body:        bytes.NewReader(payload),
		ContentType: "application/json",
	})
	if err != nil {
		return err
	}
	return decodeInto(resp, method, path, out)
}

func decodeInto(resp *Response, method, path string, out any) error {
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &TransportError{Method: method, Path: path, Status: resp.Status, Body: resp.Body,
			Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) resolve(path string, query url.Values) string {
	ref := &url.URL{Path: strings.TrimPrefix(path, "/")}
	base := *c.base
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	target := base.ResolveReference(ref)
	if len(query) > 0 {
		target.RawQuery = query.Encode()
	}
	return target.String()
}
