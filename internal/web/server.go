// Package web serves the customer dashboard: the list of services a
// customer may fill and the server-rendered wizard for each of them.
package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/admin"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/renderers/html"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Routes served by the dashboard.
const (
	HealthPath    = "/healthz"
	DashboardPath = "/dashboard/services"
	AdminPath     = "/admin/submissions"
)

// DefaultMaxUpload is the multipart memory bound per request.
const DefaultMaxUpload = 32 << 20

var errSecretMissing = errors.New("web: JWT secret is required")

// Catalog resolves a service id to its definition and compiled schema.
type Catalog interface {
	SelectService(id int) (schema.ServiceDefinition, *schema.Compiled, error)
}

// Availability answers which services an identity may fill.
type Availability interface {
	ListAvailableServices(ctx context.Context, identity string) ([]schema.ServiceDefinition, error)
	IsAvailable(ctx context.Context, identity string, serviceID int) (bool, error)
	Refresh(ctx context.Context, identity string) ([]schema.ServiceDefinition, error)
}

// Submissions lists and replaces stored records for the admin view.
type Submissions interface {
	ListMany(ctx context.Context, formTypes ...string) (map[string][]admin.Record, error)
	Replace(ctx context.Context, formType string, rec admin.Record) error
}

// Option customises a Server.
type Option func(*Server)

// WithLogger attaches a logger used for access logs and failures.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRenderer swaps the HTML renderer.
func WithRenderer(r *html.Renderer) Option {
	return func(s *Server) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithAdmin enables the admin submissions routes.
func WithAdmin(sub Submissions) Option {
	return func(s *Server) {
		s.admin = sub
	}
}

// WithSessionTTL sets how long an idle wizard is kept.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// WithMaxUpload bounds the multipart body kept in memory per request.
func WithMaxUpload(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithForwardToken sends the customer's own token to the gateway instead of
// the service token.
func WithForwardToken(enabled bool) Option {
	return func(s *Server) {
		s.forwardToken = enabled
	}
}

// Server holds the dashboard handlers.
type Server struct {
	secret       string
	catalog      Catalog
	availability Availability
	submitter    form.Submitter
	admin        Submissions
	renderer     *html.Renderer
	logger       *zap.Logger
	sessionTTL   time.Duration
	maxUpload    int64
	forwardToken bool
	sessions     *sessionStore
}

// NewServer wires the dashboard. submitter is handed to every wizard
// session; availability is refreshed after each accepted submission.
func NewServer(secret string, catalog Catalog, availability Availability, submitter form.Submitter, opts ...Option) (*Server, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errSecretMissing
	}
	if catalog == nil || availability == nil {
		return nil, errors.New("web: catalog and availability are required")
	}
	if submitter == nil {
		return nil, form.ErrNoSubmitter
	}
	s := &Server{
		secret:       secret,
		catalog:      catalog,
		availability: availability,
		submitter:    submitter,
		logger:       zap.NewNop(),
		sessionTTL:   DefaultSessionTTL,
		maxUpload:    DefaultMaxUpload,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.renderer == nil {
		r, err := html.New()
		if err != nil {
			return nil, err
		}
		s.renderer = r
	}
	s.sessions = newSessionStore(s.sessionTTL)
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(recoverer(s.logger))
	r.Use(accessLog(s.logger))

	r.Get(HealthPath, s.health)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Route(DashboardPath, func(r chi.Router) {
			r.Get("/", s.listServices)
			r.Get("/{id}", s.showForm)
			r.Post("/{id}", s.submitForm)
		})

		if s.admin != nil {
			r.Route(AdminPath, func(r chi.Router) {
				r.Use(requireRole(RoleAdmin))
				r.Get("/", s.listSubmissions)
				r.Put("/{id}", s.replaceSubmission)
			})
		}
	})
	return r
}
