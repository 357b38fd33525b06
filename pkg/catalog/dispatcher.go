package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submission"
)

// ServicesPath is the gateway endpoint listing purchased services.
const ServicesPath = "/api/dashboard/forms/getServices"

// Keys of the context visibility rules read as `extras.products` and
// `extras.role`.
const (
	ExtraProducts = "products"
	ExtraRole     = "role"
)

// Source reports which services an identity has unlocked. *gateway.Client
// satisfies it.
type Source interface {
	PostJSON(ctx context.Context, path string, in, out any) error
}

// DispatcherOption customises a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger attaches a logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher filters the static catalog by what each customer purchased.
// Answers are cached per identity until Refresh is called.
type Dispatcher struct {
	catalog *Catalog
	source  Source
	logger  *zap.Logger

	mu    sync.RWMutex
	cache map[string][]int
	// generation is bumped by Invalidate; a fetch only caches its answer
	// when no invalidation happened while it was in flight.
	generation map[string]uint64
}

// NewDispatcher binds a catalog to its availability source.
func NewDispatcher(catalog *Catalog, source Source, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		catalog:    catalog,
		source:     source,
		logger:     zap.NewNop(),
		cache:      make(map[string][]int),
		generation: make(map[string]uint64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d
}

// Catalog returns the static catalog.
func (d *Dispatcher) Catalog() *Catalog {
	return d.catalog
}

type servicesResponse struct {
	Products []struct {
		ID json.RawMessage `json:"id"`
	} `json:"products"`
}

// ListAvailableServices returns the catalog entries identity may fill,
// ordered by id.
func (d *Dispatcher) ListAvailableServices(ctx context.Context, identity string) ([]schema.ServiceDefinition, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, submission.ErrAuthenticationRequired
	}
	d.mu.RLock()
	ids, ok := d.cache[identity]
	d.mu.RUnlock()
	if !ok {
		var err error
		ids, err = d.fetch(ctx, identity)
		if err != nil {
			return nil, err
		}
	}
	return d.definitions(ids), nil
}

// Refresh drops the cached answer for identity and fetches it again. Call it
// after a successful submission so completed services disappear.
func (d *Dispatcher) Refresh(ctx context.Context, identity string) ([]schema.ServiceDefinition, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, submission.ErrAuthenticationRequired
	}
	d.Invalidate(identity)
	ids, err := d.fetch(ctx, identity)
	if err != nil {
		return nil, err
	}
	return d.definitions(ids), nil
}

// Invalidate forgets the cached answer for identity.
func (d *Dispatcher) Invalidate(identity string) {
	identity = strings.TrimSpace(identity)
	d.mu.Lock()
	delete(d.cache, identity)
	d.generation[identity]++
	d.mu.Unlock()
}

// IsAvailable reports whether identity may open serviceID.
func (d *Dispatcher) IsAvailable(ctx context.Context, identity string, serviceID int) (bool, error) {
	defs, err := d.ListAvailableServices(ctx, identity)
	if err != nil {
		return false, err
	}
	for _, def := range defs {
		if def.ID == serviceID {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dispatcher) fetch(ctx context.Context, identity string) ([]int, error) {
	if d.source == nil {
		return nil, errors.New("catalog: dispatcher has no availability source")
	}
	d.mu.RLock()
	gen := d.generation[identity]
	d.mu.RUnlock()

	var resp servicesResponse
	ctx = gateway.ContextWithIdentity(ctx, identity)
	if err := d.source.PostJSON(ctx, ServicesPath, nil, &resp); err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}

	seen := make(map[int]struct{}, len(resp.Products))
	ids := make([]int, 0, len(resp.Products))
	for _, product := range resp.Products {
		id, err := parseProductID(product.ID)
		if err != nil {
			d.logger.Warn("ignoring malformed product id", zap.ByteString("id", product.ID))
			continue
		}
		if _, ok := d.catalog.Service(id); !ok {
			d.logger.Warn("ignoring product without catalog entry", zap.Int("id", id))
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	d.mu.Lock()
	if d.generation[identity] == gen {
		d.cache[identity] = ids
	} else {
		d.logger.Debug("discarding services fetched before a refresh", zap.String("identity", identity))
	}
	d.mu.Unlock()
	return ids, nil
}

// VisibilityExtras describes the customer to visibility rules: the ids of
// the services they may fill, as strings, and their role when known.
func VisibilityExtras(available []schema.ServiceDefinition, role string) map[string]any {
	products := make([]string, 0, len(available))
	for _, def := range available {
		products = append(products, strconv.Itoa(def.ID))
	}
	extras := map[string]any{ExtraProducts: products}
	if role = strings.TrimSpace(role); role != "" {
		extras[ExtraRole] = role
	}
	return extras
}

// parseProductID accepts "9" and 9.
func parseProductID(raw json.RawMessage) (int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseServiceID(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return ParseServiceID(n.String())
	}
	return 0, fmt.Errorf("catalog: invalid product id %s", raw)
}

func (d *Dispatcher) definitions(ids []int) []schema.ServiceDefinition {
	allowed := make(map[int]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	var out []schema.ServiceDefinition
	for _, def := range d.catalog.Services() {
		if _, ok := allowed[def.ID]; ok {
			out = append(out, def)
		}
	}
	return out
}
