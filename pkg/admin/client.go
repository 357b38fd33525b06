package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SubmissionsPath is the gateway's admin submissions endpoint.
const SubmissionsPath = "/api/admin/submissions"

// DefaultConcurrency bounds ListMany's parallel fetches.
const DefaultConcurrency = 4

var (
	errFormTypeMissing = errors.New("admin: form type is required")
	errRecordIDMissing = errors.New("admin: record id is required")
)

// Gateway is the subset of *gateway.Client the admin client needs.
type Gateway interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	PutJSON(ctx context.Context, path string, query url.Values, in, out any) error
}

// Option customises a Client.
type Option func(*Client)

// WithConcurrency bounds ListMany; values below one are ignored.
func WithConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client lists and replaces stored submissions.
type Client struct {
	gateway     Gateway
	concurrency int
	logger      *zap.Logger
}

// NewClient binds the admin client to gw.
func NewClient(gw Gateway, opts ...Option) *Client {
	c := &Client{gateway: gw, concurrency: DefaultConcurrency, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// List returns every record stored for formType.
func (c *Client) List(ctx context.Context, formType string) ([]Record, error) {
	formType = strings.TrimSpace(formType)
	if formType == "" {
		return nil, errFormTypeMissing
	}
	var raw json.RawMessage
	if err := c.gateway.GetJSON(ctx, SubmissionsPath, url.Values{"formType": {formType}}, &raw); err != nil {
		return nil, fmt.Errorf("admin: list %s: %w", formType, err)
	}
	records, err := decodeRecords(raw)
	if err != nil {
		return nil, fmt.Errorf("admin: list %s: %w", formType, err)
	}
	for i := range records {
		if records[i].FormID == "" {
			records[i].FormID = formType
		}
	}
	c.logger.Debug("listed submissions", zap.String("form_type", formType), zap.Int("records", len(records)))
	return records, nil
}

// ListMany fetches several form types concurrently, keyed by form type.
// Repeated form types are fetched once. The first failure cancels the
// remaining fetches.
func (c *Client) ListMany(ctx context.Context, formTypes ...string) (map[string][]Record, error) {
	formTypes = uniqueFormTypes(formTypes)
	results := make([][]Record, len(formTypes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, formType := range formTypes {
		i, formType := i, formType
		g.Go(func() error {
			records, err := c.List(gctx, formType)
			if err != nil {
				return err
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string][]Record, len(formTypes))
	for i, formType := range formTypes {
		out[formType] = results[i]
	}
	return out, nil
}

func uniqueFormTypes(formTypes []string) []string {
	seen := make(map[string]struct{}, len(formTypes))
	out := make([]string, 0, len(formTypes))
	for _, formType := range formTypes {
		formType = strings.TrimSpace(formType)
		if _, ok := seen[formType]; ok {
			continue
		}
		seen[formType] = struct{}{}
		out = append(out, formType)
	}
	return out
}

// Replace overwrites the stored record with rec in full.
func (c *Client) Replace(ctx context.Context, formType string, rec Record) error {
	formType = strings.TrimSpace(formType)
	if formType == "" {
		return errFormTypeMissing
	}
	if strings.TrimSpace(rec.ID) == "" {
		return errRecordIDMissing
	}
	path := SubmissionsPath + "/" + url.PathEscape(rec.ID)
	if err := c.gateway.PutJSON(ctx, path, url.Values{"formType": {formType}}, rec, nil); err != nil {
		return fmt.Errorf("admin: replace %s/%s: %w", formType, rec.ID, err)
	}
	c.logger.Info("replaced submission", zap.String("form_type", formType), zap.String("record_id", rec.ID))
	return nil
}

// decodeRecords accepts a bare array or an object wrapping it under
// "submissions", "records" or "data".
func decodeRecords(raw json.RawMessage) ([]Record, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(raw, &records); err == nil {
		return records, nil
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	for _, key := range []string{"submissions", "records", "data"} {
		inner, ok := wrapped[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &records); err != nil {
			return nil, fmt.Errorf("decode %s: %w", key, err)
		}
		return records, nil
	}
	return nil, errors.New("decode submissions: no record list in response")
}

// Group is every submission of one owner.
type Group struct {
	Owner   string   `json:"owner"`
	Latest  Record   `json:"latest"`
	Records []Record `json:"records"`
}

// GroupByOwner groups records by owner. Groups are ordered by their latest
// submission, newest first; records inside a group are newest first with
// ties broken by id.
func GroupByOwner(records []Record) []Group {
	byOwner := make(map[string][]Record)
	var owners []string
	for _, rec := range records {
		owner := strings.TrimSpace(rec.Owner)
		if _, ok := byOwner[owner]; !ok {
			owners = append(owners, owner)
		}
		byOwner[owner] = append(byOwner[owner], rec)
	}

	groups := make([]Group, 0, len(owners))
	for _, owner := range owners {
		recs := byOwner[owner]
		sort.SliceStable(recs, func(i, j int) bool { return newer(recs[i], recs[j]) })
		groups = append(groups, Group{Owner: owner, Latest: recs[0], Records: recs})
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if !groups[i].Latest.SubmittedAt.Equal(groups[j].Latest.SubmittedAt) {
			return groups[i].Latest.SubmittedAt.After(groups[j].Latest.SubmittedAt)
		}
		return groups[i].Owner < groups[j].Owner
	})
	return groups
}

func newer(a, b Record) bool {
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.ID < b.ID
}
