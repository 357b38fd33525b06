package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-formflow/pkg/formstate"
	"github.com/goliatone/go-formflow/pkg/gateway"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// DefaultSubmitPath is the gateway's generic submission endpoint.
const DefaultSubmitPath = "/api/dashboard/forms/submit"

// Poster is the subset of *gateway.Client used to send submissions.
type Poster interface {
	PostMultipart(ctx context.Context, path, contentType string, body io.Reader, header http.Header) (*gateway.Response, error)
}

// Ack is the gateway's acknowledgement of an accepted submission.
type Ack struct {
	Status    int
	Body      json.RawMessage
	ID        string
	RequestID string
}

// Option customises an Adapter.
type Option func(*Adapter)

// WithSubmitPath overrides DefaultSubmitPath for services without their own
// SubmitPath.
func WithSubmitPath(path string) Option {
	return func(a *Adapter) {
		if strings.TrimSpace(path) != "" {
			a.path = strings.TrimSpace(path)
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// Adapter posts payloads to the gateway. It holds no per-submission state
// and is safe for concurrent use.
type Adapter struct {
	poster Poster
	path   string
	logger *zap.Logger
}

// NewAdapter binds an Adapter to poster.
func NewAdapter(poster Poster, opts ...Option) *Adapter {
	a := &Adapter{poster: poster, path: DefaultSubmitPath, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Submit builds and sends the payload with exactly one POST. Non-2xx answers
// and network failures surface as *gateway.TransportError.
func (a *Adapter) Submit(ctx context.Context, def schema.ServiceDefinition, compiled *schema.Compiled, identity string, state formstate.State) (Ack, error) {
	if a == nil || a.poster == nil {
		return Ack{}, errors.New("submission: adapter has no gateway client")
	}
	payload, err := BuildPayload(def, compiled, identity, state)
	if err != nil {
		return Ack{}, err
	}
	contentType, body, err := payload.Encode()
	if err != nil {
		return Ack{}, err
	}

	path := a.path
	if strings.TrimSpace(def.SubmitPath) != "" {
		path = strings.TrimSpace(def.SubmitPath)
	}
	requestID := uuid.NewString()
	header := http.Header{}
	header.Set(gateway.HeaderRequestID, requestID)

	logger := a.logger.With(
		zap.Int("service_id", def.ID),
		zap.String("form_id", payload.FormID),
		zap.String("request_id", requestID),
	)
	logger.Info("submitting form",
		zap.Int("fields", len(payload.Fields)),
		zap.Int("attachments", len(payload.Attachments)),
		zap.Int("bytes", body.Len()),
	)

	ctx = gateway.ContextWithIdentity(ctx, payload.UserIdentity)
	resp, err := a.poster.PostMultipart(ctx, path, contentType, body, header)
	if err != nil {
		logger.Warn("submission rejected", zap.Error(err))
		return Ack{}, err
	}

	ack := Ack{Status: resp.Status, Body: json.RawMessage(bytes.Clone(resp.Body)), RequestID: requestID}
	ack.ID = extractID(resp.Body)
	logger.Info("submission accepted", zap.Int("status", resp.Status), zap.String("record_id", ack.ID))
	return ack, nil
}

// extractID reads the created record id when the gateway returns one.
func extractID(body []byte) string {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	for _, key := range []string{"id", "_id", "insertedId"} {
		switch v := doc[key].(type) {
		case string:
			return v
		case float64:
			return fmt.Sprint(int64(v))
		case map[string]any:
			if oid, ok := v["$oid"].(string); ok {
				return oid
			}
		}
	}
	return ""
}
