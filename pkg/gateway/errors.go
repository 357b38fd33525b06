package gateway

import (
	"errors"
	"fmt"
	"strings"
)

// TransportError reports a failed exchange with the gateway: either the
// request never completed (Status 0, Err set) or the gateway answered with a
// non-2xx status. The caller's form state is never touched, so every
// TransportError may be resubmitted.
type TransportError struct {
	Method string
	Path   string
	Status int
	Body   []byte
	Err    error
}

func (e *TransportError) Error() string {
	if e == nil {
		return "gateway: transport error"
	}
	target := strings.TrimSpace(e.Method + " " + e.Path)
	if e.Err != nil {
		return fmt.Sprintf("gateway: %s: %v", target, e.Err)
	}
	if e.Status == 0 {
		return fmt.Sprintf("gateway: %s: request failed", target)
	}
	msg := fmt.Sprintf("gateway: %s: unexpected status %d", target, e.Status)
	if snippet := bodySnippet(e.Body); snippet != "" {
		msg += ": " + snippet
	}
	return msg
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Retryable is always true; the gateway is never retried automatically but
// the user may resubmit.
func (e *TransportError) Retryable() bool {
	return true
}

// AsTransportError unwraps err into a *TransportError.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

const maxSnippet = 200

func bodySnippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxSnippet {
		s = s[:maxSnippet] + "..."
	}
	return s
}
