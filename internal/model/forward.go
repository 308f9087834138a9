// Package model defines shared types for the gateway.
package model

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// ProxyRequest represents a client request to be forwarded upstream.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Header http.Header
	Body   io.Reader
}

// ProxyResponse represents a raw upstream response.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// FailureKind classifies why a forward did not succeed.
type FailureKind int

const (
	// FailureUpstreamStatus means the upstream answered with a non-2xx status.
	FailureUpstreamStatus FailureKind = iota + 1
	// FailureTransport covers connection errors, timeouts and malformed upstream bodies.
	FailureTransport
)

func (k FailureKind) String() string {
	switch k {
	case FailureUpstreamStatus:
		return "upstream_status"
	case FailureTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Failure is the error variant of a ForwardResult. Detail is either the
// upstream's JSON error payload or a plain description string.
type Failure struct {
	Kind       FailureKind
	StatusCode int
	Detail     any
}

// ForwardResult is the outcome of one forward. Exactly one of the success
// fields or Failure is meaningful.
type ForwardResult struct {
	StatusCode  int
	ContentType string
	Body        json.RawMessage

	Failure *Failure
}

// OK reports whether the upstream call succeeded.
func (r *ForwardResult) OK() bool {
	return r.Failure == nil
}
