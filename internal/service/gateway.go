// Package service implements the core forwarding logic.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tornprobability-gateway/internal/client"
	"tornprobability-gateway/internal/config"
	"tornprobability-gateway/internal/model"
)

// Upstream paths served by the calculator.
const (
	CalculatePath = "/api/CalculateSuccess"
	ScenariosPath = "/api/GetSupportedScenarios"
	WeightsPath   = "/api/GetRoleWeights"
	NamesPath     = "/api/GetRoleNames"
)

var (
	// ErrUpstreamStatus is returned when the upstream answers with a non-2xx status.
	ErrUpstreamStatus = errors.New("upstream returned non-2xx status")
	// ErrMalformedBody is returned when a successful upstream body is not valid JSON.
	ErrMalformedBody = errors.New("upstream returned malformed JSON")
)

// excludedRequestHeaders are never copied onto the outbound request.
var excludedRequestHeaders = map[string]bool{
	"host":           true,
	"content-length": true,
}

const userAgent = "tornprobability-gateway/1.0"

// GatewayService forwards gateway calls to the upstream calculator.
type GatewayService struct {
	client  *client.UpstreamClient
	logger  *slog.Logger
	baseURL *url.URL
	timeout time.Duration
}

// NewGatewayService creates a GatewayService.
func NewGatewayService(c *client.UpstreamClient, cfg *config.Config, logger *slog.Logger) (*GatewayService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	return &GatewayService{
		client:  c,
		logger:  logger.With("component", "gateway_service"),
		baseURL: u,
		timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}, nil
}

// Forward relays pr to targetPath on the upstream and reports the outcome.
// The inbound body is read fully before the call; headers are copied except
// Host and Content-Length. The call is bounded by the configured timeout.
func (s *GatewayService) Forward(pr *model.ProxyRequest, targetPath string) *model.ForwardResult {
	var body []byte
	if pr.Body != nil {
		b, err := io.ReadAll(pr.Body)
		if err != nil {
			return s.transportFailure(targetPath, fmt.Errorf("read request body: %w", err))
		}
		body = b
	}

	ctx := pr.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"target", targetPath,
		"bytes_in", len(body),
	)

	resp, err := s.client.Send(ctx, pr.Method, s.upstreamURL(targetPath), s.filterRequestHeaders(pr.Header), reqBody)
	if err != nil {
		return s.transportFailure(targetPath, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return s.transportFailure(targetPath, fmt.Errorf("read upstream body: %w", err))
	}

	if !isSuccess(resp.StatusCode) {
		s.logger.Warn("upstream error status",
			"target", targetPath,
			"status", resp.StatusCode,
		)
		return &model.ForwardResult{
			Failure: &model.Failure{
				Kind:       model.FailureUpstreamStatus,
				StatusCode: resp.StatusCode,
				Detail:     errorDetail(data),
			},
		}
	}

	if !json.Valid(data) {
		return s.transportFailure(targetPath, ErrMalformedBody)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}

	return &model.ForwardResult{
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        data,
	}
}

// Fetch issues a plain GET to path and returns the upstream JSON unmodified.
// No inbound headers are propagated and no timeout beyond ctx applies.
func (s *GatewayService) Fetch(ctx context.Context, path string) (json.RawMessage, error) {
	header := http.Header{"User-Agent": {userAgent}}
	resp, err := s.client.Send(ctx, http.MethodGet, s.upstreamURL(path), header, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !isSuccess(resp.StatusCode) {
		return nil, fmt.Errorf("fetch %s: %w: %d", path, ErrUpstreamStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("fetch %s: %w", path, ErrMalformedBody)
	}
	return data, nil
}

// BaseURL returns the upstream base URL the service forwards to.
func (s *GatewayService) BaseURL() string {
	return s.baseURL.String()
}

func (s *GatewayService) transportFailure(targetPath string, err error) *model.ForwardResult {
	s.logger.Error("forward failed",
		"target", targetPath,
		"err", err,
	)
	return &model.ForwardResult{
		Failure: &model.Failure{
			Kind:       model.FailureTransport,
			StatusCode: http.StatusBadGateway,
			Detail:     err.Error(),
		},
	}
}

func (s *GatewayService) upstreamURL(path string) string {
	u := *s.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

// filterRequestHeaders copies src minus the excluded headers. Values are
// shared with src, not cloned.
func (s *GatewayService) filterRequestHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if excludedRequestHeaders[strings.ToLower(key)] {
			continue
		}
		dst[key] = vals
	}
	return dst
}

// errorDetail returns the upstream error payload as JSON when it parses,
// otherwise as raw text.
func errorDetail(data []byte) any {
	if len(data) > 0 && json.Valid(data) {
		return json.RawMessage(data)
	}
	return string(data)
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}
