package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"tornprobability-gateway/internal/metrics"
	"tornprobability-gateway/internal/model"
	"tornprobability-gateway/internal/service"
)

// GatewayHandler serves the public calculator routes.
type GatewayHandler struct {
	service *service.GatewayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewGatewayHandler creates a GatewayHandler. The metrics parameter is
// optional; pass nil to skip failure counting.
func NewGatewayHandler(svc *service.GatewayService, logger *slog.Logger, m *metrics.Metrics) *GatewayHandler {
	return &GatewayHandler{
		service: svc,
		logger:  logger.With("component", "gateway_handler"),
		metrics: m,
	}
}

// Calculate forwards the request body to the upstream success calculator and
// relays its answer, or a {"detail": ...} envelope when the call fails.
func (h *GatewayHandler) Calculate(c echo.Context) error {
	req := c.Request()

	res := h.service.Forward(&model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Header: req.Header,
		Body:   req.Body,
	}, service.CalculatePath)

	if !res.OK() {
		return h.writeFailure(c, res.Failure)
	}
	return c.Blob(res.StatusCode, res.ContentType, res.Body)
}

// Scenarios relays the upstream list of supported scenarios.
func (h *GatewayHandler) Scenarios(c echo.Context) error {
	return h.passThrough(c, service.ScenariosPath)
}

// Weights relays the upstream role weights.
func (h *GatewayHandler) Weights(c echo.Context) error {
	return h.passThrough(c, service.WeightsPath)
}

// Names relays the upstream role names.
func (h *GatewayHandler) Names(c echo.Context) error {
	return h.passThrough(c, service.NamesPath)
}

// passThrough returns upstream failures to Echo untranslated; the default
// error handler answers them with a bare 500.
func (h *GatewayHandler) passThrough(c echo.Context, path string) error {
	data, err := h.service.Fetch(c.Request().Context(), path)
	if err != nil {
		return fmt.Errorf("pass-through %s: %w", c.Request().URL.Path, err)
	}
	return c.JSONBlob(http.StatusOK, data)
}

func (h *GatewayHandler) writeFailure(c echo.Context, f *model.Failure) error {
	h.logger.Debug("forward failure",
		"kind", f.Kind.String(),
		"status", f.StatusCode,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.ForwardFailures.WithLabelValues(f.Kind.String(), strconv.Itoa(f.StatusCode)).Inc()
	}
	return c.JSON(f.StatusCode, map[string]any{
		"detail": f.Detail,
	})
}
