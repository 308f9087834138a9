package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"tornprobability-gateway/internal/config"
)

// corsMethods are the only methods advertised to cross-origin callers.
var corsMethods = []string{http.MethodOptions, http.MethodHead, http.MethodGet, http.MethodPost}

// CORS returns Echo's CORS middleware restricted to origins that fully match
// the configured pattern. Any requested header is allowed: with AllowHeaders
// left empty Echo echoes Access-Control-Request-Headers back on preflight.
// Preflight requests are answered here and never reach a route handler. An
// OPTIONS request is a preflight only when it carries both Origin and
// Access-Control-Request-Method; any other OPTIONS is passed to the routes.
func CORS(cfg config.CORSConfig) (echo.MiddlewareFunc, error) {
	re, err := cfg.OriginMatcher()
	if err != nil {
		return nil, fmt.Errorf("cors: %w", err)
	}

	return echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOriginFunc: func(origin string) (bool, error) {
			return re.MatchString(origin), nil
		},
		AllowMethods: corsMethods,
		Skipper:      notPreflight,
	}), nil
}

func notPreflight(c echo.Context) bool {
	req := c.Request()
	if req.Method != http.MethodOptions {
		return false
	}
	return req.Header.Get(echo.HeaderOrigin) == "" ||
		req.Header.Get(echo.HeaderAccessControlRequestMethod) == ""
}
