package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

// Logger writes one access log line per request. Probes and scrapes log at debug.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			ctx := req.Context()
			log := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":  context.GetRequestID(ctx),
				"account_id":  context.GetAccountID(ctx),
				"reviewer_id": context.GetReviewerID(ctx),
				"method":      req.Method,
				"route":       c.Path(),
				"uri":         req.RequestURI,
				"status":      c.Response().Status,
				"bytes":       c.Response().Size,
				"remote_ip":   c.RealIP(),
				"duration_ms": time.Since(start).Milliseconds(),
			})

			switch {
			case quiet(c.Path()):
				log.Debug("Request")
			case c.Response().Status >= http.StatusInternalServerError:
				log.Error("Request")
			default:
				log.Info("Request")
			}
			return nil
		}
	}
}

func quiet(route string) bool {
	return route == "/metrics" || strings.HasPrefix(route, "/api/v1/health")
}
