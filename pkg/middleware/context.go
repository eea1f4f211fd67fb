package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

const (
	HeaderAccountID  = "X-Tenant-ID"
	HeaderReviewerID = "X-User-ID"
)

// Context binds the request id and the acting account and reviewer to the request context.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := context.SetRequestID(req.Context(), requestID)
			ctx = context.SetAccountID(ctx, strings.TrimSpace(req.Header.Get(HeaderAccountID)))
			ctx = context.SetReviewerID(ctx, strings.TrimSpace(req.Header.Get(HeaderReviewerID)))

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// RequireAccount rejects requests without an account header.
func RequireAccount() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if context.GetAccountID(c.Request().Context()) == "" {
				return echo.NewHTTPError(http.StatusBadRequest, HeaderAccountID+" header is required")
			}
			return next(c)
		}
	}
}
