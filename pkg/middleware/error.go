package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrorResponse is the body of every non-2xx API response. Meta carries a
// stable "code" for domain failures.
type ErrorResponse struct {
	Message   string         `json:"message"`
	RequestID string         `json:"request_id"`
	TraceID   string         `json:"trace_id"`
	Meta      map[string]any `json:"meta"`
}

// Error renders handler errors as ErrorResponse.
func Error(logger ectologger.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		ctx := c.Request().Context()
		status, body := describe(err)
		body.RequestID = context.GetRequestID(ctx)
		body.TraceID = tracing.GetTraceID(ctx)

		log := logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"status": status,
			"route":  c.Path(),
			"code":   body.Meta["code"],
		})
		if status >= http.StatusInternalServerError {
			log.Error("Request failed")
		} else {
			log.Warn("Request rejected")
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}

func describe(err error) (int, ErrorResponse) {
	body := ErrorResponse{Message: http.StatusText(http.StatusInternalServerError), Meta: map[string]any{}}

	var echoErr *echo.HTTPError
	switch {
	case httperror.IsHTTPError(err):
		httpErr := httperror.ToHTTPError(err)
		body.Message = httpErr.Error()
		if httpErr.Meta != nil {
			body.Meta = httpErr.Meta
		}
		return httperror.GetStatusCode(err), body
	case errors.As(err, &echoErr):
		body.Message = fmt.Sprint(echoErr.Message)
		return echoErr.Code, body
	}
	return http.StatusInternalServerError, body
}
