// Package routes holds the helpers shared by the HTTP handlers under pkg/routes.
package routes

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/relationships"
	"github.com/Ramsey-B/clover/pkg/session"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AccountID extracts the brokerage account from context
func AccountID(c echo.Context) (string, error) {
	accountID := context.GetAccountID(c.Request().Context())
	if accountID == "" {
		return "", httperror.NewHTTPError(http.StatusUnauthorized, "account is required")
	}
	return accountID, nil
}

// ReviewerID returns the acting user, or "unknown" when the header is absent
func ReviewerID(c echo.Context) string {
	if id := context.GetReviewerID(c.Request().Context()); id != "" {
		return id
	}
	return "unknown"
}

// BindRequest binds and validates a request body
func BindRequest[T any](c echo.Context) (T, error) {
	var v T

	if err := c.Bind(&v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}
	if err := validate.Struct(v); err != nil {
		return v, httperror.WrapError(http.StatusBadRequest, err)
	}

	return v, nil
}

type mapping struct {
	target error
	status int
	code   string
}

// order matters: the first match wins
var mappings = []mapping{
	{session.ErrSessionNotFound, http.StatusNotFound, "session_not_found"},
	{merging.ErrClientNotFound, http.StatusNotFound, "client_not_found"},
	{merging.ErrMergeInProgress, http.StatusConflict, "merge_in_progress"},
	{merging.ErrRetiredParticipant, http.StatusConflict, "retired_participant"},
	{merging.ErrStalePlan, http.StatusConflict, "stale_plan"},
	{session.ErrBusy, http.StatusConflict, "session_busy"},
	{session.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{session.ErrRelationshipsUnknown, http.StatusConflict, "relationships_unknown"},
	{merging.ErrSelfMerge, http.StatusBadRequest, "self_merge"},
	{merging.ErrAccountMismatch, http.StatusBadRequest, "account_mismatch"},
	{merging.ErrUnresolvedDecision, http.StatusBadRequest, "unresolved_decision"},
	{merging.ErrInvalidDecision, http.StatusBadRequest, "invalid_decision"},
	{session.ErrNotInGroup, http.StatusBadRequest, "not_in_group"},
	{relationships.ErrRelationshipsUnavailable, http.StatusServiceUnavailable, "relationships_unavailable"},
	{merging.ErrInconsistentState, http.StatusInternalServerError, "inconsistent_state"},
	{merging.ErrMergeFailed, http.StatusInternalServerError, "merge_failed"},
}

// DomainError turns a domain error into an HTTP error carrying a stable code in its meta.
// Errors that already carry a status pass through.
func DomainError(err error) error {
	if err == nil || httperror.IsHTTPError(err) {
		return err
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return httperror.NewHTTPError(m.status, err.Error()).AddMetaValue("code", m.code)
		}
	}
	return httperror.NewHTTPError(http.StatusInternalServerError, err.Error())
}

// SuccessResponse returns a 200 OK with data
func SuccessResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, data)
}

// CreatedResponse returns a 201 Created with data
func CreatedResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, data)
}

// NoContentResponse returns a 204 No Content
func NoContentResponse(c echo.Context) error {
	return c.NoContent(http.StatusNoContent)
}

// BadRequest returns a 400 Bad Request error
func BadRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
