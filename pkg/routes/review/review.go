package review

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/session"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// CreateSessionRequest opens a review over one duplicate group. The pair may be
// chosen up front.
type CreateSessionRequest struct {
	GroupID     string `json:"group_id" validate:"required"`
	PrimaryID   string `json:"primary_id" validate:"required_with=SecondaryID"`
	SecondaryID string `json:"secondary_id" validate:"required_with=PrimaryID"`
}

// SelectPairRequest chooses the survivor and the record to retire
type SelectPairRequest struct {
	PrimaryID   string `json:"primary_id" validate:"required"`
	SecondaryID string `json:"secondary_id" validate:"required"`
}

// DecisionRequest overrides the default action for one field
type DecisionRequest struct {
	Field  models.Field          `json:"field" validate:"required"`
	Action models.DecisionAction `json:"action" validate:"required,oneof=keep-primary take-secondary manual"`
	Chosen *string               `json:"chosen,omitempty"`
}

// SetDecisionsRequest applies several overrides in order
type SetDecisionsRequest struct {
	Decisions []DecisionRequest `json:"decisions" validate:"required,min=1,dive"`
}

// Handler serves review sessions
type Handler struct {
	manager  *session.Manager
	detector session.Detector
	logger   ectologger.Logger
}

func NewHandler(manager *session.Manager, detector session.Detector, logger ectologger.Logger) *Handler {
	return &Handler{
		manager:  manager,
		detector: detector,
		logger:   logger,
	}
}

// Register registers review session routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Close)
	g.POST("/:id/pair", h.SelectPair)
	g.POST("/:id/relationships", h.LoadRelationships)
	g.POST("/:id/plan", h.PlanFields)
	g.PUT("/:id/decisions", h.SetDecisions)
	g.POST("/:id/await", h.AwaitConfirmation)
	g.POST("/:id/swap", h.Swap)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/confirm", h.Confirm)
	g.POST("/:id/retry", h.Retry)
}

func (h *Handler) session(c echo.Context) (*session.Session, error) {
	accountID, err := routes.AccountID(c)
	if err != nil {
		return nil, err
	}
	s, err := h.manager.Get(accountID, c.Param("id"))
	if err != nil {
		return nil, routes.DomainError(err)
	}
	return s, nil
}

// Create opens a session on a group from a fresh detection run
func (h *Handler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ReviewHandler.Create")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}
	req, err := routes.BindRequest[CreateSessionRequest](c)
	if err != nil {
		return err
	}

	groups, err := h.detector.Detect(ctx, accountID)
	if err != nil {
		return routes.DomainError(err)
	}
	group := ectolinq.Find(groups, func(g models.DuplicateGroup) bool { return g.ID == req.GroupID })
	if group.ID == "" {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "duplicate group %s not found", req.GroupID)
	}

	s := h.manager.Create(accountID, routes.ReviewerID(c), group)
	if req.PrimaryID != "" {
		if err := s.SelectPair(req.PrimaryID, req.SecondaryID); err != nil {
			_ = h.manager.Close(accountID, s.ID())
			return routes.DomainError(err)
		}
	}

	h.logger.WithContext(ctx).WithFields(map[string]any{
		"session_id": s.ID(),
		"group_id":   group.ID,
		"members":    len(group.Clients),
	}).Info("Opened review session")

	return routes.CreatedResponse(c, s.View())
}

// Get returns the current view of a session
func (h *Handler) Get(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	return routes.SuccessResponse(c, s.View())
}

// Close discards a session
func (h *Handler) Close(c echo.Context) error {
	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}
	if err := h.manager.Close(accountID, c.Param("id")); err != nil {
		return routes.DomainError(err)
	}
	return routes.NoContentResponse(c)
}

func (h *Handler) SelectPair(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	req, err := routes.BindRequest[SelectPairRequest](c)
	if err != nil {
		return err
	}
	if err := s.SelectPair(req.PrimaryID, req.SecondaryID); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) LoadRelationships(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ReviewHandler.LoadRelationships")
	defer span.End()

	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.LoadRelationships(ctx); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) PlanFields(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if _, err := s.PlanFields(); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

// SetDecisions applies overrides in order and stops at the first rejected one
func (h *Handler) SetDecisions(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	req, err := routes.BindRequest[SetDecisionsRequest](c)
	if err != nil {
		return err
	}
	for _, d := range req.Decisions {
		if err := s.SetDecision(d.Field, d.Action, d.Chosen); err != nil {
			return routes.DomainError(err)
		}
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) AwaitConfirmation(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.AwaitConfirmation(); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) Swap(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if _, err := s.Swap(); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) Cancel(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.Cancel(); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

// Confirm runs the merge. The view is returned on success; a failed merge is
// reported as an error and the session is left in the failed state.
func (h *Handler) Confirm(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ReviewHandler.Confirm")
	defer span.End()

	s, err := h.session(c)
	if err != nil {
		return err
	}
	if _, err := s.Confirm(detached(ctx)); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

func (h *Handler) Retry(c echo.Context) error {
	s, err := h.session(c)
	if err != nil {
		return err
	}
	if err := s.Retry(); err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, s.View())
}

// detached keeps request values but survives a client disconnect; the
// executor applies its own timeout.
func detached(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
