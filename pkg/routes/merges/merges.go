package merges

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ClientGetter loads single clients for planning
type ClientGetter interface {
	GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error)
}

// Merger is satisfied by *merging.Executor
type Merger interface {
	Merge(ctx context.Context, req models.MergeRequest) (models.MergeResult, error)
}

// History lists the merges a client took part in
type History interface {
	MergeHistory(ctx context.Context, accountID, clientID string) ([]models.MergeAuditLog, error)
}

// PlanRequest asks for the default field plan of a pair
type PlanRequest struct {
	PrimaryID   string `json:"primary_id" validate:"required"`
	SecondaryID string `json:"secondary_id" validate:"required,nefield=PrimaryID"`
}

// MergeRequest is the body of an immediate merge
type MergeRequest struct {
	PrimaryID   string                 `json:"primary_id" validate:"required"`
	SecondaryID string                 `json:"secondary_id" validate:"required"`
	Decisions   []models.FieldDecision `json:"decisions" validate:"required,min=1,dive"`
}

// Handler serves merge plans, merges and merge history
type Handler struct {
	clients ClientGetter
	planner *merging.Planner
	merger  Merger
	history History
	logger  ectologger.Logger
}

func NewHandler(clients ClientGetter, planner *merging.Planner, merger Merger, history History, logger ectologger.Logger) *Handler {
	return &Handler{
		clients: clients,
		planner: planner,
		merger:  merger,
		history: history,
		logger:  logger,
	}
}

// RegisterPlans registers the merge plan routes
func (h *Handler) RegisterPlans(g *echo.Group) {
	g.POST("", h.Plan)
}

// RegisterMerges registers the merge routes
func (h *Handler) RegisterMerges(g *echo.Group) {
	g.POST("", h.Merge)
}

// RegisterHistory registers per-client merge history under a clients group
func (h *Handler) RegisterHistory(g *echo.Group) {
	g.GET("/:id/merges", h.History)
}

// Plan returns one decision per mergeable field for the pair
func (h *Handler) Plan(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MergesHandler.Plan")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}
	req, err := routes.BindRequest[PlanRequest](c)
	if err != nil {
		return err
	}

	primary, err := h.clients.GetClient(ctx, accountID, req.PrimaryID)
	if err != nil {
		return routes.DomainError(err)
	}
	secondary, err := h.clients.GetClient(ctx, accountID, req.SecondaryID)
	if err != nil {
		return routes.DomainError(err)
	}
	if primary.AccountID != accountID || secondary.AccountID != accountID {
		return routes.DomainError(merging.ErrAccountMismatch)
	}

	return routes.SuccessResponse(c, h.planner.PlanFields(*primary, *secondary))
}

// Merge folds secondary into primary with the given decisions
func (h *Handler) Merge(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MergesHandler.Merge")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}
	req, err := routes.BindRequest[MergeRequest](c)
	if err != nil {
		return err
	}

	// a client disconnect must not interrupt a merge; the executor applies its own timeout
	result, err := h.merger.Merge(context.WithoutCancel(ctx), models.MergeRequest{
		AccountID:   accountID,
		PrimaryID:   req.PrimaryID,
		SecondaryID: req.SecondaryID,
		Decisions:   req.Decisions,
		PerformedBy: routes.ReviewerID(c),
	})
	if err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, result)
}

// History returns the audit entries for a client, newest first
func (h *Handler) History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "MergesHandler.History")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}

	logs, err := h.history.MergeHistory(ctx, accountID, c.Param("id"))
	if err != nil {
		return routes.DomainError(err)
	}
	if logs == nil {
		logs = []models.MergeAuditLog{}
	}
	return routes.SuccessResponse(c, logs)
}
