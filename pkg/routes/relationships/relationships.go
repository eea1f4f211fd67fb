package relationships

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Loader is satisfied by *relationships.Aggregator
type Loader interface {
	RelationshipsFor(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error)
}

// Handler serves dependent-record counts
type Handler struct {
	loader Loader
	logger ectologger.Logger
}

func NewHandler(loader Loader, logger ectologger.Logger) *Handler {
	return &Handler{
		loader: loader,
		logger: logger,
	}
}

// Register registers relationship routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
}

// List returns one snapshot per client_id query value. A failed lookup is a
// 503, never a list of zeros.
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "RelationshipsHandler.List")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}

	ids := c.QueryParams()["client_id"]
	if len(ids) == 0 {
		return routes.BadRequest("at least one client_id is required")
	}

	snapshots, err := h.loader.RelationshipsFor(ctx, accountID, ids)
	if err != nil {
		return routes.DomainError(err)
	}
	return routes.SuccessResponse(c, snapshots)
}
