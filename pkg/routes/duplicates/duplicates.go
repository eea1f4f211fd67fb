package duplicates

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/routes"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// Detector is satisfied by *grouping.Detector
type Detector interface {
	Detect(ctx context.Context, accountID string) ([]models.DuplicateGroup, error)
}

// Handler serves duplicate groups
type Handler struct {
	detector Detector
	logger   ectologger.Logger
}

func NewHandler(detector Detector, logger ectologger.Logger) *Handler {
	return &Handler{
		detector: detector,
		logger:   logger,
	}
}

// Register registers duplicate routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
}

// List runs detection over the account's clients
func (h *Handler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DuplicatesHandler.List")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}

	groups, err := h.detector.Detect(ctx, accountID)
	if err != nil {
		return routes.DomainError(err)
	}
	if groups == nil {
		groups = []models.DuplicateGroup{}
	}
	return routes.SuccessResponse(c, groups)
}

// Get returns one group by its id. Group ids are derived from the members, so
// a group that changed since it was listed is not found.
func (h *Handler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "DuplicatesHandler.Get")
	defer span.End()

	accountID, err := routes.AccountID(c)
	if err != nil {
		return err
	}

	groups, err := h.detector.Detect(ctx, accountID)
	if err != nil {
		return routes.DomainError(err)
	}

	id := c.Param("id")
	group := ectolinq.Find(groups, func(g models.DuplicateGroup) bool { return g.ID == id })
	if group.ID == "" {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "duplicate group %s not found", id)
	}
	return routes.SuccessResponse(c, group)
}
