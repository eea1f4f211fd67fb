package grouping

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ClientSource returns the client records in scope for an account
type ClientSource interface {
	ListClients(ctx context.Context, accountID string) ([]models.Client, error)
	GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error)
}

// Detector loads an account's clients and groups them
type Detector struct {
	logger ectologger.Logger
	source ClientSource
	engine *Engine
}

func NewDetector(logger ectologger.Logger, source ClientSource, engine *Engine) *Detector {
	return &Detector{
		logger: logger,
		source: source,
		engine: engine,
	}
}

// Detect returns the duplicate groups for accountID. Only the load can fail.
func (d *Detector) Detect(ctx context.Context, accountID string) ([]models.DuplicateGroup, error) {
	ctx, span := tracing.StartSpan(ctx, "grouping.Detector.Detect",
		tracing.AttrAccountID.String(accountID))
	defer span.End()

	strategy := string(d.engine.Strategy())
	log := d.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id": accountID,
		"strategy":   strategy,
	})

	clients, err := d.source.ListClients(ctx, accountID)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.DetectionRunsTotal.WithLabelValues(strategy, "error").Inc()
		log.WithError(err).Error("Failed to load clients for duplicate detection")
		return nil, err
	}

	groups := d.DetectIn(ctx, clients)

	log.WithFields(map[string]any{
		"client_count": len(clients),
		"group_count":  len(groups),
	}).Debug("Duplicate detection finished")

	return groups, nil
}

// DetectIn groups an already loaded collection.
func (d *Detector) DetectIn(ctx context.Context, clients []models.Client) []models.DuplicateGroup {
	strategy := string(d.engine.Strategy())
	start := time.Now()

	groups := d.engine.Group(clients)

	metrics.DetectionDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	metrics.DetectionRunsTotal.WithLabelValues(strategy, "success").Inc()
	for _, g := range groups {
		metrics.DuplicateGroupsFound.WithLabelValues(string(g.Best.Tier)).Inc()
	}
	return groups
}
