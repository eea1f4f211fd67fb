// Package relationships counts the dependent records that reference clients.
package relationships

import (
	"context"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// ErrRelationshipsUnavailable means counts are unknown. Callers must not treat
// them as zero.
var ErrRelationshipsUnavailable = errors.New("relationship counts unavailable")

// Source counts policies, appointments and claims per client. Clients without
// dependents may be omitted from the result.
type Source interface {
	CountRelationships(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error)
}

type Aggregator struct {
	logger ectologger.Logger
	source Source
}

func NewAggregator(logger ectologger.Logger, source Source) *Aggregator {
	return &Aggregator{
		logger: logger,
		source: source,
	}
}

// RelationshipsFor returns one snapshot per distinct input id, in input order.
func (a *Aggregator) RelationshipsFor(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Aggregator.RelationshipsFor",
		tracing.AttrAccountID.String(accountID), tracing.AttrClientCount.Int(len(clientIDs)))
	defer span.End()

	ids := distinct(clientIDs)
	if len(ids) == 0 {
		return []models.RelationshipSnapshot{}, nil
	}

	counts, err := a.source.CountRelationships(ctx, accountID, ids)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RelationshipLookupsTotal.WithLabelValues("error").Inc()
		a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"account_id": accountID,
			"client_ids": ids,
		}).Error("Failed to count client relationships")
		return nil, fmt.Errorf("%w: %v", ErrRelationshipsUnavailable, err)
	}
	metrics.RelationshipLookupsTotal.WithLabelValues("success").Inc()

	byID := make(map[string]models.RelationshipSnapshot, len(counts))
	for _, c := range counts {
		byID[c.ClientID] = c
	}

	result := make([]models.RelationshipSnapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, ok := byID[id]
		if !ok {
			snapshot = models.RelationshipSnapshot{ClientID: id}
		}
		result = append(result, snapshot)
	}
	return result, nil
}

func distinct(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
