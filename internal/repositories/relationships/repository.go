package relationships

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

// table per category; categories are a closed set so names never come from input
var tables = map[models.RelationshipCategory]string{
	models.CategoryPolicies:     "policies",
	models.CategoryAppointments: "appointments",
	models.CategoryClaims:       "claims",
}

// Repository handles the client references held by policies, appointments and claims
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func tableFor(category models.RelationshipCategory) (string, error) {
	t, ok := tables[category]
	if !ok {
		return "", httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown relationship category %s", category)
	}
	return t, nil
}

// Create adds one dependent record for a client
func (r *Repository) Create(ctx context.Context, category models.RelationshipCategory, accountID, clientID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Repository.Create")
	defer span.End()

	t, err := tableFor(category)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(t)
	sb.Cols("id", "account_id", "client_id", "created_at")
	sb.Values(id, accountID, clientID, time.Now().UTC())

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to create %s record", category)
		return "", httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to create %s record", category))
	}
	return id, nil
}

type countRow struct {
	ClientID string `db:"client_id"`
	Count    int    `db:"n"`
}

// Count returns per-client record counts. Clients without records are omitted.
func (r *Repository) Count(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Repository.Count")
	defer span.End()

	if len(clientIDs) == 0 {
		return nil, nil
	}

	byID := make(map[string]*models.RelationshipSnapshot)
	var order []string
	for _, category := range models.RelationshipCategories {
		sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
		sb.Select("client_id", sb.As("COUNT(*)", "n"))
		sb.From(tables[category])
		sb.Where(
			sb.Equal("account_id", accountID),
			sb.In("client_id", sqlbuilder.Flatten(clientIDs)...),
		)
		sb.GroupBy("client_id")

		query, args := sb.Build()
		var rows []countRow
		if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).Errorf("Failed to count %s", category)
			return nil, httperror.NewHTTPError(http.StatusServiceUnavailable, fmt.Sprintf("failed to count %s", category))
		}
		for _, row := range rows {
			snapshot, ok := byID[row.ClientID]
			if !ok {
				snapshot = &models.RelationshipSnapshot{ClientID: row.ClientID}
				byID[row.ClientID] = snapshot
				order = append(order, row.ClientID)
			}
			snapshot.Add(category, row.Count)
		}
	}

	result := make([]models.RelationshipSnapshot, 0, len(order))
	for _, id := range order {
		result = append(result, *byID[id])
	}
	return result, nil
}

// Reassign points every record of category owned by fromID at toID and returns the moved record ids
func (r *Repository) Reassign(ctx context.Context, accountID string, category models.RelationshipCategory, fromID, toID string) ([]string, error) {
	ctx, span := tracing.StartSpan(ctx, "relationships.Repository.Reassign")
	defer span.End()

	t, err := tableFor(category)
	if err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(t)
	sb.Set(sb.Assign("client_id", toID))
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Equal("client_id", fromID),
	)

	query, args := sb.Build()
	query += " RETURNING id"

	var ids []string
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &ids, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to reassign %s", category)
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to reassign %s", category))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"category": category,
		"from":     fromID,
		"to":       toID,
		"moved":    len(ids),
	}).Debug("Reassigned client records")
	return ids, nil
}

// Restore points exactly recordIDs at toID
func (r *Repository) Restore(ctx context.Context, accountID string, category models.RelationshipCategory, recordIDs []string, toID string) error {
	ctx, span := tracing.StartSpan(ctx, "relationships.Repository.Restore")
	defer span.End()

	if len(recordIDs) == 0 {
		return nil
	}
	t, err := tableFor(category)
	if err != nil {
		return err
	}

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(t)
	sb.Set(sb.Assign("client_id", toID))
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.In("id", sqlbuilder.Flatten(recordIDs)...),
	)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Errorf("Failed to restore %s", category)
		return httperror.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("failed to restore %s", category))
	}
	return nil
}
