package mergeaudit

import (
	"context"
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

type row struct {
	models.MergeAuditLog
	DecisionsJSON database.JSONB[[]models.FieldDecision]     `db:"decisions"`
	MovedJSON     database.JSONB[models.RelationshipSnapshot] `db:"moved"`
}

// Repository handles merge audit log persistence
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

// Create records an executed merge
func (r *Repository) Create(ctx context.Context, log models.MergeAuditLog) error {
	ctx, span := tracing.StartSpan(ctx, "mergeaudit.Repository.Create")
	defer span.End()

	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("merge_audit_log")
	sb.Cols("id", "account_id", "primary_id", "secondary_id", "performed_by", "decisions", "moved", "created_at")
	sb.Values(log.ID, log.AccountID, log.PrimaryID, log.SecondaryID, log.PerformedBy,
		database.NewJSONB(log.Decisions), database.NewJSONB(log.Moved), log.CreatedAt)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to write merge audit log")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to write merge audit log")
	}
	return nil
}

// ListForClient returns the merges in which clientID survived or was retired, newest first
func (r *Repository) ListForClient(ctx context.Context, accountID, clientID string) ([]models.MergeAuditLog, error) {
	ctx, span := tracing.StartSpan(ctx, "mergeaudit.Repository.ListForClient")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "account_id", "primary_id", "secondary_id", "performed_by", "decisions", "moved", "created_at")
	sb.From("merge_audit_log")
	sb.Where(
		sb.Equal("account_id", accountID),
		sb.Or(
			sb.Equal("primary_id", clientID),
			sb.Equal("secondary_id", clientID),
		),
	)
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	var rows []row
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list merge audit log")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list merge audit log")
	}

	logs := make([]models.MergeAuditLog, len(rows))
	for i, rw := range rows {
		logs[i] = rw.MergeAuditLog
		logs[i].Decisions = rw.DecisionsJSON.Data
		logs[i].Moved = rw.MovedJSON.Data
	}
	return logs, nil
}
