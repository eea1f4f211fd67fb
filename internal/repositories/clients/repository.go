package clients

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

const table = "clients"

var columns = []string{
	"id", "account_id", "name", "phone", "email", "tax_id", "birth_date",
	"street", "number", "complement", "district", "city", "state", "postal_code",
	"notes", "status", "merged_into", "created_at", "updated_at", "retired_at",
}

// column per mergeable field; status is never written through UpdateFields
var fieldColumns = map[models.Field]string{
	models.FieldName:       "name",
	models.FieldPhone:      "phone",
	models.FieldEmail:      "email",
	models.FieldTaxID:      "tax_id",
	models.FieldBirthDate:  "birth_date",
	models.FieldStreet:     "street",
	models.FieldNumber:     "number",
	models.FieldComplement: "complement",
	models.FieldDistrict:   "district",
	models.FieldCity:       "city",
	models.FieldState:      "state",
	models.FieldPostalCode: "postal_code",
	models.FieldNotes:      "notes",
}

// Repository handles client persistence
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

// Create inserts a client
func (r *Repository) Create(ctx context.Context, client *models.Client) (*models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.Create")
	defer span.End()

	if client.ID == "" {
		client.ID = uuid.New().String()
	}
	if client.Status == "" {
		client.Status = models.ClientStatusActive
	}
	client.CreatedAt = time.Now().UTC()
	client.UpdatedAt = client.CreatedAt

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto(table)
	sb.Cols(columns...)
	sb.Values(
		client.ID, client.AccountID, client.Name, client.Phone, client.Email, client.TaxID, client.BirthDate,
		client.Street, client.Number, client.Complement, client.District, client.City, client.State, client.PostalCode,
		client.Notes, client.Status, client.MergedInto, client.CreatedAt, client.UpdatedAt, client.RetiredAt,
	)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create client")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create client")
	}

	return client, nil
}

// List returns every client of the account, oldest first
func (r *Repository) List(ctx context.Context, accountID string) ([]models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.List")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(sb.Equal("account_id", accountID))
	sb.OrderBy("created_at", "id").Asc()

	query, args := sb.Build()
	var clients []models.Client
	if err := database.Conn(ctx, r.db).SelectContext(ctx, &clients, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list clients")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list clients")
	}

	return clients, nil
}

// Get retrieves a client by ID
func (r *Repository) Get(ctx context.Context, accountID, id string) (*models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.Get")
	defer span.End()

	return r.get(ctx, accountID, id, false)
}

// GetForUpdate retrieves a client and locks its row until the surrounding transaction ends
func (r *Repository) GetForUpdate(ctx context.Context, accountID, id string) (*models.Client, error) {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.GetForUpdate")
	defer span.End()

	return r.get(ctx, accountID, id, true)
}

func (r *Repository) get(ctx context.Context, accountID, id string, forUpdate bool) (*models.Client, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(table)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)
	if forUpdate {
		sb.ForUpdate()
	}

	query, args := sb.Build()
	var client models.Client
	if err := database.Conn(ctx, r.db).GetContext(ctx, &client, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("client %s not found", id))
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get client")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get client")
	}

	return &client, nil
}

// UpdateFields writes the given mergeable fields
func (r *Repository) UpdateFields(ctx context.Context, accountID, id string, fields map[models.Field]string) error {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.UpdateFields")
	defer span.End()

	if len(fields) == 0 {
		return nil
	}

	// validate through the model so the column gets a typed value
	var probe models.Client
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	assignments := []string{sb.Assign("updated_at", time.Now().UTC())}
	for field, value := range fields {
		column, ok := fieldColumns[field]
		if !ok {
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "field %s cannot be updated", field)
		}
		if err := probe.SetFieldValue(field, value); err != nil {
			return httperror.WrapError(http.StatusBadRequest, err)
		}
		if field == models.FieldBirthDate {
			assignments = append(assignments, sb.Assign(column, probe.BirthDate))
			continue
		}
		assignments = append(assignments, sb.Assign(column, value))
	}
	sb.Set(assignments...)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update client fields")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update client")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf("client %s not found", id))
	}
	return nil
}

// Retire marks a client as merged into another
func (r *Repository) Retire(ctx context.Context, accountID, id, mergedInto string) error {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.Retire")
	defer span.End()

	now := time.Now().UTC()
	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("status", models.ClientStatusRetired),
		sb.Assign("merged_into", mergedInto),
		sb.Assign("retired_at", now),
		sb.Assign("updated_at", now),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
		sb.NotEqual("status", models.ClientStatusRetired),
	)

	query, args := sb.Build()
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to retire client")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to retire client")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("client %s is missing or already retired", id))
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "merged_into": mergedInto}).Info("Retired client")
	return nil
}

// Reactivate clears a retirement
func (r *Repository) Reactivate(ctx context.Context, accountID, id string, status models.ClientStatus) error {
	ctx, span := tracing.StartSpan(ctx, "clients.Repository.Reactivate")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update(table)
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("merged_into", nil),
		sb.Assign("retired_at", nil),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("account_id", accountID),
	)

	query, args := sb.Build()
	if _, err := database.Conn(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to reactivate client")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to reactivate client")
	}
	return nil
}
