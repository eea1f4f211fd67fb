package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/internal/repositories/clients"
	"github.com/Ramsey-B/clover/internal/repositories/mergeaudit"
	"github.com/Ramsey-B/clover/internal/repositories/relationships"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Postgres serves reads and merges from PostgreSQL. Merges run inside one
// serializable transaction bound to the context.
type Postgres struct {
	db            database.DB
	clients       *clients.Repository
	relationships *relationships.Repository
	audit         *mergeaudit.Repository
}

func NewPostgres(db database.DB, logger ectologger.Logger) *Postgres {
	return &Postgres{
		db:            db,
		clients:       clients.NewRepository(db, logger),
		relationships: relationships.NewRepository(db, logger),
		audit:         mergeaudit.NewRepository(db, logger),
	}
}

// notFound maps a repository 404 onto the domain sentinel.
func notFound(err error, id string) error {
	if httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %s", models.ErrClientNotFound, id)
	}
	return err
}

func (p *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, p.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

func (p *Postgres) ListClients(ctx context.Context, accountID string) ([]models.Client, error) {
	return p.clients.List(ctx, accountID)
}

func (p *Postgres) GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error) {
	c, err := p.clients.Get(ctx, accountID, clientID)
	return c, notFound(err, clientID)
}

func (p *Postgres) GetClientForUpdate(ctx context.Context, accountID, clientID string) (*models.Client, error) {
	c, err := p.clients.GetForUpdate(ctx, accountID, clientID)
	return c, notFound(err, clientID)
}

func (p *Postgres) CountRelationships(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error) {
	return p.relationships.Count(ctx, accountID, clientIDs)
}

func (p *Postgres) ReassignRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, fromID, toID string) ([]string, error) {
	return p.relationships.Reassign(ctx, accountID, category, fromID, toID)
}

func (p *Postgres) RestoreRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, recordIDs []string, toID string) error {
	return p.relationships.Restore(ctx, accountID, category, recordIDs, toID)
}

func (p *Postgres) UpdateClientFields(ctx context.Context, accountID, clientID string, fields map[models.Field]string) error {
	return notFound(p.clients.UpdateFields(ctx, accountID, clientID, fields), clientID)
}

func (p *Postgres) RetireClient(ctx context.Context, accountID, clientID, mergedInto string) error {
	return p.clients.Retire(ctx, accountID, clientID, mergedInto)
}

func (p *Postgres) ReactivateClient(ctx context.Context, accountID, clientID string, status models.ClientStatus) error {
	return p.clients.Reactivate(ctx, accountID, clientID, status)
}

func (p *Postgres) WriteAudit(ctx context.Context, log models.MergeAuditLog) error {
	return p.audit.Create(ctx, log)
}

// MergeHistory lists the audit entries that involve clientID.
func (p *Postgres) MergeHistory(ctx context.Context, accountID, clientID string) ([]models.MergeAuditLog, error) {
	return p.audit.ListForClient(ctx, accountID, clientID)
}

// CreateClient and AddRecord seed data; used by integration tests and tooling.
func (p *Postgres) CreateClient(ctx context.Context, c models.Client) (*models.Client, error) {
	return p.clients.Create(ctx, &c)
}

func (p *Postgres) AddRecord(ctx context.Context, category models.RelationshipCategory, accountID, clientID string) (string, error) {
	return p.relationships.Create(ctx, category, accountID, clientID)
}
