package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
)

const pgAccount = "acct-pg"

func startPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() || os.Getenv("CLOVER_PG_INTEGRATION") != "1" {
		t.Skip("set CLOVER_PG_INTEGRATION=1 to run against a postgres container")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "user",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "clover",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=user password=password dbname=clover sslmode=disable", host, port.Port())
	conn, err := sqlx.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{FolderPath: "../../db/pg"})
	require.NoError(t, migrations.MigratePostgres(conn.DB, "clover"))

	return NewPostgres(database.NewDatabaseInstance(conn, logger), logger)
}

func seedMaria(t *testing.T, store *Postgres) (models.Client, models.Client) {
	t.Helper()
	ctx := context.Background()
	birth := time.Date(1980, 5, 17, 0, 0, 0, 0, time.UTC)

	primary, err := store.CreateClient(ctx, models.Client{
		AccountID: pgAccount,
		Name:      "Maria Da Silva",
		TaxID:     "123.456.789-00",
		Phone:     "+55 11 98888-7777",
		BirthDate: &birth,
	})
	require.NoError(t, err)
	secondary, err := store.CreateClient(ctx, models.Client{
		AccountID: pgAccount,
		Name:      "MARIA DASILVA",
		TaxID:     "12345678900",
		Phone:     "11988887777",
		Email:     "maria@example.com",
	})
	require.NoError(t, err)

	for _, rec := range []struct {
		category models.RelationshipCategory
		clientID string
	}{
		{models.CategoryPolicies, primary.ID},
		{models.CategoryPolicies, primary.ID},
		{models.CategoryAppointments, primary.ID},
		{models.CategoryPolicies, secondary.ID},
		{models.CategoryClaims, secondary.ID},
		{models.CategoryClaims, secondary.ID},
		{models.CategoryClaims, secondary.ID},
	} {
		_, err := store.AddRecord(ctx, rec.category, pgAccount, rec.clientID)
		require.NoError(t, err)
	}
	return *primary, *secondary
}

func countsByClient(t *testing.T, store *Postgres, ids ...string) map[string]models.RelationshipSnapshot {
	t.Helper()
	snapshots, err := store.CountRelationships(context.Background(), pgAccount, ids)
	require.NoError(t, err)
	out := make(map[string]models.RelationshipSnapshot, len(snapshots))
	for _, s := range snapshots {
		out[s.ClientID] = s
	}
	return out
}

type failingRetire struct {
	*Postgres
}

func (f failingRetire) RetireClient(ctx context.Context, accountID, clientID, mergedInto string) error {
	return errors.New("retire rejected")
}

func TestPostgres_MergeIsAtomic(t *testing.T) {
	store := startPostgres(t)
	ctx := context.Background()
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	primary, secondary := seedMaria(t, store)

	req := models.MergeRequest{
		AccountID:   pgAccount,
		PrimaryID:   primary.ID,
		SecondaryID: secondary.ID,
		Decisions:   merging.NewPlanner(nil).PlanFields(primary, secondary),
		PerformedBy: "user-1",
	}

	t.Run("failed step rolls everything back", func(t *testing.T) {
		executor := merging.NewExecutor(logger, failingRetire{store}, merging.ExecutorConfig{})
		require.True(t, executor.Atomic())

		_, err := executor.Merge(ctx, req)
		assert.ErrorIs(t, err, merging.ErrMergeFailed)

		counts := countsByClient(t, store, primary.ID, secondary.ID)
		assert.Equal(t, 3, counts[primary.ID].Total())
		assert.Equal(t, 4, counts[secondary.ID].Total())

		p, err := store.GetClient(ctx, pgAccount, primary.ID)
		require.NoError(t, err)
		assert.Empty(t, p.Email)
	})

	t.Run("merge moves every record", func(t *testing.T) {
		executor := merging.NewExecutor(logger, store, merging.ExecutorConfig{})

		result, err := executor.Merge(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, models.RelationshipSnapshot{ClientID: primary.ID, Policies: 1, Claims: 3}, result.Moved)

		counts := countsByClient(t, store, primary.ID, secondary.ID)
		assert.Equal(t, models.RelationshipSnapshot{ClientID: primary.ID, Policies: 3, Appointments: 1, Claims: 3}, counts[primary.ID])
		assert.Zero(t, counts[secondary.ID].Total())

		s, err := store.GetClient(ctx, pgAccount, secondary.ID)
		require.NoError(t, err)
		assert.True(t, s.RetiredInto(primary.ID))

		p, err := store.GetClient(ctx, pgAccount, primary.ID)
		require.NoError(t, err)
		assert.Equal(t, "maria@example.com", p.Email)
		require.NotNil(t, p.BirthDate)
		assert.Equal(t, "1980-05-17", p.BirthDate.Format(models.BirthDateLayout))

		history, err := store.MergeHistory(ctx, pgAccount, secondary.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, result.AuditID, history[0].ID)
		assert.Equal(t, result.Moved, history[0].Moved)
		assert.Len(t, history[0].Decisions, len(models.MergeableFields))

		again, err := executor.Merge(ctx, req)
		require.NoError(t, err)
		assert.True(t, again.AlreadyMerged)
	})

	t.Run("unknown client", func(t *testing.T) {
		_, err := store.GetClient(ctx, pgAccount, "00000000-0000-0000-0000-000000000000")
		assert.ErrorIs(t, err, models.ErrClientNotFound)
	})
}
