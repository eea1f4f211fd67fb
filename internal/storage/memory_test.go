package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/relationships"
)

var (
	_ merging.MutationSink  = (*Memory)(nil)
	_ merging.AuditWriter   = (*Memory)(nil)
	_ grouping.ClientSource = (*Memory)(nil)
	_ relationships.Source  = (*Memory)(nil)

	_ merging.MutationSink  = (*Postgres)(nil)
	_ merging.AuditWriter   = (*Postgres)(nil)
	_ merging.Transactor    = (*Postgres)(nil)
	_ merging.RowLocker     = (*Postgres)(nil)
	_ grouping.ClientSource = (*Postgres)(nil)
	_ relationships.Source  = (*Postgres)(nil)
)

const seedDoc = `
clients:
  - id: c1
    account_id: acct-1
    name: Maria da Silva
    phone: "11988887777"
  - id: c2
    account_id: acct-1
    name: MARIA DASILVA
  - id: c3
    account_id: acct-2
    name: Joao Pereira
relationships:
  - client_id: c1
    account_id: acct-1
    policies: 2
    claims: 1
  - client_id: c2
    account_id: acct-1
    appointments: 3
`

func seeded(t *testing.T) *Memory {
	t.Helper()
	seed, err := ReadSeed(strings.NewReader(seedDoc))
	require.NoError(t, err)
	m := NewMemory()
	m.Load(seed)
	return m
}

func TestReadSeed(t *testing.T) {
	t.Run("empty document", func(t *testing.T) {
		seed, err := ReadSeed(strings.NewReader(""))
		require.NoError(t, err)
		assert.Empty(t, seed.Clients)
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := ReadSeed(strings.NewReader("clients: ["))
		assert.Error(t, err)
	})
}

func TestMemory_Load(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	clients, err := m.ListClients(ctx, "acct-1")
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "c1", clients[0].ID)
	assert.Equal(t, models.ClientStatusActive, clients[0].Status)
	assert.Equal(t, "11988887777", clients[0].Phone)

	counts, err := m.CountRelationships(ctx, "acct-1", []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, []models.RelationshipSnapshot{
		{ClientID: "c1", Policies: 2, Claims: 1},
		{ClientID: "c2", Appointments: 3},
		{ClientID: "c3"},
	}, counts)
}

func TestMemory_ReassignAndRestore(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	moved, err := m.ReassignRelationships(ctx, "acct-1", models.CategoryPolicies, "c1", "c2")
	require.NoError(t, err)
	assert.Len(t, moved, 2)

	counts, err := m.CountRelationships(ctx, "acct-1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 0, counts[0].Policies)
	assert.Equal(t, 2, counts[1].Policies)

	require.NoError(t, m.RestoreRelationships(ctx, "acct-1", models.CategoryPolicies, moved, "c1"))
	counts, err = m.CountRelationships(ctx, "acct-1", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[0].Policies)
	assert.Equal(t, 0, counts[1].Policies)

	t.Run("other accounts are untouched", func(t *testing.T) {
		moved, err := m.ReassignRelationships(ctx, "acct-2", models.CategoryPolicies, "c1", "c3")
		require.NoError(t, err)
		assert.Empty(t, moved)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := m.ReassignRelationships(cancelled, "acct-1", models.CategoryClaims, "c1", "c2")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemory_RetireAndReactivate(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.RetireClient(ctx, "acct-1", "c2", "c1"))
	c2, err := m.GetClient(ctx, "acct-1", "c2")
	require.NoError(t, err)
	assert.True(t, c2.RetiredInto("c1"))
	assert.NotNil(t, c2.RetiredAt)

	require.NoError(t, m.ReactivateClient(ctx, "acct-1", "c2", models.ClientStatusActive))
	c2, err = m.GetClient(ctx, "acct-1", "c2")
	require.NoError(t, err)
	assert.False(t, c2.IsRetired())
	assert.Nil(t, c2.MergedInto)

	err = m.RetireClient(ctx, "acct-2", "c2", "c1")
	assert.ErrorIs(t, err, models.ErrClientNotFound)

	_, err = m.GetClient(ctx, "acct-1", "missing")
	assert.ErrorIs(t, err, models.ErrClientNotFound)
}

func TestMemory_UpdateClientFields(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.UpdateClientFields(ctx, "acct-1", "c1", map[models.Field]string{
		models.FieldEmail:     "maria@example.com",
		models.FieldBirthDate: "1980-05-17",
	}))
	c1, err := m.GetClient(ctx, "acct-1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "maria@example.com", c1.Email)
	require.NotNil(t, c1.BirthDate)
	assert.Equal(t, "1980-05-17", c1.BirthDate.Format(models.BirthDateLayout))

	err = m.UpdateClientFields(ctx, "acct-1", "c1", map[models.Field]string{models.FieldBirthDate: "17/05/1980"})
	assert.Error(t, err)
}

func TestMemory_Faults(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	m.Fail(OpCount, errBoom)
	m.Fail(OpReassign(models.CategoryClaims), errBoom)

	_, err := m.CountRelationships(ctx, "acct-1", []string{"c1"})
	assert.ErrorIs(t, err, errBoom)
	_, err = m.ReassignRelationships(ctx, "acct-1", models.CategoryClaims, "c1", "c2")
	assert.ErrorIs(t, err, errBoom)

	_, err = m.ReassignRelationships(ctx, "acct-1", models.CategoryPolicies, "c1", "c2")
	assert.NoError(t, err)

	m.Heal()
	_, err = m.CountRelationships(ctx, "acct-1", []string{"c1"})
	assert.NoError(t, err)
}

func TestMemory_MergeHistory(t *testing.T) {
	m := seeded(t)
	ctx := context.Background()

	require.NoError(t, m.WriteAudit(ctx, models.MergeAuditLog{ID: "a1", AccountID: "acct-1", PrimaryID: "c1", SecondaryID: "c2"}))
	require.NoError(t, m.WriteAudit(ctx, models.MergeAuditLog{ID: "a2", AccountID: "acct-1", PrimaryID: "c3", SecondaryID: "c1"}))
	require.NoError(t, m.WriteAudit(ctx, models.MergeAuditLog{ID: "a3", AccountID: "acct-2", PrimaryID: "c1", SecondaryID: "c9"}))

	history, err := m.MergeHistory(ctx, "acct-1", "c1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a2", history[0].ID)
	assert.Equal(t, "a1", history[1].ID)
	assert.Len(t, m.Audits(), 3)
}
