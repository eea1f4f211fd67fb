package merging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/models"
)

func decisionFor(t *testing.T, decisions []models.FieldDecision, field models.Field) models.FieldDecision {
	t.Helper()
	for _, d := range decisions {
		if d.Field == field {
			return d
		}
	}
	t.Fatalf("no decision for %s", field)
	return models.FieldDecision{}
}

func TestPlanner_DefaultActions(t *testing.T) {
	primary := models.Client{
		ID:     "p",
		Name:   "Maria da Silva",
		Phone:  "(11) 98888-7777",
		Email:  "maria@example.com",
		Notes:  "prefers email",
		Status: models.ClientStatusActive,
	}
	primary.City = "São Paulo"
	secondary := models.Client{
		ID:     "s",
		Name:   "MARIA DA SILVA",
		Phone:  "11988887777",
		Email:  "maria.silva@example.com",
		TaxID:  "123.456.789-00",
		Status: models.ClientStatusInactive,
	}
	secondary.City = "Campinas"

	decisions := NewPlanner(nil).PlanFields(primary, secondary)
	require.Len(t, decisions, len(models.MergeableFields))

	tests := []struct {
		field  models.Field
		action models.DecisionAction
	}{
		{models.FieldName, models.ActionKeepPrimary},
		{models.FieldPhone, models.ActionKeepPrimary},
		{models.FieldEmail, models.ActionManual},
		{models.FieldTaxID, models.ActionTakeSecondary},
		{models.FieldBirthDate, models.ActionKeepPrimary},
		{models.FieldCity, models.ActionManual},
		{models.FieldNotes, models.ActionKeepPrimary},
		{models.FieldStatus, models.ActionKeepPrimary},
	}
	for _, tt := range tests {
		t.Run(string(tt.field), func(t *testing.T) {
			d := decisionFor(t, decisions, tt.field)
			assert.Equal(t, tt.action, d.Action)
			assert.Equal(t, primary.FieldValue(tt.field), d.PrimaryValue)
			assert.Equal(t, secondary.FieldValue(tt.field), d.SecondaryValue)
			assert.Nil(t, d.Chosen)
		})
	}

	for i, field := range models.MergeableFields {
		assert.Equal(t, field, decisions[i].Field)
	}
	assert.ElementsMatch(t, []models.Field{models.FieldEmail, models.FieldCity}, Unresolved(decisions))
}

func TestPlanner_SwapNeedsFreshPlan(t *testing.T) {
	a := models.Client{ID: "a", Email: "a@example.com"}
	b := models.Client{ID: "b", Phone: "11988887777"}
	planner := NewPlanner(nil)

	forward := planner.PlanFields(a, b)
	reverse := planner.PlanFields(b, a)

	assert.Equal(t, models.ActionTakeSecondary, decisionFor(t, forward, models.FieldPhone).Action)
	assert.Equal(t, models.ActionKeepPrimary, decisionFor(t, forward, models.FieldEmail).Action)
	assert.Equal(t, models.ActionKeepPrimary, decisionFor(t, reverse, models.FieldPhone).Action)
	assert.Equal(t, models.ActionTakeSecondary, decisionFor(t, reverse, models.FieldEmail).Action)
}

func TestOverride(t *testing.T) {
	primary := models.Client{ID: "p", Email: "one@example.com"}
	secondary := models.Client{ID: "s", Email: "two@example.com"}
	plan := NewPlanner(nil).PlanFields(primary, secondary)
	chosen := "three@example.com"

	t.Run("manual with value", func(t *testing.T) {
		updated, err := Override(plan, models.FieldEmail, models.ActionManual, &chosen)
		require.NoError(t, err)
		d := decisionFor(t, updated, models.FieldEmail)
		require.NotNil(t, d.Chosen)
		assert.Equal(t, chosen, *d.Chosen)
		assert.Empty(t, Unresolved(updated))
		// input plan untouched
		assert.Nil(t, decisionFor(t, plan, models.FieldEmail).Chosen)
	})

	t.Run("take secondary clears chosen", func(t *testing.T) {
		manual, err := Override(plan, models.FieldEmail, models.ActionManual, &chosen)
		require.NoError(t, err)
		updated, err := Override(manual, models.FieldEmail, models.ActionTakeSecondary, nil)
		require.NoError(t, err)
		d := decisionFor(t, updated, models.FieldEmail)
		assert.Nil(t, d.Chosen)
		value, apply, err := d.Resolved()
		require.NoError(t, err)
		assert.True(t, apply)
		assert.Equal(t, "two@example.com", value)
	})

	t.Run("manual without value", func(t *testing.T) {
		_, err := Override(plan, models.FieldEmail, models.ActionManual, nil)
		assert.ErrorIs(t, err, ErrUnresolvedDecision)
	})

	t.Run("status stays with primary", func(t *testing.T) {
		_, err := Override(plan, models.FieldStatus, models.ActionTakeSecondary, nil)
		assert.ErrorIs(t, err, ErrInvalidDecision)
	})

	t.Run("unknown action", func(t *testing.T) {
		_, err := Override(plan, models.FieldEmail, models.DecisionAction("merge-both"), nil)
		assert.ErrorIs(t, err, ErrInvalidDecision)
	})

	t.Run("field outside plan", func(t *testing.T) {
		_, err := Override(plan, models.Field("nickname"), models.ActionKeepPrimary, nil)
		assert.ErrorIs(t, err, ErrInvalidDecision)
	})
}
