package merging

import (
	"fmt"
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/normalizers"
)

// Planner decides, per attribute, which side's value survives a merge.
type Planner struct {
	normalizer *normalizers.ClientNormalizer
}

func NewPlanner(normalizer *normalizers.ClientNormalizer) *Planner {
	if normalizer == nil {
		normalizer = normalizers.NewClientNormalizer(normalizers.DefaultPhone)
	}
	return &Planner{normalizer: normalizer}
}

// PlanFields returns one decision per mergeable attribute, in fixed order.
// Swapping primary and secondary requires a fresh plan.
func (p *Planner) PlanFields(primary, secondary models.Client) []models.FieldDecision {
	decisions := make([]models.FieldDecision, 0, len(models.MergeableFields))
	for _, field := range models.MergeableFields {
		pv := primary.FieldValue(field)
		sv := secondary.FieldValue(field)
		decisions = append(decisions, models.FieldDecision{
			Field:          field,
			Action:         p.defaultAction(field, pv, sv),
			PrimaryValue:   pv,
			SecondaryValue: sv,
		})
	}
	return decisions
}

func (p *Planner) defaultAction(field models.Field, primaryValue, secondaryValue string) models.DecisionAction {
	// lifecycle status always stays with the surviving record
	if field == models.FieldStatus {
		return models.ActionKeepPrimary
	}

	primaryEmpty := strings.TrimSpace(primaryValue) == ""
	secondaryEmpty := strings.TrimSpace(secondaryValue) == ""

	switch {
	case primaryEmpty && secondaryEmpty:
		return models.ActionKeepPrimary
	case primaryEmpty:
		return models.ActionTakeSecondary
	case secondaryEmpty || p.Equivalent(field, primaryValue, secondaryValue):
		return models.ActionKeepPrimary
	default:
		return models.ActionManual
	}
}

// Equivalent reports whether two values differ only trivially.
func (p *Planner) Equivalent(field models.Field, a, b string) bool {
	return p.normalizer.NormalizeField(field, a) == p.normalizer.NormalizeField(field, b)
}

// Override returns a copy of decisions with field set to action. chosen is the
// operator's value and is required for manual decisions.
func Override(decisions []models.FieldDecision, field models.Field, action models.DecisionAction, chosen *string) ([]models.FieldDecision, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, action)
	}
	if field == models.FieldStatus && action != models.ActionKeepPrimary {
		return nil, fmt.Errorf("%w: status always stays with the primary", ErrInvalidDecision)
	}
	if action == models.ActionManual && chosen == nil {
		return nil, ErrUnresolvedDecision
	}

	out := make([]models.FieldDecision, len(decisions))
	copy(out, decisions)
	for i := range out {
		if out[i].Field != field {
			continue
		}
		out[i].Action = action
		out[i].Chosen = nil
		if action == models.ActionManual {
			value := *chosen
			out[i].Chosen = &value
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: field %q is not in the plan", ErrInvalidDecision, field)
}

// Unresolved lists the manual decisions that still lack a chosen value.
func Unresolved(decisions []models.FieldDecision) []models.Field {
	var fields []models.Field
	for _, d := range decisions {
		if d.Action == models.ActionManual && d.Chosen == nil {
			fields = append(fields, d.Field)
		}
	}
	return fields
}
