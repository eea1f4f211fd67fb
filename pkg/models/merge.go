package models

import (
	"errors"
	"time"
)

// DecisionAction says which side's value survives for one attribute
type DecisionAction string

const (
	ActionKeepPrimary   DecisionAction = "keep-primary"
	ActionTakeSecondary DecisionAction = "take-secondary"
	// ActionManual needs an operator-chosen value before the merge can run
	ActionManual DecisionAction = "manual"
)

func (a DecisionAction) Valid() bool {
	return a == ActionKeepPrimary || a == ActionTakeSecondary || a == ActionManual
}

var ErrUnresolvedDecision = errors.New("manual field decision has no chosen value")

// FieldDecision is the survivor choice for one attribute during a single review.
// Never persisted except as audit history.
type FieldDecision struct {
	Field          Field          `json:"field" validate:"required"`
	Action         DecisionAction `json:"action" validate:"required,oneof=keep-primary take-secondary manual"`
	PrimaryValue   string         `json:"primary_value"`
	SecondaryValue string         `json:"secondary_value"`
	Chosen         *string        `json:"chosen,omitempty"`
}

// Resolved returns the surviving value and whether it must be written to the primary.
func (d FieldDecision) Resolved() (string, bool, error) {
	switch d.Action {
	case ActionKeepPrimary:
		return d.PrimaryValue, false, nil
	case ActionTakeSecondary:
		return d.SecondaryValue, d.SecondaryValue != d.PrimaryValue, nil
	case ActionManual:
		if d.Chosen == nil {
			return "", false, ErrUnresolvedDecision
		}
		return *d.Chosen, *d.Chosen != d.PrimaryValue, nil
	}
	return "", false, errors.New("unknown decision action " + string(d.Action))
}

// MergeRequest asks for secondary to be folded into primary
type MergeRequest struct {
	AccountID   string          `json:"account_id"`
	PrimaryID   string          `json:"primary_id"`
	SecondaryID string          `json:"secondary_id"`
	Decisions   []FieldDecision `json:"decisions"`
	PerformedBy string          `json:"performed_by"`
}

// MergeResult reports the outcome of one merge
type MergeResult struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	AlreadyMerged bool   `json:"already_merged,omitempty"`
	// Inconsistent means a failed merge could not be fully rolled back
	Inconsistent bool `json:"inconsistent,omitempty"`
	// Moved counts the records reassigned from secondary to primary
	Moved   RelationshipSnapshot `json:"moved"`
	AuditID string               `json:"audit_id,omitempty"`
}

// MergeAuditLog records an executed merge
type MergeAuditLog struct {
	ID          string               `json:"id" db:"id"`
	AccountID   string               `json:"account_id" db:"account_id"`
	PrimaryID   string               `json:"primary_id" db:"primary_id"`
	SecondaryID string               `json:"secondary_id" db:"secondary_id"`
	PerformedBy string               `json:"performed_by" db:"performed_by"`
	Decisions   []FieldDecision      `json:"decisions" db:"-"`
	Moved       RelationshipSnapshot `json:"moved" db:"-"`
	CreatedAt   time.Time            `json:"created_at" db:"created_at"`
}
