// Package events publishes client lifecycle events for downstream services.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const TypeClientMerged = "client.merged"

// ClientMergedEvent tells consumers that secondary was folded into primary.
// Consumers holding secondary ids should repoint them at primary.
type ClientMergedEvent struct {
	Type        string                      `json:"type"`
	AccountID   string                      `json:"account_id"`
	PrimaryID   string                      `json:"primary_id"`
	SecondaryID string                      `json:"secondary_id"`
	PerformedBy string                      `json:"performed_by,omitempty"`
	AuditID     string                      `json:"audit_id,omitempty"`
	Moved       models.RelationshipSnapshot `json:"moved"`
	Fields      []models.Field              `json:"fields_changed,omitempty"`
	Timestamp   time.Time                   `json:"timestamp"`
	TraceID     string                      `json:"trace_id,omitempty"`
}

// Publisher is the transport the emitter writes to.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// Emitter turns committed merges into events.
type Emitter struct {
	publisher Publisher
}

func NewEmitter(publisher Publisher) *Emitter {
	return &Emitter{publisher: publisher}
}

// ClientsMerged publishes a client.merged event keyed by account and primary
// so events for one surviving client stay ordered.
func (e *Emitter) ClientsMerged(ctx context.Context, req models.MergeRequest, result models.MergeResult) error {
	evt := ClientMergedEvent{
		Type:        TypeClientMerged,
		AccountID:   req.AccountID,
		PrimaryID:   req.PrimaryID,
		SecondaryID: req.SecondaryID,
		PerformedBy: req.PerformedBy,
		AuditID:     result.AuditID,
		Moved:       result.Moved,
		Fields:      changedFields(req.Decisions),
		Timestamp:   time.Now().UTC(),
		TraceID:     tracing.GetTraceID(ctx),
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", evt.Type, err)
	}

	return e.publisher.Publish(ctx, kafka.Message{
		Key:   fmt.Sprintf("%s:%s", req.AccountID, req.PrimaryID),
		Value: data,
		Headers: map[string]string{
			"type":       evt.Type,
			"account_id": req.AccountID,
		},
	})
}

func changedFields(decisions []models.FieldDecision) []models.Field {
	var fields []models.Field
	for _, d := range decisions {
		if _, apply, err := d.Resolved(); err == nil && apply {
			fields = append(fields, d.Field)
		}
	}
	return fields
}
