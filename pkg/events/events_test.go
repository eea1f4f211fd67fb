package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/models"
)

type capturePublisher struct {
	messages []kafka.Message
	err      error
}

func (c *capturePublisher) Publish(ctx context.Context, msg kafka.Message) error {
	c.messages = append(c.messages, msg)
	return c.err
}

func TestEmitter_ClientsMerged(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewEmitter(pub)

	req := models.MergeRequest{
		AccountID:   "acct-1",
		PrimaryID:   "p",
		SecondaryID: "s",
		PerformedBy: "user-1",
		Decisions: []models.FieldDecision{
			{Field: models.FieldEmail, Action: models.ActionTakeSecondary, SecondaryValue: "m@example.com"},
			{Field: models.FieldName, Action: models.ActionKeepPrimary, PrimaryValue: "Maria"},
		},
	}
	result := models.MergeResult{
		Success: true,
		AuditID: "audit-1",
		Moved:   models.RelationshipSnapshot{ClientID: "p", Policies: 1, Claims: 3},
	}

	require.NoError(t, emitter.ClientsMerged(context.Background(), req, result))
	require.Len(t, pub.messages, 1)

	msg := pub.messages[0]
	assert.Equal(t, "acct-1:p", msg.Key)
	assert.Empty(t, msg.Topic)
	assert.Equal(t, TypeClientMerged, msg.Headers["type"])

	var evt ClientMergedEvent
	require.NoError(t, json.Unmarshal(msg.Value, &evt))
	assert.Equal(t, TypeClientMerged, evt.Type)
	assert.Equal(t, "s", evt.SecondaryID)
	assert.Equal(t, "audit-1", evt.AuditID)
	assert.Equal(t, 4, evt.Moved.Total())
	assert.Equal(t, []models.Field{models.FieldEmail}, evt.Fields)
	assert.False(t, evt.Timestamp.IsZero())
}

func TestEmitter_PropagatesPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}

	err := NewEmitter(pub).ClientsMerged(context.Background(), models.MergeRequest{PrimaryID: "p", SecondaryID: "s"}, models.MergeResult{})
	assert.ErrorContains(t, err, "broker down")
}
