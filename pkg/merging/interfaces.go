package merging

import (
	"context"

	"github.com/Ramsey-B/clover/pkg/models"
)

// MutationSink is the storage boundary the executor writes through.
type MutationSink interface {
	GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error)
	// ReassignRelationships points every record of category that references fromID
	// at toID and returns the ids of the records it moved.
	ReassignRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, fromID, toID string) ([]string, error)
	// RestoreRelationships points exactly the given records back at toID.
	RestoreRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, recordIDs []string, toID string) error
	UpdateClientFields(ctx context.Context, accountID, clientID string, fields map[models.Field]string) error
	RetireClient(ctx context.Context, accountID, clientID, mergedInto string) error
	ReactivateClient(ctx context.Context, accountID, clientID string, status models.ClientStatus) error
}

// Transactor is implemented by sinks that can run several writes atomically.
// Writes made through the sink with the ctx passed to fn join the transaction.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// RowLocker is implemented by transactional sinks that can lock a client row
// for the rest of the transaction.
type RowLocker interface {
	GetClientForUpdate(ctx context.Context, accountID, clientID string) (*models.Client, error)
}

// AuditWriter persists a record of each executed merge.
type AuditWriter interface {
	WriteAudit(ctx context.Context, log models.MergeAuditLog) error
}

// Observer is notified after a merge has been committed. Failures are logged only.
type Observer interface {
	ClientsMerged(ctx context.Context, req models.MergeRequest, result models.MergeResult) error
}
