package merging

import (
	"errors"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Precondition violations. Nothing is written when one of these is returned.
var (
	ErrSelfMerge          = errors.New("a client cannot be merged with itself")
	ErrAccountMismatch    = errors.New("clients belong to different accounts")
	ErrRetiredParticipant = errors.New("a retired client cannot take part in a merge")
	ErrUnresolvedDecision = models.ErrUnresolvedDecision
	ErrInvalidDecision    = errors.New("invalid field decision")
	ErrStalePlan          = errors.New("field plan no longer matches the stored clients")
	ErrClientNotFound     = models.ErrClientNotFound
	ErrMergeInProgress    = errors.New("another merge of this pair is in progress")
)

// Execution failures.
var (
	// ErrMergeFailed means the merge failed and nothing it did remains applied.
	ErrMergeFailed = errors.New("merge failed and was rolled back")
	// ErrInconsistentState means a failed merge could not be fully undone.
	ErrInconsistentState = errors.New("merge failed and left a partially applied state")
)

// IsPrecondition reports whether err was raised before any mutation.
func IsPrecondition(err error) bool {
	for _, target := range []error{
		ErrSelfMerge,
		ErrAccountMismatch,
		ErrRetiredParticipant,
		ErrUnresolvedDecision,
		ErrInvalidDecision,
		ErrStalePlan,
		ErrClientNotFound,
		ErrMergeInProgress,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
