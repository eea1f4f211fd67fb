package session

import (
	"time"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
)

// View is a point-in-time copy of a session for display.
type View struct {
	ID            string                        `json:"id"`
	AccountID     string                        `json:"account_id"`
	State         State                         `json:"state"`
	Group         *models.DuplicateGroup        `json:"group,omitempty"`
	Primary       *models.Client                `json:"primary,omitempty"`
	Secondary     *models.Client                `json:"secondary,omitempty"`
	Relationships []models.RelationshipSnapshot `json:"relationships,omitempty"`
	// RelationshipsKnown is false until counts load, after a failed load and
	// after a merge changed them
	RelationshipsKnown bool                    `json:"relationships_known"`
	RelationshipsError string                  `json:"relationships_error,omitempty"`
	Decisions          []models.FieldDecision  `json:"decisions,omitempty"`
	Unresolved         []models.Field          `json:"unresolved,omitempty"`
	CanConfirm         bool                    `json:"can_confirm"`
	Busy               bool                    `json:"busy"`
	Result             *models.MergeResult     `json:"result,omitempty"`
	Groups             []models.DuplicateGroup `json:"groups,omitempty"`
	LastActive         time.Time               `json:"last_active"`
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		ID:                 s.id,
		AccountID:          s.accountID,
		State:              s.state,
		RelationshipsKnown: s.relationships != nil && !s.relStale && s.relErr == nil,
		Decisions:          s.copyDecisions(),
		CanConfirm:         s.confirmBlocker() == nil,
		Busy:               s.inFlight,
		Groups:             s.groups,
		LastActive:         s.lastActive,
	}
	if !s.dissolved {
		group := s.group
		v.Group = &group
	}
	if s.primary != nil {
		primary := *s.primary
		v.Primary = &primary
		secondary := *s.secondary
		v.Secondary = &secondary
		for _, id := range []string{primary.ID, secondary.ID} {
			if snapshot, ok := s.relationships[id]; ok {
				v.Relationships = append(v.Relationships, snapshot)
			}
		}
	}
	if s.relErr != nil {
		v.RelationshipsError = s.relErr.Error()
	}
	if s.result != nil {
		result := *s.result
		v.Result = &result
	}
	v.Unresolved = merging.Unresolved(s.decisions)
	return v
}
