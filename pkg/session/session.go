// Package session holds the transient state of one operator's duplicate review:
// the group under review, the chosen pair, relationship counts, the field plan
// and the outcome of the merge.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Gobusters/ectolinq"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type State string

const (
	StateIdle                 State = "idle"
	StatePairSelected         State = "pair_selected"
	StateRelationshipsLoading State = "relationships_loading"
	StateRelationshipsReady   State = "relationships_ready"
	StateFieldsPlanned        State = "fields_planned"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateMerging              State = "merging"
	StateMerged               State = "merged"
	StateFailed               State = "failed"
)

var (
	ErrInvalidTransition = errors.New("operation not allowed in the current review state")
	// ErrBusy means a relationship load or merge is still running.
	ErrBusy = errors.New("review session has an operation in flight")
	ErrNotInGroup = errors.New("client is not a member of the group under review")
	// ErrRelationshipsUnknown blocks confirmation until counts load successfully.
	ErrRelationshipsUnknown = errors.New("relationship counts are unknown")
)

// RelationshipLoader is satisfied by *relationships.Aggregator.
type RelationshipLoader interface {
	RelationshipsFor(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error)
}

// Merger is satisfied by *merging.Executor.
type Merger interface {
	Merge(ctx context.Context, req models.MergeRequest) (models.MergeResult, error)
}

// Detector is satisfied by *grouping.Detector.
type Detector interface {
	Detect(ctx context.Context, accountID string) ([]models.DuplicateGroup, error)
}

type Dependencies struct {
	Logger        ectologger.Logger
	Relationships RelationshipLoader
	Planner       *merging.Planner
	Merger        Merger
	Detector      Detector
}

// Session is safe for concurrent use. Relationship loads and merges run
// without holding the lock; the in-flight flag rejects overlapping calls.
type Session struct {
	mu   sync.Mutex
	deps Dependencies

	id         string
	accountID  string
	reviewerID string

	state     State
	group     models.DuplicateGroup
	dissolved bool
	primary   *models.Client
	secondary *models.Client

	relationships map[string]models.RelationshipSnapshot
	relStale      bool
	relErr        error

	decisions []models.FieldDecision
	result    *models.MergeResult
	mergeErr  error
	groups    []models.DuplicateGroup

	inFlight   bool
	lastActive time.Time
}

func New(id, accountID, reviewerID string, group models.DuplicateGroup, deps Dependencies) *Session {
	if deps.Planner == nil {
		deps.Planner = merging.NewPlanner(nil)
	}
	return &Session{
		deps:       deps,
		id:         id,
		accountID:  accountID,
		reviewerID: reviewerID,
		state:      StateIdle,
		group:      group,
		lastActive: time.Now(),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) AccountID() string {
	return s.accountID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// begin takes the lock for a synchronous operation that is legal in allowed.
func (s *Session) begin(op string, allowed ...State) error {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return ErrBusy
	}
	if !ectolinq.Contains(allowed, s.state) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, state)
	}
	s.lastActive = time.Now()
	return nil
}

// SelectPair chooses which member survives and which is retired. After a
// merge the next pair may be chosen while two or more members remain.
func (s *Session) SelectPair(primaryID, secondaryID string) error {
	if err := s.begin("select pair", StateIdle, StatePairSelected, StateMerged); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if s.state == StateMerged && s.dissolved {
		return fmt.Errorf("%w: select pair from dissolved group", ErrInvalidTransition)
	}
	if primaryID == secondaryID {
		return merging.ErrSelfMerge
	}
	primary, ok := s.member(primaryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInGroup, primaryID)
	}
	secondary, ok := s.member(secondaryID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInGroup, secondaryID)
	}

	s.primary = &primary
	s.secondary = &secondary
	s.relationships = nil
	s.relErr = nil
	s.relStale = false
	s.decisions = nil
	s.result = nil
	s.mergeErr = nil
	s.state = StatePairSelected
	return nil
}

// LoadRelationships fetches dependent-record counts for the selected pair.
// From PairSelected it moves through RelationshipsLoading; later states only
// refresh the counts. A failure leaves the counts unknown.
func (s *Session) LoadRelationships(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "session.Session.LoadRelationships")
	defer span.End()

	if err := s.begin("load relationships",
		StatePairSelected, StateRelationshipsReady, StateFieldsPlanned, StateAwaitingConfirmation, StateFailed); err != nil {
		return err
	}
	from := s.state
	if from == StatePairSelected {
		s.state = StateRelationshipsLoading
	}
	ids := []string{s.primary.ID, s.secondary.ID}
	s.inFlight = true
	s.mu.Unlock()

	snapshots, err := s.deps.Relationships.RelationshipsFor(ctx, s.accountID, ids)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.lastActive = time.Now()

	if err != nil {
		tracing.RecordError(span, err)
		s.relationships = nil
		s.relErr = err
		if from == StatePairSelected {
			s.state = StatePairSelected
		}
		return err
	}

	s.relationships = make(map[string]models.RelationshipSnapshot, len(snapshots))
	for _, snapshot := range snapshots {
		s.relationships[snapshot.ClientID] = snapshot
	}
	s.relErr = nil
	s.relStale = false
	if from == StatePairSelected {
		s.state = StateRelationshipsReady
	}
	return nil
}

// PlanFields computes the default field decisions for the pair.
func (s *Session) PlanFields() ([]models.FieldDecision, error) {
	if err := s.begin("plan fields", StateRelationshipsReady); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	s.decisions = s.deps.Planner.PlanFields(*s.primary, *s.secondary)
	s.state = StateFieldsPlanned
	return s.copyDecisions(), nil
}

// SetDecision overrides one field. Editing after AwaitConfirmation returns to FieldsPlanned.
func (s *Session) SetDecision(field models.Field, action models.DecisionAction, chosen *string) error {
	if err := s.begin("set decision", StateFieldsPlanned, StateAwaitingConfirmation); err != nil {
		return err
	}
	defer s.mu.Unlock()

	decisions, err := merging.Override(s.decisions, field, action, chosen)
	if err != nil {
		return err
	}
	s.decisions = decisions
	s.state = StateFieldsPlanned
	return nil
}

// AwaitConfirmation freezes the plan once every manual decision has a value.
func (s *Session) AwaitConfirmation() error {
	if err := s.begin("await confirmation", StateFieldsPlanned); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if unresolved := merging.Unresolved(s.decisions); len(unresolved) > 0 {
		return fmt.Errorf("%w: %v", merging.ErrUnresolvedDecision, unresolved)
	}
	s.state = StateAwaitingConfirmation
	return nil
}

// Swap exchanges primary and secondary and recomputes the plan.
func (s *Session) Swap() ([]models.FieldDecision, error) {
	if err := s.begin("swap", StateRelationshipsReady, StateFieldsPlanned, StateAwaitingConfirmation); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	s.primary, s.secondary = s.secondary, s.primary
	s.decisions = s.deps.Planner.PlanFields(*s.primary, *s.secondary)
	s.state = StateFieldsPlanned
	return s.copyDecisions(), nil
}

// Cancel drops the selection without side effects. From Merged it returns
// the session to Idle over the reduced group.
func (s *Session) Cancel() error {
	if err := s.begin("cancel",
		StateIdle, StatePairSelected, StateRelationshipsReady, StateFieldsPlanned, StateAwaitingConfirmation,
		StateMerged, StateFailed); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.primary = nil
	s.secondary = nil
	s.relationships = nil
	s.relErr = nil
	s.decisions = nil
	s.result = nil
	s.mergeErr = nil
	s.state = StateIdle
	return nil
}

// CanConfirm reports whether Confirm would be accepted right now.
func (s *Session) CanConfirm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmBlocker() == nil
}

func (s *Session) confirmBlocker() error {
	switch {
	case s.inFlight:
		return ErrBusy
	case s.state != StateAwaitingConfirmation:
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, s.state)
	case s.relationships == nil || s.relStale || s.relErr != nil:
		return ErrRelationshipsUnknown
	case len(merging.Unresolved(s.decisions)) > 0:
		return merging.ErrUnresolvedDecision
	}
	return nil
}

// Confirm executes the merge. On success the secondary leaves the group and
// detection is re-run; on failure the session moves to Failed.
func (s *Session) Confirm(ctx context.Context) (models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "session.Session.Confirm")
	defer span.End()

	s.mu.Lock()
	if err := s.confirmBlocker(); err != nil {
		s.mu.Unlock()
		return models.MergeResult{}, err
	}
	req := models.MergeRequest{
		AccountID:   s.accountID,
		PrimaryID:   s.primary.ID,
		SecondaryID: s.secondary.ID,
		Decisions:   s.copyDecisions(),
		PerformedBy: s.reviewerID,
	}
	s.state = StateMerging
	s.inFlight = true
	s.lastActive = time.Now()
	s.mu.Unlock()

	result, err := s.deps.Merger.Merge(ctx, req)

	s.mu.Lock()
	s.result = &result
	s.mergeErr = err
	if err != nil {
		tracing.RecordError(span, err)
		s.state = StateFailed
		if result.Inconsistent {
			// counts can no longer be trusted
			s.relStale = true
		}
		s.inFlight = false
		s.mu.Unlock()
		return result, err
	}

	s.state = StateMerged
	s.applyMerge(req)
	s.mu.Unlock()

	// detection runs without the lock, the merge itself is already settled
	groups, detectErr := s.deps.Detector.Detect(ctx, s.accountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	s.lastActive = time.Now()
	if detectErr != nil {
		s.deps.Logger.WithContext(ctx).WithError(detectErr).WithField("session_id", s.id).
			Warn("Failed to re-run duplicate detection after merge")
		return result, nil
	}
	s.groups = groups
	return result, nil
}

// Retry returns a failed merge to AwaitingConfirmation.
func (s *Session) Retry() error {
	if err := s.begin("retry", StateFailed); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.result = nil
	s.mergeErr = nil
	s.state = StateAwaitingConfirmation
	return nil
}

// applyMerge updates the local view: the secondary leaves the group, the
// primary shows the chosen values and cached counts go stale.
func (s *Session) applyMerge(req models.MergeRequest) {
	for _, d := range req.Decisions {
		if value, apply, err := d.Resolved(); err == nil && apply {
			_ = s.primary.SetFieldValue(d.Field, value)
		}
	}

	remaining := ectolinq.Filter(s.group.Clients, func(c models.Client) bool {
		return c.ID != req.SecondaryID
	})
	for i := range remaining {
		if remaining[i].ID == s.primary.ID {
			remaining[i] = *s.primary
		}
	}
	s.group.Clients = remaining
	s.group.Pairs = ectolinq.Filter(s.group.Pairs, func(p models.SimilarityResult) bool {
		return p.ClientAID != req.SecondaryID && p.ClientBID != req.SecondaryID
	})
	s.group.ID = models.GroupID(s.group.MemberIDs())
	if best := s.group.Best; best.ClientAID == req.SecondaryID || best.ClientBID == req.SecondaryID {
		s.group.Best = models.SimilarityResult{}
		for _, p := range s.group.Pairs {
			if p.Score > s.group.Best.Score {
				s.group.Best = p
			}
		}
	}
	if len(remaining) < 2 {
		s.dissolved = true
	}
	s.relStale = true
}

func (s *Session) member(id string) (models.Client, bool) {
	c := ectolinq.Find(s.group.Clients, func(c models.Client) bool {
		return c.ID == id
	})
	return c, c.ID != "" && c.ID == id
}

func (s *Session) copyDecisions() []models.FieldDecision {
	out := make([]models.FieldDecision, len(s.decisions))
	copy(out, s.decisions)
	return out
}

func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive, s.inFlight
}
