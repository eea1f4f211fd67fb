package merging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/metrics"
	"github.com/Ramsey-B/clover/pkg/models"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

const (
	DefaultMergeTimeout = 15 * time.Second

	pathAtomic = "atomic"
	pathSaga   = "saga"
)

type ExecutorConfig struct {
	// Timeout bounds one merge, lock wait excluded. Zero means DefaultMergeTimeout.
	Timeout time.Duration
	// Locker guards each participant across instances. Nil means an in-process lock.
	Locker Locker
}

type namedObserver struct {
	name     string
	observer Observer
}

// Executor folds a secondary client into a primary one. Either every step
// applies or none does.
type Executor struct {
	logger    ectologger.Logger
	sink      MutationSink
	timeout   time.Duration
	locker    Locker
	observers []namedObserver
}

func NewExecutor(logger ectologger.Logger, sink MutationSink, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultMergeTimeout
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	return &Executor{
		logger:  logger,
		sink:    sink,
		timeout: cfg.Timeout,
		locker:  cfg.Locker,
	}
}

// AddObserver registers a post-commit side effect. name labels its failures.
func (e *Executor) AddObserver(name string, observer Observer) {
	e.observers = append(e.observers, namedObserver{name: name, observer: observer})
}

// Atomic reports whether merges run inside a single store transaction.
func (e *Executor) Atomic() bool {
	_, ok := e.sink.(Transactor)
	return ok
}

// Merge executes req. The returned result always mirrors the error: on failure
// Success is false and Error is set.
func (e *Executor) Merge(ctx context.Context, req models.MergeRequest) (models.MergeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "merging.Executor.Merge",
		tracing.Pair(req.AccountID, req.PrimaryID, req.SecondaryID)...)
	defer span.End()

	path := pathSaga
	if e.Atomic() {
		path = pathAtomic
	}
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"account_id":   req.AccountID,
		"primary_id":   req.PrimaryID,
		"secondary_id": req.SecondaryID,
		"path":         path,
	})

	start := time.Now()
	result, err := e.merge(ctx, req, path)
	metrics.MergeDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	metrics.MergesTotal.WithLabelValues(path, outcome(result, err)).Inc()

	if err != nil {
		tracing.RecordError(span, err)
		result.Success = false
		result.Error = err.Error()
		switch {
		case errors.Is(err, ErrInconsistentState):
			log.WithError(err).Error("Merge failed and could not be fully undone")
		case IsPrecondition(err):
			log.WithError(err).Warn("Merge rejected")
		default:
			log.WithError(err).Error("Merge failed")
		}
		return result, err
	}

	if result.AlreadyMerged {
		log.Info("Secondary client already merged into primary")
		return result, nil
	}

	for _, category := range models.RelationshipCategories {
		if n := result.Moved.Count(category); n > 0 {
			metrics.RelationshipsMovedTotal.WithLabelValues(string(category)).Add(float64(n))
		}
	}
	log.WithFields(map[string]any{
		"audit_id":     result.AuditID,
		"policies":     result.Moved.Policies,
		"appointments": result.Moved.Appointments,
		"claims":       result.Moved.Claims,
	}).Info("Clients merged")

	e.notify(ctx, req, result)
	return result, nil
}

func (e *Executor) merge(ctx context.Context, req models.MergeRequest, path string) (models.MergeResult, error) {
	result := models.MergeResult{Moved: models.RelationshipSnapshot{ClientID: req.PrimaryID}}

	fields, err := validateRequest(req)
	if err != nil {
		return result, err
	}

	primary, secondary, err := e.load(ctx, e.sink.GetClient, req)
	if err != nil {
		return result, err
	}
	if done, err := checkParticipants(req, primary, secondary); err != nil || done {
		result.Success = err == nil
		result.AlreadyMerged = done
		return result, err
	}

	locks, err := lockClients(ctx, e.locker, e.timeout, req.AccountID, req.PrimaryID, req.SecondaryID)
	if err != nil {
		return result, err
	}
	defer func() {
		if releaseErr := releaseAll(context.WithoutCancel(ctx), locks); releaseErr != nil {
			e.logger.WithContext(ctx).WithError(releaseErr).Warn("Failed to release merge locks")
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if path == pathAtomic {
		return e.mergeAtomic(ctx, req, fields, result)
	}
	return e.mergeSaga(ctx, req, fields, result)
}

func (e *Executor) mergeAtomic(ctx context.Context, req models.MergeRequest, fields map[models.Field]string, result models.MergeResult) (models.MergeResult, error) {
	get := e.sink.GetClient
	if locker, ok := e.sink.(RowLocker); ok {
		get = locker.GetClientForUpdate
	}

	var moved models.RelationshipSnapshot
	var auditID string
	alreadyMerged := false

	err := e.sink.(Transactor).RunInTx(ctx, func(ctx context.Context) error {
		primary, secondary, err := e.load(ctx, get, req)
		if err != nil {
			return err
		}
		done, err := checkParticipants(req, primary, secondary)
		if err != nil {
			return err
		}
		if done {
			alreadyMerged = true
			return nil
		}
		if err := checkPlan(req.Decisions, *primary, *secondary); err != nil {
			return err
		}

		moved = models.RelationshipSnapshot{ClientID: req.PrimaryID}
		for _, category := range models.RelationshipCategories {
			ids, err := e.sink.ReassignRelationships(ctx, req.AccountID, category, req.SecondaryID, req.PrimaryID)
			if err != nil {
				return fmt.Errorf("reassign %s: %w", category, err)
			}
			moved.Add(category, len(ids))
		}
		if len(fields) > 0 {
			if err := e.sink.UpdateClientFields(ctx, req.AccountID, req.PrimaryID, fields); err != nil {
				return fmt.Errorf("update primary: %w", err)
			}
		}
		if err := e.sink.RetireClient(ctx, req.AccountID, req.SecondaryID, req.PrimaryID); err != nil {
			return fmt.Errorf("retire secondary: %w", err)
		}

		auditID, err = e.writeAudit(ctx, req, moved)
		return err
	})
	if err != nil {
		if IsPrecondition(err) {
			return result, err
		}
		return result, fmt.Errorf("%w: %v", ErrMergeFailed, err)
	}

	result.Success = true
	result.AlreadyMerged = alreadyMerged
	if !alreadyMerged {
		result.Moved = moved
		result.AuditID = auditID
	}
	return result, nil
}

// mergeSaga runs with both client locks held. Another merge may have retired a
// participant before the locks were taken, so both clients are read again.
func (e *Executor) mergeSaga(ctx context.Context, req models.MergeRequest, fields map[models.Field]string, result models.MergeResult) (models.MergeResult, error) {
	primary, secondary, err := e.load(ctx, e.sink.GetClient, req)
	if err != nil {
		return result, err
	}
	if done, err := checkParticipants(req, primary, secondary); err != nil || done {
		result.Success = err == nil
		result.AlreadyMerged = done
		return result, err
	}
	if err := checkPlan(req.Decisions, *primary, *secondary); err != nil {
		return result, err
	}

	var s saga
	moved := models.RelationshipSnapshot{ClientID: req.PrimaryID}

	err = func() error {
		for _, category := range models.RelationshipCategories {
			var ids []string
			err := s.do("reassign "+string(category),
				func() error {
					var err error
					ids, err = e.sink.ReassignRelationships(ctx, req.AccountID, category, req.SecondaryID, req.PrimaryID)
					return err
				},
				func(ctx context.Context) error {
					return e.sink.RestoreRelationships(ctx, req.AccountID, category, ids, req.SecondaryID)
				})
			if err != nil {
				return err
			}
			moved.Add(category, len(ids))
		}

		if len(fields) > 0 {
			previous := make(map[models.Field]string, len(fields))
			for field := range fields {
				previous[field] = primary.FieldValue(field)
			}
			err := s.do("update primary",
				func() error {
					return e.sink.UpdateClientFields(ctx, req.AccountID, req.PrimaryID, fields)
				},
				func(ctx context.Context) error {
					return e.sink.UpdateClientFields(ctx, req.AccountID, req.PrimaryID, previous)
				})
			if err != nil {
				return err
			}
		}

		err := s.do("retire secondary",
			func() error {
				return e.sink.RetireClient(ctx, req.AccountID, req.SecondaryID, req.PrimaryID)
			},
			func(ctx context.Context) error {
				return e.sink.ReactivateClient(ctx, req.AccountID, req.SecondaryID, secondary.Status)
			})
		if err != nil {
			return err
		}

		return s.do("write audit",
			func() error {
				var err error
				result.AuditID, err = e.writeAudit(ctx, req, moved)
				return err
			}, nil)
	}()
	if err == nil {
		result.Success = true
		result.Moved = moved
		return result, nil
	}

	result.AuditID = ""
	failed, undoErr := s.compensate(ctx)
	if undoErr != nil {
		result.Inconsistent = true
		e.logger.WithContext(ctx).WithError(undoErr).WithFields(map[string]any{
			"account_id":   req.AccountID,
			"primary_id":   req.PrimaryID,
			"secondary_id": req.SecondaryID,
			"failed_undo":  failed,
			"cause":        err.Error(),
		}).Error("Merge compensation failed, manual repair required")
		return result, fmt.Errorf("%w: %v (undo: %v)", ErrInconsistentState, err, undoErr)
	}
	return result, fmt.Errorf("%w: %v", ErrMergeFailed, err)
}

func (e *Executor) load(ctx context.Context, get func(ctx context.Context, accountID, clientID string) (*models.Client, error), req models.MergeRequest) (*models.Client, *models.Client, error) {
	primary, err := get(ctx, req.AccountID, req.PrimaryID)
	if err != nil {
		return nil, nil, fmt.Errorf("primary %s: %w", req.PrimaryID, err)
	}
	secondary, err := get(ctx, req.AccountID, req.SecondaryID)
	if err != nil {
		return nil, nil, fmt.Errorf("secondary %s: %w", req.SecondaryID, err)
	}
	return primary, secondary, nil
}

func (e *Executor) writeAudit(ctx context.Context, req models.MergeRequest, moved models.RelationshipSnapshot) (string, error) {
	writer, ok := e.sink.(AuditWriter)
	if !ok {
		return "", nil
	}
	entry := models.MergeAuditLog{
		ID:          uuid.NewString(),
		AccountID:   req.AccountID,
		PrimaryID:   req.PrimaryID,
		SecondaryID: req.SecondaryID,
		PerformedBy: req.PerformedBy,
		Decisions:   req.Decisions,
		Moved:       moved,
		CreatedAt:   time.Now().UTC(),
	}
	if err := writer.WriteAudit(ctx, entry); err != nil {
		return "", fmt.Errorf("write audit: %w", err)
	}
	return entry.ID, nil
}

// notify runs the post-commit side effects. The merge already happened, so
// failures are only logged.
func (e *Executor) notify(ctx context.Context, req models.MergeRequest, result models.MergeResult) {
	ctx = context.WithoutCancel(ctx)
	for _, o := range e.observers {
		if err := o.observer.ClientsMerged(ctx, req, result); err != nil {
			metrics.SideEffectFailuresTotal.WithLabelValues(o.name).Inc()
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"effect":       o.name,
				"primary_id":   req.PrimaryID,
				"secondary_id": req.SecondaryID,
			}).Warn("Post-merge side effect failed")
		}
	}
}

// validateRequest checks everything that needs no I/O and returns the values
// to write to the primary.
func validateRequest(req models.MergeRequest) (map[models.Field]string, error) {
	if req.PrimaryID == req.SecondaryID {
		return nil, ErrSelfMerge
	}

	fields := make(map[models.Field]string)
	seen := make(map[models.Field]bool, len(req.Decisions))
	for _, d := range req.Decisions {
		if !d.Field.Valid() {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidDecision, d.Field)
		}
		if seen[d.Field] {
			return nil, fmt.Errorf("%w: field %q decided twice", ErrInvalidDecision, d.Field)
		}
		seen[d.Field] = true
		if !d.Action.Valid() {
			return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
		}

		value, apply, err := d.Resolved()
		if err != nil {
			return nil, fmt.Errorf("%w: %s", err, d.Field)
		}
		if !apply {
			continue
		}
		if d.Field == models.FieldStatus {
			return nil, fmt.Errorf("%w: status always stays with the primary", ErrInvalidDecision)
		}
		var probe models.Client
		if err := probe.SetFieldValue(d.Field, value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDecision, err)
		}
		fields[d.Field] = value
	}
	return fields, nil
}

// checkParticipants reports done when the secondary was already merged into
// the primary.
func checkParticipants(req models.MergeRequest, primary, secondary *models.Client) (bool, error) {
	if primary.AccountID != secondary.AccountID || primary.AccountID != req.AccountID {
		return false, ErrAccountMismatch
	}
	if primary.IsRetired() {
		return false, fmt.Errorf("%w: primary %s", ErrRetiredParticipant, primary.ID)
	}
	if secondary.RetiredInto(primary.ID) {
		return true, nil
	}
	if secondary.IsRetired() {
		return false, fmt.Errorf("%w: secondary %s", ErrRetiredParticipant, secondary.ID)
	}
	return false, nil
}

// checkPlan rejects decisions made against values that have since changed.
func checkPlan(decisions []models.FieldDecision, primary, secondary models.Client) error {
	for _, d := range decisions {
		if d.PrimaryValue != primary.FieldValue(d.Field) || d.SecondaryValue != secondary.FieldValue(d.Field) {
			return fmt.Errorf("%w: %s changed", ErrStalePlan, d.Field)
		}
	}
	return nil
}

func outcome(result models.MergeResult, err error) string {
	switch {
	case err == nil && result.AlreadyMerged:
		return "already_merged"
	case err == nil:
		return "success"
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent"
	case IsPrecondition(err):
		return "rejected"
	default:
		return "failed"
	}
}
