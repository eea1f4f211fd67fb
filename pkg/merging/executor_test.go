package merging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/storage"
	"github.com/Ramsey-B/clover/pkg/grouping"
	"github.com/Ramsey-B/clover/pkg/models"
)

const account = "acct-1"

var errBoom = errors.New("boom")

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

type fixture struct {
	store     *storage.Memory
	executor  *Executor
	primary   models.Client
	secondary models.Client
}

// newFixture seeds the two Maria records: primary with 2 policies and 1
// appointment, secondary with 1 policy and 3 claims.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemory()
	primary := store.AddClient(models.Client{
		ID:        "p",
		AccountID: account,
		Name:      "Maria Da Silva",
		TaxID:     "123.456.789-00",
		Phone:     "+55 11 98888-7777",
	})
	secondary := store.AddClient(models.Client{
		ID:        "s",
		AccountID: account,
		Name:      "MARIA DASILVA",
		TaxID:     "12345678900",
		Phone:     "11988887777",
		Email:     "maria@example.com",
	})
	store.AddRecord(models.CategoryPolicies, account, "p")
	store.AddRecord(models.CategoryPolicies, account, "p")
	store.AddRecord(models.CategoryAppointments, account, "p")
	store.AddRecord(models.CategoryPolicies, account, "s")
	for i := 0; i < 3; i++ {
		store.AddRecord(models.CategoryClaims, account, "s")
	}

	return &fixture{
		store:     store,
		executor:  NewExecutor(silentLogger(), store, ExecutorConfig{Timeout: time.Second}),
		primary:   primary,
		secondary: secondary,
	}
}

func (f *fixture) request() models.MergeRequest {
	return models.MergeRequest{
		AccountID:   account,
		PrimaryID:   f.primary.ID,
		SecondaryID: f.secondary.ID,
		Decisions:   NewPlanner(nil).PlanFields(f.primary, f.secondary),
		PerformedBy: "user-1",
	}
}

func (f *fixture) counts(t *testing.T) (models.RelationshipSnapshot, models.RelationshipSnapshot) {
	t.Helper()
	snapshots, err := f.store.CountRelationships(context.Background(), account, []string{"p", "s"})
	require.NoError(t, err)
	return snapshots[0], snapshots[1]
}

func (f *fixture) client(t *testing.T, id string) models.Client {
	t.Helper()
	c, err := f.store.GetClient(context.Background(), account, id)
	require.NoError(t, err)
	return *c
}

func (f *fixture) assertUntouched(t *testing.T) {
	t.Helper()
	p, s := f.counts(t)
	assert.Equal(t, 2, p.Policies)
	assert.Equal(t, 1, p.Appointments)
	assert.Equal(t, 0, p.Claims)
	assert.Equal(t, 1, s.Policies)
	assert.Equal(t, 3, s.Claims)
	assert.Equal(t, models.ClientStatusActive, f.client(t, "s").Status)
	assert.Nil(t, f.client(t, "s").MergedInto)
	assert.Equal(t, "", f.client(t, "p").Email)
	assert.Empty(t, f.store.Audits())
}

func TestExecutor_MergeConservesRelationships(t *testing.T) {
	f := newFixture(t)
	before := func() int {
		p, s := f.counts(t)
		return p.Total() + s.Total()
	}()

	result, err := f.executor.Merge(context.Background(), f.request())
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.AlreadyMerged)
	assert.Empty(t, result.Error)
	assert.Equal(t, models.RelationshipSnapshot{ClientID: "p", Policies: 1, Appointments: 0, Claims: 3}, result.Moved)
	assert.NotEmpty(t, result.AuditID)

	p, s := f.counts(t)
	assert.Equal(t, 3, p.Policies)
	assert.Equal(t, 1, p.Appointments)
	assert.Equal(t, 3, p.Claims)
	assert.Zero(t, s.Total())
	assert.Equal(t, before, p.Total())

	retired := f.client(t, "s")
	assert.Equal(t, models.ClientStatusRetired, retired.Status)
	require.NotNil(t, retired.MergedInto)
	assert.Equal(t, "p", *retired.MergedInto)
	assert.NotNil(t, retired.RetiredAt)

	// email was empty on the primary, so the plan took the secondary's
	assert.Equal(t, "maria@example.com", f.client(t, "p").Email)
	assert.Equal(t, "Maria Da Silva", f.client(t, "p").Name)

	audits := f.store.Audits()
	require.Len(t, audits, 1)
	assert.Equal(t, result.AuditID, audits[0].ID)
	assert.Equal(t, "user-1", audits[0].PerformedBy)
	assert.Equal(t, result.Moved, audits[0].Moved)
}

func TestExecutor_RetryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	req := f.request()

	_, err := f.executor.Merge(context.Background(), req)
	require.NoError(t, err)
	pAfter, sAfter := f.counts(t)

	result, err := f.executor.Merge(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.AlreadyMerged)
	assert.Zero(t, result.Moved.Total())

	p, s := f.counts(t)
	assert.Equal(t, pAfter, p)
	assert.Equal(t, sAfter, s)
	assert.Len(t, f.store.Audits(), 1)
}

func TestExecutor_Preconditions(t *testing.T) {
	chosen := "someone@example.com"

	tests := []struct {
		name    string
		setup   func(f *fixture)
		mutate  func(req *models.MergeRequest)
		wantErr error
	}{
		{
			name:    "self merge",
			mutate:  func(req *models.MergeRequest) { req.SecondaryID = req.PrimaryID },
			wantErr: ErrSelfMerge,
		},
		{
			name: "different accounts",
			setup: func(f *fixture) {
				f.store.AddClient(models.Client{ID: "x", AccountID: "acct-2", Name: "Maria da Silva"})
			},
			mutate: func(req *models.MergeRequest) {
				req.SecondaryID = "x"
				req.Decisions = nil
			},
			wantErr: ErrAccountMismatch,
		},
		{
			name:    "request for another account",
			mutate:  func(req *models.MergeRequest) { req.AccountID = "acct-2" },
			wantErr: ErrAccountMismatch,
		},
		{
			name: "retired primary",
			setup: func(f *fixture) {
				into := "elsewhere"
				c := f.primary
				c.Status = models.ClientStatusRetired
				c.MergedInto = &into
				f.store.AddClient(c)
			},
			wantErr: ErrRetiredParticipant,
		},
		{
			name: "secondary retired into another client",
			setup: func(f *fixture) {
				into := "elsewhere"
				c := f.secondary
				c.Status = models.ClientStatusRetired
				c.MergedInto = &into
				f.store.AddClient(c)
			},
			wantErr: ErrRetiredParticipant,
		},
		{
			name: "manual decision without value",
			mutate: func(req *models.MergeRequest) {
				for i := range req.Decisions {
					if req.Decisions[i].Field == models.FieldNotes {
						req.Decisions[i].Action = models.ActionManual
					}
				}
			},
			wantErr: ErrUnresolvedDecision,
		},
		{
			name: "status change",
			mutate: func(req *models.MergeRequest) {
				req.Decisions = []models.FieldDecision{{
					Field:          models.FieldStatus,
					Action:         models.ActionManual,
					PrimaryValue:   "active",
					SecondaryValue: "active",
					Chosen:         stringPtr("inactive"),
				}}
			},
			wantErr: ErrInvalidDecision,
		},
		{
			name: "unparseable birth date",
			mutate: func(req *models.MergeRequest) {
				req.Decisions = []models.FieldDecision{{
					Field:  models.FieldBirthDate,
					Action: models.ActionManual,
					Chosen: stringPtr("31/12/1980"),
				}}
			},
			wantErr: ErrInvalidDecision,
		},
		{
			name:    "unknown client",
			mutate:  func(req *models.MergeRequest) { req.SecondaryID = "missing" },
			wantErr: ErrClientNotFound,
		},
		{
			name: "plan made against older values",
			setup: func(f *fixture) {
				c := f.secondary
				c.Email = "changed@example.com"
				f.store.AddClient(c)
			},
			wantErr: ErrStalePlan,
		},
		{
			name: "manual value accepted but plan stale",
			setup: func(f *fixture) {
				c := f.primary
				c.Phone = "11 3333-4444"
				f.store.AddClient(c)
			},
			mutate: func(req *models.MergeRequest) {
				plan, err := Override(req.Decisions, models.FieldEmail, models.ActionManual, &chosen)
				if err == nil {
					req.Decisions = plan
				}
			},
			wantErr: ErrStalePlan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := f.request()
			if tt.setup != nil {
				tt.setup(f)
			}
			if tt.mutate != nil {
				tt.mutate(&req)
			}

			result, err := f.executor.Merge(context.Background(), req)

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsPrecondition(err))
			assert.False(t, result.Success)
			assert.NotEmpty(t, result.Error)
			assert.False(t, result.Inconsistent)

			p, s := f.counts(t)
			assert.Equal(t, 3, p.Total())
			assert.Equal(t, 4, s.Total())
			assert.Empty(t, f.store.Audits())
		})
	}
}

func TestExecutor_LockBusy(t *testing.T) {
	f := newFixture(t)
	locker := NewLocalLocker()
	f.executor = NewExecutor(silentLogger(), f.store, ExecutorConfig{Locker: locker})

	// a merge elsewhere that involves only the secondary still blocks this pair
	held, err := locker.Acquire(context.Background(), ClientKey(account, "s"), time.Minute)
	require.NoError(t, err)

	_, err = f.executor.Merge(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrMergeInProgress)
	f.assertUntouched(t)

	// the primary lock taken first was released again
	free, err := locker.Acquire(context.Background(), ClientKey(account, "p"), time.Minute)
	require.NoError(t, err)
	require.NoError(t, free.Release(context.Background()))

	require.NoError(t, held.Release(context.Background()))
	result, err := f.executor.Merge(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
}

// interleavingLocker runs before once, ahead of the first lock acquisition:
// the window between the unlocked checks and the locked steps.
type interleavingLocker struct {
	Locker
	once   sync.Once
	before func()
}

func (l *interleavingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l.once.Do(l.before)
	return l.Locker.Acquire(ctx, key, ttl)
}

func TestExecutor_ChainedMergeRechecksUnderLock(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemory()
	a := store.AddClient(models.Client{ID: "a", AccountID: account, Name: "Joao Pereira"})
	b := store.AddClient(models.Client{ID: "b", AccountID: account, Name: "Joao Pereira"})
	c := store.AddClient(models.Client{ID: "c", AccountID: account, Name: "Joao Pereira", Email: "joao@example.com"})
	store.AddRecord(models.CategoryClaims, account, "c")

	planner := NewPlanner(nil)
	first := NewExecutor(silentLogger(), store, ExecutorConfig{Timeout: time.Second})
	locker := &interleavingLocker{Locker: NewLocalLocker(), before: func() {
		result, err := first.Merge(ctx, models.MergeRequest{
			AccountID:   account,
			PrimaryID:   "a",
			SecondaryID: "b",
			Decisions:   planner.PlanFields(a, b),
		})
		require.NoError(t, err)
		require.True(t, result.Success)
	}}
	second := NewExecutor(silentLogger(), store, ExecutorConfig{Timeout: time.Second, Locker: locker})

	result, err := second.Merge(ctx, models.MergeRequest{
		AccountID:   account,
		PrimaryID:   "b",
		SecondaryID: "c",
		Decisions:   planner.PlanFields(b, c),
	})
	assert.ErrorIs(t, err, ErrRetiredParticipant)
	assert.False(t, result.Success)

	counts, err := store.CountRelationships(ctx, account, []string{"b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 0, counts[0].Claims)
	assert.Equal(t, 1, counts[1].Claims)

	got, err := store.GetClient(ctx, account, "c")
	require.NoError(t, err)
	assert.Equal(t, models.ClientStatusActive, got.Status)
	assert.Len(t, store.Audits(), 1)
}

func TestLockClients(t *testing.T) {
	ctx := context.Background()
	locker := NewLocalLocker()

	locks, err := lockClients(ctx, locker, time.Minute, account, "s", "p", "s")
	require.NoError(t, err)
	require.Len(t, locks, 2)

	_, err = lockClients(ctx, locker, time.Minute, account, "p", "x")
	assert.ErrorIs(t, err, ErrMergeInProgress)

	require.NoError(t, releaseAll(ctx, locks))
	again, err := lockClients(ctx, locker, time.Minute, account, "p", "x")
	require.NoError(t, err)
	require.NoError(t, releaseAll(ctx, again))
}

func TestExecutor_CompensatesFailedStep(t *testing.T) {
	steps := []string{
		storage.OpReassign(models.CategoryClaims),
		storage.OpUpdate,
		storage.OpRetire,
		storage.OpAudit,
	}
	for _, op := range steps {
		t.Run(op, func(t *testing.T) {
			f := newFixture(t)
			f.store.Fail(op, errBoom)

			result, err := f.executor.Merge(context.Background(), f.request())

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMergeFailed)
			assert.False(t, IsPrecondition(err))
			assert.False(t, result.Success)
			assert.False(t, result.Inconsistent)
			assert.Empty(t, result.AuditID)

			f.store.Heal()
			f.assertUntouched(t)
		})
	}
}

func TestExecutor_ReportsInconsistentStateWhenUndoFails(t *testing.T) {
	f := newFixture(t)
	f.store.Fail(storage.OpRetire, errBoom)
	f.store.Fail(storage.OpRestore(models.CategoryPolicies), errBoom)

	result, err := f.executor.Merge(context.Background(), f.request())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentState)
	assert.False(t, result.Success)
	assert.True(t, result.Inconsistent)

	// claims were restored, the policy was not
	p, s := f.counts(t)
	assert.Equal(t, 3, p.Policies)
	assert.Equal(t, 0, p.Claims)
	assert.Equal(t, 3, s.Claims)
}

type recordingObserver struct {
	calls int
	err   error
}

func (o *recordingObserver) ClientsMerged(ctx context.Context, req models.MergeRequest, result models.MergeResult) error {
	o.calls++
	return o.err
}

func TestExecutor_ObserverFailureDoesNotFailMerge(t *testing.T) {
	f := newFixture(t)
	ok := &recordingObserver{}
	broken := &recordingObserver{err: errBoom}
	f.executor.AddObserver("events", broken)
	f.executor.AddObserver("graph", ok)

	result, err := f.executor.Merge(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, broken.calls)
	assert.Equal(t, 1, ok.calls)

	// already merged retries do not notify again
	_, err = f.executor.Merge(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 1, ok.calls)
}

// txStore runs the callback inline, giving the atomic path to a memory store.
type txStore struct {
	*storage.Memory
	txs int
}

func (s *txStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txs++
	return fn(ctx)
}

func TestExecutor_AtomicPath(t *testing.T) {
	f := newFixture(t)
	store := &txStore{Memory: f.store}
	executor := NewExecutor(silentLogger(), store, ExecutorConfig{})
	require.True(t, executor.Atomic())
	require.False(t, f.executor.Atomic())

	result, err := executor.Merge(context.Background(), f.request())
	require.NoError(t, err)
	assert.Equal(t, 1, store.txs)
	assert.Equal(t, 4, result.Moved.Total())
	assert.NotEmpty(t, result.AuditID)

	result, err = executor.Merge(context.Background(), f.request())
	require.NoError(t, err)
	assert.True(t, result.AlreadyMerged)
}

func TestExecutor_AtomicPathWrapsStoreErrors(t *testing.T) {
	f := newFixture(t)
	store := &txStore{Memory: f.store}
	executor := NewExecutor(silentLogger(), store, ExecutorConfig{})
	store.Fail(storage.OpRetire, errBoom)

	result, err := executor.Merge(context.Background(), f.request())
	assert.ErrorIs(t, err, ErrMergeFailed)
	assert.ErrorContains(t, err, "boom")
	assert.False(t, result.Success)
}

func TestExecutor_MergedPairDoesNotResurface(t *testing.T) {
	f := newFixture(t)
	detector := grouping.NewDetector(silentLogger(), f.store, grouping.NewEngine(nil, grouping.StrategyGreedy))

	groups, err := detector.Detect(context.Background(), account)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, models.TierHigh, groups[0].Best.Tier)
	assert.Equal(t, 100.0, groups[0].Best.Score)

	_, err = f.executor.Merge(context.Background(), f.request())
	require.NoError(t, err)

	groups, err = detector.Detect(context.Background(), account)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func stringPtr(s string) *string {
	return &s
}
