// Package storage holds the client stores the services read from and merge into.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Operation names accepted by Memory.Fail.
const (
	OpList   = "list"
	OpGet    = "get"
	OpCount  = "count"
	OpUpdate = "update_fields"
	OpRetire = "retire"
	OpRevive = "reactivate"
	OpAudit  = "audit"

	reassignPrefix = "reassign:"
	restorePrefix  = "restore:"
)

// OpReassign names the reassignment of one category.
func OpReassign(category models.RelationshipCategory) string {
	return reassignPrefix + string(category)
}

// OpRestore names the undo of one category's reassignment.
func OpRestore(category models.RelationshipCategory) string {
	return restorePrefix + string(category)
}

type record struct {
	ID        string
	AccountID string
	ClientID  string
}

// Memory keeps clients and their dependent records in process. It has no
// multi-statement transactions, so merges against it run compensated.
type Memory struct {
	mu      sync.RWMutex
	clients map[string]models.Client
	order   []string
	records map[models.RelationshipCategory][]*record
	audits  []models.MergeAuditLog
	faults  map[string]error
}

func NewMemory() *Memory {
	return &Memory{
		clients: make(map[string]models.Client),
		records: make(map[models.RelationshipCategory][]*record),
		faults:  make(map[string]error),
	}
}

// Fail makes every later call of op return err until Heal is called.
func (m *Memory) Fail(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

func (m *Memory) Heal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = make(map[string]error)
}

func (m *Memory) fault(op string) error {
	return m.faults[op]
}

// AddClient stores c, replacing any client with the same id. An empty id gets a new uuid.
func (m *Memory) AddClient(c models.Client) models.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.ClientStatusActive
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if _, exists := m.clients[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.clients[c.ID] = c
	return c
}

// AddRecord attaches one dependent record of category to clientID and returns its id.
func (m *Memory) AddRecord(category models.RelationshipCategory, accountID, clientID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := &record{ID: uuid.NewString(), AccountID: accountID, ClientID: clientID}
	m.records[category] = append(m.records[category], r)
	return r.ID
}

// Audits returns the merge audit entries written so far.
func (m *Memory) Audits() []models.MergeAuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.MergeAuditLog(nil), m.audits...)
}

func (m *Memory) ListClients(ctx context.Context, accountID string) ([]models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpList); err != nil {
		return nil, err
	}
	clients := make([]models.Client, 0, len(m.order))
	for _, id := range m.order {
		c := m.clients[id]
		if c.AccountID == accountID {
			clients = append(clients, c)
		}
	}
	return clients, nil
}

// GetClient looks the client up by id alone and leaves account checks to the caller.
func (m *Memory) GetClient(ctx context.Context, accountID, clientID string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpGet); err != nil {
		return nil, err
	}
	c, ok := m.clients[clientID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrClientNotFound, clientID)
	}
	return &c, nil
}

func (m *Memory) CountRelationships(ctx context.Context, accountID string, clientIDs []string) ([]models.RelationshipSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpCount); err != nil {
		return nil, err
	}
	byID := make(map[string]*models.RelationshipSnapshot, len(clientIDs))
	for _, id := range clientIDs {
		byID[id] = &models.RelationshipSnapshot{ClientID: id}
	}
	for category, records := range m.records {
		for _, r := range records {
			if r.AccountID != accountID {
				continue
			}
			if snapshot, ok := byID[r.ClientID]; ok {
				snapshot.Add(category, 1)
			}
		}
	}

	result := make([]models.RelationshipSnapshot, 0, len(clientIDs))
	for _, id := range clientIDs {
		result = append(result, *byID[id])
	}
	return result, nil
}

func (m *Memory) ReassignRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, fromID, toID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpReassign(category)); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var moved []string
	for _, r := range m.records[category] {
		if r.AccountID == accountID && r.ClientID == fromID {
			r.ClientID = toID
			moved = append(moved, r.ID)
		}
	}
	sort.Strings(moved)
	return moved, nil
}

func (m *Memory) RestoreRelationships(ctx context.Context, accountID string, category models.RelationshipCategory, recordIDs []string, toID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpRestore(category)); err != nil {
		return err
	}
	wanted := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		wanted[id] = true
	}
	for _, r := range m.records[category] {
		if r.AccountID == accountID && wanted[r.ID] {
			r.ClientID = toID
		}
	}
	return nil
}

func (m *Memory) UpdateClientFields(ctx context.Context, accountID, clientID string, fields map[models.Field]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpUpdate); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := m.clients[clientID]
	if !ok || c.AccountID != accountID {
		return fmt.Errorf("%w: %s", models.ErrClientNotFound, clientID)
	}
	for field, value := range fields {
		if err := c.SetFieldValue(field, value); err != nil {
			return err
		}
	}
	c.UpdatedAt = time.Now().UTC()
	m.clients[clientID] = c
	return nil
}

func (m *Memory) RetireClient(ctx context.Context, accountID, clientID, mergedInto string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpRetire); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c, ok := m.clients[clientID]
	if !ok || c.AccountID != accountID {
		return fmt.Errorf("%w: %s", models.ErrClientNotFound, clientID)
	}
	now := time.Now().UTC()
	c.Status = models.ClientStatusRetired
	c.MergedInto = &mergedInto
	c.RetiredAt = &now
	c.UpdatedAt = now
	m.clients[clientID] = c
	return nil
}

func (m *Memory) ReactivateClient(ctx context.Context, accountID, clientID string, status models.ClientStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpRevive); err != nil {
		return err
	}
	c, ok := m.clients[clientID]
	if !ok || c.AccountID != accountID {
		return fmt.Errorf("%w: %s", models.ErrClientNotFound, clientID)
	}
	c.Status = status
	c.MergedInto = nil
	c.RetiredAt = nil
	c.UpdatedAt = time.Now().UTC()
	m.clients[clientID] = c
	return nil
}

func (m *Memory) WriteAudit(ctx context.Context, log models.MergeAuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpAudit); err != nil {
		return err
	}
	m.audits = append(m.audits, log)
	return nil
}

// MergeHistory lists the audit entries that involve clientID, newest first.
func (m *Memory) MergeHistory(ctx context.Context, accountID, clientID string) ([]models.MergeAuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var logs []models.MergeAuditLog
	for i := len(m.audits) - 1; i >= 0; i-- {
		a := m.audits[i]
		if a.AccountID == accountID && (a.PrimaryID == clientID || a.SecondaryID == clientID) {
			logs = append(logs, a)
		}
	}
	return logs, nil
}
