package mocks

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/commerce-connect/internal/core/domain"
	"github.com/custodia-labs/commerce-connect/internal/core/ports/driven"
)

var _ driven.IntegrationStore = (*MockIntegrationStore)(nil)

// MockIntegrationStore is an in-memory IntegrationStore for testing.
// Records are copied on the way in and out so callers can't mutate state.
type MockIntegrationStore struct {
	mu      sync.RWMutex
	records map[string]*domain.Integration // key: id
	byPair  map[string]string              // key: tenant:platform -> id

	// Custom behavior hooks (optional)
	FindExpiringFn func(cutoff time.Time) ([]*domain.Integration, error)
	UpdateFn       func(id string, update domain.IntegrationUpdate) error
	CreateFn       func(rec *domain.Integration) error
}

// NewMockIntegrationStore creates an empty store.
func NewMockIntegrationStore() *MockIntegrationStore {
	return &MockIntegrationStore{
		records: make(map[string]*domain.Integration),
		byPair:  make(map[string]string),
	}
}

func pairKey(tenantID string, platform domain.Platform) string {
	return tenantID + ":" + string(platform)
}

func clone(rec *domain.Integration) *domain.Integration {
	c := *rec
	c.PlatformConfig = maps.Clone(rec.PlatformConfig)
	if rec.TokenExpiresAt != nil {
		t := *rec.TokenExpiresAt
		c.TokenExpiresAt = &t
	}
	if rec.LastRefreshedAt != nil {
		t := *rec.LastRefreshedAt
		c.LastRefreshedAt = &t
	}
	return &c
}

// Seed inserts rec without uniqueness checks (for test setup).
func (m *MockIntegrationStore) Seed(rec *domain.Integration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = clone(rec)
	m.byPair[pairKey(rec.TenantID, rec.Platform)] = rec.ID
}

// Snapshot returns the stored copy of id, or nil.
func (m *MockIntegrationStore) Snapshot(id string) *domain.Integration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil
	}
	return clone(rec)
}

// Len returns the number of stored records.
func (m *MockIntegrationStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MockIntegrationStore) FindByTenantAndPlatform(ctx context.Context, tenantID string, platform domain.Platform) (*domain.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPair[pairKey(tenantID, platform)]
	if !ok {
		return nil, nil
	}
	return clone(m.records[id]), nil
}

func (m *MockIntegrationStore) FindByTenantID(ctx context.Context, tenantID string) ([]*domain.Integration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Integration
	for _, rec := range m.records {
		if rec.TenantID == tenantID {
			out = append(out, clone(rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *MockIntegrationStore) FindExpiring(ctx context.Context, cutoff time.Time) ([]*domain.Integration, error) {
	if m.FindExpiringFn != nil {
		return m.FindExpiringFn(cutoff)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Integration
	for _, rec := range m.records {
		if rec.TokenExpiresAt == nil || !rec.TokenExpiresAt.Before(cutoff) {
			continue
		}
		if rec.Status != domain.StatusConnected && rec.Status != domain.StatusError {
			continue
		}
		if rec.NeedsReconnect {
			continue
		}
		out = append(out, clone(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiresAt.Before(*out[j].TokenExpiresAt) })
	return out, nil
}

func (m *MockIntegrationStore) Create(ctx context.Context, rec *domain.Integration) (*domain.Integration, error) {
	if m.CreateFn != nil {
		if err := m.CreateFn(rec); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(rec.TenantID, rec.Platform)
	if _, exists := m.byPair[key]; exists {
		return nil, domain.ErrAlreadyExists
	}
	m.records[rec.ID] = clone(rec)
	m.byPair[key] = rec.ID
	return clone(rec), nil
}

func (m *MockIntegrationStore) Update(ctx context.Context, id string, update domain.IntegrationUpdate) (*domain.Integration, error) {
	if m.UpdateFn != nil {
		if err := m.UpdateFn(id, update); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	rec.Apply(update)
	return clone(rec), nil
}

func (m *MockIntegrationStore) Ping(ctx context.Context) error {
	return nil
}
