package store

import (
	"context"
	"sync"
	"time"

	"tracelane/pkg/domain"
)

// MemoryStore is an in-memory RecordStore for unit tests: same semantics as
// the Postgres store, plus fault injection for exercising the reconciliation
// paths.
type MemoryStore struct {
	mu        sync.Mutex
	traces    map[string]*domain.Trace
	campaigns map[string]*domain.Campaign

	patchErr error
}

func NewMemory() *MemoryStore {
	return &MemoryStore{
		traces:    make(map[string]*domain.Trace),
		campaigns: make(map[string]*domain.Campaign),
	}
}

// FailPatches makes every PatchTrace call return err until reset with nil.
func (m *MemoryStore) FailPatches(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patchErr = err
}

func (m *MemoryStore) PutCampaign(c *domain.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.campaigns[c.ID] = &cp
}

func (m *MemoryStore) GetTrace(_ context.Context, id string) (*domain.Trace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[id]
	if !ok {
		return nil, domain.ErrTraceNotFound
	}
	cp := *t
	cp.DonationCounters = append([]domain.DonationCounter(nil), t.DonationCounters...)
	return &cp, nil
}

func (m *MemoryStore) GetCampaign(_ context.Context, id string) (*domain.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, domain.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) CreateTrace(_ context.Context, t *domain.Trace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.traces[t.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteTrace(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.traces[id]; !ok {
		return domain.ErrTraceNotFound
	}
	delete(m.traces, id)
	return nil
}

func (m *MemoryStore) PatchTrace(_ context.Context, id string, p TracePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.patchErr != nil {
		return m.patchErr
	}
	t, ok := m.traces[id]
	if !ok {
		return domain.ErrTraceNotFound
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Message != nil {
		t.Message = *p.Message
	}
	if p.EvidenceRef != nil {
		t.EvidenceRef = *p.EvidenceRef
	}
	if p.PluginAddress != nil {
		t.PluginAddress = *p.PluginAddress
	}
	if p.ProjectID != nil {
		t.ProjectID = *p.ProjectID
	}
	if p.FullyFunded != nil {
		t.FullyFunded = *p.FullyFunded
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) SetPendingTx(_ context.Context, id, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.traces[id]
	if !ok {
		return domain.ErrTraceNotFound
	}
	if t.PendingTxHash != "" {
		return domain.ErrTransitionInFlight
	}
	t.PendingTxHash = txHash
	return nil
}

func (m *MemoryStore) ClearPendingTx(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.traces[id]; ok {
		t.PendingTxHash = ""
	}
	return nil
}
