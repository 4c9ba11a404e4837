// Package store provides in-memory store implementations for testing/dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/tariff-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	versions map[string][]billing.RateVersion // keyed by concept name
	details  map[billing.DetailID]billing.FeeDetail
	byUnit   map[billing.UnitID][]billing.DetailID
}

func NewMemory() *Memory {
	return &Memory{
		versions: make(map[string][]billing.RateVersion),
		details:  make(map[billing.DetailID]billing.FeeDetail),
		byUnit:   make(map[billing.UnitID][]billing.DetailID),
	}
}

// =============================================================================
// RATE STORE
// =============================================================================

func (m *Memory) InsertVersion(_ context.Context, v billing.RateVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertVersionLocked(v)
}

func (m *Memory) insertVersionLocked(v billing.RateVersion) error {
	// Mirror the SQLite partial unique index: one open active version per concept.
	if v.EndDate == nil && v.Active {
		for _, existing := range m.versions[v.ConceptName] {
			if existing.EndDate == nil && existing.Active {
				return billing.ErrOverlappingRate
			}
		}
	}
	m.versions[v.ConceptName] = append(m.versions[v.ConceptName], v)
	return nil
}

func (m *Memory) CloseVersion(_ context.Context, id billing.VersionID, end billing.Date) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeVersionLocked(id, end)
}

func (m *Memory) closeVersionLocked(id billing.VersionID, end billing.Date) error {
	for concept, versions := range m.versions {
		for i := range versions {
			if versions[i].ID == id {
				e := end
				versions[i].EndDate = &e
				versions[i].Active = false
				m.versions[concept] = versions
				return nil
			}
		}
	}
	return billing.ErrRateVersionNotFound
}

func (m *Memory) OpenVersion(_ context.Context, conceptName string) (*billing.RateVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openVersionLocked(conceptName), nil
}

func (m *Memory) openVersionLocked(conceptName string) *billing.RateVersion {
	for _, v := range m.versions[conceptName] {
		if v.EndDate == nil && v.Active {
			out := v
			return &out
		}
	}
	return nil
}

func (m *Memory) VersionsByConcept(_ context.Context, conceptName string) ([]billing.RateVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.versionsByConceptLocked(conceptName), nil
}

func (m *Memory) versionsByConceptLocked(conceptName string) []billing.RateVersion {
	out := make([]billing.RateVersion, len(m.versions[conceptName]))
	copy(out, m.versions[conceptName])
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(billing.RateStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotVersions()
	view := &txMemoryView{parent: m}
	if err := fn(view); err != nil {
		m.versions = snapshot
		return err
	}
	return nil
}

func (m *Memory) snapshotVersions() map[string][]billing.RateVersion {
	out := make(map[string][]billing.RateVersion, len(m.versions))
	for k, v := range m.versions {
		out[k] = append([]billing.RateVersion{}, v...)
	}
	return out
}

type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) InsertVersion(_ context.Context, v billing.RateVersion) error {
	return tv.parent.insertVersionLocked(v)
}

func (tv *txMemoryView) CloseVersion(_ context.Context, id billing.VersionID, end billing.Date) error {
	return tv.parent.closeVersionLocked(id, end)
}

func (tv *txMemoryView) OpenVersion(_ context.Context, conceptName string) (*billing.RateVersion, error) {
	return tv.parent.openVersionLocked(conceptName), nil
}

func (tv *txMemoryView) VersionsByConcept(_ context.Context, conceptName string) ([]billing.RateVersion, error) {
	return tv.parent.versionsByConceptLocked(conceptName), nil
}

// =============================================================================
// DETAIL STORE
// =============================================================================

func (m *Memory) InsertDetail(_ context.Context, d billing.FeeDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertDetailLocked(d)
	return nil
}

// InsertDetails is atomic: the memory representation is only mutated once all
// rows are validated (there is nothing to validate here beyond map inserts,
// but the contract matches the SQLite transaction).
func (m *Memory) InsertDetails(_ context.Context, ds []billing.FeeDetail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ds {
		m.insertDetailLocked(d)
	}
	return nil
}

func (m *Memory) insertDetailLocked(d billing.FeeDetail) {
	m.details[d.ID] = d
	m.byUnit[d.UnitID] = append(m.byUnit[d.UnitID], d.ID)
}

func (m *Memory) Detail(_ context.Context, id billing.DetailID) (*billing.FeeDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.details[id]
	if !ok {
		return nil, billing.ErrDetailNotFound
	}
	out := d
	return &out, nil
}

func (m *Memory) DetailsByUnit(_ context.Context, unitID billing.UnitID) ([]billing.FeeDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []billing.FeeDetail
	for _, id := range m.byUnit[unitID] {
		out = append(out, m.details[id])
	}
	return out, nil
}

func (m *Memory) UpdateAmount(_ context.Context, id billing.DetailID, amount billing.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[id]
	if !ok {
		return billing.ErrDetailNotFound
	}
	d.AmountApplied = amount
	m.details[id] = d
	return nil
}

func (m *Memory) DeleteDetail(_ context.Context, id billing.DetailID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[id]
	if !ok {
		return billing.ErrDetailNotFound
	}
	delete(m.details, id)
	ids := m.byUnit[d.UnitID]
	for i, existing := range ids {
		if existing == id {
			m.byUnit[d.UnitID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) DeleteDetailsByUnit(_ context.Context, unitID billing.UnitID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := m.byUnit[unitID]
	for _, id := range ids {
		delete(m.details, id)
	}
	delete(m.byUnit, unitID)
	return len(ids), nil
}
