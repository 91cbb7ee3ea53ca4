// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/recurrence-engine/generic"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements generic.TxStore, generic.UserDirectory and
// generic.ActivitySink. Rows are copied on the way in and out.
type Memory struct {
	mu sync.RWMutex
	memoryState
}

type memoryState struct {
	items     map[itemKey]generic.Item
	overrides map[overrideKey]generic.Override
	users     map[userKey]generic.UserRef
	activity  []generic.ActivityEntry
}

type itemKey struct {
	Tenant generic.TenantID
	ID     generic.ItemID
}

type overrideKey struct {
	Tenant generic.TenantID
	ID     generic.OverrideID
}

type userKey struct {
	Tenant generic.TenantID
	ID     string
}

func NewMemory() *Memory {
	return &Memory{memoryState: memoryState{
		items:     make(map[itemKey]generic.Item),
		overrides: make(map[overrideKey]generic.Override),
		users:     make(map[userKey]generic.UserRef),
	}}
}

var _ generic.TxStore = (*Memory)(nil)

// =============================================================================
// ITEMS
// =============================================================================

func (m *Memory) CreateItem(ctx context.Context, item generic.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createItem(item)
}

func (m *Memory) UpdateItem(ctx context.Context, item generic.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateItem(item)
}

func (m *Memory) GetItem(ctx context.Context, tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getItem(tenant, id)
}

func (m *Memory) ListItems(ctx context.Context, tenant generic.TenantID, filter generic.ItemFilter) ([]generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listItems(tenant, filter), nil
}

func (m *Memory) FindActual(ctx context.Context, tenant generic.TenantID, parent generic.ItemID, day generic.Date) (*generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findActual(tenant, parent, day), nil
}

func (m *Memory) ListActuals(ctx context.Context, tenant generic.TenantID, parent generic.ItemID) ([]generic.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listActuals(tenant, parent), nil
}

func (s *memoryState) createItem(item generic.Item) error {
	k := itemKey{Tenant: item.TenantID, ID: item.ID}
	if _, ok := s.items[k]; ok {
		return &generic.DuplicateRowError{Index: "items_pkey"}
	}
	if item.IsActual() && item.OccurrenceDate != nil {
		if s.findActual(item.TenantID, item.ParentID, *item.OccurrenceDate) != nil {
			return &generic.DuplicateRowError{Index: "idx_items_actual_per_day"}
		}
	}
	s.items[k] = item.Clone()
	return nil
}

func (s *memoryState) updateItem(item generic.Item) error {
	k := itemKey{Tenant: item.TenantID, ID: item.ID}
	if _, ok := s.items[k]; !ok {
		return &generic.NotFoundError{Resource: "item", ID: string(item.ID)}
	}
	s.items[k] = item.Clone()
	return nil
}

func (s *memoryState) getItem(tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	it, ok := s.items[itemKey{Tenant: tenant, ID: id}]
	if !ok {
		return generic.Item{}, &generic.NotFoundError{Resource: "item", ID: string(id)}
	}
	return it.Clone(), nil
}

func (s *memoryState) listItems(tenant generic.TenantID, filter generic.ItemFilter) []generic.Item {
	var out []generic.Item
	for k, it := range s.items {
		if k.Tenant != tenant {
			continue
		}
		if filter.Kind != "" && it.Kind != filter.Kind {
			continue
		}
		if filter.RecurringOnly && !it.IsRecurring() {
			continue
		}
		if filter.ExcludeActuals && it.IsActual() {
			continue
		}
		out = append(out, it.Clone())
	}
	sortItems(out)
	return out
}

func (s *memoryState) findActual(tenant generic.TenantID, parent generic.ItemID, day generic.Date) *generic.Item {
	for k, it := range s.items {
		if k.Tenant == tenant && it.ParentID == parent && it.OccurrenceDate != nil && *it.OccurrenceDate == day {
			c := it.Clone()
			return &c
		}
	}
	return nil
}

func (s *memoryState) listActuals(tenant generic.TenantID, parent generic.ItemID) []generic.Item {
	var out []generic.Item
	for k, it := range s.items {
		if k.Tenant == tenant && it.ParentID == parent {
			out = append(out, it.Clone())
		}
	}
	sortItems(out)
	return out
}

func sortItems(items []generic.Item) {
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].StartDateTime, items[j].StartDateTime
		if !a.Equal(b) {
			return a.Before(b)
		}
		return items[i].ID < items[j].ID
	})
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (m *Memory) FindOverride(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) (*generic.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findOverride(tenant, template, day, deleted), nil
}

func (m *Memory) FindLatestOverrideOnOrBefore(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date) (*generic.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLatestOverride(tenant, template, day), nil
}

func (m *Memory) ListOverrides(ctx context.Context, tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) ([]generic.Override, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverrides(tenant, template, filter), nil
}

func (m *Memory) InsertOverride(ctx context.Context, ov generic.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertOverride(ov)
}

func (m *Memory) UpdateOverride(ctx context.Context, ov generic.Override) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateOverride(ov)
}

func (s *memoryState) findOverride(tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) *generic.Override {
	for k, ov := range s.overrides {
		if k.Tenant == tenant && ov.TemplateID == template && ov.Date == day && ov.IsDeleted == deleted {
			c := ov.Clone()
			return &c
		}
	}
	return nil
}

func (s *memoryState) findLatestOverride(tenant generic.TenantID, template generic.ItemID, day generic.Date) *generic.Override {
	var best *generic.Override
	for k, ov := range s.overrides {
		if k.Tenant != tenant || ov.TemplateID != template || ov.IsDeleted || ov.Date.After(day) {
			continue
		}
		if best == nil || ov.Date.After(best.Date) {
			c := ov.Clone()
			best = &c
		}
	}
	return best
}

func (s *memoryState) listOverrides(tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) []generic.Override {
	var out []generic.Override
	for k, ov := range s.overrides {
		if k.Tenant != tenant || ov.TemplateID != template {
			continue
		}
		if ov.IsDeleted && !filter.IncludeDeleted {
			continue
		}
		if filter.From != nil && ov.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && ov.Date.After(*filter.To) {
			continue
		}
		out = append(out, ov.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *memoryState) insertOverride(ov generic.Override) error {
	k := overrideKey{Tenant: ov.TenantID, ID: ov.ID}
	if _, ok := s.overrides[k]; ok {
		return &generic.DuplicateRowError{Index: "overrides_pkey"}
	}
	if !ov.IsDeleted && s.findOverride(ov.TenantID, ov.TemplateID, ov.Date, false) != nil {
		return &generic.DuplicateRowError{Index: "idx_overrides_live_per_day"}
	}
	s.overrides[k] = ov.Clone()
	return nil
}

func (s *memoryState) updateOverride(ov generic.Override) error {
	k := overrideKey{Tenant: ov.TenantID, ID: ov.ID}
	if _, ok := s.overrides[k]; !ok {
		return &generic.NotFoundError{Resource: "override", ID: string(ov.ID)}
	}
	s.overrides[k] = ov.Clone()
	return nil
}

// =============================================================================
// USERS / ACTIVITY
// =============================================================================

// AddUser registers a user the directory can resolve.
func (m *Memory) AddUser(tenant generic.TenantID, ref generic.UserRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userKey{Tenant: tenant, ID: ref.ID}] = ref
}

func (m *Memory) ResolveUser(ctx context.Context, tenant generic.TenantID, userID string) (generic.UserRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.users[userKey{Tenant: tenant, ID: userID}]
	if !ok {
		return generic.UserRef{}, &generic.NotFoundError{Resource: "user", ID: userID}
	}
	return ref, nil
}

func (m *Memory) RecordActivity(ctx context.Context, entry generic.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, entry)
	return nil
}

// Activity returns the recorded entries of one item, oldest first.
func (m *Memory) Activity(tenant generic.TenantID, item generic.ItemID) []generic.ActivityEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []generic.ActivityEntry
	for _, e := range m.activity {
		if e.TenantID == tenant && e.ItemID == item {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Snapshot current state
	snapshot := m.snapshot()

	if err := fn(&txMemoryView{state: &m.memoryState}); err != nil {
		// Rollback
		m.memoryState = snapshot
		return err
	}

	// Commit (already done via direct writes)
	return nil
}

func (s *memoryState) snapshot() memoryState {
	out := memoryState{
		items:     make(map[itemKey]generic.Item, len(s.items)),
		overrides: make(map[overrideKey]generic.Override, len(s.overrides)),
		users:     s.users,
		activity:  s.activity,
	}
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.overrides {
		out.overrides[k] = v
	}
	return out
}

// txMemoryView runs against the locked state without taking the lock again.
type txMemoryView struct {
	state *memoryState
}

func (tv *txMemoryView) CreateItem(_ context.Context, item generic.Item) error {
	return tv.state.createItem(item)
}

func (tv *txMemoryView) UpdateItem(_ context.Context, item generic.Item) error {
	return tv.state.updateItem(item)
}

func (tv *txMemoryView) GetItem(_ context.Context, tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	return tv.state.getItem(tenant, id)
}

func (tv *txMemoryView) ListItems(_ context.Context, tenant generic.TenantID, filter generic.ItemFilter) ([]generic.Item, error) {
	return tv.state.listItems(tenant, filter), nil
}

func (tv *txMemoryView) FindActual(_ context.Context, tenant generic.TenantID, parent generic.ItemID, day generic.Date) (*generic.Item, error) {
	return tv.state.findActual(tenant, parent, day), nil
}

func (tv *txMemoryView) ListActuals(_ context.Context, tenant generic.TenantID, parent generic.ItemID) ([]generic.Item, error) {
	return tv.state.listActuals(tenant, parent), nil
}

func (tv *txMemoryView) FindOverride(_ context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) (*generic.Override, error) {
	return tv.state.findOverride(tenant, template, day, deleted), nil
}

func (tv *txMemoryView) FindLatestOverrideOnOrBefore(_ context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date) (*generic.Override, error) {
	return tv.state.findLatestOverride(tenant, template, day), nil
}

func (tv *txMemoryView) ListOverrides(_ context.Context, tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) ([]generic.Override, error) {
	return tv.state.listOverrides(tenant, template, filter), nil
}

func (tv *txMemoryView) InsertOverride(_ context.Context, ov generic.Override) error {
	return tv.state.insertOverride(ov)
}

func (tv *txMemoryView) UpdateOverride(_ context.Context, ov generic.Override) error {
	return tv.state.updateOverride(ov)
}
