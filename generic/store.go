/*
store.go - Persistence interfaces for items, overrides and their collaborators

PURPOSE:
  Defines the interface between the engine and the database. The engine only
  needs a relational store that offers transactional writes and query by
  parent/date; different implementations can use SQLite, PostgreSQL, or
  in-memory storage.

KEY INTERFACES:
  ItemStore:      Templates, one-off items and materialized actuals
  OverrideStore:  Per-day override rows (soft-deletable, never hard-deleted)
  Store:          Both of the above
  TxStore:        Store plus WithTx for all-or-nothing multi-row writes
  UserDirectory:  Assignee resolution
  ActivitySink:   Change log written after template create/update

UNIQUENESS CONTRACT:
  Implementations MUST reject, with an error that unwraps to ErrConflict:
  - a second live (IsDeleted=false) override for the same (tenant, template, day)
  - a second actual for the same (tenant, parent, occurrence day)
  The engine relies on these to resolve concurrent writers.

DATES:
  Override days and occurrence days are calendar days and must be stored in
  date-only columns, distinct from timestamp columns.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - override.go: Upsert built on OverrideStore + TxStore
  - freezer.go: Materialization built on ItemStore + TxStore
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// ITEM STORE
// =============================================================================

// ItemFilter narrows ListItems. Zero fields do not filter.
type ItemFilter struct {
	Kind          Kind
	RecurringOnly bool
	// ExcludeActuals hides materialized occurrences.
	ExcludeActuals bool
}

type ItemStore interface {
	// CreateItem inserts a new row. Actuals violating the one-per-day index
	// return an error unwrapping to ErrConflict.
	CreateItem(ctx context.Context, item Item) error

	// UpdateItem overwrites an existing row. Missing rows return ErrNotFound.
	UpdateItem(ctx context.Context, item Item) error

	// GetItem returns ErrNotFound if absent.
	GetItem(ctx context.Context, tenant TenantID, id ItemID) (Item, error)

	ListItems(ctx context.Context, tenant TenantID, filter ItemFilter) ([]Item, error)

	// FindActual returns the materialized occurrence of parent on day, or nil.
	FindActual(ctx context.Context, tenant TenantID, parent ItemID, day Date) (*Item, error)

	// ListActuals returns every materialized occurrence of parent, by day.
	ListActuals(ctx context.Context, tenant TenantID, parent ItemID) ([]Item, error)
}

// =============================================================================
// OVERRIDE STORE
// =============================================================================

// OverrideFilter narrows ListOverrides. Nil bounds are open.
type OverrideFilter struct {
	From           *Date
	To             *Date
	IncludeDeleted bool
}

type OverrideStore interface {
	// FindOverride returns the override for (template, day) whose IsDeleted
	// equals deleted, or nil.
	FindOverride(ctx context.Context, tenant TenantID, template ItemID, day Date, deleted bool) (*Override, error)

	// FindLatestOverrideOnOrBefore returns the live override with the greatest
	// day <= day, or nil.
	FindLatestOverrideOnOrBefore(ctx context.Context, tenant TenantID, template ItemID, day Date) (*Override, error)

	// ListOverrides returns overrides ordered by day.
	ListOverrides(ctx context.Context, tenant TenantID, template ItemID, filter OverrideFilter) ([]Override, error)

	// InsertOverride fails with ErrConflict when a live row exists for the day.
	InsertOverride(ctx context.Context, ov Override) error

	// UpdateOverride overwrites by ID. Missing rows return ErrNotFound.
	UpdateOverride(ctx context.Context, ov Override) error
}

// Store is everything the engine reads and writes.
type Store interface {
	ItemStore
	OverrideStore
}

// =============================================================================
// TRANSACTIONAL STORE - For atomic operations across multiple writes
// =============================================================================

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

// UserDirectory resolves assignees. Unknown users return ErrNotFound.
type UserDirectory interface {
	ResolveUser(ctx context.Context, tenant TenantID, userID string) (UserRef, error)
}

// ActivityAction names what happened to an item.
type ActivityAction string

const (
	ActivityCreated ActivityAction = "created"
	ActivityUpdated ActivityAction = "updated"
)

// ActivityEntry is one human-readable change record.
type ActivityEntry struct {
	ID       string
	TenantID TenantID
	ItemID   ItemID
	Action   ActivityAction
	Changes  []FieldChange
	Summary  string
	At       time.Time
}

// ActivitySink stores change records. The engine emits entries but does not
// own the audit store.
type ActivitySink interface {
	RecordActivity(ctx context.Context, entry ActivityEntry) error
}
