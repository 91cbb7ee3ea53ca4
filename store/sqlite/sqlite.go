/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (TxStore, UserDirectory,
  ActivitySink) using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.TxStore:       Items and overrides, with WithTx
  generic.UserDirectory: Assignee resolution
  generic.ActivitySink:  Change log

KEY TABLES:
  items:      Templates, one-off items and materialized actuals
  overrides:  Per-day patches; soft-deleted, never removed
  users:      Assignable users, per tenant
  activity:   Change log entries
  sweep_runs: One row per due-date sweep, for operators

INDEXES:
  Two partial unique indexes carry the engine's per-day guarantees:
  - idx_items_actual_per_day:   one actual per (tenant, parent, day)
  - idx_overrides_live_per_day: one live override per (tenant, template, day)
  Violations are returned as *generic.DuplicateRowError (ErrConflict).

DATES:
  Calendar days (override date, occurrence date, recurrence end) are stored
  as TEXT "2006-01-02". Instants are stored as fixed-width UTC TEXT so that
  string order is time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so WithTx
  serializes writers. Inside WithTx only the txStore handed to fn may be
  used; calling the parent Store from fn deadlocks.

USAGE:
  store, err := sqlite.New("./data/recurrence.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := &generic.Engine{Store: store, Users: store, Activity: store}

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/recurrence-engine/generic"
)

// timestampLayout is fixed width so lexical order matches time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ generic.TxStore       = (*Store)(nil)
	_ generic.UserDirectory = (*Store)(nil)
	_ generic.ActivitySink  = (*Store)(nil)
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Items: templates, one-off items and materialized actuals
	CREATE TABLE IF NOT EXISTS items (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		progress TEXT NOT NULL DEFAULT '0',
		tags_json TEXT,
		start_date_time TEXT NOT NULL,
		due_date TEXT,
		enable_recurrence INTEGER NOT NULL DEFAULT 0,
		recurrence_json TEXT,
		recurrence_end_date TEXT,
		assignee_id TEXT,
		assignee_name TEXT,
		parent_id TEXT,
		occurrence_date TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_items_tenant_kind
		ON items(tenant_id, kind);
	CREATE INDEX IF NOT EXISTS idx_items_recurring
		ON items(tenant_id) WHERE enable_recurrence = 1 AND parent_id IS NULL;

	-- CRITICAL: at most one materialized occurrence per template per day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_items_actual_per_day
		ON items(tenant_id, parent_id, occurrence_date)
		WHERE parent_id IS NOT NULL;

	-- Overrides: per-day patches, soft-deleted only
	CREATE TABLE IF NOT EXISTS overrides (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		date TEXT NOT NULL,
		start_date_time TEXT,
		assignee_id TEXT,
		assignee_name TEXT,
		status TEXT NOT NULL,
		is_deleted INTEGER NOT NULL DEFAULT 0,
		data_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- CRITICAL: at most one live override per template per day
	CREATE UNIQUE INDEX IF NOT EXISTS idx_overrides_live_per_day
		ON overrides(tenant_id, template_id, date)
		WHERE is_deleted = 0;

	CREATE INDEX IF NOT EXISTS idx_overrides_template_date
		ON overrides(tenant_id, template_id, date);

	-- Users (assignees)
	CREATE TABLE IF NOT EXISTS users (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Activity (change log)
	CREATE TABLE IF NOT EXISTS activity (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		action TEXT NOT NULL,
		changes_json TEXT,
		summary TEXT NOT NULL,
		at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_item
		ON activity(tenant_id, item_id, at);

	-- Sweep runs (due-date materialization)
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		template_id TEXT NOT NULL,
		through TEXT,
		materialized INTEGER NOT NULL DEFAULT 0,
		already_frozen INTEGER NOT NULL DEFAULT 0,
		skipped_deleted INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_runs_template
		ON sweep_runs(tenant_id, template_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ITEM STORE (generic.ItemStore interface)
// =============================================================================

const itemColumns = `tenant_id, id, kind, title, description, status, priority, progress,
	tags_json, start_date_time, due_date, enable_recurrence, recurrence_json,
	recurrence_end_date, assignee_id, assignee_name, parent_id, occurrence_date,
	created_at, updated_at`

// CreateItem inserts a template, one-off item or actual.
func (s *Store) CreateItem(ctx context.Context, item generic.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return createItem(ctx, s.db, item)
}

// UpdateItem overwrites an existing item.
func (s *Store) UpdateItem(ctx context.Context, item generic.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateItem(ctx, s.db, item)
}

// GetItem returns one item.
func (s *Store) GetItem(ctx context.Context, tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, tenant, id)
}

// ListItems returns the tenant's items ordered by start.
func (s *Store) ListItems(ctx context.Context, tenant generic.TenantID, filter generic.ItemFilter) ([]generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listItems(ctx, s.db, tenant, filter)
}

// FindActual returns the actual of parent on day, or nil.
func (s *Store) FindActual(ctx context.Context, tenant generic.TenantID, parent generic.ItemID, day generic.Date) (*generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findActual(ctx, s.db, tenant, parent, day)
}

// ListActuals returns every actual of parent.
func (s *Store) ListActuals(ctx context.Context, tenant generic.TenantID, parent generic.ItemID) ([]generic.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listActuals(ctx, s.db, tenant, parent)
}

func createItem(ctx context.Context, q querier, item generic.Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	query := `INSERT INTO items (` + itemColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if dup := duplicateRow(err, "items_pkey", "idx_items_actual_per_day"); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert item: %w", err)
	}
	return nil
}

func updateItem(ctx context.Context, q querier, item generic.Item) error {
	args, err := itemArgs(item)
	if err != nil {
		return err
	}
	query := `
		UPDATE items SET
			kind = ?, title = ?, description = ?, status = ?, priority = ?, progress = ?,
			tags_json = ?, start_date_time = ?, due_date = ?, enable_recurrence = ?,
			recurrence_json = ?, recurrence_end_date = ?, assignee_id = ?, assignee_name = ?,
			parent_id = ?, occurrence_date = ?, created_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	// columns after (tenant_id, id), then the key
	res, err := q.ExecContext(ctx, query, append(args[2:], args[0], args[1])...)
	if err != nil {
		if dup := duplicateRow(err, "items_pkey", "idx_items_actual_per_day"); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Resource: "item", ID: string(item.ID)}
	}
	return nil
}

func getItem(ctx context.Context, q querier, tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	items, err := queryItems(ctx, q,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND id = ?`, tenant, id)
	if err != nil {
		return generic.Item{}, err
	}
	if len(items) == 0 {
		return generic.Item{}, &generic.NotFoundError{Resource: "item", ID: string(id)}
	}
	return items[0], nil
}

func listItems(ctx context.Context, q querier, tenant generic.TenantID, filter generic.ItemFilter) ([]generic.Item, error) {
	var (
		where = []string{"tenant_id = ?"}
		args  = []any{tenant}
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.RecurringOnly {
		where = append(where, "enable_recurrence = 1 AND parent_id IS NULL")
	}
	if filter.ExcludeActuals {
		where = append(where, "parent_id IS NULL")
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY start_date_time ASC, id ASC`
	return queryItems(ctx, q, query, args...)
}

func findActual(ctx context.Context, q querier, tenant generic.TenantID, parent generic.ItemID, day generic.Date) (*generic.Item, error) {
	items, err := queryItems(ctx, q,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND parent_id = ? AND occurrence_date = ?`,
		tenant, parent, day.String())
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func listActuals(ctx context.Context, q querier, tenant generic.TenantID, parent generic.ItemID) ([]generic.Item, error) {
	return queryItems(ctx, q,
		`SELECT `+itemColumns+` FROM items WHERE tenant_id = ? AND parent_id = ?
		 ORDER BY start_date_time ASC, id ASC`, tenant, parent)
}

func itemArgs(item generic.Item) ([]any, error) {
	var tagsJSON, ruleJSON sql.NullString
	if item.Tags != nil {
		b, err := json.Marshal(item.Tags)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tags: %w", err)
		}
		tagsJSON = nullString(string(b))
	}
	if item.RecurrenceConfig != nil {
		b, err := json.Marshal(item.RecurrenceConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to encode recurrence config: %w", err)
		}
		ruleJSON = nullString(string(b))
	}
	var assigneeID, assigneeName sql.NullString
	if item.Assignee != nil {
		assigneeID = nullString(item.Assignee.ID)
		assigneeName = nullString(item.Assignee.Name)
	}
	return []any{
		item.TenantID,
		item.ID,
		item.Kind,
		item.Title,
		item.Description,
		item.Status,
		item.Priority,
		item.Progress.String(),
		tagsJSON,
		formatTime(item.StartDateTime),
		nullTime(item.DueDate),
		item.EnableRecurrence,
		ruleJSON,
		nullDate(item.RecurrenceEndDate),
		assigneeID,
		assigneeName,
		nullString(string(item.ParentID)),
		nullDate(item.OccurrenceDate),
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	}, nil
}

func queryItems(ctx context.Context, q querier, query string, args ...any) ([]generic.Item, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []generic.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (generic.Item, error) {
	var (
		it                                   generic.Item
		progress, start, createdAt, updated  string
		tagsJSON, dueDate, ruleJSON, endDate sql.NullString
		assigneeID, assigneeName             sql.NullString
		parentID, occurrenceDate             sql.NullString
	)

	err := rows.Scan(
		&it.TenantID, &it.ID, &it.Kind, &it.Title, &it.Description, &it.Status, &it.Priority, &progress,
		&tagsJSON, &start, &dueDate, &it.EnableRecurrence, &ruleJSON,
		&endDate, &assigneeID, &assigneeName, &parentID, &occurrenceDate,
		&createdAt, &updated,
	)
	if err != nil {
		return it, fmt.Errorf("failed to scan item: %w", err)
	}

	if it.Progress, err = decimal.NewFromString(progress); err != nil {
		return it, fmt.Errorf("item %s: bad progress %q: %w", it.ID, progress, err)
	}
	if tagsJSON.Valid {
		if err := json.Unmarshal([]byte(tagsJSON.String), &it.Tags); err != nil {
			return it, fmt.Errorf("item %s: bad tags: %w", it.ID, err)
		}
	}
	if ruleJSON.Valid {
		var rule generic.RecurrenceRule
		if err := json.Unmarshal([]byte(ruleJSON.String), &rule); err != nil {
			return it, fmt.Errorf("item %s: bad recurrence config: %w", it.ID, err)
		}
		it.RecurrenceConfig = &rule
	}
	if assigneeID.Valid {
		it.Assignee = &generic.UserRef{ID: assigneeID.String, Name: assigneeName.String}
	}
	it.ParentID = generic.ItemID(parentID.String)
	it.StartDateTime = parseTime(start)
	it.DueDate = parseTime(dueDate.String)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updated)
	if it.RecurrenceEndDate, err = parseNullDate(endDate); err != nil {
		return it, err
	}
	if it.OccurrenceDate, err = parseNullDate(occurrenceDate); err != nil {
		return it, err
	}
	return it, nil
}

// =============================================================================
// OVERRIDE STORE (generic.OverrideStore interface)
// =============================================================================

const overrideColumns = `tenant_id, id, template_id, date, start_date_time, assignee_id,
	assignee_name, status, is_deleted, data_json, created_at, updated_at`

// FindOverride returns the live (deleted=false) or deleted row of a day, or nil.
func (s *Store) FindOverride(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) (*generic.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findOverride(ctx, s.db, tenant, template, day, deleted)
}

// FindLatestOverrideOnOrBefore returns the live override with the greatest
// day not after day, or nil.
func (s *Store) FindLatestOverrideOnOrBefore(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date) (*generic.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findLatestOverride(ctx, s.db, tenant, template, day)
}

// ListOverrides returns a template's overrides ordered by day.
func (s *Store) ListOverrides(ctx context.Context, tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) ([]generic.Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOverrides(ctx, s.db, tenant, template, filter)
}

// InsertOverride adds a new override row.
func (s *Store) InsertOverride(ctx context.Context, ov generic.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertOverride(ctx, s.db, ov)
}

// UpdateOverride overwrites an override row.
func (s *Store) UpdateOverride(ctx context.Context, ov generic.Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateOverride(ctx, s.db, ov)
}

func findOverride(ctx context.Context, q querier, tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) (*generic.Override, error) {
	ovs, err := queryOverrides(ctx, q,
		`SELECT `+overrideColumns+` FROM overrides
		 WHERE tenant_id = ? AND template_id = ? AND date = ? AND is_deleted = ?
		 ORDER BY updated_at DESC LIMIT 1`,
		tenant, template, day.String(), deleted)
	if err != nil || len(ovs) == 0 {
		return nil, err
	}
	return &ovs[0], nil
}

func findLatestOverride(ctx context.Context, q querier, tenant generic.TenantID, template generic.ItemID, day generic.Date) (*generic.Override, error) {
	ovs, err := queryOverrides(ctx, q,
		`SELECT `+overrideColumns+` FROM overrides
		 WHERE tenant_id = ? AND template_id = ? AND date <= ? AND is_deleted = 0
		 ORDER BY date DESC LIMIT 1`,
		tenant, template, day.String())
	if err != nil || len(ovs) == 0 {
		return nil, err
	}
	return &ovs[0], nil
}

func listOverrides(ctx context.Context, q querier, tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) ([]generic.Override, error) {
	var (
		where = []string{"tenant_id = ?", "template_id = ?"}
		args  = []any{tenant, template}
	)
	if !filter.IncludeDeleted {
		where = append(where, "is_deleted = 0")
	}
	if filter.From != nil {
		where = append(where, "date >= ?")
		args = append(args, filter.From.String())
	}
	if filter.To != nil {
		where = append(where, "date <= ?")
		args = append(args, filter.To.String())
	}
	query := `SELECT ` + overrideColumns + ` FROM overrides WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date ASC, id ASC`
	return queryOverrides(ctx, q, query, args...)
}

func insertOverride(ctx context.Context, q querier, ov generic.Override) error {
	args, err := overrideArgs(ov)
	if err != nil {
		return err
	}
	query := `INSERT INTO overrides (` + overrideColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		if dup := duplicateRow(err, "overrides_pkey", "idx_overrides_live_per_day"); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert override: %w", err)
	}
	return nil
}

func updateOverride(ctx context.Context, q querier, ov generic.Override) error {
	args, err := overrideArgs(ov)
	if err != nil {
		return err
	}
	query := `
		UPDATE overrides SET
			template_id = ?, date = ?, start_date_time = ?, assignee_id = ?, assignee_name = ?,
			status = ?, is_deleted = ?, data_json = ?, created_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?
	`
	res, err := q.ExecContext(ctx, query, append(args[2:], args[0], args[1])...)
	if err != nil {
		if dup := duplicateRow(err, "overrides_pkey", "idx_overrides_live_per_day"); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to update override: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &generic.NotFoundError{Resource: "override", ID: string(ov.ID)}
	}
	return nil
}

func overrideArgs(ov generic.Override) ([]any, error) {
	data, err := json.Marshal(ov.Data.Stored())
	if err != nil {
		return nil, fmt.Errorf("failed to encode override data: %w", err)
	}
	var start sql.NullString
	if ov.StartDateTime != nil {
		start = nullString(formatTime(*ov.StartDateTime))
	}
	var assigneeID, assigneeName sql.NullString
	if ov.Assignee != nil {
		assigneeID = nullString(ov.Assignee.ID)
		assigneeName = nullString(ov.Assignee.Name)
	}
	return []any{
		ov.TenantID,
		ov.ID,
		ov.TemplateID,
		ov.Date.String(),
		start,
		assigneeID,
		assigneeName,
		ov.Status,
		ov.IsDeleted,
		string(data),
		formatTime(ov.CreatedAt),
		formatTime(ov.UpdatedAt),
	}, nil
}

func queryOverrides(ctx context.Context, q querier, query string, args ...any) ([]generic.Override, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var out []generic.Override
	for rows.Next() {
		var (
			ov                       generic.Override
			date, data, created, upd string
			start                    sql.NullString
			assigneeID, assigneeName sql.NullString
		)
		if err := rows.Scan(
			&ov.TenantID, &ov.ID, &ov.TemplateID, &date, &start, &assigneeID,
			&assigneeName, &ov.Status, &ov.IsDeleted, &data, &created, &upd,
		); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		if ov.Date, err = generic.ParseDate(date); err != nil {
			return nil, fmt.Errorf("override %s: %w", ov.ID, err)
		}
		if err := json.Unmarshal([]byte(data), &ov.Data); err != nil {
			return nil, fmt.Errorf("override %s: bad data: %w", ov.ID, err)
		}
		if start.Valid {
			t := parseTime(start.String)
			ov.StartDateTime = &t
		}
		if assigneeID.Valid {
			ov.Assignee = &generic.UserRef{ID: assigneeID.String, Name: assigneeName.String}
		}
		ov.CreatedAt = parseTime(created)
		ov.UpdatedAt = parseTime(upd)
		out = append(out, ov)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) CreateItem(ctx context.Context, item generic.Item) error {
	return createItem(ctx, ts.tx, item)
}

func (ts *txStore) UpdateItem(ctx context.Context, item generic.Item) error {
	return updateItem(ctx, ts.tx, item)
}

func (ts *txStore) GetItem(ctx context.Context, tenant generic.TenantID, id generic.ItemID) (generic.Item, error) {
	return getItem(ctx, ts.tx, tenant, id)
}

func (ts *txStore) ListItems(ctx context.Context, tenant generic.TenantID, filter generic.ItemFilter) ([]generic.Item, error) {
	return listItems(ctx, ts.tx, tenant, filter)
}

func (ts *txStore) FindActual(ctx context.Context, tenant generic.TenantID, parent generic.ItemID, day generic.Date) (*generic.Item, error) {
	return findActual(ctx, ts.tx, tenant, parent, day)
}

func (ts *txStore) ListActuals(ctx context.Context, tenant generic.TenantID, parent generic.ItemID) ([]generic.Item, error) {
	return listActuals(ctx, ts.tx, tenant, parent)
}

func (ts *txStore) FindOverride(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date, deleted bool) (*generic.Override, error) {
	return findOverride(ctx, ts.tx, tenant, template, day, deleted)
}

func (ts *txStore) FindLatestOverrideOnOrBefore(ctx context.Context, tenant generic.TenantID, template generic.ItemID, day generic.Date) (*generic.Override, error) {
	return findLatestOverride(ctx, ts.tx, tenant, template, day)
}

func (ts *txStore) ListOverrides(ctx context.Context, tenant generic.TenantID, template generic.ItemID, filter generic.OverrideFilter) ([]generic.Override, error) {
	return listOverrides(ctx, ts.tx, tenant, template, filter)
}

func (ts *txStore) InsertOverride(ctx context.Context, ov generic.Override) error {
	return insertOverride(ctx, ts.tx, ov)
}

func (ts *txStore) UpdateOverride(ctx context.Context, ov generic.Override) error {
	return updateOverride(ctx, ts.tx, ov)
}

// =============================================================================
// USER DIRECTORY
// =============================================================================

// User is a stored assignee.
type User struct {
	TenantID  generic.TenantID
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// SaveUser creates or replaces a user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (tenant_id, id, name, email, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`, u.TenantID, u.ID, u.Name, nullString(u.Email), formatTime(u.CreatedAt))
	return err
}

// ResolveUser implements generic.UserDirectory.
func (s *Store) ResolveUser(ctx context.Context, tenant generic.TenantID, userID string) (generic.UserRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx,
		"SELECT name FROM users WHERE tenant_id = ? AND id = ?", tenant, userID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.UserRef{}, &generic.NotFoundError{Resource: "user", ID: userID}
	}
	if err != nil {
		return generic.UserRef{}, fmt.Errorf("failed to resolve user: %w", err)
	}
	return generic.UserRef{ID: userID, Name: name}, nil
}

// ListUsers returns the tenant's users by name.
func (s *Store) ListUsers(ctx context.Context, tenant generic.TenantID) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT tenant_id, id, name, email, created_at FROM users WHERE tenant_id = ? ORDER BY name, id", tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var (
			u         User
			email     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&u.TenantID, &u.ID, &u.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		u.Email = email.String
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListTenants returns every tenant that owns at least one recurring template.
func (s *Store) ListTenants(ctx context.Context) ([]generic.TenantID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tenant_id FROM items
		WHERE enable_recurrence = 1 AND parent_id IS NULL
		ORDER BY tenant_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tenants []generic.TenantID
	for rows.Next() {
		var t generic.TenantID
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// =============================================================================
// ACTIVITY
// =============================================================================

// RecordActivity implements generic.ActivitySink.
func (s *Store) RecordActivity(ctx context.Context, entry generic.ActivityEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO activity (id, tenant_id, item_id, action, changes_json, summary, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.TenantID, entry.ItemID, entry.Action, string(changes), entry.Summary, formatTime(entry.At))
	return err
}

// ListActivity returns the change log of one item, oldest first.
func (s *Store) ListActivity(ctx context.Context, tenant generic.TenantID, item generic.ItemID) ([]generic.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, item_id, action, changes_json, summary, at
		FROM activity
		WHERE tenant_id = ? AND item_id = ?
		ORDER BY at ASC, id ASC
	`, tenant, item)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []generic.ActivityEntry
	for rows.Next() {
		var (
			e       generic.ActivityEntry
			changes sql.NullString
			at      string
		)
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ItemID, &e.Action, &changes, &e.Summary, &at); err != nil {
			return nil, err
		}
		if changes.Valid && changes.String != "" {
			if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
				return nil, fmt.Errorf("activity %s: bad changes: %w", e.ID, err)
			}
		}
		e.At = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// SWEEP RUNS
// =============================================================================

// SweepRun records one due-date sweep of a template.
type SweepRun struct {
	ID             string
	TenantID       generic.TenantID
	TemplateID     generic.ItemID
	Through        generic.Date
	Materialized   int
	AlreadyFrozen  int
	SkippedDeleted int
	Failures       int
	Error          string
	StartedAt      time.Time
	CompletedAt    time.Time
}

// SaveSweepRun stores a finished sweep.
func (s *Store) SaveSweepRun(ctx context.Context, r SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, tenant_id, template_id, through, materialized,
			already_frozen, skipped_deleted, failures, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.TenantID, r.TemplateID, nullString(r.Through.String()), r.Materialized,
		r.AlreadyFrozen, r.SkippedDeleted, r.Failures, nullString(r.Error),
		formatTime(r.StartedAt), formatTime(r.CompletedAt),
	)
	return err
}

// ListSweepRuns returns the most recent sweeps of a tenant, newest first.
// An empty templateID returns every template's runs.
func (s *Store) ListSweepRuns(ctx context.Context, tenant generic.TenantID, templateID generic.ItemID, limit int) ([]SweepRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, tenant_id, template_id, through, materialized, already_frozen,
			skipped_deleted, failures, error, started_at, completed_at
		FROM sweep_runs
		WHERE tenant_id = ?`
	args := []any{tenant}
	if templateID != "" {
		query += ` AND template_id = ?`
		args = append(args, templateID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []SweepRun
	for rows.Next() {
		var (
			r                    SweepRun
			through, errText     sql.NullString
			startedAt, completed string
		)
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.TemplateID, &through, &r.Materialized, &r.AlreadyFrozen,
			&r.SkippedDeleted, &r.Failures, &errText, &startedAt, &completed,
		); err != nil {
			return nil, err
		}
		if through.Valid {
			if r.Through, err = generic.ParseDate(through.String); err != nil {
				return nil, err
			}
		}
		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		r.CompletedAt = parseTime(completed)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"items", "overrides", "users", "activity", "sweep_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return nullString(formatTime(t))
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(d.String())
}

func parseNullDate(s sql.NullString) (*generic.Date, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	d, err := generic.ParseDate(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// duplicateRow maps a primary key or unique index violation to a
// DuplicateRowError naming pkey or index, and returns nil for anything else.
// When a row breaks both, SQLite reports whichever it checked first, so the
// label follows the columns named in the message.
func duplicateRow(err error, pkey, index string) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) || sqlErr.Code != sqlite3.ErrConstraint {
		return nil
	}
	switch sqlErr.ExtendedCode {
	case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
	default:
		return nil
	}
	if namesIDColumn(sqlErr.Error()) {
		return &generic.DuplicateRowError{Index: pkey}
	}
	return &generic.DuplicateRowError{Index: index}
}

// namesIDColumn reports whether "UNIQUE constraint failed: t.a, t.b" lists
// the id column.
func namesIDColumn(msg string) bool {
	_, cols, ok := strings.Cut(msg, "constraint failed:")
	if !ok {
		return false
	}
	for _, col := range strings.Split(cols, ",") {
		if _, name, ok := strings.Cut(strings.TrimSpace(col), "."); ok && name == "id" {
			return true
		}
	}
	return false
}
