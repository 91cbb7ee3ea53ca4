/*
override.go - Per-day overrides (upsert-or-merge)

PURPOSE:
  An override records what was customized for one calendar day of a recurring
  template: a sparse data patch plus the direct columns status, start and
  assignee. The first edit of a day creates the row; later edits merge into it.

UPSERT RULES:
  - Empty input: no write at all.
  - Live row for the day: Data is merged key by key (absent keeps, revert
    drops, anything else overwrites); direct columns given in the input
    replace the stored ones.
  - No row: insert, status defaulting to the template's current status.
  - A deleted row for the day: Conflict. Deleted days stay deleted.
  - Deleting an already deleted day: no-op.

CONCURRENCY:
  The read and the write happen inside one WithTx. Two writers racing on the
  same day cannot both insert a live row: the store's unique index rejects
  the second, which surfaces as ErrConflict.

SEE ALSO:
  - store.go: OverrideStore contract
  - view.go: How an override is merged into an occurrence
*/
package generic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OverrideInput is one edit of a single day. Nil pointers leave the stored
// column untouched.
type OverrideInput struct {
	Data          Patch
	Status        *Status
	StartDateTime *time.Time
	Assignee      *UserRef
	Deleted       bool
}

// IsEmpty reports whether the input would not change anything.
func (in OverrideInput) IsEmpty() bool {
	return in.Data.IsEmpty() && in.Status == nil && in.StartDateTime == nil &&
		in.Assignee == nil && !in.Deleted
}

func (in OverrideInput) validate() error {
	if in.Status != nil && !in.Status.Valid() {
		return invalid("status", "unknown status %q", *in.Status)
	}
	return validatePatch(in.Data)
}

// validatePatch checks the typed keys of a patch.
func validatePatch(p Patch) error {
	if v, ok := p.Priority.Get(); ok && !v.Valid() {
		return invalid(KeyPriority, "unknown priority %q", v)
	}
	if p.Priority.IsNull() {
		return invalid(KeyPriority, "priority cannot be null")
	}
	if v, ok := p.Progress.Get(); ok {
		if err := validateProgress(v); err != nil {
			return err
		}
	}
	return nil
}

// Overrides implements find and upsert on top of a TxStore.
type Overrides struct {
	Store TxStore
	Clock Clock
}

// FindForDate returns the live override for the exact day, or nil.
func (o *Overrides) FindForDate(ctx context.Context, tenant TenantID, templateID ItemID, day Date) (*Override, error) {
	return o.Store.FindOverride(ctx, tenant, templateID, day, false)
}

// FindLatestOnOrBefore returns the most recent live override at or before day, or nil.
func (o *Overrides) FindLatestOnOrBefore(ctx context.Context, tenant TenantID, templateID ItemID, day Date) (*Override, error) {
	return o.Store.FindLatestOverrideOnOrBefore(ctx, tenant, templateID, day)
}

// CarriedStatus returns the status an override-less day inherits: that of the
// nearest earlier live override, skipping CANCELLED days and days already
// frozen into an actual row. Empty means the template status applies.
func (o *Overrides) CarriedStatus(ctx context.Context, tenant TenantID, templateID ItemID, day Date) (Status, error) {
	for cursor := day.AddDays(-1); ; {
		ov, err := o.FindLatestOnOrBefore(ctx, tenant, templateID, cursor)
		if err != nil || ov == nil {
			return "", err
		}
		cursor = ov.Date.AddDays(-1)
		if ov.Status == "" || ov.Status == StatusCancelled {
			continue
		}
		actual, err := o.Store.FindActual(ctx, tenant, templateID, ov.Date)
		if err != nil {
			return "", err
		}
		if actual == nil {
			return ov.Status, nil
		}
	}
}

// Upsert creates or merges the override of template on day. It returns the
// stored row, or nil when the input was empty.
func (o *Overrides) Upsert(ctx context.Context, tenant TenantID, template Item, day Date, in OverrideInput) (*Override, error) {
	if in.IsEmpty() {
		return nil, nil
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := o.Clock.now()
	var out Override
	err := o.Store.WithTx(ctx, func(tx Store) error {
		deleted, err := tx.FindOverride(ctx, tenant, template.ID, day, true)
		if err != nil {
			return err
		}
		if deleted != nil {
			if in.Deleted {
				out = *deleted
				return nil
			}
			return &ConflictError{TemplateID: template.ID, Date: day, Reason: "occurrence was deleted"}
		}

		live, err := tx.FindOverride(ctx, tenant, template.ID, day, false)
		if err != nil {
			return err
		}
		if live != nil {
			out = mergeOverride(*live, in, now)
			return tx.UpdateOverride(ctx, out)
		}

		out = Override{
			ID:         OverrideID(uuid.NewString()),
			TenantID:   tenant,
			TemplateID: template.ID,
			Date:       day,
			Status:     template.Status,
			CreatedAt:  now,
		}
		out = mergeOverride(out, in, now)
		return tx.InsertOverride(ctx, out)
	})
	if err != nil {
		var dup *DuplicateRowError
		if errors.As(err, &dup) {
			return nil, &ConflictError{TemplateID: template.ID, Date: day, Reason: "concurrent override for the same day"}
		}
		return nil, err
	}
	return &out, nil
}

func mergeOverride(ov Override, in OverrideInput, now time.Time) Override {
	ov = ov.Clone()
	ov.Data = ov.Data.Merge(in.Data)
	if in.Status != nil {
		ov.Status = *in.Status
	}
	if in.StartDateTime != nil {
		t := in.StartDateTime.UTC()
		ov.StartDateTime = &t
	}
	if in.Assignee != nil {
		a := *in.Assignee
		ov.Assignee = &a
	}
	if in.Deleted {
		ov.IsDeleted = true
	}
	ov.UpdatedAt = now
	return ov
}
