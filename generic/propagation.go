/*
propagation.go - Template edits flowing into live overrides

PURPOSE:
  An override's Data lists the fields that were customized for its day. When
  the template is edited, each live override is rewritten so that list stays
  consistent with the edit:

    field in override, value in diff        -> refreshed to the diff value
    field in override, null/revert in diff  -> cleared (inherits again)
    field in override, not in diff          -> untouched
    field not in override, value in diff    -> added

  Only the overrideable keys (title, description, priority, progress, tags)
  take part. Status, assignee, start and due date belong to the override and
  are never touched. Deleted overrides are skipped.

PARTIAL FAILURE:
  Every override is rewritten in its own transaction. A failed row does not
  stop the others; the outcome of each row is returned to the caller.

SEE ALSO:
  - patch.go: Field states and Merge
  - engine.go: Update on a template runs OnTemplateUpdated
*/
package generic

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// PropagationResult is the outcome for one override.
type PropagationResult struct {
	OverrideID OverrideID
	Date       Date
	Applied    Patch
	Err        error
}

// Propagator rewrites the live overrides of a template after an edit.
type Propagator struct {
	Store TxStore
	Clock Clock
	Log   zerolog.Logger
}

// OnTemplateUpdated applies diff to every live override of the template and
// returns one result per override that changed or failed. The error is
// non-nil only when the overrides could not be listed.
func (p *Propagator) OnTemplateUpdated(ctx context.Context, tenant TenantID, templateID ItemID, diff Patch) ([]PropagationResult, error) {
	overrides, err := p.Store.ListOverrides(ctx, tenant, templateID, OverrideFilter{})
	if err != nil {
		return nil, err
	}

	var results []PropagationResult
	for _, ov := range overrides {
		if propagatePatch(ov.Data, diff).IsEmpty() {
			continue
		}
		res := PropagationResult{OverrideID: ov.ID, Date: ov.Date}
		res.Applied, res.Err = p.apply(ctx, tenant, templateID, ov.Date, diff)
		if res.Err != nil {
			p.Log.Warn().Err(res.Err).
				Str("tenant", string(tenant)).
				Str("template", string(templateID)).
				Str("date", ov.Date.String()).
				Msg("propagation failed for override")
		}
		results = append(results, res)
	}
	return results, nil
}

func (p *Propagator) apply(ctx context.Context, tenant TenantID, templateID ItemID, day Date, diff Patch) (Patch, error) {
	var applied Patch
	err := p.Store.WithTx(ctx, func(tx Store) error {
		cur, err := tx.FindOverride(ctx, tenant, templateID, day, false)
		if err != nil || cur == nil {
			return err
		}
		applied = propagatePatch(cur.Data, diff)
		if applied.IsEmpty() {
			return nil
		}
		next := cur.Clone()
		next.Data = next.Data.Merge(applied)
		next.UpdatedAt = p.Clock.now()
		return tx.UpdateOverride(ctx, next)
	})
	return applied, err
}

// propagatePatch computes the change to an override's data for a template
// diff. The result uses Revert for cleared keys so it can be fed to Merge.
func propagatePatch(cur, diff Patch) Patch {
	return Patch{
		Title:       propagateField(cur.Title, diff.Title),
		Description: propagateField(cur.Description, diff.Description),
		Priority:    propagateField(cur.Priority, diff.Priority),
		Progress:    propagateDecimal(cur, diff),
		Tags:        propagateField(cur.Tags, diff.Tags),
	}
}

func propagateField[T any](cur, diff Field[T]) Field[T] {
	switch {
	case diff.IsRevert() || diff.IsNull():
		if cur.Present() {
			return Revert[T]()
		}
	case diff.Present():
		if !cur.equal(diff) {
			return diff
		}
	}
	return Field[T]{}
}

// propagateDecimal is propagateField with numeric equality.
func propagateDecimal(cur, diff Patch) Field[decimal.Decimal] {
	out := propagateField(cur.Progress, diff.Progress)
	if out.state == fieldValue && cur.Progress.state == fieldValue && cur.Progress.value.Equal(out.value) {
		return Field[decimal.Decimal]{}
	}
	return out
}
