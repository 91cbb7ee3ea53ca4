package generic

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// FIELD - One optional key of a sparse patch
// =============================================================================

type fieldState uint8

const (
	fieldAbsent fieldState = iota // key not customized, inherit
	fieldValue                    // key customized to a value
	fieldNull                     // key customized to null
	fieldRevert                   // input only: drop the key, inherit again
)

// Field distinguishes "not customized" from "customized to null".
// The zero value is absent.
type Field[T any] struct {
	state fieldState
	value T
}

func Set[T any](v T) Field[T]  { return Field[T]{state: fieldValue, value: v} }
func Null[T any]() Field[T]    { return Field[T]{state: fieldNull} }
func Revert[T any]() Field[T]  { return Field[T]{state: fieldRevert} }
func (f Field[T]) Present() bool { return f.state == fieldValue || f.state == fieldNull }
func (f Field[T]) IsNull() bool   { return f.state == fieldNull }
func (f Field[T]) IsRevert() bool { return f.state == fieldRevert }

// Get returns the value and whether a non-null value is set.
func (f Field[T]) Get() (T, bool) {
	return f.value, f.state == fieldValue
}

// Or returns the value when set, null resolves to the zero value, and absent
// falls back to def.
func (f Field[T]) Or(def T) T {
	switch f.state {
	case fieldValue:
		return f.value
	case fieldNull:
		var zero T
		return zero
	}
	return def
}

// merge applies in on top of f: absent keeps f, revert drops the key,
// anything else overwrites.
func (f Field[T]) merge(in Field[T]) Field[T] {
	switch in.state {
	case fieldAbsent:
		return f
	case fieldRevert:
		return Field[T]{}
	}
	return in
}

func (f Field[T]) stored() Field[T] {
	if f.state == fieldRevert {
		return Field[T]{}
	}
	return f
}

func (f Field[T]) equal(o Field[T]) bool {
	return f.state == o.state && reflect.DeepEqual(f.value, o.value)
}

// =============================================================================
// PATCH - Sparse overrideData
// =============================================================================

const (
	KeyTitle       = "title"
	KeyDescription = "description"
	KeyPriority    = "priority"
	KeyProgress    = "progress"
	KeyTags        = "tags"
	KeyDueDate     = "dueDate"
)

// OverrideableKeys are refreshed by template propagation. Status, assignee,
// start and due date belong to the override and are never propagated.
var OverrideableKeys = []string{KeyTitle, KeyDescription, KeyPriority, KeyProgress, KeyTags}

// Patch is the sparse per-occurrence overrideData. Keys this engine does not
// understand are kept verbatim in Extra.
type Patch struct {
	Title       Field[string]
	Description Field[string]
	Priority    Field[Priority]
	Progress    Field[decimal.Decimal]
	Tags        Field[[]string]
	DueDate     Field[time.Time]

	Extra map[string]json.RawMessage
}

// IsEmpty reports whether the patch carries no instruction at all.
func (p Patch) IsEmpty() bool {
	return p.Title.state == fieldAbsent &&
		p.Description.state == fieldAbsent &&
		p.Priority.state == fieldAbsent &&
		p.Progress.state == fieldAbsent &&
		p.Tags.state == fieldAbsent &&
		p.DueDate.state == fieldAbsent &&
		len(p.Extra) == 0
}

// Keys lists the customized keys in a stable order.
func (p Patch) Keys() []string {
	var keys []string
	add := func(k string, present bool) {
		if present {
			keys = append(keys, k)
		}
	}
	add(KeyTitle, p.Title.Present())
	add(KeyDescription, p.Description.Present())
	add(KeyPriority, p.Priority.Present())
	add(KeyProgress, p.Progress.Present())
	add(KeyTags, p.Tags.Present())
	add(KeyDueDate, p.DueDate.Present())
	extra := slices.Sorted(maps.Keys(p.Extra))
	return append(keys, extra...)
}

// Merge overwrites p field by field with in. Keys absent from in are kept;
// keys marked Revert are removed.
func (p Patch) Merge(in Patch) Patch {
	out := Patch{
		Title:       p.Title.merge(in.Title),
		Description: p.Description.merge(in.Description),
		Priority:    p.Priority.merge(in.Priority),
		Progress:    p.Progress.merge(in.Progress),
		Tags:        p.Tags.merge(in.Tags),
		DueDate:     p.DueDate.merge(in.DueDate),
	}
	if len(p.Extra) > 0 || len(in.Extra) > 0 {
		out.Extra = maps.Clone(p.Extra)
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		for k, v := range in.Extra {
			if v == nil {
				delete(out.Extra, k)
				continue
			}
			out.Extra[k] = v
		}
		if len(out.Extra) == 0 {
			out.Extra = nil
		}
	}
	return out
}

// Stored drops revert markers so the patch can be persisted as-is.
func (p Patch) Stored() Patch {
	return Patch{}.Merge(p)
}

// Clone returns a copy sharing no slices or maps with p.
func (p Patch) Clone() Patch {
	out := p
	if v, ok := p.Tags.Get(); ok {
		out.Tags = Set(slices.Clone(v))
	}
	out.Extra = maps.Clone(p.Extra)
	return out
}

// Equal compares two patches key by key.
func (p Patch) Equal(o Patch) bool {
	return p.Title.equal(o.Title) &&
		p.Description.equal(o.Description) &&
		p.Priority.equal(o.Priority) &&
		p.Progress.state == o.Progress.state && p.Progress.value.Equal(o.Progress.value) &&
		p.Tags.equal(o.Tags) &&
		p.DueDate.state == o.DueDate.state && p.DueDate.value.Equal(o.DueDate.value) &&
		reflect.DeepEqual(p.Extra, o.Extra)
}

// =============================================================================
// JSON
// =============================================================================

func (p Patch) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(p.Extra)+6)
	for k, v := range p.Extra {
		m[k] = v
	}
	if err := putField(m, KeyTitle, p.Title); err != nil {
		return nil, err
	}
	if err := putField(m, KeyDescription, p.Description); err != nil {
		return nil, err
	}
	if err := putField(m, KeyPriority, p.Priority); err != nil {
		return nil, err
	}
	if err := putField(m, KeyProgress, p.Progress); err != nil {
		return nil, err
	}
	if err := putField(m, KeyTags, p.Tags); err != nil {
		return nil, err
	}
	if err := putField(m, KeyDueDate, p.DueDate); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

func (p *Patch) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	var out Patch
	if err := takeField(m, KeyTitle, &out.Title); err != nil {
		return err
	}
	if err := takeField(m, KeyDescription, &out.Description); err != nil {
		return err
	}
	if err := takeField(m, KeyPriority, &out.Priority); err != nil {
		return err
	}
	if err := takeField(m, KeyProgress, &out.Progress); err != nil {
		return err
	}
	if err := takeField(m, KeyTags, &out.Tags); err != nil {
		return err
	}
	if err := takeField(m, KeyDueDate, &out.DueDate); err != nil {
		return err
	}
	if len(m) > 0 {
		out.Extra = m
	}
	*p = out
	return nil
}

func putField[T any](m map[string]json.RawMessage, key string, f Field[T]) error {
	switch f.state {
	case fieldValue:
		b, err := json.Marshal(f.value)
		if err != nil {
			return err
		}
		m[key] = b
	case fieldNull:
		m[key] = json.RawMessage("null")
	}
	return nil
}

func takeField[T any](m map[string]json.RawMessage, key string, f *Field[T]) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	delete(m, key)
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		*f = Null[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return invalid(key, "%v", err)
	}
	*f = Set(v)
	return nil
}
