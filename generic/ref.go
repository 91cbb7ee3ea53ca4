package generic

import "strings"

// OccurrenceSeparator splits a template id from an occurrence date.
const OccurrenceSeparator = "@"

// OccurrenceRef addresses either a whole item (Date == nil) or one occurrence
// of a recurring template. It is built once from the external "<id>@<date>"
// form by ParseOccurrenceRef; internal code never re-splits the string.
type OccurrenceRef struct {
	TemplateID ItemID
	Date       *Date
}

// ParseOccurrenceRef splits raw on the first "@". The date part may be a plain
// day or a full ISO 8601 timestamp; only its UTC calendar day is kept.
func ParseOccurrenceRef(raw string) (OccurrenceRef, error) {
	raw = strings.TrimSpace(raw)
	id, datePart, found := strings.Cut(raw, OccurrenceSeparator)
	if id == "" {
		return OccurrenceRef{}, invalid("id", "empty item id in %q", raw)
	}
	if !found {
		return OccurrenceRef{TemplateID: ItemID(id)}, nil
	}
	d, err := ParseDate(datePart)
	if err != nil {
		return OccurrenceRef{}, err
	}
	return OccurrenceRef{TemplateID: ItemID(id), Date: &d}, nil
}

// RefFor returns the composite reference for one occurrence.
func RefFor(templateID ItemID, day Date) OccurrenceRef {
	return OccurrenceRef{TemplateID: templateID, Date: &day}
}

// IsOccurrence reports whether the reference targets a single occurrence.
func (r OccurrenceRef) IsOccurrence() bool { return r.Date != nil }

func (r OccurrenceRef) String() string {
	if r.Date == nil {
		return string(r.TemplateID)
	}
	return string(r.TemplateID) + OccurrenceSeparator + r.Date.String()
}
