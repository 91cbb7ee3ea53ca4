package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseFeed(t *testing.T, body string) *ical.Calendar {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(body))
	require.NoError(t, err)
	return cal
}

func TestCalendarFeed_OneEventPerOccurrence(t *testing.T) {
	// GIVEN: The weekly template with 01-15 retitled and 01-22 cancelled
	// WHEN: Fetching the feed for 2024-01-01 .. 2024-01-22
	// THEN: Four VEVENTs keyed by occurrence id, carrying the per-day edits

	s := newTestServer(t, at(2024, time.January, 10, 12))
	tpl := s.createWeeklyReport()
	require.Equal(t, http.StatusOK, s.do(http.MethodPatch, occurrencePath(tpl, "2024-01-15", ""), `{"title":"Quarter close"}`).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, occurrencePath(tpl, "2024-01-22", "/cancel"), "").Code)

	rec := s.do(http.MethodGet, "/api/tenants/"+testTenant+"/calendar.ics?from=2024-01-01&to=2024-01-22", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))

	events := parseFeed(t, rec.Body.String()).Events()
	require.Len(t, events, 4)

	assert.Equal(t, tpl.ID+"@2024-01-01", events[0].Id())
	start, err := events[0].GetStartAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(at(2024, time.January, 1, 9)))
	end, err := events[0].GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(at(2024, time.January, 3, 9)))

	assert.Equal(t, "Quarter close", events[2].GetProperty(ical.ComponentPropertySummary).Value)
	assert.Equal(t, string(ical.ObjectStatusCancelled), events[3].GetProperty(ical.ComponentPropertyStatus).Value)
	assert.Equal(t, "CANCELLED", events[3].GetProperty(icsPropertyItemStatus).Value)
	assert.Equal(t, tpl.ID, events[3].GetProperty(icsPropertyTemplateID).Value)
}

func TestCalendarFeed_Series(t *testing.T) {
	// GIVEN: The weekly template with 01-15 deleted
	// WHEN: Fetching the feed with series=true
	// THEN: One VEVENT with the weekly RRULE and an EXDATE for 01-15 09:00

	s := newTestServer(t, at(2024, time.January, 10, 12))
	tpl := s.createWeeklyReport()
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, occurrencePath(tpl, "2024-01-15", ""), "").Code)

	rec := s.do(http.MethodGet, "/api/tenants/"+testTenant+"/calendar.ics?series=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events := parseFeed(t, rec.Body.String()).Events()
	require.Len(t, events, 1)
	assert.Equal(t, tpl.ID, events[0].Id())

	rrule := events[0].GetProperty(ical.ComponentPropertyRrule)
	require.NotNil(t, rrule)
	assert.Contains(t, rrule.Value, "FREQ=WEEKLY")
	assert.Contains(t, rrule.Value, "BYDAY=MO")

	exdates := events[0].GetProperties(ical.ComponentPropertyExdate)
	require.Len(t, exdates, 1)
	assert.Equal(t, "20240115T090000Z", exdates[0].Value)
}

func TestIcsPriority(t *testing.T) {
	assert.Equal(t, 1, icsPriority("URGENT"))
	assert.Equal(t, 3, icsPriority("HIGH"))
	assert.Equal(t, 5, icsPriority("MEDIUM"))
	assert.Equal(t, 9, icsPriority("LOW"))
}
