package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/vectorcache/internal/services"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		kind     Kind
		id       string
		filters  map[string]string
		semantic string
	}{
		{"id lookup", "id:123", KindIDLookup, "123", map[string]string{}, ""},
		{"id lookup trims", "  id:  abc-def ", KindIDLookup, "abc-def", map[string]string{}, ""},
		{"id short-circuits filters", "id:7 user:x", KindIDLookup, "7 user:x", map[string]string{}, ""},
		{"user alias", "user:a@b.com budget reports", KindFilteredSearch, "", map[string]string{"user_email": "a@b.com"}, "budget reports"},
		{"multiple aliases", "tool:search_gmail_messages session:s1 invoices", KindFilteredSearch, "",
			map[string]string{"tool_name": "search_gmail_messages", "session_id": "s1"}, "invoices"},
		{"type alias", "type:job", KindFilteredSearch, "", map[string]string{"payload_type": "job"}, ""},
		{"unknown field kept", "project:apollo notes", KindFilteredSearch, "", map[string]string{"project": "apollo"}, "notes"},
		{"plain text", "quarterly budget spreadsheet", KindGeneralSearch, "", map[string]string{}, "quarterly budget spreadsheet"},
		{"empty", "   ", KindGeneralSearch, "", map[string]string{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.query)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.id, got.ID)
			assert.Equal(t, tt.filters, got.Filters)
			assert.Equal(t, tt.semantic, got.SemanticQuery)
			assert.GreaterOrEqual(t, got.Confidence, 0.0)
			assert.LessOrEqual(t, got.Confidence, 1.0)
		})
	}
}

func TestParseUnified(t *testing.T) {
	catalog := services.Default()
	tests := []struct {
		name       string
		query      string
		kind       Kind
		service    string
		timeRange  string
		semantic   string
		confidence float64
	}{
		{"overview word", "overview", KindOverview, "", "", "overview", 0.7},
		{"overview capped", "usage stats metrics dashboard report", KindOverview, "", "", "usage stats metrics dashboard report", 0.9},
		{"analytics term", "activity", KindOverview, "", "", "activity", 0.6},
		{"service and time", "gmail last week", KindServiceHistory, "gmail", "last week", "", 0.9},
		{"service token", "service:drive invoices", KindServiceHistory, "drive", "", "invoices", 0.75},
		{"counted range", "calendar events last 3 days", KindServiceHistory, "calendar", "last 3 days", "events", 0.9},
		{"time only", "what happened yesterday", KindServiceHistory, "", "yesterday", "what happened", 0.6},
		{"temporal keyword without phrase", "recent errors", KindServiceHistory, "", "recent", "errors", 0.6},
		{"falls through to general", "quarterly budget", KindGeneralSearch, "", "", "quarterly budget", 0.5},
		{"falls through to filtered", "user:a@b.com budget", KindFilteredSearch, "", "", "budget", 0.8},
		{"id lookup", "id:42", KindIDLookup, "", "", "", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseUnified(tt.query, catalog)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.service, got.ServiceName)
			assert.Equal(t, tt.timeRange, got.TimeRange)
			assert.Equal(t, tt.semantic, got.SemanticQuery)
			assert.InDelta(t, tt.confidence, got.Confidence, 1e-9)
		})
	}
}

func TestParseUnified_OverviewConfidence(t *testing.T) {
	got := ParseUnified("overview", services.Default())
	assert.Equal(t, KindOverview, got.Kind)
	assert.GreaterOrEqual(t, got.Confidence, 0.6)
}

func TestParseUnified_GmailLastWeek(t *testing.T) {
	got := ParseUnified("gmail last week", services.Default())
	require.Equal(t, KindServiceHistory, got.Kind)
	assert.Equal(t, "gmail", got.ServiceName)
	assert.NotEmpty(t, got.TimeRange)
}

func TestParseUnified_NilMatcher(t *testing.T) {
	got := ParseUnified("gmail invoices", nil)
	assert.Equal(t, KindGeneralSearch, got.Kind)
}

func TestTimeRangeBounds(t *testing.T) {
	// Wednesday
	now := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)
	day := 24 * time.Hour
	tests := []struct {
		phrase string
		start  time.Time
		end    time.Time
	}{
		{"today", time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), now},
		{"yesterday", time.Date(2026, 10, 13, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)},
		{"this week", time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), now},
		{"last week", time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)},
		{"this month", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), now},
		{"last month", time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)},
		{"last 3 days", now.Add(-3 * day), now},
		{"past 2 hours", now.Add(-2 * time.Hour), now},
		{"Last  2 Weeks", now.Add(-14 * day), now},
		{"past month", time.Date(2026, 9, 14, 15, 30, 0, 0, time.UTC), now},
		{"recent", now.Add(-7 * day), now},
	}
	for _, tt := range tests {
		t.Run(tt.phrase, func(t *testing.T) {
			start, end, ok := TimeRangeBounds(tt.phrase, now)
			require.True(t, ok)
			assert.True(t, tt.start.Equal(start), "start %s", start)
			assert.True(t, tt.end.Equal(end), "end %s", end)
		})
	}

	for _, bad := range []string{"", "someday", "last 0 days"} {
		_, _, ok := TimeRangeBounds(bad, now)
		assert.False(t, ok, bad)
	}
}

func TestTimeRangeBounds_SundayWeekStart(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	start, _, ok := TimeRangeBounds("this week", sunday)
	require.True(t, ok)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), start)
}
