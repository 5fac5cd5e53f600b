// Package query classifies free-text search requests into structured intents.
package query

import (
	"regexp"
	"strings"
)

// Kind is the retrieval strategy selected for a query.
type Kind string

const (
	KindIDLookup       Kind = "id_lookup"
	KindFilteredSearch Kind = "filtered_search"
	KindServiceHistory Kind = "service_history"
	KindOverview       Kind = "overview"
	KindGeneralSearch  Kind = "general_search"
)

// Intent is the parsed form of a query. It is never persisted.
type Intent struct {
	Filters       map[string]string `json:"filters"`
	Kind          Kind              `json:"kind"`
	SemanticQuery string            `json:"semantic_query"`
	ID            string            `json:"id,omitempty"`
	ServiceName   string            `json:"service_name,omitempty"`
	TimeRange     string            `json:"time_range,omitempty"`
	Confidence    float64           `json:"confidence"`
}

// HasSemanticQuery reports whether free text remains after filter extraction.
func (i Intent) HasSemanticQuery() bool {
	return strings.TrimSpace(i.SemanticQuery) != ""
}

// Confidence levels per branch.
const (
	confidenceIDLookup    = 1.0
	confidenceFiltered    = 0.8
	confidenceGeneral     = 0.5
	confidenceOverviewMin = 0.6
	confidenceOverviewMax = 0.9
	confidenceServiceTime = 0.9
	confidenceServiceOnly = 0.75
	confidenceTimeOnly    = 0.6
)

// IDPrefix marks an exact point lookup.
const IDPrefix = "id:"

// fieldAliases maps query field names to indexed payload fields.
var fieldAliases = map[string]string{
	"user":    "user_email",
	"email":   "user_email",
	"service": "tool_name",
	"tool":    "tool_name",
	"session": "session_id",
	"type":    "payload_type",
}

// FieldFor returns the indexed payload field for a query field name.
func FieldFor(name string) string {
	name = strings.ToLower(name)
	if f, ok := fieldAliases[name]; ok {
		return f
	}
	return name
}

var fieldToken = regexp.MustCompile(`(\w+):(\S+)`)

// Parse classifies a query into id_lookup, filtered_search or general_search.
func Parse(q string) Intent {
	trimmed := strings.TrimSpace(q)
	if strings.HasPrefix(trimmed, IDPrefix) {
		return Intent{
			Kind:       KindIDLookup,
			ID:         strings.TrimSpace(strings.TrimPrefix(trimmed, IDPrefix)),
			Filters:    map[string]string{},
			Confidence: confidenceIDLookup,
		}
	}

	filters, rest := extractFilters(trimmed)
	intent := Intent{
		Filters:       filters,
		SemanticQuery: rest,
	}
	if len(filters) > 0 {
		intent.Kind = KindFilteredSearch
		intent.Confidence = confidenceFiltered
	} else {
		intent.Kind = KindGeneralSearch
		intent.Confidence = confidenceGeneral
	}
	return intent
}

// extractFilters removes field:value tokens from q and returns them keyed by
// indexed field name, along with the leftover text.
func extractFilters(q string) (map[string]string, string) {
	filters := make(map[string]string)
	rest := fieldToken.ReplaceAllStringFunc(q, func(tok string) string {
		m := fieldToken.FindStringSubmatch(tok)
		filters[FieldFor(m[1])] = m[2]
		return " "
	})
	return filters, collapse(rest)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
