package query

import (
	"math"
	"regexp"
	"strings"
)

// ServiceMatcher finds known service identifiers in text.
type ServiceMatcher interface {
	// Mentioned returns the first known service id occurring in text.
	Mentioned(text string) (string, bool)
}

// overviewVocabulary triggers the analytics route when any word of a query matches.
var overviewVocabulary = map[string]bool{
	"overview":   true,
	"dashboard":  true,
	"stats":      true,
	"statistics": true,
	"usage":      true,
	"metrics":    true,
	"report":     true,
	"analytics":  true,
	"summary":    true,
	"breakdown":  true,
}

// analyticsTerms match the whole trimmed query.
var analyticsTerms = map[string]bool{
	"tool usage":     true,
	"usage stats":    true,
	"activity":       true,
	"what's cached":  true,
	"cache contents": true,
}

var temporalKeywords = map[string]bool{
	"today":     true,
	"yesterday": true,
	"week":      true,
	"weeks":     true,
	"month":     true,
	"months":    true,
	"recent":    true,
	"recently":  true,
	"last":      true,
	"past":      true,
}

var serviceToken = regexp.MustCompile(`(?i)\b(service|tool):(\S+)`)

// ParseUnified classifies q with capability detection layered over Parse:
// overview when the analytics vocabulary matches, service_history when a
// service or temporal reference is present, otherwise the result of Parse.
func ParseUnified(q string, services ServiceMatcher) Intent {
	trimmed := strings.TrimSpace(q)
	if strings.HasPrefix(trimmed, IDPrefix) {
		return Parse(trimmed)
	}

	lower := strings.ToLower(trimmed)
	words := strings.Fields(lower)

	if score := overviewScore(words); score > 0 || analyticsTerms[lower] {
		conf := math.Min(confidenceOverviewMin+0.1*float64(score), confidenceOverviewMax)
		return Intent{
			Kind:          KindOverview,
			Filters:       map[string]string{},
			SemanticQuery: trimmed,
			Confidence:    conf,
		}
	}

	service, rest := detectService(trimmed, services)
	timeRange, rest := detectTimeRange(rest)
	hasTemporal := timeRange != "" || containsTemporal(words)

	if service == "" && !hasTemporal {
		return Parse(trimmed)
	}

	filters, rest := extractFilters(rest)
	intent := Intent{
		Kind:          KindServiceHistory,
		Filters:       filters,
		ServiceName:   service,
		TimeRange:     timeRange,
		SemanticQuery: stripTemporal(rest),
	}
	switch {
	case service != "" && hasTemporal:
		intent.Confidence = confidenceServiceTime
	case service != "":
		intent.Confidence = confidenceServiceOnly
	default:
		intent.Confidence = confidenceTimeOnly
	}
	return intent
}

func overviewScore(words []string) int {
	score := 0
	for _, w := range words {
		if overviewVocabulary[strings.Trim(w, ".,!?;:")] {
			score++
		}
	}
	return score
}

func containsTemporal(words []string) bool {
	for _, w := range words {
		if temporalKeywords[strings.Trim(w, ".,!?;:")] {
			return true
		}
	}
	return false
}

// detectService returns the first service reference and q with it removed.
func detectService(q string, services ServiceMatcher) (string, string) {
	if m := serviceToken.FindStringSubmatchIndex(q); m != nil {
		name := strings.ToLower(q[m[4]:m[5]])
		return name, collapse(q[:m[0]] + " " + q[m[1]:])
	}
	if services == nil {
		return "", q
	}
	id, ok := services.Mentioned(q)
	if !ok {
		return "", q
	}
	return id, removeWordContaining(q, id)
}

// removeWordContaining drops the first word of q that contains sub, case-insensitively.
func removeWordContaining(q, sub string) string {
	words := strings.Fields(q)
	for i, w := range words {
		if strings.Contains(strings.ToLower(w), sub) {
			words = append(words[:i], words[i+1:]...)
			break
		}
	}
	return strings.Join(words, " ")
}

func stripTemporal(q string) string {
	words := strings.Fields(q)
	kept := words[:0]
	for _, w := range words {
		if !temporalKeywords[strings.ToLower(strings.Trim(w, ".,!?;:"))] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
