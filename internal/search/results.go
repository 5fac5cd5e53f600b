package search

import (
	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/query"
	"github.com/thebtf/vectorcache/internal/services"
	"github.com/thebtf/vectorcache/internal/vector"
)

// Result is one cached tool response.
type Result struct {
	Data      any            `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	ID        string         `json:"id"`
	ToolName  string         `json:"tool_name"`
	Service   string         `json:"service"`
	Timestamp string         `json:"timestamp,omitempty"`
	Score     float32        `json:"score"`
}

// Response is the outcome of Search.
type Response struct {
	Intent           *query.Intent `json:"intent,omitempty"`
	QueryType        string        `json:"query_type"`
	Error            string        `json:"error,omitempty"`
	Results          []Result      `json:"results"`
	TotalResults     int           `json:"total_results"`
	ProcessingTimeMs float64       `json:"processing_time_ms"`
}

// hiddenMetadata are payload fields left out of result metadata.
var hiddenMetadata = map[string]bool{
	payload.FieldData:           true,
	payload.FieldCompressedData: true,
	payload.FieldEmbeddingText:  true,
	"metadata":                  true,
}

// ToolName returns the tool name of a payload in either the flat or the
// nested v1 layout.
func ToolName(p map[string]any) string {
	if s := payload.String(p, payload.FieldToolName); s != "" {
		return s
	}
	if v, ok := payload.Lookup(p, "metadata."+payload.FieldToolName); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// serviceOf returns the stored service id, resolving it from the tool name
// for records written before the field existed.
func serviceOf(p map[string]any, catalog *services.Catalog) string {
	if s := payload.String(p, payload.FieldService); s != "" {
		return s
	}
	if v, ok := payload.Lookup(p, "metadata."+payload.FieldService); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return catalog.Resolve(ToolName(p)).ID
}

// Metadata flattens a payload into result metadata, excluding stored data.
func Metadata(p map[string]any, catalog *services.Catalog) map[string]any {
	meta := make(map[string]any, len(p)+1)
	if nested, ok := p["metadata"].(map[string]any); ok {
		for k, v := range nested {
			meta[k] = v
		}
	}
	for k, v := range p {
		if !hiddenMetadata[k] {
			meta[k] = v
		}
	}
	meta[payload.FieldToolName] = ToolName(p)
	meta[payload.FieldService] = serviceOf(p, catalog)
	return meta
}

// toResult converts a point, decoding its stored record.
func (m *Manager) toResult(p vector.ScoredPoint) Result {
	meta := Metadata(p.Payload, m.catalog)
	return Result{
		ID:        p.ID,
		Score:     p.Score,
		ToolName:  ToolName(p.Payload),
		Service:   meta[payload.FieldService].(string),
		Timestamp: payload.String(p.Payload, payload.FieldTimestamp),
		Data:      payload.DecodeRecord(p.Payload),
		Metadata:  meta,
	}
}

func (m *Manager) toResults(points []vector.ScoredPoint, fixedScore *float32) []Result {
	out := make([]Result, 0, len(points))
	for _, p := range points {
		if fixedScore != nil {
			p.Score = *fixedScore
		}
		out = append(out, m.toResult(p))
	}
	return out
}
