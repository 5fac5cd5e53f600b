package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/vectorcache/internal/payload"
	"github.com/thebtf/vectorcache/internal/search"
)

// Tool represents an MCP tool definition.
type Tool struct {
	InputSchema map[string]any `json:"inputSchema"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
}

func toolDefinitions() []Tool {
	return []Tool{
		{
			Name:        "search",
			Description: "Search cached tool responses. Supports id:<point id>, field:value filters (user:, service:, tool:, session:, type:), service and time phrases (\"gmail last week\"), overview queries, and example-based recommendation.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]any{
					"query":              map[string]any{"type": "string", "description": "Natural language query"},
					"limit":              map[string]any{"type": "number", "default": 10, "minimum": 1, "maximum": 100},
					"score_threshold":    map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"positive_point_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Find responses similar to these points"},
					"negative_point_ids": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Steer away from these points"},
				},
			},
		},
		{
			Name:        "fetch",
			Description: "Fetch one or more cached tool responses by point id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"point_id":        map[string]any{"type": "string"},
					"point_ids":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"order_by":        map[string]any{"type": "string", "description": "Metadata key to sort batch results by"},
					"order_direction": map[string]any{"type": "string", "enum": []string{"asc", "desc"}, "default": "asc"},
				},
			},
		},
		{
			Name:        "search_tool_history",
			Description: "Search cached tool responses and return full records.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"query"},
				"properties": map[string]any{
					"query":           map[string]any{"type": "string"},
					"limit":           map[string]any{"type": "number", "default": 10},
					"score_threshold": map[string]any{"type": "number"},
				},
			},
		},
		{
			Name:        "get_tool_analytics",
			Description: "Count cached tool responses grouped by a payload field.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"start_date": map[string]any{"type": "string", "description": "ISO-8601 start (inclusive)"},
					"end_date":   map[string]any{"type": "string", "description": "ISO-8601 end (exclusive)"},
					"group_by":   map[string]any{"type": "string", "default": "tool_name"},
				},
			},
		},
		{
			Name:        "get_response_details",
			Description: "Fetch a cached tool response by id.",
			InputSchema: map[string]any{
				"type":     "object",
				"required": []string{"response_id"},
				"properties": map[string]any{
					"response_id": map[string]any{"type": "string"},
				},
			},
		},
		{
			Name:        "cleanup_qdrant_data",
			Description: "Delete cached responses older than the retention window or days_old.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"days_old": map[string]any{"type": "number", "minimum": 1},
				},
			},
		},
	}
}

// SearchArgs are the arguments of the search tool.
type SearchArgs struct {
	ScoreThreshold   *float64 `json:"score_threshold"`
	Query            string   `json:"query"`
	PositivePointIDs []string `json:"positive_point_ids"`
	NegativePointIDs []string `json:"negative_point_ids"`
	Limit            int      `json:"limit"`
}

// FetchArgs are the arguments of the fetch tool.
type FetchArgs struct {
	PointID        string   `json:"point_id"`
	OrderBy        string   `json:"order_by"`
	OrderDirection string   `json:"order_direction"`
	PointIDs       []string `json:"point_ids"`
}

// FetchBatch is the fetch tool's result for several ids.
type FetchBatch struct {
	Results []search.FetchResult `json:"results"`
	Found   int                  `json:"found"`
	Total   int                  `json:"total"`
}

type analyticsArgs struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	GroupBy   string `json:"group_by"`
}

type detailsArgs struct {
	ResponseID string `json:"response_id"`
}

type cleanupArgs struct {
	DaysOld int `json:"days_old"`
}

// callTool dispatches to the appropriate tool handler.
func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	switch name {
	// search and fetch report argument problems in their result.
	case "search":
		var a SearchArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return &search.UnifiedResponse{Results: []search.Hit{}, Error: "invalid arguments: " + err.Error()}, nil
		}
		return s.search(ctx, a), nil

	case "fetch":
		var a FetchArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return search.FetchResult{Error: "invalid arguments: " + err.Error()}, nil
		}
		return s.fetch(ctx, a), nil

	case "search_tool_history":
		var a SearchArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		resp, err := s.searchMgr.Search(ctx, a.Query, a.Limit, threshold(a.ScoreThreshold))
		if err != nil {
			return &search.Response{Results: []search.Result{}, Error: err.Error()}, nil
		}
		return resp, nil

	case "get_tool_analytics":
		var a analyticsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		start, err := parseDate(a.StartDate)
		if err != nil {
			return nil, fmt.Errorf("start_date: %w", err)
		}
		end, err := parseDate(a.EndDate)
		if err != nil {
			return nil, fmt.Errorf("end_date: %w", err)
		}
		stats, err := s.searchMgr.GetAnalytics(ctx, start, end, a.GroupBy)
		if err != nil {
			return map[string]any{"total": 0, "groups": map[string]any{}, "error": err.Error()}, nil
		}
		return stats, nil

	case "get_response_details":
		var a detailsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if a.ResponseID == "" {
			return nil, fmt.Errorf("response_id is required")
		}
		return s.searchMgr.Fetch(ctx, a.ResponseID), nil

	case "cleanup_qdrant_data":
		var a cleanupArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
		if a.DaysOld > 0 {
			return s.storage.CleanupOlderThan(ctx, a.DaysOld), nil
		}
		return s.storage.CleanupStale(ctx), nil
	}
	return nil, fmt.Errorf("unknown tool: %s", name)
}

// search runs the unified router, or recommendation when example ids are given.
func (s *Server) search(ctx context.Context, a SearchArgs) *search.UnifiedResponse {
	if len(a.PositivePointIDs) == 0 {
		return s.searchMgr.UnifiedSearch(ctx, a.Query, a.Limit, threshold(a.ScoreThreshold))
	}
	start := time.Now()
	out := &search.UnifiedResponse{QueryType: "recommend", Results: []search.Hit{}}
	resp, err := s.searchMgr.Recommend(ctx, a.PositivePointIDs, a.NegativePointIDs, a.Limit, threshold(a.ScoreThreshold))
	if err != nil {
		out.Error = err.Error()
	} else {
		out.Results = s.searchMgr.Hits(resp.Results)
	}
	out.TotalResults = len(out.Results)
	out.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000
	return out
}

func (s *Server) fetch(ctx context.Context, a FetchArgs) any {
	if len(a.PointIDs) == 0 {
		if a.PointID == "" {
			return search.FetchResult{Error: "point_id or point_ids is required"}
		}
		return s.searchMgr.Fetch(ctx, a.PointID)
	}
	results := s.searchMgr.FetchMany(ctx, a.PointIDs, a.OrderBy, a.OrderDirection)
	batch := FetchBatch{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Found {
			batch.Found++
		}
	}
	return batch
}

func threshold(v *float64) float64 {
	if v == nil {
		return search.DefaultThreshold
	}
	return *v
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return payload.ParseTimestamp(s)
}
