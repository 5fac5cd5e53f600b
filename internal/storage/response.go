package storage

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/vectorcache/internal/sanitize"
)

// Response is the output of a tool call. The set of variants is closed.
type Response interface {
	// value returns the JSON-ready form of the response.
	value() any
}

// BytesResponse is a raw binary or text-as-bytes response.
type BytesResponse struct {
	Data []byte
}

// TextResponse is a plain string response.
type TextResponse struct {
	Text string
}

// StructuredResponse is an already decoded JSON value: maps, slices, scalars.
type StructuredResponse struct {
	Value any
}

// ContentResponse wraps a response whose meaningful part is its content field.
type ContentResponse struct {
	Content any
}

// OpaqueResponse is any other value. It is dumped through its JSON or text
// marshaller when it has one, its exported fields otherwise, and fmt as a
// last resort.
type OpaqueResponse struct {
	Value any
}

func (r BytesResponse) value() any      { return sanitize.Sanitize(r.Data, false) }
func (r TextResponse) value() any       { return r.Text }
func (r StructuredResponse) value() any { return r.Value }
func (r ContentResponse) value() any    { return r.Content }
func (r OpaqueResponse) value() any     { return sanitize.Sanitize(r.Value, true) }

// Compile-time checks that every variant implements Response
var (
	_ Response = BytesResponse{}
	_ Response = TextResponse{}
	_ Response = StructuredResponse{}
	_ Response = ContentResponse{}
	_ Response = OpaqueResponse{}
)

// ResponseFrom classifies a value decoded from a transport into a Response.
// A JSON object carrying a "content" key is treated as a content envelope.
func ResponseFrom(v any) Response {
	switch t := v.(type) {
	case nil:
		return StructuredResponse{}
	case Response:
		return t
	case []byte:
		return BytesResponse{Data: t}
	case json.RawMessage:
		var decoded any
		if err := json.Unmarshal(t, &decoded); err != nil {
			return BytesResponse{Data: t}
		}
		return ResponseFrom(decoded)
	case string:
		return TextResponse{Text: t}
	case map[string]any:
		if content, ok := t["content"]; ok {
			return ContentResponse{Content: content}
		}
		return StructuredResponse{Value: t}
	case []any, bool, float64, int, int64, json.Number:
		return StructuredResponse{Value: t}
	default:
		return OpaqueResponse{Value: t}
	}
}

// Invocation is one completed tool call.
type Invocation struct {
	Response      Response
	Arguments     map[string]any
	ToolName      string
	SessionID     string
	UserEmail     string
	UserID        string
	PayloadType   string
	ExecutionTime time.Duration
}

// responseText renders a normalized response for the embedding input.
func responseText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
