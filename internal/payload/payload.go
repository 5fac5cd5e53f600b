// Package payload defines the stored point payload layout and its codec:
// field names, gzip+base64 compression and tolerant decoding of records.
package payload

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Payload field names.
const (
	FieldToolName        = "tool_name"
	FieldToolArgs        = "tool_args"
	FieldTimestamp       = "timestamp"
	FieldTimestampUnix   = "timestamp_unix"
	FieldUserID          = "user_id"
	FieldUserEmail       = "user_email"
	FieldSessionID       = "session_id"
	FieldPayloadType     = "payload_type"
	FieldCompressed      = "compressed"
	FieldData            = "data"
	FieldCompressedData  = "compressed_data"
	FieldExecutionTimeMS = "execution_time_ms"
	FieldService         = "service"
	FieldSchemaVersion   = "schema_version"
	FieldEmbeddingText   = "embedding_text"
	FieldOriginalSize    = "original_size"
)

// Type classifies what a point holds.
type Type string

const (
	TypeToolResponse Type = "tool_response"
	TypeCluster      Type = "cluster"
	TypeJob          Type = "job"
	TypeQuery        Type = "query"
	TypeGeneric      Type = "generic"
)

// ParseType returns the payload type for s, defaulting to TypeToolResponse.
func ParseType(s string) Type {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeToolResponse, TypeCluster, TypeJob, TypeQuery, TypeGeneric:
		return t
	default:
		return TypeToolResponse
	}
}

// ErrMalformed is returned when stored data cannot be decompressed or parsed.
var ErrMalformed = errors.New("malformed payload data")

// ParseFailure is the placeholder substituted for stored data that cannot be parsed.
func ParseFailure() map[string]any {
	return map[string]any{"error": "failed to parse"}
}

// Compress gzips s and returns it base64-encoded so it survives JSON payloads.
func Compress(s string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// gzipMagic is the two-byte gzip header.
var gzipMagic = []byte{0x1f, 0x8b}

// Decompress inflates compressed data. It accepts a base64 string of gzip
// bytes, raw gzip bytes, or raw gzip bytes carried in a string.
func Decompress(v any) (string, error) {
	var raw []byte
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, string(gzipMagic)) {
			raw = []byte(t)
			break
		}
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(t))
		if err != nil {
			return "", fmt.Errorf("%w: base64: %v", ErrMalformed, err)
		}
		raw = decoded
	case []byte:
		raw = t
		if !bytes.HasPrefix(t, gzipMagic) {
			if decoded, err := base64.StdEncoding.DecodeString(string(t)); err == nil {
				raw = decoded
			}
		}
	default:
		return "", fmt.Errorf("%w: unsupported compressed type %T", ErrMalformed, v)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: gzip header: %v", ErrMalformed, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return "", fmt.Errorf("%w: gzip body: %v", ErrMalformed, err)
	}
	return string(out), nil
}

// Encode serializes a record and places it under data or compressed_data
// depending on threshold. It returns the fields to merge into the payload and
// the serialized size before compression.
func Encode(record any, threshold int) (map[string]any, int, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, 0, fmt.Errorf("encode record: %w", err)
	}
	if threshold > 0 && len(data) > threshold {
		compressed, err := Compress(string(data))
		if err != nil {
			return nil, len(data), err
		}
		return map[string]any{
			FieldCompressed:     true,
			FieldCompressedData: compressed,
			FieldData:           nil,
		}, len(data), nil
	}
	return map[string]any{
		FieldCompressed:     false,
		FieldData:           string(data),
		FieldCompressedData: nil,
	}, len(data), nil
}

// RawData returns the stored JSON text of a payload, inflating it when the
// compressed flag is set.
func RawData(p map[string]any) (string, error) {
	if IsCompressed(p) {
		c, ok := p[FieldCompressedData]
		if !ok || c == nil {
			return "", fmt.Errorf("%w: compressed flag without compressed_data", ErrMalformed)
		}
		return Decompress(c)
	}
	switch d := p[FieldData].(type) {
	case nil:
		return "", fmt.Errorf("%w: no data", ErrMalformed)
	case string:
		return d, nil
	default:
		// Already structured, e.g. stored by an older writer.
		out, err := json.Marshal(d)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return string(out), nil
	}
}

// DecodeRecord returns the parsed stored record. Failures yield the
// ParseFailure placeholder instead of an error.
func DecodeRecord(p map[string]any) any {
	text, err := RawData(p)
	if err != nil {
		return ParseFailure()
	}
	var out any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return ParseFailure()
	}
	return out
}

// IsCompressed reports the payload's compressed flag, accepting bool or string forms.
func IsCompressed(p map[string]any) bool {
	switch c := p[FieldCompressed].(type) {
	case bool:
		return c
	case string:
		b, _ := strconv.ParseBool(c)
		return b
	default:
		return false
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses ISO-8601 timestamps. Timestamps without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty timestamp", ErrMalformed)
	}
	if strings.HasSuffix(s, "z") {
		s = strings.TrimSuffix(s, "z") + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: timestamp %q", ErrMalformed, s)
}

// FormatTimestamp renders t the way payload timestamps are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Timestamp extracts the point time from a payload, preferring the ISO field
// and falling back to timestamp_unix.
func Timestamp(p map[string]any) (time.Time, bool) {
	if s, ok := p[FieldTimestamp].(string); ok {
		if t, err := ParseTimestamp(s); err == nil {
			return t, true
		}
		return time.Time{}, false
	}
	switch u := p[FieldTimestampUnix].(type) {
	case int64:
		return time.Unix(u, 0).UTC(), true
	case float64:
		return time.Unix(int64(u), 0).UTC(), true
	case int:
		return time.Unix(int64(u), 0).UTC(), true
	}
	return time.Time{}, false
}

// String returns the string value of field, or "".
func String(p map[string]any, field string) string {
	if s, ok := p[field].(string); ok {
		return s
	}
	return ""
}

// Lookup resolves a dotted path such as "metadata.tool_name" in a payload.
func Lookup(p map[string]any, path string) (any, bool) {
	if v, ok := p[path]; ok {
		return v, true
	}
	var cur any = p
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
