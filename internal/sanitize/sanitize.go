// Package sanitize normalizes arbitrary values into JSON-safe structures
// before they are written to the vector store.
package sanitize

import (
	"bytes"
	"encoding"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Base64Prefix tags binary payloads that were not valid UTF-8.
const Base64Prefix = "base64:"

// maxDepth bounds recursion on self-referencing values.
const maxDepth = 64

// Sanitize converts v into a value built only from nil, bool, int64, float64,
// string, []any and map[string]any. It never panics.
//
// With preserveStructure set, strings that look like serialized JSON objects
// or arrays are parsed and sanitized in place, undoing double encoding.
func Sanitize(v any, preserveStructure bool) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = placeholder(r)
		}
	}()
	return sanitizeValue(v, preserveStructure, 0)
}

func placeholder(reason any) string {
	return fmt.Sprintf("<unserializable: %v>", reason)
}

func sanitizeValue(v any, preserve bool, depth int) any {
	if depth > maxDepth {
		return "<max depth exceeded>"
	}

	switch t := v.(type) {
	case nil:
		return nil
	case bool:
		return t
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return uintValue(uint64(t))
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	case uint64:
		return uintValue(t)
	case float32:
		return floatValue(float64(t))
	case float64:
		return floatValue(t)
	case json.Number:
		return numberValue(string(t))
	case string:
		return sanitizeString(t, preserve, depth)
	case []byte:
		return sanitizeBytes(t)
	case json.RawMessage:
		return sanitizeString(string(t), true, depth)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = sanitizeElement(item, preserve, depth)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[SanitizeKey(k)] = sanitizeElement(item, preserve, depth)
		}
		return out
	case json.Marshaler:
		return dumpStructured(t, preserve, depth)
	case error:
		return sanitizeString(t.Error(), false, depth)
	case encoding.TextMarshaler:
		text, err := t.MarshalText()
		if err != nil {
			return placeholder(err)
		}
		return sanitizeString(string(text), false, depth)
	case fmt.Stringer:
		return sanitizeString(t.String(), false, depth)
	}

	return sanitizeReflect(reflect.ValueOf(v), preserve, depth)
}

// sanitizeElement isolates a failure to a single list element or map entry.
func sanitizeElement(v any, preserve bool, depth int) (out any) {
	defer func() {
		if r := recover(); r != nil {
			out = placeholder(r)
		}
	}()
	return sanitizeValue(v, preserve, depth+1)
}

func sanitizeReflect(rv reflect.Value, preserve bool, depth int) any {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return sanitizeValue(rv.Elem().Interface(), preserve, depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			out[i] = sanitizeElement(rv.Index(i).Interface(), preserve, depth)
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			key := SanitizeKey(fmt.Sprint(iter.Key().Interface()))
			out[key] = sanitizeElement(iter.Value().Interface(), preserve, depth)
		}
		return out
	case reflect.Struct:
		return dumpAttributes(rv.Interface(), preserve, depth)
	case reflect.String:
		return sanitizeString(rv.String(), preserve, depth)
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return uintValue(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return floatValue(rv.Float())
	case reflect.Invalid:
		return nil
	default:
		// chan, func, unsafe pointer, complex
		return sanitizeString(fmt.Sprint(rv.Interface()), false, depth)
	}
}

// dumpStructured uses the value's own JSON representation.
func dumpStructured(m json.Marshaler, preserve bool, depth int) any {
	data, err := m.MarshalJSON()
	if err != nil {
		return sanitizeString(fmt.Sprint(m), false, depth)
	}
	var parsed any
	if err := decodeJSON(data, &parsed); err != nil {
		return sanitizeString(string(data), false, depth)
	}
	return sanitizeValue(parsed, preserve, depth+1)
}

// dumpAttributes turns a struct into its exported-field map, falling back to
// its printed form when it cannot be encoded.
func dumpAttributes(v any, preserve bool, depth int) any {
	data, err := json.Marshal(v)
	if err != nil {
		return sanitizeString(fmt.Sprintf("%+v", v), false, depth)
	}
	var parsed any
	if err := decodeJSON(data, &parsed); err != nil {
		return sanitizeString(fmt.Sprintf("%+v", v), false, depth)
	}
	return sanitizeValue(parsed, preserve, depth+1)
}

func sanitizeString(s string, preserve bool, depth int) any {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	if preserve && LooksLikeJSON(s) {
		var parsed any
		if err := decodeJSON([]byte(s), &parsed); err == nil {
			return sanitizeValue(parsed, preserve, depth+1)
		}
	}
	return s
}

func sanitizeBytes(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return Base64Prefix + base64.StdEncoding.EncodeToString(b)
}

// LooksLikeJSON is a cheap heuristic for serialized objects or arrays: the
// trimmed text starts with '{' or '[' and contains ':' or ','. It can
// misclassify prose that happens to start with a bracket; parsing decides.
func LooksLikeJSON(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return false
	}
	return strings.ContainsAny(t, ":,")
}

// SanitizeKey coerces a map key to valid UTF-8 without NUL bytes.
func SanitizeKey(k string) string {
	if !utf8.ValidString(k) {
		k = strings.ToValidUTF8(k, "�")
	}
	if strings.ContainsRune(k, 0) {
		k = strings.ReplaceAll(k, "\x00", "_")
	}
	return k
}

func decodeJSON(data []byte, dst *any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Reject trailing garbage such as `{"a":1} tail`.
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}

func uintValue(u uint64) any {
	if u > math.MaxInt64 {
		return strconv.FormatUint(u, 10)
	}
	return int64(u)
}

func floatValue(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return f
}

func numberValue(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatValue(f)
	}
	return s
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
