package sanitize

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// SizeWarningBytes is the serialized payload size above which a warning is logged.
const SizeWarningBytes = 512 * 1024

// ValidateForStore sanitizes a point payload and enforces store constraints:
// string keys without NUL bytes and a serializable result. Oversized payloads
// are logged, not rejected. Any failure yields a minimal fallback payload.
// String values are kept as text, so serialized JSON stored under a field
// stays serialized.
func ValidateForStore(payload map[string]any) (out map[string]any) {
	originalType := fmt.Sprintf("%T", payload)
	defer func() {
		if r := recover(); r != nil {
			out = fallback(fmt.Errorf("panic: %v", r), originalType)
		}
	}()

	cleaned, ok := Sanitize(payload, false).(map[string]any)
	if !ok {
		return fallback(fmt.Errorf("payload did not sanitize to an object"), originalType)
	}

	for k := range cleaned {
		if fixed := SanitizeKey(k); fixed != k {
			cleaned[fixed] = cleaned[k]
			delete(cleaned, k)
		}
	}

	data, err := json.Marshal(cleaned)
	if err != nil {
		return fallback(err, originalType)
	}
	if len(data) > SizeWarningBytes {
		log.Warn().
			Int("bytes", len(data)).
			Int("threshold", SizeWarningBytes).
			Msg("Payload exceeds size warning threshold")
	}
	return cleaned
}

func fallback(err error, originalType string) map[string]any {
	log.Warn().Err(err).Str("original_type", originalType).Msg("Payload validation failed, storing fallback")
	return map[string]any{
		"validation_error": err.Error(),
		"original_type":    originalType,
		"timestamp":        time.Now().UTC().Format(time.RFC3339Nano),
	}
}
