package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultIdentity keys a record by its timestamp plus normalized text field.
// Records that fail to parse fall back to their full normalized JSON, so
// malformed records still dedup exactly against themselves.
func DefaultIdentity(record json.RawMessage) string {
	return FieldIdentity("timestamp", "text")(record)
}

// FieldIdentity builds an IdentityFn over the named top-level fields. String
// values are normalized (trimmed, lowercased, whitespace collapsed) before
// comparison; other values use their JSON rendering.
func FieldIdentity(fields ...string) IdentityFn {
	return func(record json.RawMessage) string {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(record, &obj); err != nil {
			return normalizeText(string(record))
		}

		parts := make([]string, 0, len(fields))
		for _, field := range fields {
			raw, ok := obj[field]
			if !ok {
				parts = append(parts, "")
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err == nil {
				parts = append(parts, normalizeText(s))
				continue
			}
			parts = append(parts, string(raw))
		}
		return strings.Join(parts, "\x1f")
	}
}

// TruncatedTimestampIdentity keys records by a named text field plus the
// timestamp truncated to whole seconds. Some platforms re-report the same
// record with sub-second timestamp jitter.
func TruncatedTimestampIdentity(textField string) IdentityFn {
	return func(record json.RawMessage) string {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(record, &obj); err != nil {
			return normalizeText(string(record))
		}

		var ts float64
		if raw, ok := obj["timestamp"]; ok {
			_ = json.Unmarshal(raw, &ts)
		}

		var text string
		if raw, ok := obj[textField]; ok {
			_ = json.Unmarshal(raw, &text)
		}

		return fmt.Sprintf("%d\x1f%s", int64(ts)/1000*1000, normalizeText(text))
	}
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}
