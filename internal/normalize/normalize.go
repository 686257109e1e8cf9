// Package normalize converts raw persisted or fetched records into canonical entities and
// back into storage-safe values.
package normalize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// ValidationError reports malformed input records.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

var isoPrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

var zonelessLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTime parses an ISO-8601 timestamp. Values without a zone are read as UTC.
func ParseTime(s string) (time.Time, bool) {
	if !isoPrefix.MatchString(s) {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), true
	}
	for _, layout := range zonelessLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way every backend stores timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Hydrate walks a JSON-like value and turns ISO-8601 strings into time.Time.
func Hydrate(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Hydrate(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Hydrate(val)
		}
		return out
	case string:
		if t, ok := ParseTime(x); ok {
			return t
		}
		return x
	default:
		return v
	}
}

// Dehydrate is the inverse of Hydrate: timestamps become ISO-8601 strings.
func Dehydrate(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = Dehydrate(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Dehydrate(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Dehydrate(val)
		}
		return out
	case time.Time:
		return FormatTime(x)
	case *time.Time:
		if x == nil {
			return nil
		}
		return FormatTime(*x)
	default:
		return v
	}
}

// Decode parses JSON text and hydrates it.
func Decode(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return Hydrate(raw), nil
}

// Column maps a camelCase attribute to its snake_case column name.
func Column(field string) string {
	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Field maps a snake_case column name to its camelCase attribute.
func Field(column string) string {
	parts := strings.Split(column, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

// record is a raw object with keys folded so that casing and separators do not matter.
type record map[string]any

func foldKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

func fold(m map[string]any) record {
	r := make(record, len(m))
	for k, v := range m {
		r[foldKey(k)] = v
	}
	return r
}

func (r record) str(key string) string {
	switch v := r[foldKey(key)].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	case time.Time:
		return FormatTime(v)
	default:
		return ""
	}
}

func (r record) boolean(key string) bool {
	switch v := r[foldKey(key)].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	case float64:
		return v != 0
	default:
		return false
	}
}

func (r record) timestamp(key string) (time.Time, bool) {
	switch v := r[foldKey(key)].(type) {
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return *v, !v.IsZero()
	case string:
		if t, ok := ParseTime(v); ok {
			return t, true
		}
		// Date-only values, as produced by calendar pickers.
		if t, err := time.ParseInLocation("2006-01-02", v, time.UTC); err == nil {
			return t, true
		}
	case float64:
		return time.UnixMilli(int64(v)).UTC(), true
	}
	return time.Time{}, false
}

func (r record) list(key string) []string {
	items, ok := r[foldKey(key)].([]any)
	if !ok {
		if ss, ok := r[foldKey(key)].([]string); ok {
			return dedupe(ss)
		}
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return dedupe(out)
}

func (r record) objects(key string) ([]map[string]any, error) {
	v, ok := r[foldKey(key)]
	if !ok || v == nil {
		return nil, nil
	}
	switch items := v.(type) {
	case []map[string]any:
		return items, nil
	case []any:
		out := make([]map[string]any, 0, len(items))
		for i, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				return nil, invalid("%s[%d] is not an object", key, i)
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, invalid("%s is not a list", key)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
