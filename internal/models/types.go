package models

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
)

// StringArray is a custom type for handling TEXT[] arrays in PostgreSQL
type StringArray []string

// Value implements the driver.Valuer interface
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	return pq.Array([]string(a)).Value()
}

// Scan implements the sql.Scanner interface
func (a *StringArray) Scan(src interface{}) error {
	if src == nil {
		*a = nil
		return nil
	}
	slice := (*[]string)(a)
	return pq.Array(slice).Scan(src)
}

// FlexFloat accepts a JSON number or a numeric string. Invalid input decodes as unset.
type FlexFloat struct {
	Value float64
	Valid bool
}

// NewFlexFloat returns a set FlexFloat
func NewFlexFloat(v float64) FlexFloat {
	return FlexFloat{Value: v, Valid: true}
}

// MarshalJSON implements json.Marshaler
func (f FlexFloat) MarshalJSON() ([]byte, error) {
	if !f.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(f.Value)
}

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	*f = ParseFlexFloat(rawValue(data))
	return nil
}

// ParseFlexFloat converts a decoded JSON value into a FlexFloat
func ParseFlexFloat(value any) FlexFloat {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FlexFloat{}
		}
		return NewFlexFloat(v)
	case int:
		return NewFlexFloat(float64(v))
	case int64:
		return NewFlexFloat(float64(v))
	case json.Number:
		if parsed, err := v.Float64(); err == nil {
			return NewFlexFloat(parsed)
		}
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil && !math.IsNaN(parsed) && !math.IsInf(parsed, 0) {
			return NewFlexFloat(parsed)
		}
	}
	return FlexFloat{}
}

// FlexString accepts any JSON scalar and keeps its trimmed text form
type FlexString string

// UnmarshalJSON implements json.Unmarshaler
func (s *FlexString) UnmarshalJSON(data []byte) error {
	*s = FlexString(TextOf(rawValue(data)))
	return nil
}

// String returns the text value
func (s FlexString) String() string { return string(s) }

// TextOf renders a decoded JSON scalar as trimmed text; maps and lists render empty
func TextOf(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// FlexTime accepts RFC3339 strings, epoch milliseconds or {seconds,nanoseconds} objects
type FlexTime struct {
	time.Time
}

// MarshalJSON implements json.Marshaler
func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// UnmarshalJSON implements json.Unmarshaler
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	t.Time = ParseTime(rawValue(data))
	return nil
}

// ParseTime converts a decoded JSON value to time; unknown shapes give the zero time
func ParseTime(value any) time.Time {
	switch v := value.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v)); err == nil {
			return parsed
		}
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v))
		}
	case map[string]any:
		seconds := ParseFlexFloat(firstPresent(v, "seconds", "_seconds"))
		if seconds.Valid {
			nanos := ParseFlexFloat(firstPresent(v, "nanoseconds", "_nanoseconds"))
			return time.Unix(int64(seconds.Value), int64(nanos.Value))
		}
	case time.Time:
		return v
	}
	return time.Time{}
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func rawValue(data []byte) any {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil
	}
	return value
}
