package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// invalidValue is the schema-local error for a failed coercion. It is
// returned as-is; no code in this module translates it into
// polydb.InvalidValue.
type invalidValue struct {
	target string
	value  any
	reason string
}

func (e *invalidValue) Error() string {
	return fmt.Sprintf("schema: invalid value for %s: %v (%s)", e.target, e.value, e.reason)
}

// Target, Value and Reason expose the failed coercion's details without a
// shared concrete error type.
func (e *invalidValue) Target() string { return e.target }
func (e *invalidValue) Value() any     { return e.value }
func (e *invalidValue) Reason() string { return e.reason }

func newInvalidValue(target string, value any, reason string) error {
	return &invalidValue{target: target, value: value, reason: reason}
}

// IsNull reports whether v is a source null: a Go nil, or a driver null
// sentinel such as sql.NullString's unset zero value is intentionally NOT
// handled here (callers scan into sql.Null* types upstream); this covers
// the any(nil)/typed-nil-pointer case (spec.md §4.9 "Null-equivalence").
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	switch t := v.(type) {
	case *string:
		return t == nil
	case *int64:
		return t == nil
	case *float64:
		return t == nil
	case *bool:
		return t == nil
	case *time.Time:
		return t == nil
	}
	return false
}

// CoerceBool implements spec.md §4.9 "Booleans from strings": case
// insensitive {true,1}->true, {false,0}->false; anything else fails.
func CoerceBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return false, newInvalidValue("bool", v, "not a recognized boolean string")
		}
	default:
		return false, newInvalidValue("bool", v, fmt.Sprintf("unsupported source type %T", v))
	}
}

// CoerceTimeUTC implements spec.md §4.9 "DateTime from strings": ISO-8601
// parsing, result kind is UTC.
func CoerceTimeUTC(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			parsed, err = time.Parse("2006-01-02T15:04:05", t)
		}
		if err != nil {
			parsed, err = time.Parse("2006-01-02", t)
		}
		if err != nil {
			return time.Time{}, newInvalidValue("time.Time", v, "not a valid ISO-8601 timestamp")
		}
		return parsed.UTC(), nil
	default:
		return time.Time{}, newInvalidValue("time.Time", v, fmt.Sprintf("unsupported source type %T", v))
	}
}

// CoerceEnumFromString resolves an enum's underlying value from its name
// against names, the zero-indexed name list declared by the caller (spec.md
// §4.9 "Enums: from string via name (case-sensitive)").
func CoerceEnumFromString(value string, names []string) (int, error) {
	for i, name := range names {
		if name == value {
			return i, nil
		}
	}
	return 0, newInvalidValue("enum", value, "name not found in declared enum values")
}

// CoerceEnumFromNumber validates a numeric enum value is in range (spec.md
// §4.9 "from number via value. Out-of-range -> InvalidValue").
func CoerceEnumFromNumber(value int64, count int) (int, error) {
	if value < 0 || int(value) >= count {
		return 0, newInvalidValue("enum", value, "numeric value out of declared enum range")
	}
	return int(value), nil
}

// CoerceGUID implements spec.md §4.9 "GUIDs: from 16-byte binary or
// string."
func CoerceGUID(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case string:
		id, err := uuid.Parse(t)
		if err != nil {
			return uuid.UUID{}, newInvalidValue("uuid.UUID", v, err.Error())
		}
		return id, nil
	case []byte:
		id, err := uuid.FromBytes(t)
		if err != nil {
			return uuid.UUID{}, newInvalidValue("uuid.UUID", v, err.Error())
		}
		return id, nil
	default:
		return uuid.UUID{}, newInvalidValue("uuid.UUID", v, fmt.Sprintf("unsupported source type %T", v))
	}
}

// MarshalJSONColumn implements spec.md §4.9 "JSON columns: property value
// serialized on write".
func MarshalJSONColumn(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", newInvalidValue("json", v, err.Error())
	}
	return string(b), nil
}

// UnmarshalJSONColumn implements spec.md §4.9 "deserialized on read". dest
// must be a pointer.
func UnmarshalJSONColumn(text string, dest any) error {
	if err := json.Unmarshal([]byte(text), dest); err != nil {
		return newInvalidValue("json", text, err.Error())
	}
	return nil
}

// CoerceInt64 is a small helper used by gateway when reading a generated
// numeric id column back from the driver, which may hand back int64 or a
// string depending on the driver/dialect.
func CoerceInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, newInvalidValue("int64", v, err.Error())
		}
		return n, nil
	default:
		return 0, newInvalidValue("int64", v, fmt.Sprintf("unsupported source type %T", v))
	}
}
