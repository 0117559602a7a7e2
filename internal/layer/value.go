package layer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DateLayout is the layout used for Date columns.
const DateLayout = "2006-01-02"

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case float32:
		return float64(x), !math.IsNaN(float64(x))
	case int64:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		// Text such as "NaN" or "Inf" is a word, not a number.
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// FormatValue renders a value for text outputs (CSV, keys, DBF).
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(DateLayout)
	}
	return fmt.Sprint(v)
}

// Compare orders two values: numerically when both are numbers, otherwise
// by their text form. nil sorts first.
func Compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	fa, okA := ToFloat(a)
	fb, okB := ToFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(FormatValue(a), FormatValue(b))
}

// ParseValue converts text to a value of the given type. Empty text is nil.
func ParseValue(s string, t FieldType) (any, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	switch t {
	case Integer:
		return strconv.ParseInt(s, 10, 64)
	case Float:
		return strconv.ParseFloat(s, 64)
	case Bool:
		return parseBool(s)
	case Date:
		for _, layout := range []string{DateLayout, "20060102", time.RFC3339} {
			if d, err := time.Parse(layout, s); err == nil {
				return d, nil
			}
		}
		return nil, eris.Errorf("layer: parse date %q", s)
	}
	return s, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "t", "true", "y", "yes":
		return true, nil
	case "f", "false", "n", "no":
		return false, nil
	}
	return false, eris.Errorf("layer: parse bool %q", s)
}

// InferType picks the narrowest type that parses every non-empty sample.
func InferType(samples []string) FieldType {
	candidates := []FieldType{Integer, Float, Bool, Date}
	seen := false
	for _, t := range candidates {
		ok := true
		for _, s := range samples {
			if strings.TrimSpace(s) == "" {
				continue
			}
			seen = true
			if _, err := ParseValue(s, t); err != nil {
				ok = false
				break
			}
		}
		if ok && seen {
			return t
		}
	}
	return String
}

// TypeOf returns the field type matching a Go value.
func TypeOf(v any) FieldType {
	switch v.(type) {
	case int64, int, int32:
		return Integer
	case float64, float32:
		return Float
	case bool:
		return Bool
	case time.Time:
		return Date
	}
	return String
}
