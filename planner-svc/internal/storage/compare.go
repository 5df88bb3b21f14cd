package storage

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// normalize folds the numeric shapes a column or filter value can take into
// float64 so that 3, int64(3) and 3.0 compare equal.
func normalize(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case float32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return n.String()
		}
		return f
	case *int:
		if n == nil {
			return nil
		}
		return float64(*n)
	case *float64:
		if n == nil {
			return nil
		}
		return *n
	case *string:
		if n == nil {
			return nil
		}
		return *n
	}
	return v
}

func equal(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// less orders nil first, then by natural order for strings, numbers and
// bools.
func less(a, b any) bool {
	a, b = normalize(a), normalize(b)
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return x < y
		}
	case float64:
		if y, ok := b.(float64); ok {
			return x < y
		}
	case bool:
		if y, ok := b.(bool); ok {
			return !x && y
		}
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func isBlank(v any) bool {
	v = normalize(v)
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
