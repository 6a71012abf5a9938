package warehouse

import (
	"fmt"
	"time"
)

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// asString renders a scanned value as a natural id. NULL becomes "".
func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// asTime returns the scanned timestamp in UTC, or nil for NULL and
// non-timestamp values.
func asTime(v any) *time.Time {
	t, ok := v.(time.Time)
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}
