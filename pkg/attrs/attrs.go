// Package attrs reads values back out of slog-style key/value argument lists,
// so one attribute slice can feed both a log line and an audit event.
package attrs

import (
	"fmt"
	"log/slog"
)

// String returns the value logged under key as a string. It understands
// alternating key/value pairs as well as slog.Attr entries, and formats
// fmt.Stringer values such as typed ids. Missing keys yield "".
func String(args []any, key string) string {
	for i := 0; i < len(args); i++ {
		switch k := args[i].(type) {
		case slog.Attr:
			if k.Key == key {
				return k.Value.String()
			}
		case string:
			if i+1 >= len(args) {
				return ""
			}
			if k == key {
				return format(args[i+1])
			}
			i++
		}
	}
	return ""
}

func format(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
