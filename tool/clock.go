package tool

import (
	"context"
	"fmt"
	"time"
)

// DefaultTimeFormat is the layout used when a get_time call omits format.
const DefaultTimeFormat = "Mon, 02 Jan 2006 15:04:05 MST"

// namedFormats maps friendly format names to Go layouts so callers are not
// forced to know reference-time syntax.
var namedFormats = map[string]string{
	"rfc3339": time.RFC3339,
	"rfc1123": time.RFC1123,
	"kitchen": time.Kitchen,
	"date":    "2006-01-02",
	"time":    "15:04:05",
}

// NewClockTool returns the built-in get_time tool: a timezone-aware formatted
// timestamp given optional {timezone, format}.
func NewClockTool() *FunctionTool {
	return NewClockToolAt(time.Now)
}

// NewClockToolAt is like NewClockTool with an injectable clock for tests.
func NewClockToolAt(now func() time.Time) *FunctionTool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"timezone": map[string]any{
				"type":        "string",
				"description": "IANA timezone name, e.g. Europe/Berlin. Defaults to UTC.",
			},
			"format": map[string]any{
				"type":        "string",
				"description": "Named format (rfc3339, rfc1123, kitchen, date, time) or a Go time layout.",
			},
		},
	}

	return NewFunctionTool(
		"get_time",
		"Get the current date and time, optionally for a specific timezone and format",
		schema,
		func(_ context.Context, args map[string]any) (any, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].(string); ok && tz != "" {
				parsed, err := time.LoadLocation(tz)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %q", tz)
				}
				loc = parsed
			}

			layout := DefaultTimeFormat
			if f, ok := args["format"].(string); ok && f != "" {
				if named, ok := namedFormats[f]; ok {
					layout = named
				} else {
					layout = f
				}
			}

			return now().In(loc).Format(layout), nil
		},
	)
}
