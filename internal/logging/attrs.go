package logging

import (
	"log/slog"
	"time"
)

// Attr aliases slog.Attr so callers avoid importing slog directly.
type Attr = slog.Attr

func Any(key string, value any) Attr { return slog.Any(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

func Duration(key string, value time.Duration) Attr { return slog.Duration(key, value) }

func Float64(key string, value float64) Attr { return slog.Float64(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Int64(key string, value int64) Attr { return slog.Int64(key, value) }

func String(key string, value string) Attr { return slog.String(key, value) }

func Error(err error) Attr {
	if err == nil {
		return slog.String("error", "<nil>")
	}
	return slog.Any("error", err)
}

// Common field names shared across components.
const (
	FieldComponent = "component"
	FieldPath      = "path"
	FieldGroup     = "group_id"
	FieldHandler   = "handler"
	FieldEventType = "event_type"
)
