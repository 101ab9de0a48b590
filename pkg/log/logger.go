package log

import "time"

// Logger provides structured logging capabilities.
// Implementations can wrap zerolog, zap, logrus, or any other logging library.
type Logger interface {
	// Debug logs a debug-level message with fields.
	Debug(msg string, fields ...Field)

	// Info logs an info-level message with fields.
	Info(msg string, fields ...Field)

	// Warn logs a warning-level message with fields.
	Warn(msg string, fields ...Field)

	// Error logs an error-level message with fields.
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string slice field.
func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates an int64 field.
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Time creates a timestamp field.
func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// With returns a Logger that prepends fields to every entry.
// A nil logger yields a no-op logger.
func With(l Logger, fields ...Field) Logger {
	if l == nil {
		return NoopLogger{}
	}
	if len(fields) == 0 {
		return l
	}
	if parent, ok := l.(scoped); ok {
		merged := make([]Field, 0, len(parent.fields)+len(fields))
		merged = append(merged, parent.fields...)
		merged = append(merged, fields...)
		return scoped{inner: parent.inner, fields: merged}
	}
	return scoped{inner: l, fields: fields}
}

type scoped struct {
	inner  Logger
	fields []Field
}

func (s scoped) merge(fields []Field) []Field {
	out := make([]Field, 0, len(s.fields)+len(fields))
	out = append(out, s.fields...)
	return append(out, fields...)
}

func (s scoped) Debug(msg string, fields ...Field) { s.inner.Debug(msg, s.merge(fields)...) }
func (s scoped) Info(msg string, fields ...Field)  { s.inner.Info(msg, s.merge(fields)...) }
func (s scoped) Warn(msg string, fields ...Field)  { s.inner.Warn(msg, s.merge(fields)...) }
func (s scoped) Error(msg string, fields ...Field) { s.inner.Error(msg, s.merge(fields)...) }
