package logpipe

import (
	"fmt"
	"math"
	"time"
)

// FieldType identifies the type stored in a Field.
type FieldType uint8

const (
	FieldString FieldType = iota
	FieldInt64
	FieldFloat64
	FieldBool
	FieldError
	FieldDuration
	FieldTime
	FieldAny
)

// Field is a typed key-value pair. Using a tagged union avoids interface
// boxing for primitive types on the emit hot path.
type Field struct {
	Key   string
	Type  FieldType
	Ival  int64
	Str   string
	Iface interface{}
}

// Fields is a convenience alias for a map of key-value pairs.
type Fields map[string]interface{}

// --- Typed constructors ---

func String(key, val string) Field {
	return Field{Key: key, Type: FieldString, Str: val}
}

func Int(key string, val int) Field {
	return Field{Key: key, Type: FieldInt64, Ival: int64(val)}
}

func Int64(key string, val int64) Field {
	return Field{Key: key, Type: FieldInt64, Ival: val}
}

func Float64(key string, val float64) Field {
	return Field{Key: key, Type: FieldFloat64, Ival: int64(math.Float64bits(val))}
}

func Bool(key string, val bool) Field {
	var v int64
	if val {
		v = 1
	}
	return Field{Key: key, Type: FieldBool, Ival: v}
}

func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Type: FieldString, Str: "<nil>"}
	}
	return Field{Key: "error", Type: FieldError, Str: err.Error()}
}

func Duration(key string, d time.Duration) Field {
	return Field{Key: key, Type: FieldDuration, Ival: int64(d)}
}

func Time(key string, t time.Time) Field {
	return Field{Key: key, Type: FieldTime, Iface: t}
}

func Any(key string, val interface{}) Field {
	return Field{Key: key, Type: FieldAny, Iface: val}
}

// parseKVPairs converts slog-style alternating key-value pairs into typed
// Fields. Type switches instead of reflection keep common types cheap.
func parseKVPairs(kvs []interface{}) []Field {
	n := len(kvs)
	if n == 0 {
		return nil
	}

	fields := make([]Field, 0, n/2)

	for i := 0; i < n; i += 2 {
		var key string
		switch k := kvs[i].(type) {
		case string:
			key = k
		default:
			key = fmt.Sprint(kvs[i])
		}

		if i+1 >= n {
			fields = append(fields, Field{Key: key, Type: FieldString, Str: "MISSING"})
			break
		}

		fields = append(fields, toField(key, kvs[i+1]))
	}

	return fields
}

// toField converts a single key-value pair to a typed Field.
func toField(key string, val interface{}) Field {
	switch v := val.(type) {
	case string:
		return Field{Key: key, Type: FieldString, Str: v}
	case int:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case int64:
		return Field{Key: key, Type: FieldInt64, Ival: v}
	case int32:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case int16:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case int8:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case uint:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case uint64:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case uint32:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case uint16:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case uint8:
		return Field{Key: key, Type: FieldInt64, Ival: int64(v)}
	case float64:
		return Field{Key: key, Type: FieldFloat64, Ival: int64(math.Float64bits(v))}
	case float32:
		return Field{Key: key, Type: FieldFloat64, Ival: int64(math.Float64bits(float64(v)))}
	case bool:
		var iv int64
		if v {
			iv = 1
		}
		return Field{Key: key, Type: FieldBool, Ival: iv}
	case error:
		if v == nil {
			return Field{Key: key, Type: FieldString, Str: "<nil>"}
		}
		return Field{Key: key, Type: FieldError, Str: v.Error()}
	case time.Duration:
		return Field{Key: key, Type: FieldDuration, Ival: int64(v)}
	case time.Time:
		return Field{Key: key, Type: FieldTime, Iface: v}
	case Field:
		v.Key = key
		return v
	default:
		return Field{Key: key, Type: FieldAny, Iface: v}
	}
}

// appendValue writes the field's value to buf in its plain text form.
// The formatter and the stream/file line formats use this.
func (f *Field) appendValue(buf *Buffer) {
	switch f.Type {
	case FieldString, FieldError:
		buf.AppendString(f.Str)
	case FieldInt64:
		buf.AppendInt(f.Ival)
	case FieldFloat64:
		buf.AppendFloat(math.Float64frombits(uint64(f.Ival)))
	case FieldBool:
		buf.AppendBool(f.Ival == 1)
	case FieldDuration:
		buf.AppendString(time.Duration(f.Ival).String())
	case FieldTime:
		if t, ok := f.Iface.(time.Time); ok {
			buf.AppendTime(t, time.RFC3339Nano)
		}
	case FieldAny:
		buf.AppendString(formatAny(f.Iface))
	}
}

// appendJSONValue writes the field's value to buf as a JSON value.
// The HTTP sink's record-field projection uses this.
func (f *Field) appendJSONValue(buf *Buffer) {
	switch f.Type {
	case FieldString, FieldError:
		appendJSONString(buf, f.Str)
	case FieldInt64:
		buf.AppendInt(f.Ival)
	case FieldFloat64:
		buf.AppendFloat(math.Float64frombits(uint64(f.Ival)))
	case FieldBool:
		buf.AppendBool(f.Ival == 1)
	case FieldDuration:
		appendJSONString(buf, time.Duration(f.Ival).String())
	case FieldTime:
		if t, ok := f.Iface.(time.Time); ok {
			buf.AppendByte('"')
			buf.AppendTime(t, time.RFC3339Nano)
			buf.AppendByte('"')
		} else {
			buf.AppendString("null")
		}
	case FieldAny:
		appendJSONString(buf, formatAny(f.Iface))
	}
}

// value returns the field's value boxed for the socket sink's wire encoding.
func (f *Field) value() interface{} {
	switch f.Type {
	case FieldString, FieldError:
		return f.Str
	case FieldInt64:
		return f.Ival
	case FieldFloat64:
		return math.Float64frombits(uint64(f.Ival))
	case FieldBool:
		return f.Ival == 1
	case FieldDuration:
		return time.Duration(f.Ival).String()
	case FieldTime:
		if t, ok := f.Iface.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
		return nil
	default:
		return formatAny(f.Iface)
	}
}

// fieldsFromMap converts a Fields map into a slice of typed Fields.
func fieldsFromMap(m Fields) []Field {
	fields := make([]Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, toField(k, v))
	}
	return fields
}

// formatAny formats an arbitrary value as a string.
func formatAny(v interface{}) string {
	if v == nil {
		return "<nil>"
	}
	if s, ok := v.(interface{ String() string }); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

// appendJSONString appends s as a quoted, escaped JSON string.
func appendJSONString(buf *Buffer, s string) {
	buf.AppendByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			buf.AppendString(`\"`)
		case '\\':
			buf.AppendString(`\\`)
		case '\n':
			buf.AppendString(`\n`)
		case '\r':
			buf.AppendString(`\r`)
		case '\t':
			buf.AppendString(`\t`)
		default:
			if c < 0x20 {
				buf.AppendString(`\u00`)
				buf.AppendByte(hexChar(c >> 4))
				buf.AppendByte(hexChar(c & 0x0f))
			} else {
				buf.AppendByte(c)
			}
		}
	}
	buf.AppendByte('"')
}

func hexChar(c byte) byte {
	if c < 10 {
		return '0' + c
	}
	return 'a' + c - 10
}
