package logpipe

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultFormat renders "name [LEVEL] message". It is also the preview
// format used when a logger has no handlers attached.
const DefaultFormat = "{name} [{levelname}] {message}"

// defaultDateLayout renders UTC with millisecond precision.
const defaultDateLayout = "2006-01-02T15:04:05.000Z"

// Builtin template fields. Any other field name is resolved against the
// record's key-values at render time and renders as the empty string when
// absent.
const (
	fieldAsctime    = "asctime"
	fieldName       = "name"
	fieldLevelname  = "levelname"
	fieldMessage    = "message"
	fieldThreadName = "threadName"
	fieldFilename   = "filename"
	fieldLineno     = "lineno"
	fieldExcText    = "exc_text"
	fieldStackInfo  = "stack_info"
)

// segment is one compiled piece of a format template. A segment is either a
// literal run or a single field reference.
type segment struct {
	literal string
	field   string
}

// Formatter is a compiled template rendering a Record to a text line.
// Immutable once built; rendering never fails.
type Formatter struct {
	segs       []segment
	dateLayout string
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithDateFormat sets the layout used for {asctime}. Timestamps are always
// rendered in UTC.
func WithDateFormat(layout string) FormatterOption {
	return func(f *Formatter) { f.dateLayout = layout }
}

// NewFormatter compiles a template. Field references are written {name};
// literal braces are escaped as {{ and }}. Malformed templates (unclosed
// brace, empty field name) fail with ErrInvalidFormatSpec.
func NewFormatter(tmpl string, opts ...FormatterOption) (*Formatter, error) {
	f := &Formatter{dateLayout: defaultDateLayout}
	for _, opt := range opts {
		opt(f)
	}

	var lit strings.Builder
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch c {
		case '{':
			if i+1 < len(tmpl) && tmpl[i+1] == '{' {
				lit.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed %q at offset %d", ErrInvalidFormatSpec, "{", i)
			}
			name := tmpl[i+1 : i+1+end]
			if name == "" {
				return nil, fmt.Errorf("%w: empty field at offset %d", ErrInvalidFormatSpec, i)
			}
			if strings.ContainsAny(name, "{ ") {
				return nil, fmt.Errorf("%w: bad field name %q", ErrInvalidFormatSpec, name)
			}
			if lit.Len() > 0 {
				f.segs = append(f.segs, segment{literal: lit.String()})
				lit.Reset()
			}
			f.segs = append(f.segs, segment{field: name})
			i += end + 2
		case '}':
			if i+1 < len(tmpl) && tmpl[i+1] == '}' {
				lit.WriteByte('}')
				i += 2
				continue
			}
			return nil, fmt.Errorf("%w: unmatched %q at offset %d", ErrInvalidFormatSpec, "}", i)
		default:
			lit.WriteByte(c)
			i++
		}
	}
	if lit.Len() > 0 {
		f.segs = append(f.segs, segment{literal: lit.String()})
	}
	return f, nil
}

// mustFormatter compiles a template known to be valid.
func mustFormatter(tmpl string) *Formatter {
	f, err := NewFormatter(tmpl)
	if err != nil {
		panic(err)
	}
	return f
}

// defaultFormatter is shared by handlers built without an explicit format.
var defaultFormatter = mustFormatter(DefaultFormat)

// Render formats rec as a string. Missing optional fields render empty;
// rendering never fails.
func (f *Formatter) Render(rec *Record) string {
	buf := getBuffer()
	f.appendRecord(buf, rec)
	s := buf.String()
	putBuffer(buf)
	return s
}

// appendRecord renders rec into buf without the trailing newline.
func (f *Formatter) appendRecord(buf *Buffer, rec *Record) {
	for i := range f.segs {
		seg := &f.segs[i]
		if seg.field == "" {
			buf.AppendString(seg.literal)
			continue
		}
		f.appendField(buf, seg.field, rec)
	}
}

func (f *Formatter) appendField(buf *Buffer, name string, rec *Record) {
	switch name {
	case fieldAsctime:
		buf.AppendTime(rec.Time.UTC(), f.dateLayout)
	case fieldName:
		buf.AppendString(rec.Name)
	case fieldLevelname:
		buf.AppendString(rec.Level.String())
	case fieldMessage:
		buf.AppendString(rec.Message)
	case fieldThreadName:
		buf.AppendString(rec.threadLabel())
	case fieldFilename:
		buf.AppendString(rec.Caller.File)
	case fieldLineno:
		if rec.Caller.Defined() {
			buf.AppendString(strconv.Itoa(rec.Caller.Line))
		}
	case fieldExcText:
		if rec.Exc != nil {
			buf.AppendString(formatAny(rec.Exc))
		}
	case fieldStackInfo:
		buf.AppendString(rec.Stack)
	default:
		if fld := rec.FieldByKey(name); fld != nil {
			fld.appendValue(buf)
		}
	}
}
