package logpipe

import "time"

const inlineFieldCap = 16

// Record represents a single log event. It is built once by the emitter,
// shared read-only by every handler queue it is submitted to, and dropped
// after the last consumer writes it. The inline field array keeps log calls
// with 16 or fewer key-values off the heap's field-slice path.
type Record struct {
	Name       string
	Level      Level
	Message    string
	Time       time.Time
	ThreadID   string
	ThreadName string
	Caller     CallerInfo

	// Exc carries an opaque exception payload built by an external capture
	// subsystem. The core never introspects it.
	Exc   interface{}
	Stack string

	fields  [inlineFieldCap]Field
	nFields int
	extra   []Field
}

// newRecord creates a record stamped with the current wall-clock time and
// the emitting goroutine's identity.
func newRecord(name string, lvl Level, msg string) *Record {
	return &Record{
		Name:     name,
		Level:    lvl,
		Message:  msg,
		Time:     time.Now(),
		ThreadID: goroutineID(),
	}
}

// AddField appends a field to the record.
func (r *Record) AddField(f Field) {
	if r.nFields < inlineFieldCap {
		r.fields[r.nFields] = f
		r.nFields++
	} else {
		r.extra = append(r.extra, f)
	}
}

// AddFields appends multiple fields.
func (r *Record) AddFields(fs []Field) {
	for i := range fs {
		r.AddField(fs[i])
	}
}

// AddKVPairs parses slog-style key-value pairs directly into the inline
// field array, avoiding an intermediate []Field slice.
func (r *Record) AddKVPairs(kvs []interface{}) {
	n := len(kvs)
	for i := 0; i < n; i += 2 {
		var key string
		switch k := kvs[i].(type) {
		case string:
			key = k
		default:
			key = formatAny(kvs[i])
		}
		if i+1 >= n {
			r.AddField(Field{Key: key, Type: FieldString, Str: "MISSING"})
			break
		}
		r.AddField(toField(key, kvs[i+1]))
	}
}

// NumFields returns the total number of fields.
func (r *Record) NumFields() int {
	return r.nFields + len(r.extra)
}

// FieldAt returns a pointer to the i-th field (0-indexed).
// Panics if i is out of range.
func (r *Record) FieldAt(i int) *Field {
	if i < r.nFields {
		return &r.fields[i]
	}
	return &r.extra[i-r.nFields]
}

// EachField calls fn for every field in order.
func (r *Record) EachField(fn func(f *Field)) {
	for i := 0; i < r.nFields; i++ {
		fn(&r.fields[i])
	}
	for i := range r.extra {
		fn(&r.extra[i])
	}
}

// FieldByKey returns the first field with the given key, or nil.
func (r *Record) FieldByKey(key string) *Field {
	for i := 0; i < r.nFields; i++ {
		if r.fields[i].Key == key {
			return &r.fields[i]
		}
	}
	for i := range r.extra {
		if r.extra[i].Key == key {
			return &r.extra[i]
		}
	}
	return nil
}

// threadLabel returns the thread name if set, else the opaque id.
func (r *Record) threadLabel() string {
	if r.ThreadName != "" {
		return r.ThreadName
	}
	return r.ThreadID
}
