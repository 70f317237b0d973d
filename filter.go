package logpipe

import "strings"

// Filter is a pure predicate over records. A record passes a logger iff
// every filter in list order returns true; a logger with zero filters
// passes all records.
type Filter interface {
	Allow(rec *Record) bool
}

// LevelCeilingFilter passes records at or below Max.
type LevelCeilingFilter struct {
	Max Level
}

func (f LevelCeilingFilter) Allow(rec *Record) bool {
	return rec.Level <= f.Max
}

// NamePrefixFilter passes records whose logger name starts with Prefix.
type NamePrefixFilter struct {
	Prefix string
}

func (f NamePrefixFilter) Allow(rec *Record) bool {
	return strings.HasPrefix(rec.Name, f.Prefix)
}

// allowAll reports whether rec passes every filter in order.
func allowAll(filters []Filter, rec *Record) bool {
	for _, f := range filters {
		if !f.Allow(rec) {
			return false
		}
	}
	return true
}
