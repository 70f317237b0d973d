package logpipe

import "testing"

func TestLevelCeilingFilter(t *testing.T) {
	f := LevelCeilingFilter{Max: WarnLevel}
	if !f.Allow(newRecord("core", InfoLevel, "x")) {
		t.Error("INFO should pass a WARN ceiling")
	}
	if !f.Allow(newRecord("core", WarnLevel, "x")) {
		t.Error("WARN should pass a WARN ceiling")
	}
	if f.Allow(newRecord("core", ErrorLevel, "x")) {
		t.Error("ERROR should not pass a WARN ceiling")
	}
}

func TestNamePrefixFilter(t *testing.T) {
	f := NamePrefixFilter{Prefix: "app.db"}
	if !f.Allow(newRecord("app.db.pool", InfoLevel, "x")) {
		t.Error("app.db.pool should pass")
	}
	if f.Allow(newRecord("app.web", InfoLevel, "x")) {
		t.Error("app.web should not pass")
	}
}

func TestAllowAllOrdering(t *testing.T) {
	rec := newRecord("app.db", ErrorLevel, "x")
	filters := []Filter{
		NamePrefixFilter{Prefix: "app"},
		LevelCeilingFilter{Max: WarnLevel},
	}
	if allowAll(filters, rec) {
		t.Error("second filter should reject")
	}
	if !allowAll(nil, rec) {
		t.Error("zero filters should pass all records")
	}
}
