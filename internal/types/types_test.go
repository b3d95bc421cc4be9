package types

import (
	"testing"
	"time"
)

func TestDocument_ValueAndScan(t *testing.T) {
	doc := Document(`{"rules":[]}`)

	v, err := doc.Value()
	if err != nil {
		t.Fatalf("Value() error = %v, want nil", err)
	}
	// TEXT affinity: documents bind as strings, never blobs.
	s, ok := v.(string)
	if !ok {
		t.Fatalf("Value() = %T, want string", v)
	}
	if s != `{"rules":[]}` {
		t.Errorf("Value() = %q, want original document", s)
	}

	var got Document
	if err := got.Scan(s); err != nil {
		t.Fatalf("Scan(string) error = %v, want nil", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Scan(string) = %q, want %q", got, doc)
	}

	if err := got.Scan([]byte(`{"version":"1.0"}`)); err != nil {
		t.Fatalf("Scan([]byte) error = %v, want nil", err)
	}
	if string(got) != `{"version":"1.0"}` {
		t.Errorf("Scan([]byte) = %q", got)
	}

	if err := got.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v, want nil", err)
	}
	if got != nil {
		t.Errorf("Scan(nil) = %q, want nil document", got)
	}

	if err := got.Scan(42); err == nil {
		t.Error("Scan(int) error = nil, want type error")
	}
}

func TestDocument_NilValue(t *testing.T) {
	var doc Document
	v, err := doc.Value()
	if err != nil {
		t.Fatalf("Value() error = %v, want nil", err)
	}
	if v != nil {
		t.Errorf("Value() = %v, want nil for nil document", v)
	}
}

func TestRuleSetIDTime(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewRuleSetID()
	after := time.Now().Add(time.Second)

	ts := RuleSetIDTime(id)
	if ts.IsZero() {
		t.Fatal("RuleSetIDTime() = zero time for fresh id")
	}
	if ts.Before(before) || ts.After(after) {
		t.Errorf("RuleSetIDTime() = %v, want within [%v, %v]", ts, before, after)
	}

	if !RuleSetIDTime("not-a-uuid").IsZero() {
		t.Error("RuleSetIDTime(invalid) != zero time")
	}
}
