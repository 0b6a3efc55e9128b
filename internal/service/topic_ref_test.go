package service

import (
	"strings"
	"testing"
)

func TestSavedTopicRefRoundTrip(t *testing.T) {
	ref := SavedTopicRef(42)
	id, ok := ref.Saved()
	if !ok || id != 42 {
		t.Fatalf("expected saved ref 42, got %d (%v)", id, ok)
	}
	if ref.String() != "42" {
		t.Fatalf("unexpected string form %q", ref.String())
	}

	parsed, err := ParseTopicRef("42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got, ok := parsed.Saved(); !ok || got != 42 {
		t.Fatalf("parse round trip failed: %d (%v)", got, ok)
	}
}

func TestUnsavedTopicRef(t *testing.T) {
	ref := NewUnsavedTopicRef()
	if _, ok := ref.Saved(); ok {
		t.Fatal("unsaved ref must not resolve to an id")
	}
	if !strings.HasPrefix(ref.String(), "temp-") {
		t.Fatalf("unsaved ref string should carry the temp prefix, got %q", ref.String())
	}

	parsed, err := ParseTopicRef(ref.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := parsed.Saved(); ok {
		t.Fatal("parsed temp ref must stay unsaved")
	}
}

func TestParseTopicRefInvalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "-1", "temp-"} {
		if _, err := ParseTopicRef(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}
