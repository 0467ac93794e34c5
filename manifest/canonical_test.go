package manifest

import (
	"strings"
	"testing"
)

func TestCanonicalize_KeyOrderIndependent(t *testing.T) {
	// Two documents with identical content but different key order.
	first := []byte(`{
		"schemaVersion": 1,
		"id": "photo-frames",
		"version": "1.2.0",
		"displayName": "Photo Frames",
		"mount": {"panel": "frames", "order": 10},
		"entries": {"ui": "https://p.example.com/ui.wasm", "runner": "https://p.example.com/runner.wasm"},
		"permissions": ["canvas:read"],
		"compatibility": {"studioApi": "1"},
		"signature": {"keyId": "k1", "algorithm": "ES256", "value": "c2ln"}
	}`)
	second := []byte(`{
		"signature": {"value": "c2ln", "algorithm": "ES256", "keyId": "k1"},
		"compatibility": {"studioApi": "1"},
		"permissions": ["canvas:read"],
		"entries": {"runner": "https://p.example.com/runner.wasm", "ui": "https://p.example.com/ui.wasm"},
		"mount": {"order": 10, "panel": "frames"},
		"displayName": "Photo Frames",
		"version": "1.2.0",
		"id": "photo-frames",
		"schemaVersion": 1
	}`)

	m1, err := ValidateJSON(first, ValidateOptions{})
	if err != nil {
		t.Fatalf("ValidateJSON() error = %v", err)
	}
	m2, err := ValidateJSON(second, ValidateOptions{})
	if err != nil {
		t.Fatalf("ValidateJSON() error = %v", err)
	}

	c1, err := Canonicalize(m1)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	c2, err := Canonicalize(m2)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if c1 != c2 {
		t.Errorf("canonical forms differ:\n%s\n%s", c1, c2)
	}
}

func TestCanonicalize_ExcludesSignature(t *testing.T) {
	m, err := Validate(validManifestMap(), ValidateOptions{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	before, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if strings.Contains(before, "signature") {
		t.Errorf("canonical form contains signature field: %s", before)
	}

	m.Signature.Value = "ZGlmZmVyZW50"
	after, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	if before != after {
		t.Error("changing signature value changed the canonical form")
	}
}

func TestCanonicalize_SortedKeys(t *testing.T) {
	m, err := Validate(validManifestMap(), ValidateOptions{})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	canonical, err := Canonicalize(m)
	if err != nil {
		t.Fatalf("Canonicalize() error = %v", err)
	}
	// Top-level keys must appear in lexicographic order.
	ordered := []string{"compatibility", "description", "displayName", "entries", "id", "mount", "permissions", "schemaVersion", "version"}
	last := -1
	for _, key := range ordered {
		idx := strings.Index(canonical, `"`+key+`"`)
		if idx < 0 {
			t.Fatalf("canonical form missing key %q: %s", key, canonical)
		}
		if idx < last {
			t.Errorf("key %q out of order in canonical form: %s", key, canonical)
		}
		last = idx
	}
}

func TestCanonicalize_NilManifest(t *testing.T) {
	if _, err := Canonicalize(nil); err == nil {
		t.Error("Canonicalize(nil) error = nil, want error")
	}
}
