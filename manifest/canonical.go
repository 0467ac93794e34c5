package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Canonicalize produces the deterministic serialization of a manifest used as
// the signed payload.
//
// The signature field is excluded. Object keys are sorted lexicographically at
// every depth, array order is preserved, and primitives are encoded as plain
// JSON, so two manifests with identical semantic content canonicalize to
// byte-identical output regardless of the key order of the document they were
// parsed from. Optional fields that are absent are omitted entirely rather
// than serialized as null.
func Canonicalize(m *RuntimeManifest) (string, error) {
	if m == nil {
		return "", errors.New("manifest cannot be nil")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to serialize manifest: %w", err)
	}
	var value map[string]any
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("failed to decode manifest for canonicalization: %w", err)
	}
	delete(value, "signature")

	var b strings.Builder
	if err := writeCanonical(&b, value); err != nil {
		return "", err
	}
	return b.String(), nil
}

// writeCanonical walks a decoded JSON value: objects with sorted keys, arrays
// in order, primitives as-is.
func writeCanonical(b *strings.Builder, v any) error {
	switch value := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeScalar(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := writeCanonical(b, value[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil
	case []any:
		b.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil
	default:
		return writeScalar(b, v)
	}
}

// writeScalar encodes a primitive with HTML escaping disabled so the output
// is byte-compatible with what the registry's signing tooling serializes.
func writeScalar(b *strings.Builder, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode canonical value: %w", err)
	}
	b.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return nil
}
