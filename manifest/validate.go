package manifest

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ValidateOptions constrain validation beyond the manifest's own rules.
type ValidateOptions struct {
	// ExpectedPanel, when non-empty, must equal the manifest's mount panel
	// exactly. Callers set it when they know which surface they are loading
	// a plugin for.
	ExpectedPanel Panel
	// AllowOrigin, when non-empty, is the only origin (scheme://host) the
	// manifest's entry URLs may point at. This is the sole defense against
	// plugin code being fetched from an attacker-controlled host.
	AllowOrigin string
}

// ValidationError describes a single rejected manifest field. The first
// violated rule wins; validation never continues past it.
type ValidationError struct {
	// Field is the offending manifest field in dotted form, e.g.
	// "entries.ui". Empty when the manifest as a whole is malformed.
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid manifest: %s", e.Reason)
	}
	return fmt.Sprintf("invalid manifest: field %s: %s", e.Field, e.Reason)
}

// loopbackHosts are the only hosts entry URLs may use without https.
var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// ValidateJSON decodes raw JSON bytes and validates them into a
// RuntimeManifest. Malformed JSON is a validation failure like any other.
func ValidateJSON(data []byte, opts ValidateOptions) (*RuntimeManifest, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("not valid JSON: %v", err)}
	}
	return Validate(raw, opts)
}

// Validate checks an untrusted, decoded JSON value against the manifest
// schema and returns a fully typed RuntimeManifest containing only the
// recognized fields. Unrecognized fields are dropped so extra untrusted data
// never rides along on a validated manifest.
//
// Rules are checked in a fixed order and the first failure wins; every
// failure is a *ValidationError naming the offending field. Validation proves
// structure only — authenticity and currency are the verifier's and the
// revocation check's jobs.
func Validate(raw any, opts ValidateOptions) (*RuntimeManifest, error) {
	obj, ok := raw.(map[string]any)
	if !ok || obj == nil {
		return nil, &ValidationError{Reason: "manifest must be a JSON object"}
	}

	schemaVersion, ok := intValue(obj["schemaVersion"])
	if !ok || schemaVersion != SchemaVersion {
		return nil, &ValidationError{
			Field:  "schemaVersion",
			Reason: fmt.Sprintf("must equal %d (no other schema version is supported)", SchemaVersion),
		}
	}

	id, err := requireString(obj, "id")
	if err != nil {
		return nil, err
	}
	version, err := requireString(obj, "version")
	if err != nil {
		return nil, err
	}
	displayName, err := requireString(obj, "displayName")
	if err != nil {
		return nil, err
	}

	mountObj, ok := obj["mount"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "mount", Reason: "must be an object"}
	}
	panelRaw, _ := mountObj["panel"].(string)
	panel, perr := ParsePanel(panelRaw)
	if perr != nil {
		return nil, &ValidationError{
			Field:  "mount.panel",
			Reason: fmt.Sprintf("must be one of %v, got %q", Panels(), panelRaw),
		}
	}
	if opts.ExpectedPanel != "" && panel != opts.ExpectedPanel {
		return nil, &ValidationError{
			Field:  "mount.panel",
			Reason: fmt.Sprintf("panel mismatch: manifest mounts %q, caller expects %q", panel, opts.ExpectedPanel),
		}
	}
	var order *float64
	if n, ok := floatValue(mountObj["order"]); ok {
		order = &n
	}

	entriesObj, ok := obj["entries"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "entries", Reason: "must be an object"}
	}
	uiEntry, err := requireEntryURL(entriesObj, "ui", opts.AllowOrigin)
	if err != nil {
		return nil, err
	}
	runnerEntry, err := requireEntryURL(entriesObj, "runner", opts.AllowOrigin)
	if err != nil {
		return nil, err
	}

	compatObj, ok := obj["compatibility"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "compatibility", Reason: "must be an object"}
	}
	studioAPI, _ := compatObj["studioApi"].(string)
	if studioAPI != StudioAPIVersion {
		return nil, &ValidationError{
			Field:  "compatibility.studioApi",
			Reason: fmt.Sprintf("must equal %q, got %q", StudioAPIVersion, studioAPI),
		}
	}

	permsRaw, ok := obj["permissions"].([]any)
	if !ok {
		return nil, &ValidationError{Field: "permissions", Reason: "must be an array of strings"}
	}
	permissions := make([]string, 0, len(permsRaw))
	for i, p := range permsRaw {
		s, ok := p.(string)
		if !ok {
			return nil, &ValidationError{
				Field:  fmt.Sprintf("permissions[%d]", i),
				Reason: "must be a string",
			}
		}
		permissions = append(permissions, s)
	}

	sigObj, ok := obj["signature"].(map[string]any)
	if !ok {
		return nil, &ValidationError{Field: "signature", Reason: "must be an object"}
	}
	keyID, _ := sigObj["keyId"].(string)
	if keyID == "" {
		return nil, &ValidationError{Field: "signature.keyId", Reason: "must be a non-empty string"}
	}
	algorithm, _ := sigObj["algorithm"].(string)
	if algorithm != SignatureAlgorithm {
		return nil, &ValidationError{
			Field:  "signature.algorithm",
			Reason: fmt.Sprintf("must equal %q, got %q", SignatureAlgorithm, algorithm),
		}
	}
	sigValue, _ := sigObj["value"].(string)
	if sigValue == "" {
		return nil, &ValidationError{Field: "signature.value", Reason: "must be a non-empty string"}
	}

	m := &RuntimeManifest{
		SchemaVersion: schemaVersion,
		ID:            id,
		Version:       version,
		DisplayName:   displayName,
		Mount:         Mount{Panel: panel, Order: order},
		Entries:       Entries{UI: uiEntry, Runner: runnerEntry},
		Permissions:   permissions,
		Compatibility: Compatibility{StudioAPI: studioAPI},
		Signature:     Signature{KeyID: keyID, Algorithm: algorithm, Value: sigValue},
	}
	if description, ok := obj["description"].(string); ok {
		m.Description = description
	}
	if minHost, ok := compatObj["minHostVersion"].(string); ok {
		m.Compatibility.MinHostVersion = minHost
	}
	if maxHost, ok := compatObj["maxHostVersion"].(string); ok {
		m.Compatibility.MaxHostVersion = maxHost
	}
	return m, nil
}

// requireString returns obj[field] if it is a non-empty string.
func requireString(obj map[string]any, field string) (string, *ValidationError) {
	s, ok := obj[field].(string)
	if !ok || s == "" {
		return "", &ValidationError{Field: field, Reason: "must be a non-empty string"}
	}
	return s, nil
}

// requireEntryURL enforces the entry URL rules: syntactically valid absolute
// URL, https or a recognized loopback host, and an exact origin match when
// allowOrigin is set. Any violation reports the same "invalid or not allowed"
// rejection to avoid leaking which rule tripped.
func requireEntryURL(entries map[string]any, field, allowOrigin string) (string, *ValidationError) {
	reject := &ValidationError{Field: "entries." + field, Reason: "entry URL invalid or not allowed"}
	s, ok := entries[field].(string)
	if !ok || s == "" {
		return "", reject
	}
	u, err := url.Parse(s)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", reject
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !loopbackHosts[u.Hostname()] {
			return "", reject
		}
	default:
		return "", reject
	}
	if allowOrigin != "" && u.Scheme+"://"+u.Host != allowOrigin {
		return "", reject
	}
	return s, nil
}

// intValue extracts an integer from a decoded JSON value, rejecting
// fractional numbers. encoding/json decodes numbers as float64; json.Number
// is handled for callers using a decoder.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
