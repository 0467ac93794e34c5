// Package manifest defines the studio plugin manifest and its trust-critical
// validation. A manifest is the signed, versioned description of a plugin's
// identity, mount point, code entry URLs, and permissions.
//
// A RuntimeManifest is only ever constructed by Validate: untrusted input is
// either fully validated into an immutable, defensively-copied value, or the
// validation fails before any manifest exists. There is no partially trusted
// manifest.
package manifest

import "fmt"

const (
	// SchemaVersion is the single manifest schema version this host accepts.
	// Any other value, including newer ones, is rejected outright.
	SchemaVersion = 1

	// StudioAPIVersion is the plugin API version this host implements.
	// Manifests must declare it exactly; no version ranges are honored.
	StudioAPIVersion = "1"

	// SignatureAlgorithm is the one supported manifest signature algorithm:
	// ECDSA over P-256 with SHA-256, as produced by WebCrypto ("ES256").
	SignatureAlgorithm = "ES256"
)

// Panel identifies one of the studio's fixed plugin mount points.
//
// The set is closed: a Panel value that did not come from ParsePanel or one of
// the constants below is invalid, and Validate never produces one.
type Panel string

const (
	// PanelFrames mounts a plugin into the frames (gallery overlay) surface.
	PanelFrames Panel = "frames"
	// PanelDevelop mounts a plugin into the develop (editing) surface.
	PanelDevelop Panel = "develop"
	// PanelExport mounts a plugin into the export surface.
	PanelExport Panel = "export"
)

// Panels returns the closed set of valid mount points.
func Panels() []Panel {
	return []Panel{PanelFrames, PanelDevelop, PanelExport}
}

// ParsePanel converts a raw string into a Panel, rejecting anything outside
// the closed mount point set.
func ParsePanel(s string) (Panel, error) {
	switch Panel(s) {
	case PanelFrames, PanelDevelop, PanelExport:
		return Panel(s), nil
	}
	return "", fmt.Errorf("unknown panel %q", s)
}

// Mount describes where and in what order a plugin appears in the studio.
type Mount struct {
	Panel Panel    `json:"panel"`
	Order *float64 `json:"order,omitempty"`
}

// Entries holds the absolute URLs of a plugin's remotely loadable code.
type Entries struct {
	UI     string `json:"ui"`
	Runner string `json:"runner"`
}

// Compatibility declares which host API a plugin build targets.
type Compatibility struct {
	StudioAPI      string `json:"studioApi"`
	MinHostVersion string `json:"minHostVersion,omitempty"`
	MaxHostVersion string `json:"maxHostVersion,omitempty"`
}

// Signature carries the manifest's detached signature. The signature covers
// the canonical serialization of every other manifest field (see Canonicalize).
type Signature struct {
	KeyID     string `json:"keyId"`
	Algorithm string `json:"algorithm"`
	Value     string `json:"value"`
}

// RuntimeManifest is the trust unit of the plugin pipeline.
//
// Treat a RuntimeManifest as immutable once Validate returns it. Structural
// validity does not make it trusted: only the registry client's full
// fetch-and-verify pipeline (signature plus revocation check) does.
type RuntimeManifest struct {
	SchemaVersion int           `json:"schemaVersion"`
	ID            string        `json:"id"`
	Version       string        `json:"version"`
	DisplayName   string        `json:"displayName"`
	Description   string        `json:"description,omitempty"`
	Mount         Mount         `json:"mount"`
	Entries       Entries       `json:"entries"`
	Permissions   []string      `json:"permissions"`
	Compatibility Compatibility `json:"compatibility"`
	Signature     Signature     `json:"signature"`
}
