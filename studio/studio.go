// Package studio is the host-facing facade over the plugin trust pipeline:
// registry fetch, manifest verification, install intent, and UI module
// loading, composed into the one sanctioned way to put plugin code on a
// panel.
package studio

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/registry"
	"github.com/lumilio-photos/studio/store"
	"github.com/lumilio-photos/studio/uimodule"
)

// ErrNotInstalled is returned when a panel load is requested for a plugin the
// user has not installed.
var ErrNotInstalled = errors.New("plugin is not installed")

// PanelModule is the slice of a loaded UI module the host needs. The
// production implementation is *uimodule.UIModule; tests substitute fakes.
type PanelModule interface {
	Meta() uimodule.Meta
	DefaultParams() map[string]any
	RenderPanel(params map[string]any) ([]byte, error)
	NormalizeParams(params map[string]any) (map[string]any, error)
	Close(ctx context.Context) error
}

// LoadPanelRequest names everything a panel load needs.
type LoadPanelRequest struct {
	Client   *registry.Client
	Installs *store.Store
	PluginID string
	// Version is optional; empty means the registry's latest.
	Version string
	Panel   manifest.Panel
	// LoadModule overrides how the UI module is fetched and instantiated.
	// Nil means uimodule.Load.
	LoadModule func(ctx context.Context, entryURL string) (PanelModule, error)
}

// PanelHashes are audit identifiers for one loaded panel, logged by the host
// so a trust decision can be reconstructed after the fact.
type PanelHashes struct {
	// CanonicalManifestHash is the hex SHA-256 of the manifest's canonical
	// form, i.e. of the exact bytes the signature covers.
	CanonicalManifestHash string
	// SignatureHash is the hex SHA-256 of the base64 signature value.
	SignatureHash string
	SignerKeyID   string
}

// LoadedPanel is the result of a successful panel load: the trusted manifest,
// the contract-conforming module, and the audit hashes binding them together.
// The caller owns the module and must Close it when the panel unmounts.
type LoadedPanel struct {
	Manifest *manifest.RuntimeManifest
	Module   PanelModule
	Hashes   PanelHashes
}

// LoadPluginPanel runs the full path from plugin ID to live panel module:
//
//  1. Confirm the user installed the plugin (install intent is not trust, so
//     the remaining stages still run in full).
//  2. Fetch and verify the manifest through the registry trust pipeline.
//  3. Load the UI module from the manifest's validated entry URL.
//  4. Cross-check the module's self-reported identity against the verified
//     manifest; a mismatch closes the module and fails the load. This binds
//     "the code we ran" to "the manifest we verified".
func LoadPluginPanel(ctx context.Context, req LoadPanelRequest) (*LoadedPanel, error) {
	if req.Client == nil {
		return nil, errors.New("registry client cannot be nil")
	}
	if req.PluginID == "" {
		return nil, errors.New("plugin id cannot be empty")
	}

	if req.Installs != nil && !req.Installs.IsInstalled(req.PluginID, "") {
		return nil, fmt.Errorf("plugin %s: %w", req.PluginID, ErrNotInstalled)
	}

	m, err := req.Client.FetchAndVerifyManifest(ctx, req.PluginID, req.Version, req.Panel)
	if err != nil {
		return nil, err
	}

	loadModule := req.LoadModule
	if loadModule == nil {
		loadModule = func(ctx context.Context, entryURL string) (PanelModule, error) {
			return uimodule.Load(ctx, entryURL)
		}
	}
	module, err := loadModule(ctx, m.Entries.UI)
	if err != nil {
		return nil, err
	}

	meta := module.Meta()
	if meta.ID != m.ID || meta.Version != m.Version {
		module.Close(ctx)
		return nil, fmt.Errorf(
			"plugin %s@%s: UI module identifies as %s@%s, refusing identity mismatch",
			m.ID, m.Version, meta.ID, meta.Version)
	}
	if meta.Mount.Panel != m.Mount.Panel {
		module.Close(ctx)
		return nil, fmt.Errorf(
			"plugin %s@%s: UI module mounts panel %q but manifest mounts %q",
			m.ID, m.Version, meta.Mount.Panel, m.Mount.Panel)
	}

	hashes, err := auditHashes(m)
	if err != nil {
		module.Close(ctx)
		return nil, err
	}
	return &LoadedPanel{Manifest: m, Module: module, Hashes: hashes}, nil
}

func auditHashes(m *manifest.RuntimeManifest) (PanelHashes, error) {
	canonical, err := manifest.Canonicalize(m)
	if err != nil {
		return PanelHashes{}, fmt.Errorf("failed to canonicalize manifest for audit: %w", err)
	}
	canonicalHash := sha256.Sum256([]byte(canonical))
	sigHash := sha256.Sum256([]byte(m.Signature.Value))
	return PanelHashes{
		CanonicalManifestHash: hex.EncodeToString(canonicalHash[:]),
		SignatureHash:         hex.EncodeToString(sigHash[:]),
		SignerKeyID:           m.Signature.KeyID,
	}, nil
}
