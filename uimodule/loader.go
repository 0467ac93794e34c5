// Package uimodule loads a plugin's UI module from its manifest entry URL
// and checks it against the module contract before exposing any of its
// functions.
//
// The loader performs no origin checking of its own. Entry URLs must already
// have passed manifest validation; calling Load with an unvalidated URL
// defeats the trust pipeline.
package uimodule

import (
	"context"
	"encoding/json"
	"fmt"

	extism "github.com/extism/go-sdk"
)

// UIModule is a loaded, contract-conforming plugin UI module.
type UIModule struct {
	entryURL string
	exports  moduleExports
	plugin   *extism.Plugin
	desc     *Descriptor
}

// Load fetches the WASM module at entryURL, instantiates it with no host
// functions, and validates it against the module contract. A module that
// fails the contract check is closed and rejected with an error naming the
// URL.
func Load(ctx context.Context, entryURL string) (*UIModule, error) {
	if entryURL == "" {
		return nil, fmt.Errorf("entry URL cannot be empty")
	}

	wasmManifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmUrl{Url: entryURL},
		},
	}
	config := extism.PluginConfig{
		EnableWasi: true,
	}
	// No host functions: UI modules render from their inputs only and get no
	// network or filesystem reach into the host.
	plugin, err := extism.NewPlugin(ctx, wasmManifest, config, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load plugin UI module from %s: %w", entryURL, err)
	}

	m := &UIModule{
		entryURL: entryURL,
		exports:  plugin,
		plugin:   plugin,
	}
	desc, err := resolveDescriptor(m.exports, entryURL)
	if err != nil {
		plugin.Close(ctx)
		return nil, err
	}
	m.desc = desc
	return m, nil
}

// Meta returns the module's self-reported identity.
func (m *UIModule) Meta() Meta {
	return m.desc.Meta
}

// DefaultParams returns a copy of the module's default panel parameters.
func (m *UIModule) DefaultParams() map[string]any {
	params := make(map[string]any, len(m.desc.DefaultParams))
	for k, v := range m.desc.DefaultParams {
		params[k] = v
	}
	return params
}

// RenderPanel invokes the module's panel function with the given parameters
// and returns its rendered output.
func (m *UIModule) RenderPanel(params map[string]any) ([]byte, error) {
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize panel params: %w", err)
	}
	out, err := callJSON(m.exports, panelExport, input, nil)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HasNormalizeParams reports whether the module exports the optional
// parameter normalizer.
func (m *UIModule) HasNormalizeParams() bool {
	return m.exports.FunctionExists(normalizeParamsExport)
}

// NormalizeParams runs the module's optional parameter normalizer. When the
// module does not export one, the input is returned unchanged.
func (m *UIModule) NormalizeParams(params map[string]any) (map[string]any, error) {
	if !m.HasNormalizeParams() {
		return params, nil
	}
	input, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize params: %w", err)
	}
	var normalized map[string]any
	if _, err := callJSON(m.exports, normalizeParamsExport, input, &normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// EntryURL returns the URL the module was loaded from.
func (m *UIModule) EntryURL() string {
	return m.entryURL
}

// Close shuts the module's runtime down and releases its resources.
func (m *UIModule) Close(ctx context.Context) error {
	if m.plugin != nil {
		return m.plugin.Close(ctx)
	}
	return nil
}
