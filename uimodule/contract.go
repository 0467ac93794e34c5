package uimodule

import (
	"encoding/json"
	"fmt"

	"github.com/lumilio-photos/studio/manifest"
)

// Export names a conforming UI module must (or may) provide.
const (
	// describeExport returns the full module descriptor in one call.
	describeExport = "describe"
	// metaExport and defaultParamsExport are the split alternative for
	// modules built without a describe function.
	metaExport          = "meta"
	defaultParamsExport = "default_params"
	// panelExport renders the module's panel and is always required.
	panelExport = "panel"
	// normalizeParamsExport is optional.
	normalizeParamsExport = "normalize_params"
)

// Meta is a UI module's self-reported identity. Callers cross-check it
// against the verified manifest before trusting anything the module renders.
type Meta struct {
	ID          string `json:"id"`
	Version     string `json:"version"`
	DisplayName string `json:"displayName"`
	Mount       Mount  `json:"mount"`
}

// Mount names the panel the module renders into.
type Mount struct {
	Panel manifest.Panel `json:"panel"`
}

// Descriptor is the structural contract a loaded module must satisfy.
type Descriptor struct {
	Meta          Meta           `json:"meta"`
	DefaultParams map[string]any `json:"defaultParams"`
}

// moduleExports is the slice of the loaded module the contract check needs.
// Production code backs it with an extism plugin; tests back it with a fake.
type moduleExports interface {
	FunctionExists(name string) bool
	Call(name string, input []byte) (uint32, []byte, error)
}

// invalidModule builds the error every contract failure reports, naming the
// offending URL.
func invalidModule(entryURL, reason string) error {
	return fmt.Errorf("invalid plugin UI module at %s: %s", entryURL, reason)
}

// resolveDescriptor evaluates both contract shapes against a loaded module:
// a single describe export returning the full descriptor, or the split
// meta/default_params pair. The first conforming shape wins; if neither
// conforms the module is rejected.
func resolveDescriptor(exports moduleExports, entryURL string) (*Descriptor, error) {
	if !exports.FunctionExists(panelExport) {
		return nil, invalidModule(entryURL, fmt.Sprintf("missing required export %q", panelExport))
	}

	var desc Descriptor
	switch {
	case exports.FunctionExists(describeExport):
		if _, err := callJSON(exports, describeExport, nil, &desc); err != nil {
			return nil, invalidModule(entryURL, err.Error())
		}
	case exports.FunctionExists(metaExport) && exports.FunctionExists(defaultParamsExport):
		if _, err := callJSON(exports, metaExport, nil, &desc.Meta); err != nil {
			return nil, invalidModule(entryURL, err.Error())
		}
		if _, err := callJSON(exports, defaultParamsExport, nil, &desc.DefaultParams); err != nil {
			return nil, invalidModule(entryURL, err.Error())
		}
	default:
		return nil, invalidModule(entryURL, fmt.Sprintf(
			"module must export %q or both %q and %q", describeExport, metaExport, defaultParamsExport))
	}

	if err := validateDescriptor(&desc); err != nil {
		return nil, invalidModule(entryURL, err.Error())
	}
	return &desc, nil
}

// validateDescriptor enforces the structural rules on a module's
// self-description.
func validateDescriptor(desc *Descriptor) error {
	if desc.Meta.ID == "" {
		return fmt.Errorf("meta.id must be a non-empty string")
	}
	if desc.Meta.Version == "" {
		return fmt.Errorf("meta.version must be a non-empty string")
	}
	if desc.Meta.DisplayName == "" {
		return fmt.Errorf("meta.displayName must be a non-empty string")
	}
	if _, err := manifest.ParsePanel(string(desc.Meta.Mount.Panel)); err != nil {
		return fmt.Errorf("meta.mount.panel must be one of %v, got %q", manifest.Panels(), desc.Meta.Mount.Panel)
	}
	if desc.DefaultParams == nil {
		return fmt.Errorf("defaultParams must be an object")
	}
	return nil
}

// callJSON invokes a module export and decodes its output into v. A non-zero
// exit code or undecodable output is an error; v may be nil to skip decoding.
func callJSON(exports moduleExports, name string, input []byte, v any) ([]byte, error) {
	exitCode, out, err := exports.Call(name, input)
	if err != nil {
		return nil, fmt.Errorf("failed to call export %q: %w", name, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("export %q returned non-zero exit code: %d", name, exitCode)
	}
	if v != nil {
		if err := json.Unmarshal(out, v); err != nil {
			return nil, fmt.Errorf("failed to decode output of export %q: %w", name, err)
		}
	}
	return out, nil
}
