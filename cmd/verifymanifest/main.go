package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/trust"
)

func main() {
	var (
		manifestPath = flag.String("manifest", "", "Path to signed manifest JSON (required)")
		keyRingPath  = flag.String("keys", "", "Path to key ring JSON (keyId -> base64 SPKI public key, required)")
		panel        = flag.String("panel", "", "Expected mount panel (optional)")
		allowOrigin  = flag.String("origin", "", "Allowed origin for entry URLs (optional)")
	)
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -manifest is required\n")
		os.Exit(1)
	}
	if *keyRingPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -keys is required\n")
		os.Exit(1)
	}

	ring, err := loadKeyRing(*keyRingPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading key ring: %v\n", err)
		os.Exit(1)
	}

	var expectedPanel manifest.Panel
	if *panel != "" {
		expectedPanel, err = manifest.ParsePanel(*panel)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading manifest: %v\n", err)
		os.Exit(1)
	}
	m, err := manifest.ValidateJSON(data, manifest.ValidateOptions{
		ExpectedPanel: expectedPanel,
		AllowOrigin:   *allowOrigin,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Manifest rejected: %v\n", err)
		os.Exit(1)
	}

	if !trust.Verify(m, ring) {
		fmt.Fprintf(os.Stderr, "Signature verification FAILED for %s@%s (key %s)\n", m.ID, m.Version, m.Signature.KeyID)
		os.Exit(1)
	}

	fmt.Printf("Manifest verified successfully:\n")
	fmt.Printf("  Plugin: %s@%s\n", m.ID, m.Version)
	fmt.Printf("  Panel: %s\n", m.Mount.Panel)
	fmt.Printf("  Key ID: %s\n", m.Signature.KeyID)
}

// loadKeyRing reads a JSON object mapping key IDs to base64 public keys.
func loadKeyRing(path string) (trust.KeyRing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read key ring file: %w", err)
	}
	var ring trust.KeyRing
	if err := json.Unmarshal(data, &ring); err != nil {
		return nil, fmt.Errorf("failed to parse key ring: %w", err)
	}
	return ring, nil
}
