package main

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/trust"
)

func main() {
	var (
		manifestPath   = flag.String("manifest", "", "Path to unsigned manifest JSON (required)")
		privateKeyPath = flag.String("key", "", "Path to signer private key PEM (required)")
		keyID          = flag.String("key-id", "", "Key ID to record in the signature (required)")
		outputPath     = flag.String("output", "", "Path to save signed manifest (defaults to input file with .signed suffix)")
	)
	flag.Parse()

	if *manifestPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -manifest is required\n")
		os.Exit(1)
	}
	if *privateKeyPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -key is required\n")
		os.Exit(1)
	}
	if *keyID == "" {
		fmt.Fprintf(os.Stderr, "Error: -key-id is required\n")
		os.Exit(1)
	}
	if *outputPath == "" {
		*outputPath = *manifestPath + ".signed"
	}

	privateKey, err := loadPrivateKey(*privateKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading private key: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading manifest: %v\n", err)
		os.Exit(1)
	}

	// Stamp the signature identity before validation; the value itself is
	// filled in after signing (canonicalization excludes the signature field,
	// so the placeholder never reaches the signed payload).
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		fmt.Fprintf(os.Stderr, "Error: manifest is not valid JSON: %v\n", err)
		os.Exit(1)
	}
	raw["signature"] = map[string]any{
		"keyId":     *keyID,
		"algorithm": manifest.SignatureAlgorithm,
		"value":     "unsigned",
	}
	m, err := manifest.Validate(raw, manifest.ValidateOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: manifest rejected: %v\n", err)
		os.Exit(1)
	}

	signature, err := trust.Sign(m, privateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error signing manifest: %v\n", err)
		os.Exit(1)
	}
	m.Signature.Value = signature

	signed, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error serializing signed manifest: %v\n", err)
		os.Exit(1)
	}
	signed = append(signed, '\n')
	if err := os.WriteFile(*outputPath, signed, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing signed manifest: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Manifest signed successfully:\n")
	fmt.Printf("  Plugin: %s@%s\n", m.ID, m.Version)
	fmt.Printf("  Key ID: %s\n", *keyID)
	fmt.Printf("  Output: %s\n", *outputPath)
}

// loadPrivateKey loads an ECDSA private key from a PEM file, accepting PKCS8
// and EC formats.
func loadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err == nil {
		if ecdsaKey, ok := key.(*ecdsa.PrivateKey); ok {
			return ecdsaKey, nil
		}
		return nil, fmt.Errorf("key is not ECDSA")
	}

	ecKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return ecKey, nil
}
