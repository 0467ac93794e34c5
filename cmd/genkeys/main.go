package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"flag"
	"fmt"
	"os"

	"github.com/lumilio-photos/studio/trust"
)

func main() {
	var (
		privateKeyPath = flag.String("private", "private.pem", "Path to save private key")
		keyID          = flag.String("key-id", "", "Key ID to embed in the key ring snippet (required)")
	)
	flag.Parse()

	if *keyID == "" {
		fmt.Fprintf(os.Stderr, "Error: -key-id is required\n")
		os.Exit(1)
	}

	// Generate ECDSA P-256 key pair
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating key: %v\n", err)
		os.Exit(1)
	}

	// Encode private key as PKCS8 PEM
	privateKeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling private key: %v\n", err)
		os.Exit(1)
	}
	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: privateKeyBytes,
	})
	if err := os.WriteFile(*privateKeyPath, privateKeyPEM, 0600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing private key: %v\n", err)
		os.Exit(1)
	}

	// Public key goes out in the base64 SPKI form key ring entries use
	publicKey, err := trust.EncodePublicKey(&privateKey.PublicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding public key: %v\n", err)
		os.Exit(1)
	}
	ringSnippet, err := json.MarshalIndent(trust.KeyRing{*keyID: publicKey}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building key ring snippet: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Keys generated successfully:\n")
	fmt.Printf("  Private key: %s\n", *privateKeyPath)
	fmt.Printf("  Key ID: %s\n", *keyID)
	fmt.Printf("  Key ring entry:\n%s\n", ringSnippet)
}
