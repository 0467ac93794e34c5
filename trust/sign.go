package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/lumilio-photos/studio/manifest"
)

// Sign produces a base64 ES256 signature over m's canonical form, using the
// raw r||s encoding WebCrypto emits.
//
// The studio host itself never signs manifests; Sign exists for the registry
// signing tooling (cmd/signmanifest) and for tests that need a manifest the
// verifier accepts.
func Sign(m *manifest.RuntimeManifest, key *ecdsa.PrivateKey) (string, error) {
	if m == nil {
		return "", errors.New("manifest cannot be nil")
	}
	if key == nil {
		return "", errors.New("private key cannot be nil")
	}
	if key.Curve != elliptic.P256() {
		return "", errors.New("signing key must be on curve P-256")
	}

	payload, err := manifest.Canonicalize(m)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize manifest: %w", err)
	}
	digest := sha256.Sum256([]byte(payload))

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign manifest: %w", err)
	}
	sig := make([]byte, rawSignatureSize)
	r.FillBytes(sig[:rawSignatureSize/2])
	s.FillBytes(sig[rawSignatureSize/2:])
	return base64.StdEncoding.EncodeToString(sig), nil
}

// EncodePublicKey encodes an ECDSA public key as the base64 SPKI form key
// ring entries use.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	if pub == nil {
		return "", errors.New("public key cannot be nil")
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("failed to marshal public key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}
