package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"

	"github.com/lumilio-photos/studio/manifest"
)

// rawSignatureSize is the length of a WebCrypto ECDSA P-256 signature: r and
// s as fixed 32-byte big-endian integers.
const rawSignatureSize = 64

// Verify reports whether m's signature was produced over its canonical form
// by the private key matching the ring entry for m.Signature.KeyID.
//
// Verify never returns an error and never panics: an unknown key ID,
// malformed base64, key material that is not an ECDSA P-256 SPKI key, a
// malformed signature, or any internal failure all collapse to false. The
// registry client is the one place a false result escalates to a fatal error.
//
// Verify has no shared mutable state and is safe for concurrent use.
func Verify(m *manifest.RuntimeManifest, ring KeyRing) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	if m == nil {
		return false
	}
	material, found := ring.Get(m.Signature.KeyID)
	if !found {
		return false
	}
	pub, err := parsePublicKey(material)
	if err != nil {
		return false
	}
	sig, err := decodeBase64(m.Signature.Value)
	if err != nil {
		return false
	}
	payload, err := manifest.Canonicalize(m)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(payload))

	if len(sig) == rawSignatureSize {
		r := new(big.Int).SetBytes(sig[:rawSignatureSize/2])
		s := new(big.Int).SetBytes(sig[rawSignatureSize/2:])
		return ecdsa.Verify(pub, digest[:], r, s)
	}
	// Some signing tools emit ASN.1 DER instead of the raw r||s form.
	return ecdsa.VerifyASN1(pub, digest[:], sig)
}

// parsePublicKey decodes base64 SPKI key material into an ECDSA P-256 public
// key.
func parsePublicKey(material string) (*ecdsa.PublicKey, error) {
	der, err := decodeBase64(material)
	if err != nil {
		return nil, err
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not ECDSA")
	}
	if pub.Curve != elliptic.P256() {
		return nil, errors.New("public key is not on curve P-256")
	}
	return pub, nil
}

// decodeBase64 accepts both the standard and URL-safe alphabets and tolerates
// missing padding.
func decodeBase64(s string) ([]byte, error) {
	trimmed := strings.TrimRight(s, "=")
	if strings.ContainsAny(trimmed, "-_") {
		return base64.RawURLEncoding.DecodeString(trimmed)
	}
	return base64.RawStdEncoding.DecodeString(trimmed)
}
