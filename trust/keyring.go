// Package trust decides manifest authenticity: a static key ring of signer
// public keys and an ES256 signature check over a manifest's canonical form.
//
// Every failure path in this package is fail closed. The verifier never
// returns an error or panics; anything short of a correct signature from a
// known key collapses to false, and the caller treats false as untrusted.
package trust

// KeyRing maps signer key IDs to base64-encoded SPKI public key material.
//
// The ring is supplied by host configuration, never fetched over the network,
// and read-only for the lifetime of the process.
type KeyRing map[string]string

// Get looks up the public key material for a key ID. A missing key is a
// normal outcome, not an error; the verifier fails closed on it.
func (r KeyRing) Get(keyID string) (string, bool) {
	material, ok := r[keyID]
	return material, ok
}
