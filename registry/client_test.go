package registry

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/trust"
)

const testOrigin = "https://plugins.example.com"

// newSignedManifest is a test helper producing a signed manifest and the key
// ring that trusts its signer.
func newSignedManifest(t *testing.T) (*manifest.RuntimeManifest, trust.KeyRing) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	public, err := trust.EncodePublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey() error = %v", err)
	}

	m := &manifest.RuntimeManifest{
		SchemaVersion: manifest.SchemaVersion,
		ID:            "photo-frames",
		Version:       "1.2.0",
		DisplayName:   "Photo Frames",
		Mount:         manifest.Mount{Panel: manifest.PanelFrames},
		Entries: manifest.Entries{
			UI:     testOrigin + "/photo-frames/ui.wasm",
			Runner: testOrigin + "/photo-frames/runner.wasm",
		},
		Permissions:   []string{"canvas:read"},
		Compatibility: manifest.Compatibility{StudioAPI: manifest.StudioAPIVersion},
		Signature: manifest.Signature{
			KeyID:     "lumilio-dev-1",
			Algorithm: manifest.SignatureAlgorithm,
		},
	}
	signature, err := trust.Sign(m, key)
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	m.Signature.Value = signature

	return m, trust.KeyRing{"lumilio-dev-1": public}
}

// testRegistry is a fake registry server with counters per endpoint.
type testRegistry struct {
	manifests   map[string]*manifest.RuntimeManifest
	revocations []RevocationRecord

	catalogCalls    int
	revocationCalls int
}

func (r *testRegistry) handler(t *testing.T) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog", func(w http.ResponseWriter, req *http.Request) {
		r.catalogCalls++
		var summaries []CatalogPluginSummary
		for _, m := range r.manifests {
			if panel := req.URL.Query().Get("panel"); panel != "" && panel != string(m.Mount.Panel) {
				continue
			}
			summaries = append(summaries, CatalogPluginSummary{
				ID:            m.ID,
				DisplayName:   m.DisplayName,
				Panel:         m.Mount.Panel,
				LatestVersion: m.Version,
			})
		}
		json.NewEncoder(w).Encode(summaries)
	})
	mux.HandleFunc("/v1/revocations", func(w http.ResponseWriter, req *http.Request) {
		r.revocationCalls++
		records := r.revocations
		if records == nil {
			records = []RevocationRecord{}
		}
		json.NewEncoder(w).Encode(records)
	})
	mux.HandleFunc("/v1/plugins/", func(w http.ResponseWriter, req *http.Request) {
		parts := strings.Split(strings.TrimPrefix(req.URL.Path, "/v1/plugins/"), "/")
		m, ok := r.manifests[parts[0]]
		if !ok {
			http.NotFound(w, req)
			return
		}
		json.NewEncoder(w).Encode(m)
	})
	return mux
}

// newTestClient spins up a fake registry and a client pointed at it.
func newTestClient(t *testing.T, reg *testRegistry, ring trust.KeyRing) *Client {
	t.Helper()
	server := httptest.NewServer(reg.handler(t))
	t.Cleanup(server.Close)

	cfg := DefaultConfig(server.URL)
	cfg.AllowedOrigin = testOrigin
	client, err := NewClient(cfg, ring)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	if _, err := NewClient(Config{BaseURL: ""}, nil); err == nil {
		t.Error("NewClient() with empty base URL error = nil, want error")
	}
	if _, err := NewClient(Config{BaseURL: "not a url"}, nil); err == nil {
		t.Error("NewClient() with relative base URL error = nil, want error")
	}
}

func TestFetchPluginCatalog(t *testing.T) {
	m, ring := newSignedManifest(t)
	client := newTestClient(t, &testRegistry{manifests: map[string]*manifest.RuntimeManifest{m.ID: m}}, ring)

	summaries, err := client.FetchPluginCatalog(context.Background(), manifest.PanelFrames)
	if err != nil {
		t.Fatalf("FetchPluginCatalog() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	if summaries[0].ID != m.ID {
		t.Errorf("summary ID = %q, want %q", summaries[0].ID, m.ID)
	}

	summaries, err = client.FetchPluginCatalog(context.Background(), manifest.PanelExport)
	if err != nil {
		t.Fatalf("FetchPluginCatalog() error = %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("len(summaries) for other panel = %d, want 0", len(summaries))
	}
}

func TestFetchPluginManifest_NotFound(t *testing.T) {
	_, ring := newSignedManifest(t)
	client := newTestClient(t, &testRegistry{}, ring)

	_, err := client.FetchPluginManifest(context.Background(), "missing-plugin", "")
	if err == nil {
		t.Fatal("FetchPluginManifest() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("FetchPluginManifest() error = %v, want error naming status 404", err)
	}
	if !strings.Contains(err.Error(), "missing-plugin") {
		t.Errorf("FetchPluginManifest() error = %v, want error naming the URL", err)
	}
}

func TestFetchPluginRevocations_CachesWithinTTL(t *testing.T) {
	_, ring := newSignedManifest(t)
	reg := &testRegistry{}
	client := newTestClient(t, reg, ring)

	base := time.Now()
	client.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		if _, err := client.FetchPluginRevocations(context.Background(), false); err != nil {
			t.Fatalf("FetchPluginRevocations() error = %v", err)
		}
	}
	if reg.revocationCalls != 1 {
		t.Errorf("revocation endpoint calls = %d, want 1 (cache within TTL)", reg.revocationCalls)
	}

	// Advance past the TTL; the next read refreshes.
	client.now = func() time.Time { return base.Add(DefaultRevocationTTL + time.Second) }
	if _, err := client.FetchPluginRevocations(context.Background(), false); err != nil {
		t.Fatalf("FetchPluginRevocations() error = %v", err)
	}
	if reg.revocationCalls != 2 {
		t.Errorf("revocation endpoint calls = %d, want 2 after TTL expiry", reg.revocationCalls)
	}
}

func TestFetchPluginRevocations_ForceBypassesCache(t *testing.T) {
	_, ring := newSignedManifest(t)
	reg := &testRegistry{}
	client := newTestClient(t, reg, ring)

	if _, err := client.FetchPluginRevocations(context.Background(), false); err != nil {
		t.Fatalf("FetchPluginRevocations() error = %v", err)
	}
	if _, err := client.FetchPluginRevocations(context.Background(), true); err != nil {
		t.Fatalf("FetchPluginRevocations(force) error = %v", err)
	}
	if reg.revocationCalls != 2 {
		t.Errorf("revocation endpoint calls = %d, want 2 with force refresh", reg.revocationCalls)
	}
}

func TestFetchAndVerifyManifest_EndToEnd(t *testing.T) {
	m, ring := newSignedManifest(t)
	client := newTestClient(t, &testRegistry{manifests: map[string]*manifest.RuntimeManifest{m.ID: m}}, ring)

	got, err := client.FetchAndVerifyManifest(context.Background(), m.ID, m.Version, manifest.PanelFrames)
	if err != nil {
		t.Fatalf("FetchAndVerifyManifest() error = %v", err)
	}
	if got.ID != m.ID || got.Version != m.Version {
		t.Errorf("FetchAndVerifyManifest() = %s@%s, want %s@%s", got.ID, got.Version, m.ID, m.Version)
	}
}

func TestFetchAndVerifyManifest_GuardRejects(t *testing.T) {
	m, ring := newSignedManifest(t)
	client := newTestClient(t, &testRegistry{manifests: map[string]*manifest.RuntimeManifest{m.ID: m}}, ring)

	// The manifest mounts frames; asking for export must fail at the guard.
	_, err := client.FetchAndVerifyManifest(context.Background(), m.ID, m.Version, manifest.PanelExport)
	if err == nil {
		t.Fatal("FetchAndVerifyManifest() error = nil, want error")
	}
	var verr *manifest.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("FetchAndVerifyManifest() error type = %T, want *manifest.ValidationError", err)
	}
	if !strings.Contains(err.Error(), "panel mismatch") {
		t.Errorf("FetchAndVerifyManifest() error = %v, want error containing 'panel mismatch'", err)
	}
}

func TestFetchAndVerifyManifest_BadSignature(t *testing.T) {
	m, ring := newSignedManifest(t)
	m.Signature.Value = "AAAA"
	client := newTestClient(t, &testRegistry{manifests: map[string]*manifest.RuntimeManifest{m.ID: m}}, ring)

	_, err := client.FetchAndVerifyManifest(context.Background(), m.ID, m.Version, manifest.PanelFrames)
	if !errors.Is(err, ErrSignatureInvalid) {
		t.Errorf("FetchAndVerifyManifest() error = %v, want ErrSignatureInvalid", err)
	}
}

func TestFetchAndVerifyManifest_Revoked(t *testing.T) {
	m, ring := newSignedManifest(t)
	reg := &testRegistry{
		manifests: map[string]*manifest.RuntimeManifest{m.ID: m},
		revocations: []RevocationRecord{
			{PluginID: m.ID, Version: m.Version, Reason: "key compromise", Active: true},
		},
	}
	client := newTestClient(t, reg, ring)

	_, err := client.FetchAndVerifyManifest(context.Background(), m.ID, m.Version, manifest.PanelFrames)
	if err == nil {
		t.Fatal("FetchAndVerifyManifest() error = nil, want error")
	}
	var rerr *RevokedError
	if !errors.As(err, &rerr) {
		t.Fatalf("FetchAndVerifyManifest() error type = %T, want *RevokedError", err)
	}
	if rerr.Reason != "key compromise" {
		t.Errorf("RevokedError.Reason = %q, want %q", rerr.Reason, "key compromise")
	}
}

func TestFetchAndVerifyManifest_InactiveRevocationIgnored(t *testing.T) {
	m, ring := newSignedManifest(t)
	reg := &testRegistry{
		manifests: map[string]*manifest.RuntimeManifest{m.ID: m},
		revocations: []RevocationRecord{
			{PluginID: m.ID, Version: m.Version, Reason: "withdrawn", Active: false},
			{PluginID: m.ID, Version: "0.9.0", Reason: "old release", Active: true},
		},
	}
	client := newTestClient(t, reg, ring)

	if _, err := client.FetchAndVerifyManifest(context.Background(), m.ID, m.Version, manifest.PanelFrames); err != nil {
		t.Errorf("FetchAndVerifyManifest() error = %v, want nil for inactive or non-matching records", err)
	}
}
