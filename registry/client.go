// Package registry talks to the plugin registry's HTTP API and turns its raw
// responses into trusted manifests.
//
// The discovery operations (FetchPluginCatalog, FetchPluginManifest) perform
// no trust checks of their own; FetchAndVerifyManifest is the only operation
// whose output is safe to execute code from.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lumilio-photos/studio/manifest"
	"github.com/lumilio-photos/studio/trust"
)

// DefaultRevocationTTL bounds how often the revocation endpoint is hit. The
// cached list is served until it is older than this.
const DefaultRevocationTTL = 60 * time.Second

// defaultTimeout applies to each registry request when Config.Timeout is zero.
const defaultTimeout = 30 * time.Second

// Config holds the registry client's connection parameters.
type Config struct {
	// BaseURL is the registry root, e.g. "https://plugins.lumilio.app".
	// Endpoint paths are appended under it.
	BaseURL string
	// AllowedOrigin, when non-empty, is the only origin manifest entry URLs
	// may point at. It is passed through to manifest validation.
	AllowedOrigin string
	// Timeout applies per request. Zero means defaultTimeout.
	Timeout time.Duration
	// UserAgent overrides the User-Agent header when non-empty.
	UserAgent string
	// RevocationTTL overrides DefaultRevocationTTL when positive.
	RevocationTTL time.Duration
}

// DefaultConfig returns a Config pointed at baseURL with the standard
// timeouts.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		Timeout:       defaultTimeout,
		RevocationTTL: DefaultRevocationTTL,
	}
}

// CatalogPluginSummary is a read-only discovery record. It is not
// trust-bearing; the plugin's manifest must still pass the full verification
// path before any of its code is loaded.
type CatalogPluginSummary struct {
	ID            string         `json:"id"`
	DisplayName   string         `json:"displayName"`
	Description   string         `json:"description,omitempty"`
	Panel         manifest.Panel `json:"panel"`
	LatestVersion string         `json:"latestVersion"`
}

// RevocationRecord withdraws trust from one plugin version. A manifest is
// revoked iff an active record matches its (id, version) pair exactly.
type RevocationRecord struct {
	PluginID string `json:"id"`
	Version  string `json:"version"`
	Reason   string `json:"reason,omitempty"`
	Active   bool   `json:"active"`
}

// RevokedError reports that a manifest passed validation and signature
// verification but has an active revocation record.
type RevokedError struct {
	PluginID string
	Version  string
	Reason   string
}

func (e *RevokedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("plugin %s@%s is revoked", e.PluginID, e.Version)
	}
	return fmt.Sprintf("plugin %s@%s is revoked: %s", e.PluginID, e.Version, e.Reason)
}

// ErrSignatureInvalid is returned by FetchAndVerifyManifest when a
// structurally valid manifest fails signature verification. This is the one
// place the verifier's false result becomes a fatal error.
var ErrSignatureInvalid = errors.New("manifest signature verification failed")

// Client fetches catalog, manifest, and revocation data from one registry.
//
// A Client is safe for concurrent use. The revocation cache is its only
// mutable state and is replaced wholesale on refresh, never mutated in place.
type Client struct {
	cfg        Config
	keys       trust.KeyRing
	httpClient *http.Client

	revocations atomic.Pointer[revocationSnapshot]
	// now is replaced in tests to control cache expiry.
	now func() time.Time
}

// NewClient builds a Client for the registry at cfg.BaseURL, trusting
// manifests signed by keys in the given ring.
func NewClient(cfg Config, keys trust.KeyRing) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("registry base URL cannot be empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() {
		return nil, fmt.Errorf("registry base URL %q is not an absolute URL", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RevocationTTL <= 0 {
		cfg.RevocationTTL = DefaultRevocationTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		keys:       keys,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		now:        time.Now,
	}, nil
}

// FetchPluginCatalog lists plugins the registry offers, optionally filtered
// to one panel. The result is discovery data only; nothing about it has been
// verified.
func (c *Client) FetchPluginCatalog(ctx context.Context, panel manifest.Panel) ([]CatalogPluginSummary, error) {
	endpoint := c.cfg.BaseURL + "/v1/catalog"
	if panel != "" {
		endpoint += "?panel=" + url.QueryEscape(string(panel))
	}
	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var summaries []CatalogPluginSummary
	if err := json.Unmarshal(body, &summaries); err != nil {
		return nil, fmt.Errorf("failed to decode catalog response from %s: %w", endpoint, err)
	}
	return summaries, nil
}

// FetchPluginManifest retrieves the raw manifest JSON for a plugin. An empty
// version means the registry's notion of latest. No trust checks are
// performed; callers must not execute anything the result points at without
// going through FetchAndVerifyManifest.
func (c *Client) FetchPluginManifest(ctx context.Context, pluginID, version string) (json.RawMessage, error) {
	if pluginID == "" {
		return nil, errors.New("plugin id cannot be empty")
	}
	endpoint := c.cfg.BaseURL + "/v1/plugins/" + url.PathEscape(pluginID) + "/manifest"
	if version != "" {
		endpoint += "/" + url.PathEscape(version)
	}
	return c.fetch(ctx, endpoint)
}

// FetchAndVerifyManifest runs the full trust pipeline for one plugin version
// and returns a manifest that is safe to act on. Stages run strictly in
// order, and the first failing stage aborts with a descriptive error:
//
//  1. Fetch the raw manifest from the registry.
//  2. Validate its structure, with the configured allowed origin and the
//     caller's expected panel.
//  3. Verify its signature against the key ring; a false result becomes
//     ErrSignatureInvalid.
//  4. Check the (possibly cached) revocation list for an active match.
//
// expectedPanel may be empty when the caller does not care which surface the
// plugin mounts.
func (c *Client) FetchAndVerifyManifest(ctx context.Context, pluginID, version string, expectedPanel manifest.Panel) (*manifest.RuntimeManifest, error) {
	raw, err := c.FetchPluginManifest(ctx, pluginID, version)
	if err != nil {
		return nil, err
	}

	m, err := manifest.ValidateJSON(raw, manifest.ValidateOptions{
		ExpectedPanel: expectedPanel,
		AllowOrigin:   c.cfg.AllowedOrigin,
	})
	if err != nil {
		return nil, fmt.Errorf("manifest for plugin %s rejected: %w", pluginID, err)
	}

	if !trust.Verify(m, c.keys) {
		return nil, fmt.Errorf("plugin %s@%s: %w", m.ID, m.Version, ErrSignatureInvalid)
	}

	records, err := c.FetchPluginRevocations(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to check revocations for plugin %s@%s: %w", m.ID, m.Version, err)
	}
	for _, r := range records {
		if r.Active && r.PluginID == m.ID && r.Version == m.Version {
			return nil, &RevokedError{PluginID: m.ID, Version: m.Version, Reason: r.Reason}
		}
	}
	return m, nil
}

// fetch GETs an endpoint and returns its body, surfacing non-2xx responses as
// errors naming the URL and status code.
func (c *Client) fetch(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("registry request to %s failed with status %d", endpoint, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", endpoint, err)
	}
	return body, nil
}
