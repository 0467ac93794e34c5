package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// revocationSnapshot is one immutable fetch of the revocation list. Refresh
// swaps the whole snapshot; concurrent refreshes are benign because the last
// writer wins and every reader sees a complete list either way.
type revocationSnapshot struct {
	records   []RevocationRecord
	fetchedAt time.Time
}

// FetchPluginRevocations returns the registry's revocation list, served from
// cache while the last fetch is younger than the configured TTL. force
// bypasses the cache for an explicit refresh.
//
// The returned slice is shared with the cache and must not be modified.
func (c *Client) FetchPluginRevocations(ctx context.Context, force bool) ([]RevocationRecord, error) {
	if !force {
		if snap := c.revocations.Load(); snap != nil && c.now().Sub(snap.fetchedAt) < c.cfg.RevocationTTL {
			return snap.records, nil
		}
	}

	endpoint := c.cfg.BaseURL + "/v1/revocations"
	body, err := c.fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var records []RevocationRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("failed to decode revocation response from %s: %w", endpoint, err)
	}
	c.revocations.Store(&revocationSnapshot{records: records, fetchedAt: c.now()})
	return records, nil
}
