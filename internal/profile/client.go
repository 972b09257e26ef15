// Package profile keeps a local cache of user directory entries (display
// names, avatars) fresh from the marketplace's profile service.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/freelancehub/convo/internal/chat"
)

// Client fetches profiles from the remote directory over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a profile client. baseURL may be empty, in which case
// profile refresh is disabled and name fallback relies on cached snapshots.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Enabled reports whether a profile service is configured.
func (c *Client) Enabled() bool {
	return c.baseURL != ""
}

// FetchAll returns every profile known to the directory.
func (c *Client) FetchAll(ctx context.Context) ([]chat.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profiles: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned %s", resp.Status)
	}

	var profiles []chat.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profiles); err != nil {
		return nil, fmt.Errorf("failed to decode profiles: %w", err)
	}
	return profiles, nil
}

// Fetch returns one profile, or nil if the directory has no entry for the
// user.
func (c *Client) Fetch(ctx context.Context, userID string) (*chat.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/profiles/"+userID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile service returned %s", resp.Status)
	}

	var p chat.Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}
