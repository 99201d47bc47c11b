package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// playbackInfo is the slice of the upstream PlaybackInfo response the
// resolver needs.
type playbackInfo struct {
	MediaSources []mediaSource `json:"MediaSources"`
}

type mediaSource struct {
	ID   string `json:"Id"`
	Path string `json:"Path"`
}

// EmbyClient resolves paths against an Emby-compatible media server.
type EmbyClient struct {
	baseURL string
	http    *http.Client
}

// NewEmbyClient builds a client for the given server base URL, using a
// pooled transport with sane timeouts for the small JSON requests it makes.
func NewEmbyClient(baseURL string) *EmbyClient {
	return &EmbyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// ResolvePath fetches PlaybackInfo for the item and returns the Path of the
// media source whose Id matches mediaSourceID.
func (c *EmbyClient) ResolvePath(ctx context.Context, itemID, mediaSourceID, token string) (string, error) {
	endpoint := fmt.Sprintf("%s/Items/%s/PlaybackInfo", c.baseURL, url.PathEscape(itemID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("catalog: building request: %w", err)
	}
	q := req.URL.Query()
	q.Set("MediaSourceId", mediaSourceID)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("X-Emby-Token", token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request to %s: %w", ErrUpstream, c.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("catalog: reading response: %w", err)
	}

	var info playbackInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return "", fmt.Errorf("catalog: parsing response: %w", err)
	}

	for _, src := range info.MediaSources {
		if src.ID == mediaSourceID && src.Path != "" {
			return src.Path, nil
		}
	}
	return "", ErrNoMatchingSource
}
